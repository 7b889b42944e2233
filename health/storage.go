package health

import (
	"context"
	"fmt"
	"time"

	"github.com/sharedcode/storekit/metrics"
)

// Storage probe component suffixes.
const (
	ConnectionCheck  = "connection"
	PerformanceCheck = "performance"
	CapacityCheck    = "capacity"
)

// MetricsSource is the read side of a metrics collector.
type MetricsSource interface {
	GetAllMetrics() map[string]metrics.OperationMetrics
}

// CapacityFunc reports used and total capacity in any consistent unit.
type CapacityFunc func(ctx context.Context) (used, total int64, err error)

// StorageProbes derives connection, performance and capacity health of one storage
// backend from its operation metrics and optional live checks.
type StorageProbes struct {
	Metrics    MetricsSource
	Thresholds Thresholds
	// Ping, when set, is called by the connection probe; an error makes it Unhealthy.
	Ping func(ctx context.Context) error
	// Capacity, when set, enables the capacity probe.
	Capacity CapacityFunc
}

// Register registers the probes as "<backend>.connection", "<backend>.performance" and,
// with a Capacity func, "<backend>.capacity". It returns the registered component names.
func (sp *StorageProbes) Register(c *Checker, backend string) []string {
	if sp.Thresholds == (Thresholds{}) {
		sp.Thresholds = c.Thresholds()
	}
	names := []string{backend + "." + ConnectionCheck, backend + "." + PerformanceCheck}
	c.RegisterCheck(names[0], sp.Connection)
	c.RegisterCheck(names[1], sp.Performance)
	if sp.Capacity != nil {
		names = append(names, backend+"."+CapacityCheck)
		c.RegisterCheck(names[2], sp.CapacityProbe)
	}
	return names
}

type aggregate struct {
	count, success, failure int64
	total                   time.Duration
	lastError               string
	lastFailure             time.Time
}

func (sp *StorageProbes) aggregate() aggregate {
	var a aggregate
	if sp.Metrics == nil {
		return a
	}
	for _, m := range sp.Metrics.GetAllMetrics() {
		a.count += m.Count
		a.success += m.SuccessCount
		a.failure += m.FailureCount
		a.total += m.TotalDuration
		if m.LastFailure.After(a.lastFailure) {
			a.lastFailure = m.LastFailure
			a.lastError = m.LastError
		}
	}
	return a
}

// Connection pings the backend, then classifies the overall operation success rate.
func (sp *StorageProbes) Connection(ctx context.Context) (Result, error) {
	r := Result{Details: map[string]any{}}
	if sp.Ping != nil {
		start := time.Now()
		err := sp.Ping(ctx)
		r.Details["ping_ms"] = float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			r.Message = fmt.Sprintf("ping failed: %v", err)
			return r, err
		}
	}
	a := sp.aggregate()
	if a.count == 0 {
		r.Status = Healthy
		r.Message = "connected, no operations recorded"
		return r, nil
	}
	rate := float64(a.success) / float64(a.count)
	r.Status = sp.Thresholds.ClassifySuccessRate(rate)
	r.Details["success_rate"] = rate
	r.Details["operations"] = a.count
	if a.lastError != "" {
		r.Details["last_error"] = a.lastError
	}
	r.Message = fmt.Sprintf("success rate %.2f%% over %d operations", rate*100, a.count)
	return r, nil
}

// Performance classifies success rate, error rate and average response time across all
// recorded operations; the worst of the three wins.
func (sp *StorageProbes) Performance(ctx context.Context) (Result, error) {
	a := sp.aggregate()
	if a.count == 0 {
		return Result{Status: Healthy, Message: "no operations recorded"}, nil
	}
	successRate := float64(a.success) / float64(a.count)
	errorRate := float64(a.failure) / float64(a.count)
	avg := a.total / time.Duration(a.count)

	status := sp.Thresholds.ClassifySuccessRate(successRate)
	status = Worse(status, sp.Thresholds.ClassifyErrorRate(errorRate))
	status = Worse(status, sp.Thresholds.ClassifyResponseTime(avg))
	return Result{
		Status:  status,
		Message: fmt.Sprintf("avg response %v, success rate %.2f%%, error rate %.2f%%", avg, successRate*100, errorRate*100),
		Details: map[string]any{
			"operations":      a.count,
			"success_rate":    successRate,
			"error_rate":      errorRate,
			"avg_response_ms": float64(avg.Microseconds()) / 1000,
			"total_failures":  a.failure,
			"total_successes": a.success,
		},
	}, nil
}

// CapacityProbe classifies utilisation reported by the Capacity func.
func (sp *StorageProbes) CapacityProbe(ctx context.Context) (Result, error) {
	if sp.Capacity == nil {
		return Result{Status: Unknown, Message: "capacity not tracked"}, nil
	}
	used, total, err := sp.Capacity(ctx)
	if err != nil {
		return Result{}, err
	}
	if total <= 0 {
		return Result{Status: Healthy, Message: "unbounded capacity", Details: map[string]any{"used": used}}, nil
	}
	u := float64(used) / float64(total)
	return Result{
		Status:  sp.Thresholds.ClassifyCapacity(u),
		Message: fmt.Sprintf("%.1f%% of capacity used", u*100),
		Details: map[string]any{"used": used, "total": total, "utilisation": u},
	}, nil
}
