package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/sharedcode/storekit"
)

// Export formats understood by ExportMetrics.
const (
	FormatJSON       = "json"
	FormatPrometheus = "prometheus"
)

// ReportPercentiles are the percentiles included in summaries.
var ReportPercentiles = []float64{50, 95, 99}

// OperationSummary is the per-operation part of a Report. Durations are in milliseconds.
type OperationSummary struct {
	Count         int64   `json:"count"`
	SuccessCount  int64   `json:"success_count"`
	FailureCount  int64   `json:"failure_count"`
	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MinDurationMs float64 `json:"min_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms"`
	P50Ms         float64 `json:"p50_ms"`
	P95Ms         float64 `json:"p95_ms"`
	P99Ms         float64 `json:"p99_ms"`
	LastError     string  `json:"last_error,omitempty"`
}

// Report is a serializable snapshot of the collector.
type Report struct {
	GeneratedAt        time.Time                   `json:"generated_at"`
	Realtime           RealtimeStats               `json:"realtime"`
	Operations         map[string]OperationSummary `json:"operations"`
	TotalOperations    int64                       `json:"total_operations"`
	OverallSuccessRate float64                     `json:"overall_success_rate"`
	AverageDurationMs  float64                     `json:"average_duration_ms"`
}

// GetSummaryReport returns realtime stats, per-operation summaries and overall rates
// taken under one consistent read lock.
func (c *Collector) GetSummaryReport() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r := Report{
		GeneratedAt: c.now(),
		Realtime:    c.realtimeLocked(),
		Operations:  make(map[string]OperationSummary, len(c.operations)),
	}
	var success int64
	var total time.Duration
	for name, m := range c.operations {
		ps := c.percentilesLocked(name, ReportPercentiles)
		r.Operations[name] = OperationSummary{
			Count:         m.Count,
			SuccessCount:  m.SuccessCount,
			FailureCount:  m.FailureCount,
			SuccessRate:   m.SuccessRate(),
			AvgDurationMs: toMillis(m.AvgDuration),
			MinDurationMs: toMillis(m.MinDuration),
			MaxDurationMs: toMillis(m.MaxDuration),
			P50Ms:         ps[50],
			P95Ms:         ps[95],
			P99Ms:         ps[99],
			LastError:     m.LastError,
		}
		r.TotalOperations += m.Count
		success += m.SuccessCount
		total += m.TotalDuration
	}
	if r.TotalOperations > 0 {
		r.OverallSuccessRate = float64(success) / float64(r.TotalOperations)
		r.AverageDurationMs = toMillis(total) / float64(r.TotalOperations)
	}
	return r
}

func (c *Collector) percentilesLocked(name string, percentiles []float64) map[float64]float64 {
	result := make(map[float64]float64, len(percentiles))
	r, ok := c.series[DurationSeries(name)]
	if !ok || r.len() == 0 {
		return result
	}
	values := make([]float64, 0, r.len())
	r.each(func(p TimeSeriesPoint) { values = append(values, p.Value) })
	sort.Float64s(values)
	for _, p := range percentiles {
		result[p] = percentileOf(values, p)
	}
	return result
}

// ExportMetrics renders the collector as indented JSON (FormatJSON) or in the Prometheus
// text exposition format (FormatPrometheus).
func (c *Collector) ExportMetrics(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return json.MarshalIndent(c.GetSummaryReport(), "", "  ")
	case FormatPrometheus:
		return c.exportPrometheus()
	}
	return nil, storekit.NewError(storekit.ValidationFailure, fmt.Errorf("unsupported metrics export format %q", format), nil)
}

func (c *Collector) exportPrometheus() ([]byte, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPrometheusCollector(c)); err != nil {
		return nil, err
	}
	families, err := reg.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
