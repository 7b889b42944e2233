// Package metrics aggregates operation outcomes reported by storage backends: per-operation
// counters and durations, bounded time series, percentiles and summary reports.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Config controls the collector's memory bounds.
type Config struct {
	// MaxHistorySize caps every time series; the oldest points are dropped first.
	MaxHistorySize int `json:"max_history_size" yaml:"max_history_size"`
}

// DefaultConfig returns the default collector configuration.
func DefaultConfig() Config {
	return Config{MaxHistorySize: 1000}
}

// Collector records operation outcomes. It is safe for concurrent use.
type Collector struct {
	config     Config
	mu         sync.RWMutex
	operations map[string]*OperationMetrics
	series     map[string]*ring[TimeSeriesPoint]
	realtime   RealtimeStats
	now        func() time.Time
}

// NewCollector returns a Collector; zero config fields take their defaults.
func NewCollector(config Config) *Collector {
	if config.MaxHistorySize <= 0 {
		config.MaxHistorySize = DefaultConfig().MaxHistorySize
	}
	c := &Collector{
		config:     config,
		operations: make(map[string]*OperationMetrics),
		series:     make(map[string]*ring[TimeSeriesPoint]),
		now:        time.Now,
	}
	c.realtime.StartTime = c.now()
	return c
}

// RecordOperation folds one attempt of the named operation into its aggregate and appends
// a duration point and a success point to the operation's series.
func (c *Collector) RecordOperation(name string, success bool, duration time.Duration, err error, metadata map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	m, ok := c.operations[name]
	if !ok {
		m = &OperationMetrics{Name: name, MinDuration: duration}
		c.operations[name] = m
	}
	m.Count++
	m.TotalDuration += duration
	if duration < m.MinDuration {
		m.MinDuration = duration
	}
	if duration > m.MaxDuration {
		m.MaxDuration = duration
	}
	m.AvgDuration = m.TotalDuration / time.Duration(m.Count)

	c.realtime.TotalOperations++
	c.realtime.LastOperationTime = ts
	successValue := 0.0
	if success {
		m.SuccessCount++
		m.LastSuccess = ts
		c.realtime.TotalSuccesses++
		successValue = 1
	} else {
		m.FailureCount++
		m.LastFailure = ts
		c.realtime.TotalFailures++
		if err != nil {
			m.LastError = err.Error()
		}
	}

	c.appendPoint(DurationSeries(name), TimeSeriesPoint{Timestamp: ts, Value: toMillis(duration), Metadata: metadata})
	c.appendPoint(SuccessSeries(name), TimeSeriesPoint{Timestamp: ts, Value: successValue, Metadata: metadata})
}

func (c *Collector) appendPoint(series string, p TimeSeriesPoint) {
	r, ok := c.series[series]
	if !ok {
		r = newRing[TimeSeriesPoint](c.config.MaxHistorySize)
		c.series[series] = r
	}
	r.push(p)
}

// GetOperationMetrics returns a copy of the named aggregate.
func (c *Collector) GetOperationMetrics(name string) (OperationMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.operations[name]; ok {
		return *m, true
	}
	return OperationMetrics{}, false
}

// GetAllMetrics returns copies of every operation aggregate keyed by operation name.
func (c *Collector) GetAllMetrics() map[string]OperationMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := make(map[string]OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		r[k] = *v
	}
	return r
}

// GetTimeSeries returns the points of series whose timestamp lies within [start, end].
// A zero start or end leaves that side of the window open.
func (c *Collector) GetTimeSeries(series string, start, end time.Time) []TimeSeriesPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.series[series]
	if !ok {
		return nil
	}
	points := make([]TimeSeriesPoint, 0, r.len())
	r.each(func(p TimeSeriesPoint) {
		if !start.IsZero() && p.Timestamp.Before(start) {
			return
		}
		if !end.IsZero() && p.Timestamp.After(end) {
			return
		}
		points = append(points, p)
	})
	return points
}

// GetPercentiles computes the requested percentiles (0..100) over the operation's duration
// series, in milliseconds. An operation without samples yields an empty map.
func (c *Collector) GetPercentiles(name string, percentiles []float64) map[float64]float64 {
	c.mu.RLock()
	r, ok := c.series[DurationSeries(name)]
	var values []float64
	if ok {
		values = make([]float64, 0, r.len())
		r.each(func(p TimeSeriesPoint) { values = append(values, p.Value) })
	}
	c.mu.RUnlock()

	result := make(map[float64]float64, len(percentiles))
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	for _, p := range percentiles {
		result[p] = percentileOf(values, p)
	}
	return result
}

// percentileOf expects sorted values; index = floor(p/100*n) clamped to [0, n-1].
func percentileOf(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(p / 100 * float64(n))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return sorted[idx]
}

// SuccessRate returns the named operation's success ratio, 0 when unknown.
func (c *Collector) SuccessRate(name string) float64 {
	m, _ := c.GetOperationMetrics(name)
	return m.SuccessRate()
}

// OverallSuccessRate returns successes over attempts across every operation, 0 when empty.
func (c *Collector) OverallSuccessRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var count, success int64
	for _, m := range c.operations {
		count += m.Count
		success += m.SuccessCount
	}
	if count == 0 {
		return 0
	}
	return float64(success) / float64(count)
}

// Realtime returns the process-wide counters.
func (c *Collector) Realtime() RealtimeStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realtimeLocked()
}

func (c *Collector) realtimeLocked() RealtimeStats {
	rt := c.realtime
	if elapsed := c.now().Sub(rt.StartTime).Seconds(); elapsed > 0 {
		rt.OperationsPerSecond = float64(rt.TotalOperations) / elapsed
	}
	return rt
}

// Reset clears the named operations and their series. Without names it clears everything,
// realtime counters included.
func (c *Collector) Reset(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(names) == 0 {
		c.operations = make(map[string]*OperationMetrics)
		c.series = make(map[string]*ring[TimeSeriesPoint])
		c.realtime = RealtimeStats{StartTime: c.now()}
		return
	}
	for _, name := range names {
		delete(c.operations, name)
		delete(c.series, DurationSeries(name))
		delete(c.series, SuccessSeries(name))
	}
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
