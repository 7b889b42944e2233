package metrics

import "time"

// OperationMetrics aggregates every recorded attempt of one named operation.
// SuccessCount + FailureCount always equals Count.
type OperationMetrics struct {
	Name          string        `json:"name"`
	Count         int64         `json:"count"`
	SuccessCount  int64         `json:"success_count"`
	FailureCount  int64         `json:"failure_count"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
	LastSuccess   time.Time     `json:"last_success,omitempty"`
	LastFailure   time.Time     `json:"last_failure,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
}

// SuccessRate returns SuccessCount/Count, or 0 when nothing was recorded.
func (m OperationMetrics) SuccessRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.Count)
}

// ErrorRate returns FailureCount/Count, or 0 when nothing was recorded.
func (m OperationMetrics) ErrorRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.FailureCount) / float64(m.Count)
}

// TimeSeriesPoint is one sample of a named series.
type TimeSeriesPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	Value     float64        `json:"value"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// RealtimeStats are process-wide counters, cleared only by a full Reset.
type RealtimeStats struct {
	StartTime           time.Time `json:"start_time"`
	LastOperationTime   time.Time `json:"last_operation_time,omitempty"`
	TotalOperations     int64     `json:"total_operations"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	OperationsPerSecond float64   `json:"operations_per_second"`
}

// DurationSeries names the millisecond duration series of an operation.
func DurationSeries(operation string) string {
	return operation + ".duration"
}

// SuccessSeries names the 0/1 outcome series of an operation.
func SuccessSeries(operation string) string {
	return operation + ".success"
}
