package storekit

import "time"

// MetricsRecorder receives one record per completed operation attempt.
// metrics.Collector is the canonical implementation.
type MetricsRecorder interface {
	RecordOperation(name string, success bool, duration time.Duration, err error, metadata map[string]any)
}

// NopRecorder discards every record. Components fall back to it when no recorder is configured.
type NopRecorder struct{}

// RecordOperation does nothing.
func (NopRecorder) RecordOperation(string, bool, time.Duration, error, map[string]any) {}
