// Package health aggregates the status of a backend's components from registered probes,
// either on demand or from a background poll loop.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is a component's health.
type Status int

const (
	Unknown Status = iota
	Healthy
	Degraded
	Unhealthy
)

var statusNames = [...]string{"unknown", "healthy", "degraded", "unhealthy"}

func (s Status) String() string {
	if int(s) >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v := strings.ToLower(string(text))
	for i, n := range statusNames {
		if n == v {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown health status %q", string(text))
}

// severity orders statuses for "worst wins" merging.
func (s Status) severity() int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unknown:
		return 2
	}
	return 3
}

// Worse returns the more severe of a and b.
func Worse(a, b Status) Status {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Result is the outcome of one probe run.
type Result struct {
	Component    string         `json:"component"`
	Status       Status         `json:"status"`
	Message      string         `json:"message,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	ResponseTime time.Duration  `json:"response_time"`
	Details      map[string]any `json:"details,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Probe determines one component's health. A returned error marks the component
// Unhealthy; the probe should honor ctx, which carries the check timeout.
type Probe func(ctx context.Context) (Result, error)

// StatusProbe is the loose (status, message, details) probe shape. RegisterStatusCheck
// adapts it into a Probe.
type StatusProbe func(ctx context.Context) (Status, string, map[string]any)

func (sp StatusProbe) probe() Probe {
	return func(ctx context.Context) (Result, error) {
		status, msg, details := sp(ctx)
		return Result{Status: status, Message: msg, Details: details}, nil
	}
}
