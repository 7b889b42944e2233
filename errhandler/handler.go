// Package errhandler wraps backend operations with classified retries, exponential backoff
// and an optional per-operation circuit breaker, reporting every attempt to a metrics recorder.
package errhandler

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"

	"github.com/sharedcode/storekit"
)

// Config controls retry and backoff behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// InitialDelay is the sleep before the first retry.
	InitialDelay time.Duration `json:"initial_delay" yaml:"initial_delay"`
	// BackoffFactor multiplies the delay after every retry.
	BackoffFactor float64 `json:"backoff_factor" yaml:"backoff_factor"`
	// MaxDelay caps a single sleep. Zero disables the cap.
	MaxDelay time.Duration `json:"max_delay" yaml:"max_delay"`

	CircuitBreaker BreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// BreakerConfig configures the optional per-operation circuit breaker.
type BreakerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32 `json:"consecutive_failures" yaml:"consecutive_failures"`
	// OpenTimeout is how long the breaker stays open before allowing probes.
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`
	// HalfOpenRequests is the number of trial calls let through while half-open.
	HalfOpenRequests uint32 `json:"half_open_requests" yaml:"half_open_requests"`
}

// DefaultConfig returns 3 retries starting at 100ms, doubling, capped at 10s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		InitialDelay:  100 * time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Second,
		CircuitBreaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			HalfOpenRequests:    1,
		},
	}
}

// Handler runs operations with retries. It is safe for concurrent use; sleeping callers
// never hold a lock.
type Handler struct {
	config   Config
	recorder storekit.MetricsRecorder
	// Classifier decides whether an error is worth another attempt. Defaults to storekit.IsRetryable.
	Classifier func(error) bool

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	now      func() time.Time
}

// New returns a Handler reporting to recorder (nil discards records).
func New(config Config, recorder storekit.MetricsRecorder) *Handler {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	d := DefaultConfig().CircuitBreaker
	if config.CircuitBreaker.ConsecutiveFailures == 0 {
		config.CircuitBreaker.ConsecutiveFailures = d.ConsecutiveFailures
	}
	if config.CircuitBreaker.OpenTimeout <= 0 {
		config.CircuitBreaker.OpenTimeout = d.OpenTimeout
	}
	if config.CircuitBreaker.HalfOpenRequests == 0 {
		config.CircuitBreaker.HalfOpenRequests = d.HalfOpenRequests
	}
	if recorder == nil {
		recorder = storekit.NopRecorder{}
	}
	return &Handler{
		config:     config,
		recorder:   recorder,
		Classifier: storekit.IsRetryable,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
		now:        time.Now,
	}
}

// Handle runs task through h and returns its value. It is the value-returning form of Do.
func Handle[T any](ctx context.Context, h *Handler, name string, task func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := h.Do(ctx, name, func(ctx context.Context) error {
		r, err := task(ctx)
		if err == nil {
			result = r
		}
		return err
	})
	return result, err
}

// Do runs task, retrying retryable failures with exponential backoff.
//
// A non-retryable error is returned unchanged right after the failing attempt. When the
// retry budget runs out the last error is returned wrapped in a RetriesExhausted Error
// carrying the attempt count. Each attempt is recorded as one operation named name.
func (h *Handler) Do(ctx context.Context, name string, task func(ctx context.Context) error) error {
	var attempts int
	var lastErr error
	var lastRetryable, exhausted bool

	b := h.backoff()
	tracked := retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		exhausted = stop
		return d, stop
	})
	err := retry.Do(ctx, tracked, func(ctx context.Context) error {
		attempts++
		start := h.now()
		err := h.attempt(ctx, name, task)
		h.recorder.RecordOperation(name, err == nil, h.now().Sub(start), err, map[string]any{"attempt": attempts})
		if err == nil {
			return nil
		}
		lastErr = err
		lastRetryable = h.classify(err)
		if lastRetryable {
			log.Debug("operation failed, will retry", "operation", name, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	switch {
	case err == nil:
		return nil
	case lastErr != nil && !lastRetryable:
		return err
	case lastRetryable && exhausted:
		log.Warn("operation gave up", "operation", name, "attempts", attempts, "error", lastErr)
		return storekit.NewError(storekit.RetriesExhausted,
			fmt.Errorf("operation %s failed after %d attempt(s): %w", name, attempts, lastErr), attempts)
	}
	// Context ended before or between attempts.
	if lastErr != nil {
		return fmt.Errorf("operation %s aborted after %d attempt(s), last error %v: %w", name, attempts, lastErr, err)
	}
	return fmt.Errorf("operation %s aborted: %w", name, err)
}

func (h *Handler) classify(err error) bool {
	if h.Classifier == nil {
		return storekit.IsRetryable(err)
	}
	return h.Classifier(err)
}

// attempt runs one call, converting panics into errors and routing through the breaker.
func (h *Handler) attempt(ctx context.Context, name string, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = storekit.Errorf(storekit.Unknown, "operation %s panicked: %v", name, r)
		}
	}()
	cb := h.breaker(name)
	if cb == nil {
		return task(ctx)
	}
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, task(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return storekit.NewError(storekit.CircuitOpen, err, name)
	}
	return err
}

func (h *Handler) breaker(name string) *gobreaker.CircuitBreaker {
	if !h.config.CircuitBreaker.Enabled {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cb, ok := h.breakers[name]; ok {
		return cb
	}
	bc := h.config.CircuitBreaker
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.HalfOpenRequests,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		// Caller mistakes say nothing about the backend's health.
		IsSuccessful: func(err error) bool {
			return err == nil || !h.classify(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Info("circuit breaker state changed", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	h.breakers[name] = cb
	return cb
}

// BreakerState returns the named operation's breaker state, or "disabled".
func (h *Handler) BreakerState(name string) string {
	if !h.config.CircuitBreaker.Enabled {
		return "disabled"
	}
	return h.breaker(name).State().String()
}

// backoff yields InitialDelay, InitialDelay*factor, ... capped at MaxDelay, for MaxRetries retries.
func (h *Handler) backoff() retry.Backoff {
	delay := h.config.InitialDelay
	next := retry.BackoffFunc(func() (time.Duration, bool) {
		d := delay
		if h.config.MaxDelay > 0 && d > h.config.MaxDelay {
			d = h.config.MaxDelay
		}
		delay = time.Duration(float64(delay) * h.config.BackoffFactor)
		if h.config.MaxDelay > 0 && delay > h.config.MaxDelay {
			delay = h.config.MaxDelay
		}
		return d, false
	})
	return retry.WithMaxRetries(uint64(h.config.MaxRetries), next)
}
