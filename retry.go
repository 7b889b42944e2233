package storekit

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// IsRetryable reports whether err is a transient failure worth another attempt.
//
// Only connection and timeout class failures are retryable: storekit Errors coded
// ConnectionFailure or Timeout, network timeouts, and connection refused/reset errnos.
// Everything else, including unclassified errors, is surfaced to the caller unchanged.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellations/deadlines are permanent from the caller's POV.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := CodeOf(err); ok {
		switch code {
		case ConnectionFailure, Timeout:
			return true
		default:
			return false
		}
	}

	if errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, os.ErrPermission) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, os.ErrExist) {
		return false
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return true
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}
