package storekit

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a storekit Error.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	// ConnectionFailure is a transient failure reaching a backend. Retryable.
	ConnectionFailure
	// Timeout is a backend or probe deadline overrun. Retryable.
	Timeout
	// ValidationFailure is a caller input problem.
	ValidationFailure
	// ConfigurationFailure is a misconfigured component or backend.
	ConfigurationFailure
	// TransactionFailure covers executor failures and invalid transaction use.
	TransactionFailure
	// CapacityExceeded is returned when a bounded pool (transactions, cache) is full.
	CapacityExceeded
	NotFound
	InvalidState
	// RetriesExhausted wraps the last error after the retry budget ran out.
	RetriesExhausted
	// CircuitOpen is returned while a circuit breaker rejects calls.
	CircuitOpen
)

var codeNames = map[ErrorCode]string{
	Unknown:              "unknown",
	ConnectionFailure:    "connection",
	Timeout:              "timeout",
	ValidationFailure:    "validation",
	ConfigurationFailure: "configuration",
	TransactionFailure:   "transaction",
	CapacityExceeded:     "capacity",
	NotFound:             "not_found",
	InvalidState:         "invalid_state",
	RetriesExhausted:     "retries_exhausted",
	CircuitOpen:          "circuit_open",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error is the storekit custom error.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

// NewError returns an Error with the given code wrapping err.
func NewError(code ErrorCode, err error, userData any) Error {
	return Error{
		Code:     code,
		Err:      err,
		UserData: userData,
	}
}

// Errorf is NewError with a formatted cause and no user data.
func Errorf(code ErrorCode, format string, args ...any) Error {
	return Error{
		Code: code,
		Err:  fmt.Errorf(format, args...),
	}
}

func (e Error) Error() string {
	if e.UserData != nil {
		return fmt.Sprintf("%s error: %v, user data: %v", e.Code, e.Err, e.UserData)
	}
	return fmt.Sprintf("%s error: %v", e.Code, e.Err)
}

// Unwrap returns the wrapped cause.
func (e Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the outermost storekit Error in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	var pse *Error
	if errors.As(err, &pse) && pse != nil {
		return pse.Code, true
	}
	return Unknown, false
}

// HasCode reports whether any storekit Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		switch e := err.(type) {
		case Error:
			if e.Code == code {
				return true
			}
		case *Error:
			if e != nil && e.Code == code {
				return true
			}
		}
		err = errors.Unwrap(err)
	}
	return false
}
