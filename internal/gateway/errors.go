package gateway

import (
	"errors"
	"fmt"
)

// ErrorClass partitions gateway failures by how callers should react.
type ErrorClass string

const (
	// ClassRateLimited means the provider or the local bucket rejected the
	// call; retryable later, never fatal.
	ClassRateLimited ErrorClass = "rate_limited"

	// ClassTransient covers 5xx responses, timeouts and connection errors;
	// retried with backoff.
	ClassTransient ErrorClass = "transient"

	// ClassPermanent covers non-429 4xx responses; surfaced immediately,
	// never retried.
	ClassPermanent ErrorClass = "permanent"

	// ClassCircuitOpen means the provider breaker is open and the call was
	// failed fast without going to the network.
	ClassCircuitOpen ErrorClass = "circuit_open"
)

// Error is the failure type returned by Gateway.Call.
type Error struct {
	Provider string
	Class    ErrorClass
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: provider %s: %s: %v", e.Provider, e.Class, e.Err)
	}
	return fmt.Sprintf("gateway: provider %s: %s", e.Provider, e.Class)
}

func (e *Error) Unwrap() error { return e.Err }

// ClassOf extracts the error class, or empty for non-gateway errors.
func ClassOf(err error) ErrorClass {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Class
	}
	return ""
}

// IsRateLimited reports whether the error is a rate-limit rejection.
func IsRateLimited(err error) bool { return ClassOf(err) == ClassRateLimited }

// IsPermanent reports whether the error is non-retryable.
func IsPermanent(err error) bool { return ClassOf(err) == ClassPermanent }
