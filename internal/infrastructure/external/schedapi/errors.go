package schedapi

import (
	"errors"
	"fmt"

	"github.com/unischedule/schedule-sync/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrFetcherClosed is returned by every call after Close.
	ErrFetcherClosed = errors.New("schedapi: fetcher is closed")

	// ErrMalformedJSON - the response declared JSON but the body does not parse.
	ErrMalformedJSON = errors.New("schedapi: malformed json body")

	// ErrUnexpectedPayload - the body parsed but has the wrong shape.
	ErrUnexpectedPayload = errors.New("schedapi: unexpected payload")
)

// TimeoutError - the request timed out on every attempt (the last failure
// was a timeout).
type TimeoutError struct {
	Attempts int
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timeout after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Is(target error) bool {
	return target == shared.ErrTimeout || target == shared.ErrExternalService
}

// NetworkError - transport failure after the retry budget was spent, or a
// fast failure while the circuit breaker is open (Attempts == 0).
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("request rejected: %v", e.Err)
	}
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	return target == shared.ErrServiceUnavailable || target == shared.ErrExternalService
}

// APIError - the source answered with HTTP status >= 400. Never retried.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == shared.ErrExternalService
}

// IsNotFound reports a 404 from the source.
func (e *APIError) IsNotFound() bool { return e.StatusCode == 404 }

// transportError marks failures of the HTTP exchange itself; only these are
// retried.
type transportError struct {
	err     error
	timeout bool
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }
