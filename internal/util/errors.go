// Package util provides error conventions and small validation helpers
// shared by the gateway packages.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrCircuitOpen.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., StatusError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors.
var (
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// StatusError is an expected failure that carries the HTTP status code,
// response headers, and message to surface to the connecting client.
type StatusError struct {
	StatusCode int
	Headers    map[string]string
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Cause)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok || errors.Is(e.Cause, target)
}

// NewStatusError creates a new StatusError. A zero status code becomes 500.
func NewStatusError(statusCode int, message string) *StatusError {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	return &StatusError{StatusCode: statusCode, Message: message}
}

// WithHeader returns the error with an additional response header.
func (e *StatusError) WithHeader(name, value string) *StatusError {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[name] = value
	return e
}

// AsStatusError reports whether err wraps a StatusError and returns it.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
