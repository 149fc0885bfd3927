// Package invoker calls handler functions with event envelopes and
// decodes their results.
//
// Functions are either in-process HandlerFuncs or remote endpoints that
// accept the event as a JSON POST body, such as a Lambda runtime
// interface emulator. Remote calls are retried on transport failures and
// guarded by a per-function circuit breaker.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Invoker invokes a named handler function with an event.
type Invoker interface {
	Invoke(ctx context.Context, function string, event any) (*Result, error)
}

// Sentinel errors.
var (
	ErrFunctionNotFound = errors.New("function not found")
	ErrNoEndpoint       = errors.New("function has neither a handler nor a url")
)

// InvocationError reports that the handler function itself failed, as
// opposed to the gateway failing to reach it.
type InvocationError struct {
	Function string
	Type     string
	Message  string
	Cause    error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("function %s failed: %s: %s", e.Function, e.Type, e.Message)
	}
	return fmt.Sprintf("function %s failed: %s", e.Function, e.Message)
}

// Unwrap returns the underlying error.
func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *InvocationError) Is(target error) bool {
	_, ok := target.(*InvocationError)
	return ok
}

// EndpointError reports an unexpected HTTP status from a function endpoint.
type EndpointError struct {
	Function   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *EndpointError) Error() string {
	return fmt.Sprintf("function %s endpoint returned %d: %s", e.Function, e.StatusCode, e.Body)
}

// Is checks if the error matches the target.
func (e *EndpointError) Is(target error) bool {
	_, ok := target.(*EndpointError)
	return ok
}

// IsFunctionError reports whether err was raised by the handler code.
func IsFunctionError(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie)
}

// Result is the decoded response of a handler function.
type Result struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Raw        json.RawMessage
}

// ParseResult decodes a handler response. Objects populate StatusCode,
// Body and Headers; any other JSON value is only kept in Raw. Bytes that
// are not JSON are treated as a JSON string.
func ParseResult(raw []byte) *Result {
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(string(raw))
		raw = quoted
	}

	res := &Result{Raw: append(json.RawMessage(nil), raw...)}

	var obj struct {
		StatusCode json.Number     `json:"statusCode"`
		Body       json.RawMessage `json:"body"`
		Headers    map[string]any  `json:"headers"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return res
	}

	if code, err := obj.StatusCode.Int64(); err == nil {
		res.StatusCode = int(code)
	}

	if len(obj.Body) > 0 && string(obj.Body) != "null" {
		var s string
		if err := json.Unmarshal(obj.Body, &s); err == nil {
			res.Body = s
		} else {
			res.Body = string(obj.Body)
		}
	}

	if len(obj.Headers) > 0 {
		res.Headers = make(map[string]string, len(obj.Headers))
		for k, v := range obj.Headers {
			res.Headers[k] = fmt.Sprint(v)
		}
	}

	return res
}

// String returns the result as a string when the handler returned a bare
// JSON string.
func (r *Result) String() (string, bool) {
	var s string
	if err := json.Unmarshal(r.Raw, &s); err != nil {
		return "", false
	}
	return s, true
}
