package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

const (
	// HeaderFunctionError marks a response that carries a function error
	// payload instead of a result.
	HeaderFunctionError = "X-Amz-Function-Error"

	headerRequestID = "X-Request-ID"

	// maxResponseSize mirrors the synchronous invocation payload limit.
	maxResponseSize = 6 << 20
)

// errorPayload is the body of a failed invocation.
type errorPayload struct {
	ErrorMessage string `json:"errorMessage"`
	ErrorType    string `json:"errorType"`
}

func (c *Catalog) post(ctx context.Context, fn Function, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fn.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", fn.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range fn.Headers {
		req.Header.Set(k, v)
	}
	if id := observability.RequestIDFromContext(ctx); id != "" {
		req.Header.Set(headerRequestID, id)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", fn.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response of %s: %w", fn.Name, err)
	}

	if resp.Header.Get(HeaderFunctionError) != "" {
		return nil, functionError(fn.Name, body)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EndpointError{
			Function:   fn.Name,
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
		}
	}

	return body, nil
}

func functionError(function string, body []byte) *InvocationError {
	var p errorPayload
	if err := json.Unmarshal(body, &p); err != nil || p.ErrorMessage == "" {
		return &InvocationError{Function: function, Message: string(bytes.TrimSpace(body))}
	}
	return &InvocationError{
		Function: function,
		Type:     p.ErrorType,
		Message:  p.ErrorMessage,
	}
}

// callHandler runs an in-process handler, turning errors and panics into
// InvocationErrors.
func callHandler(ctx context.Context, fn Function, payload []byte) (raw []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = nil
			err = &InvocationError{
				Function: fn.Name,
				Type:     "Panic",
				Message:  fmt.Sprint(r),
			}
		}
	}()

	out, err := fn.Handler(ctx, json.RawMessage(payload))
	if err != nil {
		return nil, &InvocationError{
			Function: fn.Name,
			Type:     fmt.Sprintf("%T", err),
			Message:  err.Error(),
			Cause:    err,
		}
	}

	switch v := out.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}

	raw, err = json.Marshal(out)
	if err != nil {
		return nil, &InvocationError{
			Function: fn.Name,
			Type:     "MarshalError",
			Message:  err.Error(),
			Cause:    err,
		}
	}
	return raw, nil
}
