package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/retry"
	"github.com/vyrodovalexey/avawsgw/internal/util"
)

func echoHandler(_ context.Context, event json.RawMessage) (any, error) {
	return map[string]any{"statusCode": 200, "body": string(event)}, nil
}

func TestCatalog_InvokeHandler(t *testing.T) {
	t.Parallel()

	c := NewCatalog([]Function{{Name: "echo", Handler: echoHandler}})

	res, err := c.Invoke(context.Background(), "echo", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.JSONEq(t, `{"k":"v"}`, res.Body)
}

func TestCatalog_InvokeHandlerErrors(t *testing.T) {
	t.Parallel()

	statusErr := util.NewStatusError(418, "teapot")
	c := NewCatalog([]Function{
		{Name: "fails", Handler: func(context.Context, json.RawMessage) (any, error) {
			return nil, statusErr
		}},
		{Name: "panics", Handler: func(context.Context, json.RawMessage) (any, error) {
			panic("kaboom")
		}},
	})

	_, err := c.Invoke(context.Background(), "fails", nil)
	require.Error(t, err)
	assert.True(t, IsFunctionError(err))
	se, ok := util.AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, 418, se.StatusCode)

	_, err = c.Invoke(context.Background(), "panics", nil)
	require.Error(t, err)
	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "Panic", ie.Type)
	assert.Equal(t, "kaboom", ie.Message)
}

func TestCatalog_FunctionNotFound(t *testing.T) {
	t.Parallel()

	c := NewCatalog(nil)
	_, err := c.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrFunctionNotFound)
}

func TestCatalog_NoEndpoint(t *testing.T) {
	t.Parallel()

	c := NewCatalog([]Function{{Name: "bare"}})
	_, err := c.Invoke(context.Background(), "bare", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestCatalog_RegistryOperations(t *testing.T) {
	t.Parallel()

	c := NewCatalog([]Function{{Name: "b"}, {Name: "a"}})
	assert.Equal(t, []string{"a", "b"}, c.Names())
	assert.True(t, c.Has("a"))

	c.Register(Function{Name: "c"})
	assert.True(t, c.Has("c"))

	c.Replace([]Function{{Name: "z"}})
	assert.Equal(t, []string{"z"}, c.Names())
	assert.False(t, c.Has("a"))
}

func TestCatalog_InvokeRemote(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "req-1", r.Header.Get("X-Request-ID"))

		body, _ := io.ReadAll(r.Body)
		var ev map[string]string
		assert.NoError(t, json.Unmarshal(body, &ev))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"statusCode":200,"body":"`+ev["msg"]+`"}`)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics("test_invoker")
	c := NewCatalog([]Function{{
		Name:    "remote",
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Timeout: time.Second,
	}}, WithMetrics(metrics))

	ctx := observability.ContextWithRequestID(context.Background(), "req-1")
	res, err := c.Invoke(ctx, "remote", map[string]string{"msg": "pong"})
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, "pong", res.Body)

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_invoker_function_invocations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCatalog_RemoteFunctionError(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set(HeaderFunctionError, "Unhandled")
		_, _ = io.WriteString(w, `{"errorMessage":"bad input","errorType":"ValidationError"}`)
	}))
	defer srv.Close()

	c := NewCatalog([]Function{{Name: "remote", URL: srv.URL}},
		WithRetry(retry.Config{MaxRetries: 3, InitialBackoff: time.Millisecond}))

	_, err := c.Invoke(context.Background(), "remote", nil)
	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "ValidationError", ie.Type)
	assert.Equal(t, "bad input", ie.Message)
	assert.Equal(t, int32(1), hits.Load(), "function errors are not retried")
}

func TestCatalog_RetriesUnavailableEndpoint(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"statusCode":200}`)
	}))
	defer srv.Close()

	c := NewCatalog([]Function{{Name: "remote", URL: srv.URL}},
		WithRetry(retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}))

	res, err := c.Invoke(context.Background(), "remote", nil)
	require.NoError(t, err)
	assert.Equal(t, 200, res.StatusCode)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCatalog_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	metrics := observability.NewMetrics("test_breaker")
	c := NewCatalog([]Function{{Name: "remote", URL: srv.URL}},
		WithMetrics(metrics),
		WithCircuitBreaker(BreakerConfig{Enabled: true, Threshold: 2, Timeout: time.Minute}))

	for i := 0; i < 2; i++ {
		_, err := c.Invoke(context.Background(), "remote", nil)
		var ee *EndpointError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, http.StatusInternalServerError, ee.StatusCode)
	}

	_, err := c.Invoke(context.Background(), "remote", nil)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.ErrorIs(t, err, util.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_breaker_circuit_breaker_state")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCatalog_FunctionErrorsDoNotTripBreaker(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(HeaderFunctionError, "Unhandled")
		_, _ = io.WriteString(w, `{"errorMessage":"nope"}`)
	}))
	defer srv.Close()

	c := NewCatalog([]Function{{Name: "remote", URL: srv.URL}},
		WithCircuitBreaker(BreakerConfig{Enabled: true, Threshold: 1, Timeout: time.Minute}))

	for i := 0; i < 3; i++ {
		_, err := c.Invoke(context.Background(), "remote", nil)
		assert.True(t, IsFunctionError(err))
	}
}

func TestCatalog_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewCatalog([]Function{{Name: "slow", URL: srv.URL, Timeout: 50 * time.Millisecond}})

	_, err := c.Invoke(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFunctionsFromConfig(t *testing.T) {
	t.Parallel()

	spec := &config.GatewaySpec{Functions: map[string]config.FunctionConfig{
		"b": {URL: "http://b", Timeout: config.Duration(time.Second)},
		"a": {URL: "http://a", Headers: map[string]string{"k": "v"}},
	}}

	fns := FunctionsFromConfig(spec)
	require.Len(t, fns, 2)
	assert.Equal(t, "a", fns[0].Name)
	assert.Equal(t, map[string]string{"k": "v"}, fns[0].Headers)
	assert.Equal(t, time.Second, fns[1].Timeout)

	opts := OptionsFromConfig(config.InvokerConfig{
		Retry:          config.RetryConfig{MaxRetries: 2},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true, Threshold: 3},
	})
	c := NewCatalog(fns, opts...)
	assert.Equal(t, 2, c.retry.MaxRetries)
	assert.True(t, c.breaker.Enabled)
	assert.Equal(t, 3, c.breaker.Threshold)
}
