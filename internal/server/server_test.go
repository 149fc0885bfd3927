package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avawsgw/internal/authorizer"
	"github.com/vyrodovalexey/avawsgw/internal/cache"
	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/gateway"
	"github.com/vyrodovalexey/avawsgw/internal/invoker"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// env is a server backed by a real gateway with in-process handlers.
type env struct {
	gw          *gateway.Gateway
	httpServer  *httptest.Server
	disconnects chan events.Event
}

type envOptions struct {
	connectStatus int
	authorizer    invoker.HandlerFunc
	noConnect     bool
	idleTimeout   time.Duration
}

func newEnv(t *testing.T, o envOptions) *env {
	t.Helper()

	e := &env{disconnects: make(chan events.Event, 8)}

	if o.connectStatus == 0 {
		o.connectStatus = http.StatusOK
	}
	if o.idleTimeout == 0 {
		o.idleTimeout = time.Hour
	}

	functions := []invoker.Function{
		{Name: "connect", Handler: func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"statusCode": o.connectStatus}, nil
		}},
		{Name: "default", Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var ev events.Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				return nil, err
			}
			if ev.Body == "throw" {
				return nil, errors.New("handler failed")
			}
			return map[string]any{"statusCode": 200, "body": "echo:" + ev.Body}, nil
		}},
		{Name: "disconnect", Handler: func(_ context.Context, raw json.RawMessage) (any, error) {
			var ev events.Event
			_ = json.Unmarshal(raw, &ev)
			e.disconnects <- ev
			return map[string]any{"statusCode": 200}, nil
		}},
	}
	if o.authorizer != nil {
		functions = append(functions, invoker.Function{Name: "auth", Handler: o.authorizer})
	}
	catalog := invoker.NewCatalog(functions)

	b := routes.NewBuilder(catalog)
	if !o.noConnect {
		def := routes.Definition{Route: routes.Connect}
		if o.authorizer != nil {
			def.Authorizer = &routes.AuthorizerRef{Name: "auth"}
		}
		b.AddRoute("connect", def)
	}
	b.AddRoute("default", routes.Definition{
		Route:                            routes.Default,
		RouteResponseSelectionExpression: routes.ResponseSelectionDefault,
	})
	b.AddRoute("disconnect", routes.Definition{Route: routes.Disconnect})

	c, err := cache.New(&config.AuthorizerCacheConfig{Type: config.CacheTypeMemory}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	gw, err := gateway.New(
		gateway.Config{HardTimeout: time.Hour, IdleTimeout: o.idleTimeout},
		b.Build(),
		catalog,
		authorizer.NewWorkflow(catalog, authorizer.NewStore(c, time.Hour)),
		events.NewBuilder(events.Provider{Region: "us-east-1", AccountID: "123456789012", APIID: "private", Stage: "local"}),
		gateway.WithMetrics(observability.NewMetrics("test")),
	)
	require.NoError(t, err)
	e.gw = gw

	srv := New(Config{Path: "/", WriteTimeout: time.Second, MaxMessageSize: 1024}, gw,
		WithIDGenerator(func() string { return "conn-1" }))
	e.httpServer = httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gw.Shutdown(ctx)
		e.httpServer.Close()
	})
	return e
}

func (e *env) wsURL() string {
	return "ws" + strings.TrimPrefix(e.httpServer.URL, "http") + "/"
}

func (e *env) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (e *env) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.httpServer.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readText(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func readCloseError(t *testing.T, ws *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce
	}
}

func TestServer_MessageRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{})
	ws := e.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"unknown"}`)))
	assert.Equal(t, `echo:{"action":"unknown"}`, readText(t, ws))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("throw")))
	var frame map[string]string
	require.NoError(t, json.Unmarshal([]byte(readText(t, ws)), &frame))
	assert.Equal(t, "Internal server error", frame["message"])
	assert.Equal(t, "conn-1", frame["connectionId"])
	assert.Equal(t, "1234567890", frame["requestId"])
}

func TestServer_RejectedUpgrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		opts       envOptions
		wantStatus int
	}{
		{name: "connect handler rejects", opts: envOptions{connectStatus: http.StatusForbidden}, wantStatus: http.StatusForbidden},
		{name: "no connect route", opts: envOptions{noConnect: true}, wantStatus: http.StatusBadGateway},
		{
			name: "authorizer denies",
			opts: envOptions{authorizer: func(context.Context, json.RawMessage) (any, error) {
				return "Unauthorized", nil
			}},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, tt.opts)
			_, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, http.StatusText(tt.wantStatus), string(body))
			assert.Zero(t, e.gw.Len())
		})
	}
}

func TestServer_PlainRequestNeedsUpgrade(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{})
	resp := e.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}

func TestServer_ConnectionsAPI(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{})
	ws := e.dial(t)
	require.Eventually(t, func() bool { return e.gw.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := e.do(t, http.MethodPost, "/@connections/conn-1", "pushed")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pushed", readText(t, ws))

	resp = e.do(t, http.MethodGet, "/@connections/conn-1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info gateway.ConnectionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "conn-1", info.ConnectionID)
	assert.Equal(t, "127.0.0.1", info.Identity.SourceIP)
	assert.False(t, info.ConnectedAt.IsZero())

	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		assert.Equal(t, http.StatusGone, e.do(t, method, "/@connections/unknown", "x").StatusCode, method)
	}

	resp = e.do(t, http.MethodDelete, "/@connections/conn-1", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, websocket.CloseNormalClosure, readCloseError(t, ws).Code)

	select {
	case ev := <-e.disconnects:
		assert.Equal(t, "conn-1", ev.ConnectionID())
	case <-time.After(2 * time.Second):
		t.Fatal("$disconnect not dispatched")
	}
	assert.Equal(t, http.StatusGone, e.do(t, http.MethodGet, "/@connections/conn-1", "").StatusCode)
}

func TestServer_ClientCloseRunsDisconnect(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{})
	ws := e.dial(t)
	require.Eventually(t, func() bool { return e.gw.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	msg := websocket.FormatCloseMessage(4001, "bye")
	require.NoError(t, ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))

	select {
	case ev := <-e.disconnects:
		assert.Equal(t, 4001, ev.RequestContext.DisconnectStatusCode)
		assert.Equal(t, "bye", ev.RequestContext.DisconnectReason)
	case <-time.After(2 * time.Second):
		t.Fatal("$disconnect not dispatched")
	}
	assert.Zero(t, e.gw.Len())
}

func TestServer_IdleTimeoutClosesWithGoingAway(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{idleTimeout: 100 * time.Millisecond})
	ws := e.dial(t)

	ce := readCloseError(t, ws)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, gateway.ReasonGoingAway, ce.Text)
}

func TestServer_OversizedMessageClosesConnection(t *testing.T) {
	t.Parallel()

	e := newEnv(t, envOptions{})
	ws := e.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 2048))))
	assert.Equal(t, websocket.CloseMessageTooBig, readCloseError(t, ws).Code)
}

func TestReject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		verdict    gateway.Verdict
		wantStatus int
		wantBody   string
		wantHeader string
	}{
		{name: "missing status", verdict: gateway.Verdict{}, wantStatus: http.StatusUnauthorized, wantBody: "Unauthorized"},
		{
			name:       "status with headers and message",
			verdict:    gateway.Verdict{StatusCode: 429, Headers: map[string]string{"Retry-After": "5"}, Message: "slow down"},
			wantStatus: 429,
			wantBody:   "slow down",
			wantHeader: "5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			reject(c, tt.verdict)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.Equal(t, tt.wantHeader, w.Header().Get("Retry-After"))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()

	srv := New(Config{Host: "127.0.0.1", Port: 0}, nil)
	assert.Nil(t, srv.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()
	require.Eventually(t, srv.IsRunning, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, srv.Addr())

	resp, err := http.Get("http://" + srv.Addr().String() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
	require.NoError(t, <-errCh)
	assert.False(t, srv.IsRunning())
}
