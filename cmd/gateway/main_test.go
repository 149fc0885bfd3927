package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
)

const testConfig = `
apiVersion: gateway.avawsgw.io/v1
kind: WebSocketGateway
metadata:
  name: test
spec:
  listener:
    host: 127.0.0.1
    port: 3101
  functions:
    connect:
      url: http://127.0.0.1:9/connect
      events:
        - websocket:
            route: $connect
            authorizer: auth
    auth:
      url: http://127.0.0.1:9/auth
    default:
      url: http://127.0.0.1:9/default
      events:
        - websocket: $default
        - websocket: $disconnect
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func loadTestConfig(t *testing.T, content string) *config.GatewayConfig {
	t.Helper()
	cfg, err := config.LoadAndValidate(writeConfig(t, content))
	require.NoError(t, err)
	return cfg
}

func newTestApp(t *testing.T, noAuth bool) *application {
	t.Helper()
	app, err := initApplication(loadTestConfig(t, testConfig), observability.NopLogger(), noAuth)
	require.NoError(t, err)
	return app
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AVAWSGW_TEST_SET", "value")

	assert.Equal(t, "value", getEnvOrDefault("AVAWSGW_TEST_SET", "default"))
	assert.Equal(t, "default", getEnvOrDefault("AVAWSGW_TEST_UNSET", "default"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{value: "", def: true, want: true},
		{value: "true", want: true},
		{value: "YES", want: true},
		{value: "1", want: true},
		{value: "off", def: true, want: false},
		{value: "0", def: true, want: false},
		{value: "maybe", def: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("AVAWSGW_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, getEnvBool("AVAWSGW_TEST_BOOL", tt.def))
		})
	}
}

func TestParseFlags(t *testing.T) {
	t.Setenv("GATEWAY_CONFIG_PATH", "/etc/avawsgw.yaml")
	t.Setenv("GATEWAY_NO_AUTH", "true")

	f, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "/etc/avawsgw.yaml", f.configPath)
	assert.True(t, f.noAuth)
	assert.Empty(t, f.logLevel)

	f, err = parseFlags([]string{"-config", "local.yaml", "-log-level", "debug", "-no-auth=false", "-version"})
	require.NoError(t, err)
	assert.Equal(t, "local.yaml", f.configPath)
	assert.Equal(t, "debug", f.logLevel)
	assert.False(t, f.noAuth)
	assert.True(t, f.showVersion)

	_, err = parseFlags([]string{"-unknown"})
	assert.Error(t, err)
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf)
	assert.Contains(t, buf.String(), "avawsgw version dev")
	assert.Contains(t, buf.String(), "Git commit: unknown")
}

func TestFatalWithSync(t *testing.T) {
	var code int
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = orig })

	core, logs := observer.New(zap.InfoLevel)
	fatalWithSync(observability.NewZapLogger(zap.New(core)), "boom")

	assert.Equal(t, 1, code)
	assert.Equal(t, 1, logs.FilterMessage("boom").Len())
}

func TestLoadAndValidateConfig_Invalid(t *testing.T) {
	var code int
	orig := exitFunc
	exitFunc = func(c int) { code = c }
	t.Cleanup(func() { exitFunc = orig })

	cfg := loadAndValidateConfig(cliFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")},
		observability.NopLogger())
	assert.Nil(t, cfg)
	assert.Equal(t, 1, code)
}

func TestInitApplication(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		noAuth         bool
		wantAuthorizer string
	}{
		{name: "authorizer bound", wantAuthorizer: "auth"},
		{name: "no auth", noAuth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := newTestApp(t, tt.noAuth)
			t.Cleanup(func() { shutdown(app, nil) })

			table := app.gateway.Routes()
			assert.Equal(t, []string{routes.Connect, routes.Default, routes.Disconnect}, table.Keys())

			name, _ := table.Authorizer(routes.Connect)
			assert.Equal(t, tt.wantAuthorizer, name)
			assert.Equal(t, tt.noAuth, app.config.Spec.WebSocket.NoAuth)
			assert.ElementsMatch(t, []string{"auth", "connect", "default"}, app.catalog.Names())
		})
	}
}

func TestReload(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, false)
	t.Cleanup(func() { shutdown(app, nil) })

	// Unchanged functions keep the table.
	before := app.gateway.Routes()
	app.reload(loadTestConfig(t, testConfig))
	assert.Same(t, before, app.gateway.Routes())

	updated := strings.Replace(testConfig, "        - websocket: $disconnect\n", "", 1)
	updated += `    echo:
      url: http://127.0.0.1:9/echo
      events:
        - websocket: sendmessage
`
	app.reload(loadTestConfig(t, updated))

	assert.Equal(t, []string{routes.Connect, routes.Default, "sendmessage"}, app.gateway.Routes().Keys())
	assert.True(t, app.catalog.Has("echo"))

	expected := `
# HELP wsgateway_config_reloads_total Total number of route table reloads by result
# TYPE wsgateway_config_reloads_total counter
wsgateway_config_reloads_total{result="error"} 0
wsgateway_config_reloads_total{result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(app.metrics.Registry(), strings.NewReader(expected),
		"wsgateway_config_reloads_total"))
}

func TestReload_NoAuthStaysForced(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, true)
	t.Cleanup(func() { shutdown(app, nil) })

	updated := testConfig + `    extra:
      url: http://127.0.0.1:9/extra
`
	app.reload(loadTestConfig(t, updated))

	name, _ := app.gateway.Routes().Authorizer(routes.Connect)
	assert.Empty(t, name)
	assert.True(t, app.catalog.Has("extra"))
}

func TestRoutingChecksum(t *testing.T) {
	t.Parallel()

	a := loadTestConfig(t, testConfig)
	b := loadTestConfig(t, testConfig)
	assert.Equal(t, routingChecksum(&a.Spec), routingChecksum(&b.Spec))

	b.Spec.WebSocket.NoAuth = true
	assert.NotEqual(t, routingChecksum(&a.Spec), routingChecksum(&b.Spec))

	b.Spec.WebSocket.NoAuth = false
	b.Spec.Listener.Port = 4000
	assert.Equal(t, routingChecksum(&a.Spec), routingChecksum(&b.Spec))
}

func TestWarnStaticChanges(t *testing.T) {
	t.Parallel()

	a := loadTestConfig(t, testConfig)
	b := loadTestConfig(t, testConfig)
	b.Spec.Listener.Port = 4000
	b.Spec.WebSocket.NoAuth = true

	core, logs := observer.New(zap.WarnLevel)
	warnStaticChanges(observability.NewZapLogger(zap.New(core)), &a.Spec, &b.Spec)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "listener", entries[0].ContextMap()["section"])
}

func TestCreateMetricsServer(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, false)
	t.Cleanup(func() { shutdown(app, nil) })

	srv := createMetricsServer(config.MetricsConfig{Enabled: true, Port: 9191, Path: "/metrics"},
		app.metrics, app.healthChecker, app.logger)
	assert.Equal(t, ":9191", srv.Addr)

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/metrics", wantCode: http.StatusOK, contains: "wsgateway_build_info"},
		{path: "/health", wantCode: http.StatusOK, contains: `"status":"healthy"`},
		{path: "/ready", wantCode: http.StatusOK, contains: "authorizer_cache"},
		{path: "/live", wantCode: http.StatusOK, contains: `"ok"`},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.wantCode, w.Code, tt.path)
		assert.Contains(t, w.Body.String(), tt.contains, tt.path)
	}
}

func TestShutdown_Drains(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, false)
	shutdown(app, nil)

	assert.True(t, app.healthChecker.IsDraining())
	assert.Zero(t, app.gateway.Len())
}
