package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join("testdata", "gateway.yaml"))
	require.NoError(t, err)
	require.NoError(t, ValidateConfig(cfg))

	assert.Equal(t, "local", cfg.Metadata.Name)
	assert.Equal(t, "0.0.0.0:3001", cfg.Spec.Listener.Address())
	assert.Equal(t, "/", cfg.Spec.Listener.Path)
	assert.Equal(t, 10*time.Minute, cfg.Spec.WebSocket.IdleTimeout.Duration())
	assert.Equal(t, "$default", cfg.Spec.WebSocket.DefaultRoute)
	assert.Equal(t, "eu-west-1", cfg.Spec.Provider.Region)
	assert.Equal(t, DefaultAccountID, cfg.Spec.Provider.AccountID)

	assert.Equal(t, []string{"auth", "connect", "default"}, cfg.Spec.FunctionNames())

	connect := cfg.Spec.Functions["connect"]
	require.Len(t, connect.Events, 1)
	require.NotNil(t, connect.Events[0].WebSocket.Authorizer)
	assert.Equal(t, "auth", connect.Events[0].WebSocket.Authorizer.Name)
	assert.Equal(t, DefaultFunctionTimeout, connect.Timeout.Duration())

	def := cfg.Spec.Functions["default"]
	require.Len(t, def.Events, 2)
	assert.Equal(t, "$default", def.Events[0].WebSocket.RouteResponseSelectionExpression)
	assert.Equal(t, "$disconnect", def.Events[1].WebSocket.Route)
	assert.Equal(t, 6*time.Second, def.Timeout.Duration())

	assert.Equal(t, CacheTypeMemory, cfg.Spec.AuthorizerCache.Type)
	assert.Zero(t, cfg.Spec.AuthorizerCache.TTL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFromReader_AuthorizerShorthand(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(`
apiVersion: gateway.avawsgw.io/v1
kind: WebSocketGateway
metadata:
  name: shorthand
spec:
  functions:
    connect:
      url: http://localhost:9000/connect
      events:
        - websocket:
            route: $connect
            authorizer: auth
`))
	require.NoError(t, err)

	auth := cfg.Spec.Functions["connect"].Events[0].WebSocket.Authorizer
	require.NotNil(t, auth)
	assert.Equal(t, "auth", auth.Name)
	assert.Empty(t, auth.Type)
}

func TestLoadConfigFromReader_InvalidYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadConfigFromReader(strings.NewReader("spec: [unclosed"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("AVAWSGW_TEST_HOST", "gateway.internal")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set variable", input: "host: ${AVAWSGW_TEST_HOST}", want: "host: gateway.internal"},
		{name: "default used", input: "port: ${AVAWSGW_TEST_UNSET:-3001}", want: "port: 3001"},
		{name: "unset without default", input: "x: ${AVAWSGW_TEST_UNSET}", want: "x: "},
		{name: "escaped dollar", input: "route: $${literal}", want: "route: ${literal}"},
		{name: "route keys untouched", input: "route: $connect", want: "route: $connect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kind: Other\n"), 0o600))

	_, err := LoadAndValidate(path)
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.True(t, verrs.HasErrors())
}
