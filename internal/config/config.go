package config

import (
	"fmt"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Resource identity of a gateway configuration document.
const (
	APIVersionPrefix  = "gateway.avawsgw.io/"
	DefaultAPIVersion = APIVersionPrefix + "v1"
	Kind              = "WebSocketGateway"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultHost                     = "localhost"
	DefaultPort                     = 3001
	DefaultPath                     = "/"
	DefaultBufferSize               = 4096
	DefaultMaxMessageSize           = 128 * 1024
	DefaultWriteTimeout             = 10 * time.Second
	DefaultShutdownTimeout          = 30 * time.Second
	DefaultHardTimeout              = 2 * time.Hour
	DefaultIdleTimeout              = 10 * time.Minute
	DefaultRouteSelectionExpression = "$request.body.action"
	DefaultRouteKey                 = "$default"
	DefaultDispatchQueueSize        = 64
	DefaultRegion                   = "us-east-1"
	DefaultAccountID                = "123456789012"
	DefaultAPIID                    = "private"
	DefaultStage                    = "local"
	DefaultFunctionTimeout          = 30 * time.Second
	DefaultCacheType                = CacheTypeMemory
	DefaultCacheMaxEntries          = 10000
	DefaultRedisKeyPrefix           = "avawsgw:auth:"
	MinCacheTTLMargin               = time.Minute
	DefaultMetricsPort              = 9090
	DefaultMetricsPath              = "/metrics"
	DefaultServiceName              = "avawsgw"
)

// Authorizer cache backends.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds the gateway settings.
type GatewaySpec struct {
	Listener        ListenerConfig            `yaml:"listener" json:"listener"`
	WebSocket       WebSocketConfig           `yaml:"websocket" json:"websocket"`
	Provider        ProviderConfig            `yaml:"provider" json:"provider"`
	Functions       map[string]FunctionConfig `yaml:"functions" json:"functions"`
	Invoker         InvokerConfig             `yaml:"invoker" json:"invoker"`
	AuthorizerCache AuthorizerCacheConfig     `yaml:"authorizerCache" json:"authorizerCache"`
	Observability   ObservabilityConfig       `yaml:"observability" json:"observability"`
}

// ListenerConfig configures the WebSocket listener.
type ListenerConfig struct {
	Host            string   `yaml:"host" json:"host"`
	Port            int      `yaml:"port" json:"port"`
	Path            string   `yaml:"path" json:"path"`
	ReadBufferSize  int      `yaml:"readBufferSize" json:"readBufferSize"`
	WriteBufferSize int      `yaml:"writeBufferSize" json:"writeBufferSize"`
	MaxMessageSize  int64    `yaml:"maxMessageSize" json:"maxMessageSize"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// Address returns the host:port listen address.
func (l ListenerConfig) Address() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// WebSocketConfig configures connection lifetimes and routing.
type WebSocketConfig struct {
	HardTimeout              Duration        `yaml:"hardTimeout" json:"hardTimeout"`
	IdleTimeout              Duration        `yaml:"idleTimeout" json:"idleTimeout"`
	RouteSelectionExpression string          `yaml:"routeSelectionExpression" json:"routeSelectionExpression"`
	DefaultRoute             string          `yaml:"defaultRoute" json:"defaultRoute"`
	NoAuth                   bool            `yaml:"noAuth" json:"noAuth"`
	DispatchQueueSize        int             `yaml:"dispatchQueueSize" json:"dispatchQueueSize"`
	Throttle                 *ThrottleConfig `yaml:"throttle,omitempty" json:"throttle,omitempty"`
}

// ThrottleConfig limits inbound messages per connection.
type ThrottleConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Rate    float64 `yaml:"rate" json:"rate"`
	Burst   int     `yaml:"burst" json:"burst"`
}

// ProviderConfig describes the emulated deployment; it shapes event
// envelopes and the authorizer method ARN.
type ProviderConfig struct {
	Region     string `yaml:"region" json:"region"`
	AccountID  string `yaml:"accountId" json:"accountId"`
	APIID      string `yaml:"apiId" json:"apiId"`
	Stage      string `yaml:"stage" json:"stage"`
	DomainName string `yaml:"domainName" json:"domainName"`
}

// FunctionConfig describes a handler function reachable over HTTP.
type FunctionConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Timeout Duration          `yaml:"timeout" json:"timeout"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Events  []FunctionEvent   `yaml:"events,omitempty" json:"events,omitempty"`
}

// FunctionEvent is one event source of a function. Only websocket
// events are understood.
type FunctionEvent struct {
	WebSocket *WebSocketEvent `yaml:"websocket,omitempty" json:"websocket,omitempty"`
}

// WebSocketEvent binds a function to a route key.
type WebSocketEvent struct {
	Route                            string            `yaml:"route" json:"route"`
	Authorizer                       *AuthorizerConfig `yaml:"authorizer,omitempty" json:"authorizer,omitempty"`
	RouteResponseSelectionExpression string            `yaml:"routeResponseSelectionExpression,omitempty" json:"routeResponseSelectionExpression,omitempty"`
}

// UnmarshalYAML accepts either a bare route key or the full mapping.
func (e *WebSocketEvent) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		e.Route = value.Value
		return nil
	}
	type plain WebSocketEvent
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = WebSocketEvent(p)
	return nil
}

// AuthorizerConfig references the authorizer of a $connect route.
type AuthorizerConfig struct {
	Name           string   `yaml:"name,omitempty" json:"name,omitempty"`
	Type           string   `yaml:"type,omitempty" json:"type,omitempty"`
	ARN            string   `yaml:"arn,omitempty" json:"arn,omitempty"`
	IdentitySource []string `yaml:"identitySource,omitempty" json:"identitySource,omitempty"`
}

// UnmarshalYAML accepts either a bare function name or the full mapping.
func (a *AuthorizerConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Name = value.Value
		return nil
	}
	type plain AuthorizerConfig
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*a = AuthorizerConfig(p)
	return nil
}

// InvokerConfig configures resilience of HTTP function invocations.
type InvokerConfig struct {
	Retry          RetryConfig          `yaml:"retry" json:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
}

// RetryConfig configures retries of transport failures.
type RetryConfig struct {
	MaxRetries     int      `yaml:"maxRetries" json:"maxRetries"`
	InitialBackoff Duration `yaml:"initialBackoff" json:"initialBackoff"`
	MaxBackoff     Duration `yaml:"maxBackoff" json:"maxBackoff"`
	JitterFactor   float64  `yaml:"jitterFactor" json:"jitterFactor"`
}

// CircuitBreakerConfig configures the per-function circuit breaker.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	Threshold        int      `yaml:"threshold" json:"threshold"`
	Timeout          Duration `yaml:"timeout" json:"timeout"`
	HalfOpenRequests int      `yaml:"halfOpenRequests" json:"halfOpenRequests"`
}

// AuthorizerCacheConfig selects where authorization context is kept
// for the lifetime of a connection.
//
// TTL only bounds entries leaked by a crashed gateway. Zero disables
// expiry; a positive value must exceed the hard timeout by at least
// MinCacheTTLMargin.
type AuthorizerCacheConfig struct {
	Type       string       `yaml:"type" json:"type"`
	TTL        Duration     `yaml:"ttl" json:"ttl"`
	MaxEntries int          `yaml:"maxEntries" json:"maxEntries"`
	Redis      *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the redis cache backend.
type RedisConfig struct {
	URL            string   `yaml:"url" json:"url"`
	KeyPrefix      string   `yaml:"keyPrefix" json:"keyPrefix"`
	PoolSize       int      `yaml:"poolSize" json:"poolSize"`
	ConnectTimeout Duration `yaml:"connectTimeout" json:"connectTimeout"`
}

// ObservabilityConfig groups logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig configures the metrics and health server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// DefaultConfig returns a configuration with every default applied and
// no functions.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       Kind,
		Metadata:   Metadata{Name: "local"},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued settings with their defaults.
func ApplyDefaults(cfg *GatewayConfig) {
	applyListenerDefaults(&cfg.Spec.Listener)
	applyWebSocketDefaults(&cfg.Spec.WebSocket)
	applyProviderDefaults(&cfg.Spec.Provider)

	for name, fn := range cfg.Spec.Functions {
		if fn.Timeout == 0 {
			fn.Timeout = Duration(DefaultFunctionTimeout)
		}
		cfg.Spec.Functions[name] = fn
	}

	applyCacheDefaults(&cfg.Spec.AuthorizerCache)
	applyObservabilityDefaults(&cfg.Spec.Observability)
}

func applyListenerDefaults(l *ListenerConfig) {
	if l.Host == "" {
		l.Host = DefaultHost
	}
	if l.Port == 0 {
		l.Port = DefaultPort
	}
	if l.Path == "" {
		l.Path = DefaultPath
	}
	if l.ReadBufferSize == 0 {
		l.ReadBufferSize = DefaultBufferSize
	}
	if l.WriteBufferSize == 0 {
		l.WriteBufferSize = DefaultBufferSize
	}
	if l.MaxMessageSize == 0 {
		l.MaxMessageSize = DefaultMaxMessageSize
	}
	if l.WriteTimeout == 0 {
		l.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if l.ShutdownTimeout == 0 {
		l.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

func applyWebSocketDefaults(ws *WebSocketConfig) {
	if ws.HardTimeout == 0 {
		ws.HardTimeout = Duration(DefaultHardTimeout)
	}
	if ws.IdleTimeout == 0 {
		ws.IdleTimeout = Duration(DefaultIdleTimeout)
	}
	if ws.RouteSelectionExpression == "" {
		ws.RouteSelectionExpression = DefaultRouteSelectionExpression
	}
	if ws.DefaultRoute == "" {
		ws.DefaultRoute = DefaultRouteKey
	}
	if ws.DispatchQueueSize == 0 {
		ws.DispatchQueueSize = DefaultDispatchQueueSize
	}
}

func applyProviderDefaults(p *ProviderConfig) {
	if p.Region == "" {
		p.Region = DefaultRegion
	}
	if p.AccountID == "" {
		p.AccountID = DefaultAccountID
	}
	if p.APIID == "" {
		p.APIID = DefaultAPIID
	}
	if p.Stage == "" {
		p.Stage = DefaultStage
	}
}

// A zero TTL is kept: grants then live until their connection is removed.
func applyCacheDefaults(c *AuthorizerCacheConfig) {
	if c.Type == "" {
		c.Type = DefaultCacheType
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Redis != nil && c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
}

func applyObservabilityDefaults(o *ObservabilityConfig) {
	if o.Logging.Level == "" {
		o.Logging.Level = "info"
	}
	if o.Logging.Format == "" {
		o.Logging.Format = "json"
	}
	if o.Logging.Output == "" {
		o.Logging.Output = "stdout"
	}
	if o.Metrics.Port == 0 {
		o.Metrics.Port = DefaultMetricsPort
	}
	if o.Metrics.Path == "" {
		o.Metrics.Path = DefaultMetricsPath
	}
	if o.Tracing.ServiceName == "" {
		o.Tracing.ServiceName = DefaultServiceName
	}
}

// FunctionNames returns the configured function names in sorted order.
func (s *GatewaySpec) FunctionNames() []string {
	names := make([]string, 0, len(s.Functions))
	for name := range s.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
