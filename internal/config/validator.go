package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/vyrodovalexey/avawsgw/internal/util"
)

// routeSelectionPrefix is the only supported route selection source.
const routeSelectionPrefix = "$request.body"

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is lets errors.Is match util.ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateListener(&config.Spec.Listener)
	v.validateWebSocket(&config.Spec.WebSocket)
	v.validateProvider(&config.Spec.Provider)
	v.validateFunctions(&config.Spec)
	v.validateInvoker(&config.Spec.Invoker)
	v.validateCache(&config.Spec.AuthorizerCache, config.Spec.WebSocket.HardTimeout)
	v.validateObservability(&config.Spec.Observability)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateRoot(config *GatewayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if !strings.HasPrefix(config.APIVersion, APIVersionPrefix) {
		v.addError("apiVersion", fmt.Sprintf("apiVersion must start with '%s'", APIVersionPrefix))
	}

	if config.Kind != Kind {
		v.addError("kind", fmt.Sprintf("kind must be '%s'", Kind))
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

func (v *Validator) validateListener(l *ListenerConfig) {
	const path = "spec.listener"

	if err := util.ValidatePort(l.Port); err != nil {
		v.addError(path+".port", err.Error())
	}
	if !strings.HasPrefix(l.Path, "/") {
		v.addError(path+".path", "path must start with '/'")
	}
	if strings.HasPrefix(l.Path, "/@connections") {
		v.addError(path+".path", "path must not shadow the @connections management API")
	}
	if l.ReadBufferSize < 0 || l.WriteBufferSize < 0 {
		v.addError(path, "buffer sizes must be non-negative")
	}
	if l.MaxMessageSize < 0 {
		v.addError(path+".maxMessageSize", "maxMessageSize must be non-negative")
	}
}

func (v *Validator) validateWebSocket(ws *WebSocketConfig) {
	const path = "spec.websocket"

	if ws.HardTimeout <= 0 {
		v.addError(path+".hardTimeout", "hardTimeout must be positive")
	}
	if ws.IdleTimeout <= 0 {
		v.addError(path+".idleTimeout", "idleTimeout must be positive")
	}
	if !strings.HasPrefix(ws.RouteSelectionExpression, routeSelectionPrefix) {
		v.addError(path+".routeSelectionExpression",
			fmt.Sprintf("expression must start with '%s'", routeSelectionPrefix))
	}
	if ws.DefaultRoute == "" {
		v.addError(path+".defaultRoute", "defaultRoute is required")
	}
	if ws.DispatchQueueSize < 1 {
		v.addError(path+".dispatchQueueSize", "dispatchQueueSize must be at least 1")
	}
	if ws.Throttle != nil && ws.Throttle.Enabled {
		if ws.Throttle.Rate <= 0 {
			v.addError(path+".throttle.rate", "rate must be positive")
		}
		if ws.Throttle.Burst < 1 {
			v.addError(path+".throttle.burst", "burst must be at least 1")
		}
	}
}

func (v *Validator) validateProvider(p *ProviderConfig) {
	if strings.ContainsAny(p.Stage, "/ ") {
		v.addError("spec.provider.stage", "stage must not contain '/' or spaces")
	}
	if strings.ContainsAny(p.APIID, "/ ") {
		v.addError("spec.provider.apiId", "apiId must not contain '/' or spaces")
	}
}

func (v *Validator) validateFunctions(spec *GatewaySpec) {
	for _, name := range spec.FunctionNames() {
		fn := spec.Functions[name]
		path := fmt.Sprintf("spec.functions.%s", name)

		if err := util.ValidateURL(fn.URL); err != nil {
			v.addError(path+".url", err.Error())
		}
		if fn.Timeout < 0 {
			v.addError(path+".timeout", "timeout must be non-negative")
		}
		for header := range fn.Headers {
			if err := util.ValidateHeaderName(header); err != nil {
				v.addError(path+".headers", err.Error())
			}
		}
		for i, event := range fn.Events {
			v.validateEvent(event, fmt.Sprintf("%s.events[%d]", path, i))
		}
	}
}

func (v *Validator) validateEvent(event FunctionEvent, path string) {
	if event.WebSocket == nil {
		v.addError(path, "only websocket events are supported")
		return
	}
	if err := util.ValidateNonEmpty(event.WebSocket.Route, "route"); err != nil {
		v.addError(path+".websocket.route", err.Error())
	}

	auth := event.WebSocket.Authorizer
	if auth == nil {
		return
	}
	if auth.Name == "" && auth.ARN == "" {
		v.addError(path+".websocket.authorizer", "authorizer requires a name or an arn")
	}
	switch strings.ToLower(auth.Type) {
	case "", "request", "token":
	default:
		v.addError(path+".websocket.authorizer.type", "type must be 'request' or 'token'")
	}
}

func (v *Validator) validateInvoker(inv *InvokerConfig) {
	const path = "spec.invoker"

	if inv.Retry.MaxRetries < 0 {
		v.addError(path+".retry.maxRetries", "maxRetries must be non-negative")
	}
	if inv.Retry.MaxBackoff > 0 && inv.Retry.MaxBackoff < inv.Retry.InitialBackoff {
		v.addError(path+".retry.maxBackoff", "maxBackoff must not be less than initialBackoff")
	}
	if inv.Retry.JitterFactor < 0 || inv.Retry.JitterFactor > 1 {
		v.addError(path+".retry.jitterFactor", "jitterFactor must be between 0 and 1")
	}
	if inv.CircuitBreaker.Enabled && inv.CircuitBreaker.Threshold < 1 {
		v.addError(path+".circuitBreaker.threshold", "threshold must be at least 1")
	}
}

func (v *Validator) validateCache(c *AuthorizerCacheConfig, hardTimeout Duration) {
	const path = "spec.authorizerCache"

	switch c.Type {
	case CacheTypeMemory:
	case CacheTypeRedis:
		if c.Redis == nil || c.Redis.URL == "" {
			v.addError(path+".redis.url", "redis url is required for the redis cache")
		}
	default:
		v.addError(path+".type", fmt.Sprintf("type must be '%s' or '%s'", CacheTypeMemory, CacheTypeRedis))
	}
	switch {
	case c.TTL < 0:
		v.addError(path+".ttl", "ttl must be non-negative")
	case c.TTL > 0 && c.TTL.Duration() < hardTimeout.Duration()+MinCacheTTLMargin:
		v.addError(path+".ttl", fmt.Sprintf("ttl must be 0 or at least hardTimeout + %s", MinCacheTTLMargin))
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	const path = "spec.observability"

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(o.Logging.Level)); err != nil {
		v.addError(path+".logging.level", fmt.Sprintf("unknown log level %q", o.Logging.Level))
	}
	if o.Logging.Format != "json" && o.Logging.Format != "console" {
		v.addError(path+".logging.format", "format must be 'json' or 'console'")
	}
	if o.Metrics.Enabled {
		if err := util.ValidatePort(o.Metrics.Port); err != nil {
			v.addError(path+".metrics.port", err.Error())
		}
		if !strings.HasPrefix(o.Metrics.Path, "/") {
			v.addError(path+".metrics.path", "path must start with '/'")
		}
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError(path+".tracing.samplingRate", "samplingRate must be between 0 and 1")
	}
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}
