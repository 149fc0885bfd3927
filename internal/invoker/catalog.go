package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/retry"
	"github.com/vyrodovalexey/avawsgw/internal/util"
)

var tracer = otel.Tracer("avawsgw/invoker")

// HandlerFunc is an in-process handler function. The returned value is
// encoded as JSON and decoded with ParseResult.
type HandlerFunc func(ctx context.Context, event json.RawMessage) (any, error)

// Function describes a handler function known to the gateway.
type Function struct {
	Name    string
	URL     string
	Timeout time.Duration
	Headers map[string]string
	Handler HandlerFunc
}

// BreakerConfig configures the per-function circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

type entry struct {
	fn      Function
	breaker *gobreaker.CircuitBreaker
}

// Catalog is the set of invocable functions. It implements Invoker and
// answers existence checks for route building.
type Catalog struct {
	mu        sync.RWMutex
	functions map[string]*entry

	client  *http.Client
	retry   retry.Config
	breaker BreakerConfig
	logger  observability.Logger
	metrics *observability.Metrics
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithHTTPClient sets the client used for remote functions.
func WithHTTPClient(client *http.Client) CatalogOption {
	return func(c *Catalog) {
		c.client = client
	}
}

// WithRetry sets the retry policy for transport failures.
func WithRetry(cfg retry.Config) CatalogOption {
	return func(c *Catalog) {
		c.retry = cfg
	}
}

// WithCircuitBreaker enables per-function circuit breakers.
func WithCircuitBreaker(cfg BreakerConfig) CatalogOption {
	return func(c *Catalog) {
		c.breaker = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) CatalogOption {
	return func(c *Catalog) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) CatalogOption {
	return func(c *Catalog) {
		c.metrics = metrics
	}
}

// NewCatalog creates a catalog holding functions.
func NewCatalog(functions []Function, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		client: &http.Client{},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.functions = c.buildEntries(functions)
	return c
}

// Register adds or replaces a single function.
func (c *Catalog) Register(fn Function) {
	e := c.newEntry(fn)
	c.mu.Lock()
	c.functions[fn.Name] = e
	c.mu.Unlock()
}

// Replace swaps the whole function set, for configuration reloads.
func (c *Catalog) Replace(functions []Function) {
	entries := c.buildEntries(functions)
	c.mu.Lock()
	c.functions = entries
	c.mu.Unlock()
}

// Has reports whether a function named name exists.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.functions[name]
	return ok
}

// Names returns the function names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.functions))
	for name := range c.functions {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Invoke runs function with event encoded as JSON.
func (c *Catalog) Invoke(ctx context.Context, function string, event any) (*Result, error) {
	c.mu.RLock()
	e, ok := c.functions[function]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFunctionNotFound, function)
	}

	ctx, span := tracer.Start(ctx, "invoker.Invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("function.name", function)),
	)
	defer span.End()

	payload, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode event")
		return nil, fmt.Errorf("encode event for %s: %w", function, err)
	}

	start := time.Now()
	raw, err := c.invoke(ctx, e, payload)
	duration := time.Since(start)

	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if c.metrics != nil {
		c.metrics.RecordFunctionInvocation(function, outcome, duration)
	}

	c.logger.Debug("function invoked",
		observability.String("function", function),
		observability.String("outcome", outcome),
		observability.Duration("duration", duration),
	)

	if err != nil {
		return nil, err
	}
	return ParseResult(raw), nil
}

func (c *Catalog) invoke(ctx context.Context, e *entry, payload []byte) ([]byte, error) {
	if e.fn.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.fn.Timeout)
		defer cancel()
	}

	if e.fn.Handler != nil {
		return callHandler(ctx, e.fn, payload)
	}
	if e.fn.URL == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoEndpoint, e.fn.Name)
	}

	var raw []byte
	err := retry.Do(ctx, c.retry, func() error {
		var callErr error
		raw, callErr = c.callRemote(ctx, e, payload)
		return callErr
	}, &retry.Options{
		ShouldRetry: shouldRetry,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.logger.Debug("retrying function invocation",
				observability.String("function", e.fn.Name),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	return raw, err
}

func (c *Catalog) callRemote(ctx context.Context, e *entry, payload []byte) ([]byte, error) {
	if e.breaker == nil {
		return c.post(ctx, e.fn, payload)
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, e.fn, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("function %s: %w: %w", e.fn.Name, util.ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

// shouldRetry retries transport failures and gateway-class endpoint
// statuses. Function errors and open breakers are final.
func shouldRetry(err error) bool {
	if IsFunctionError(err) ||
		errors.Is(err, util.ErrCircuitOpen) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var ee *EndpointError
	if errors.As(err, &ee) {
		switch ee.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}

func (c *Catalog) buildEntries(functions []Function) map[string]*entry {
	entries := make(map[string]*entry, len(functions))
	for _, fn := range functions {
		entries[fn.Name] = c.newEntry(fn)
	}
	return entries
}

func (c *Catalog) newEntry(fn Function) *entry {
	e := &entry{fn: fn}
	if c.breaker.Enabled && fn.Handler == nil {
		e.breaker = c.newBreaker(fn.Name)
	}
	return e
}

func (c *Catalog) newBreaker(name string) *gobreaker.CircuitBreaker {
	threshold := safeIntToUint32(c.breaker.Threshold)
	halfOpen := safeIntToUint32(c.breaker.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}

	if c.metrics != nil {
		c.metrics.SetCircuitBreakerState(name, int(gobreaker.StateClosed))
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: halfOpen,
		Timeout:     c.breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// Errors raised by the handler mean the endpoint is reachable.
		IsSuccessful: func(err error) bool {
			return err == nil || IsFunctionError(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Info("circuit breaker state change",
				observability.String("function", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if c.metrics != nil {
				c.metrics.SetCircuitBreakerState(name, int(to))
			}
		},
	})
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// FunctionsFromConfig converts configured functions into catalog entries.
func FunctionsFromConfig(spec *config.GatewaySpec) []Function {
	functions := make([]Function, 0, len(spec.Functions))
	for _, name := range spec.FunctionNames() {
		fc := spec.Functions[name]
		functions = append(functions, Function{
			Name:    name,
			URL:     fc.URL,
			Timeout: fc.Timeout.Duration(),
			Headers: fc.Headers,
		})
	}
	return functions
}

// OptionsFromConfig returns the catalog options described by cfg.
func OptionsFromConfig(cfg config.InvokerConfig) []CatalogOption {
	return []CatalogOption{
		WithRetry(retry.Config{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
			JitterFactor:   cfg.Retry.JitterFactor,
		}),
		WithCircuitBreaker(BreakerConfig{
			Enabled:          cfg.CircuitBreaker.Enabled,
			Threshold:        cfg.CircuitBreaker.Threshold,
			Timeout:          cfg.CircuitBreaker.Timeout.Duration(),
			HalfOpenRequests: cfg.CircuitBreaker.HalfOpenRequests,
		}),
	}
}
