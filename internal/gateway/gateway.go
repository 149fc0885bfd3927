package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vyrodovalexey/avawsgw/internal/authorizer"
	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/invoker"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/registry"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
	"github.com/vyrodovalexey/avawsgw/internal/selection"
	"github.com/vyrodovalexey/avawsgw/internal/timeout"
)

var tracer = otel.Tracer("avawsgw/gateway")

// WebSocket close codes used by the gateway.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
)

// Close reasons.
const (
	ReasonGoingAway = "Going away"
)

// errorRequestID is the fixed request id carried by internal error frames.
const errorRequestID = "1234567890"

// ErrGatewayClosed is returned by AddClient after Shutdown.
var ErrGatewayClosed = errors.New("gateway is shut down")

// Handle is the transport side of one WebSocket connection.
type Handle interface {
	// Send writes a text frame.
	Send(payload []byte) error
	// Close sends a close frame with code and reason, then closes the
	// connection. The transport reports the closure through OnClose.
	Close(code int, reason string) error
	// IsOpen reports whether frames can still be written.
	IsOpen() bool
}

// Identifier is implemented by handles that know the caller identity of
// the upgrade request.
type Identifier interface {
	Identity() events.Identity
}

// Config holds the connection and routing settings of a Gateway.
type Config struct {
	HardTimeout              time.Duration
	IdleTimeout              time.Duration
	RouteSelectionExpression string
	DefaultRoute             string
	DispatchQueueSize        int

	// ThrottleRate is the sustained number of inbound messages per second
	// a connection may send. Zero disables throttling.
	ThrottleRate  float64
	ThrottleBurst int
}

// ConfigFromSpec converts the websocket section of the configuration.
func ConfigFromSpec(ws config.WebSocketConfig) Config {
	cfg := Config{
		HardTimeout:              ws.HardTimeout.Duration(),
		IdleTimeout:              ws.IdleTimeout.Duration(),
		RouteSelectionExpression: ws.RouteSelectionExpression,
		DefaultRoute:             ws.DefaultRoute,
		DispatchQueueSize:        ws.DispatchQueueSize,
	}
	if ws.Throttle != nil && ws.Throttle.Enabled {
		cfg.ThrottleRate = ws.Throttle.Rate
		cfg.ThrottleBurst = ws.Throttle.Burst
	}
	return cfg
}

// Verdict is the outcome of VerifyClient.
type Verdict struct {
	Verified   bool
	StatusCode int
	Headers    map[string]string
	Message    string
}

// ConnectionInfo describes a live connection for the management API.
type ConnectionInfo struct {
	ConnectionID string          `json:"connectionId"`
	ConnectedAt  time.Time       `json:"connectedAt"`
	LastActiveAt time.Time       `json:"lastActiveAt"`
	Identity     events.Identity `json:"identity"`
}

// Gateway ties the connection registry, timers, route table, authorizer
// workflow and handler invoker together.
type Gateway struct {
	cfg      Config
	registry *registry.Registry[Handle]
	timeouts *timeout.Manager
	resolver *selection.Resolver
	table    atomic.Pointer[routes.Table]
	invoker  invoker.Invoker
	workflow *authorizer.Workflow
	events   *events.Builder
	logger   observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	// ctx outlives individual connections so closing a socket does not
	// cancel handlers already running for it.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	workers  sync.WaitGroup
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = metrics
	}
}

// WithClock overrides the time source used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway serving table.
func New(
	cfg Config,
	table *routes.Table,
	inv invoker.Invoker,
	workflow *authorizer.Workflow,
	builder *events.Builder,
	opts ...Option,
) (*Gateway, error) {
	if inv == nil {
		return nil, errors.New("gateway: invoker is required")
	}
	if workflow == nil {
		return nil, errors.New("gateway: authorizer workflow is required")
	}
	if builder == nil {
		return nil, errors.New("gateway: event builder is required")
	}
	if cfg.HardTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return nil, fmt.Errorf("gateway: timeouts must be positive (hard %s, idle %s)",
			cfg.HardTimeout, cfg.IdleTimeout)
	}
	if cfg.DispatchQueueSize <= 0 {
		cfg.DispatchQueueSize = config.DefaultDispatchQueueSize
	}

	resolver, err := selection.NewResolver(cfg.RouteSelectionExpression, cfg.DefaultRoute)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		cfg:      cfg,
		registry: registry.New[Handle](),
		resolver: resolver,
		invoker:  inv,
		workflow: workflow,
		events:   builder,
		logger:   observability.NopLogger(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = observability.NewMetrics("")
	}

	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.timeouts = timeout.NewManager(cfg.HardTimeout, cfg.IdleTimeout, g.expire,
		timeout.WithLogger(g.logger))
	g.SetRoutes(table)

	return g, nil
}

// SetRoutes swaps the route table. Dispatches already running keep the
// table they started with.
func (g *Gateway) SetRoutes(table *routes.Table) {
	g.table.Store(table)
	g.logger.Info("route table installed", observability.Int("routes", table.Len()))
}

// Routes returns the active route table.
func (g *Gateway) Routes() *routes.Table {
	return g.table.Load()
}

// Len returns the number of registered connections.
func (g *Gateway) Len() int {
	return g.registry.Len()
}

// Send writes payload to connectionID. It returns false when the id is
// unknown. A send to a connection that is registered but no longer open
// is dropped silently.
func (g *Gateway) Send(connectionID string, payload []byte) bool {
	h, ok := g.registry.Lookup(connectionID)
	if !ok {
		return false
	}

	g.timeouts.Touch(connectionID)
	if s := g.session(connectionID); s != nil {
		s.touch(g.now())
	}

	if !h.IsOpen() {
		return true
	}
	if err := h.Send(payload); err != nil {
		g.logger.Debug("send failed",
			observability.String("connection_id", connectionID),
			observability.Error(err))
		return true
	}
	g.metrics.RecordMessageSent()
	return true
}

// Close closes connectionID normally. It returns false when the id is
// unknown.
func (g *Gateway) Close(connectionID string) bool {
	h, ok := g.registry.Lookup(connectionID)
	if !ok {
		return false
	}
	if err := h.Close(CloseNormal, ""); err != nil {
		g.logger.Debug("close failed",
			observability.String("connection_id", connectionID),
			observability.Error(err))
	}
	return true
}

// Info returns the state of connectionID.
func (g *Gateway) Info(connectionID string) (ConnectionInfo, bool) {
	h, ok := g.registry.Lookup(connectionID)
	if !ok {
		return ConnectionInfo{}, false
	}
	s := g.session(connectionID)
	if s == nil {
		return ConnectionInfo{}, false
	}

	info := ConnectionInfo{
		ConnectionID: connectionID,
		ConnectedAt:  s.connectedAt,
		LastActiveAt: s.lastActive(),
	}
	if id, ok := h.(Identifier); ok {
		info.Identity = id.Identity()
	}
	return info, true
}

// Shutdown closes every connection with 1001 and waits for their pending
// dispatches, including $disconnect, to finish or for ctx to expire.
// Connections are closed concurrently, so one slow peer or handler does
// not hold up the others.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	var closers sync.WaitGroup
	for _, id := range g.registry.IDs() {
		h, ok := g.registry.Lookup(id)
		if !ok {
			continue
		}
		closers.Add(1)
		go func() {
			defer closers.Done()
			if err := h.Close(CloseGoingAway, ReasonGoingAway); err != nil {
				g.logger.Debug("close failed during shutdown",
					observability.String("connection_id", id),
					observability.Error(err))
			}
			// The transport may already be gone; OnClose is idempotent.
			g.OnClose(h, CloseGoingAway, ReasonGoingAway)
		}()
	}

	done := make(chan struct{})
	go func() {
		closers.Wait()
		g.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		g.logger.Warn("shutdown deadline reached with dispatches still running",
			observability.Int("connections", g.registry.Len()))
	}

	g.cancel()
	g.timeouts.Close()
	return err
}

// expire closes a connection whose idle or hard timer fired.
func (g *Gateway) expire(connectionID string, kind timeout.Kind) {
	g.metrics.RecordTimeout(kind.String())

	h, ok := g.registry.Lookup(connectionID)
	if !ok {
		return
	}
	if err := h.Close(CloseGoingAway, ReasonGoingAway); err != nil {
		g.logger.Debug("close after timeout failed",
			observability.String("connection_id", connectionID),
			observability.String("kind", kind.String()),
			observability.Error(err))
	}
}

func (g *Gateway) session(connectionID string) *session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[connectionID]
}
