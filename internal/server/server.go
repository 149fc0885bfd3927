// Package server exposes a Gateway over HTTP: the WebSocket endpoint
// clients connect to and the @connections management API backends use
// to push messages to them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/gateway"
	"github.com/vyrodovalexey/avawsgw/internal/middleware"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid races.
var ginModeOnce sync.Once

// ErrAlreadyRunning is returned by Start on a running server.
var ErrAlreadyRunning = errors.New("server already running")

// Gateway is the connection orchestrator the server feeds.
type Gateway interface {
	VerifyClient(ctx context.Context, connectionID string, r *http.Request) gateway.Verdict
	AddClient(handle gateway.Handle, connectionID string) error
	Abandon(connectionID string)
	OnMessage(handle gateway.Handle, payload []byte)
	OnClose(handle gateway.Handle, code int, reason string)
	Send(connectionID string, payload []byte) bool
	Close(connectionID string) bool
	Info(connectionID string) (gateway.ConnectionInfo, bool)
}

// Config holds the listener settings.
type Config struct {
	Host            string
	Port            int
	Path            string
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
}

// ConfigFromSpec converts the listener section of the configuration.
func ConfigFromSpec(l config.ListenerConfig) Config {
	return Config{
		Host:            l.Host,
		Port:            l.Port,
		Path:            l.Path,
		ReadBufferSize:  l.ReadBufferSize,
		WriteBufferSize: l.WriteBufferSize,
		MaxMessageSize:  l.MaxMessageSize,
		WriteTimeout:    l.WriteTimeout.Duration(),
	}
}

// Address returns the host:port listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// Server is the HTTP front of a Gateway.
type Server struct {
	cfg      Config
	gateway  Gateway
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   observability.Logger
	newID    func() string

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	running    bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithIDGenerator overrides the connection id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Server) {
		s.newID = newID
	}
}

// New creates a server for gw.
func New(cfg Config, gw Gateway, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if cfg.Path == "" {
		cfg.Path = config.DefaultPath
	}

	s := &Server{
		cfg:     cfg,
		gateway: gw,
		logger:  observability.NopLogger(),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		// Any origin may connect, as with the managed gateway.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	s.engine = gin.New()
	s.engine.Use(
		middleware.RequestID(),
		middleware.Logging(s.logger),
		middleware.Recovery(s.logger),
	)
	s.engine.GET(cfg.Path, s.handleUpgrade)
	s.registerConnectionRoutes(s.engine)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on the configured address and serves until Stop is
// called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	srv := s.httpServer
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting websocket server",
		observability.String("address", ln.Addr().String()),
		observability.String("path", s.cfg.Path),
	)

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop stops accepting requests and waits for in-flight HTTP requests.
// Upgraded connections are owned by the gateway and closed there.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("stopping websocket server")

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("websocket server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
