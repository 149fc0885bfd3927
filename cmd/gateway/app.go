package main

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/vyrodovalexey/avawsgw/internal/authorizer"
	"github.com/vyrodovalexey/avawsgw/internal/cache"
	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/events"
	"github.com/vyrodovalexey/avawsgw/internal/gateway"
	"github.com/vyrodovalexey/avawsgw/internal/health"
	"github.com/vyrodovalexey/avawsgw/internal/invoker"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
	"github.com/vyrodovalexey/avawsgw/internal/server"
)

// application holds all application components.
type application struct {
	logger        observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	healthChecker *health.Checker
	cache         cache.Cache
	catalog       *invoker.Catalog
	gateway       *gateway.Gateway
	server        *server.Server
	metricsServer *http.Server
	noAuth        bool

	mu           sync.Mutex
	config       *config.GatewayConfig
	functionsSum string
}

// initApplication wires every component described by cfg. noAuth forces
// authorizers off regardless of the file.
func initApplication(
	cfg *config.GatewayConfig,
	logger observability.Logger,
	noAuth bool,
) (*application, error) {
	if noAuth {
		cfg.Spec.WebSocket.NoAuth = true
	}

	metrics := observability.NewMetrics("")
	metrics.InitVecMetrics()
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := observability.NewTracer(tracerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("initialize tracer: %w", err)
	}

	cacheMetrics := cache.NewMetrics("")
	cacheMetrics.MustRegister(metrics.Registry())

	authCache, err := cache.New(&cfg.Spec.AuthorizerCache, logger, cache.WithMetrics(cacheMetrics))
	if err != nil {
		return nil, fmt.Errorf("initialize authorizer cache: %w", err)
	}

	catalogOpts := append(invoker.OptionsFromConfig(cfg.Spec.Invoker),
		invoker.WithLogger(logger),
		invoker.WithMetrics(metrics),
	)
	catalog := invoker.NewCatalog(invoker.FunctionsFromConfig(&cfg.Spec), catalogOpts...)

	table := routes.FromConfig(&cfg.Spec, catalog, routes.WithLogger(logger))

	workflow := authorizer.NewWorkflow(catalog,
		authorizer.NewStore(authCache, cfg.Spec.AuthorizerCache.TTL.Duration()),
		authorizer.WithLogger(logger),
		authorizer.WithMetrics(metrics),
	)

	p := cfg.Spec.Provider
	builder := events.NewBuilder(events.Provider{
		Region:     p.Region,
		AccountID:  p.AccountID,
		APIID:      p.APIID,
		Stage:      p.Stage,
		DomainName: p.DomainName,
	})

	gw, err := gateway.New(gateway.ConfigFromSpec(cfg.Spec.WebSocket), table, catalog, workflow, builder,
		gateway.WithLogger(logger),
		gateway.WithMetrics(metrics),
	)
	if err != nil {
		_ = authCache.Close()
		return nil, fmt.Errorf("initialize gateway: %w", err)
	}

	healthChecker := health.NewChecker(version,
		health.WithMetrics(health.NewMetrics(observability.DefaultNamespace, metrics.Registry())),
	)
	if p, ok := authCache.(cache.Pinger); ok {
		healthChecker.RegisterCheck("authorizer_cache", health.PingCheck(p))
	}

	logger.Info("routes registered",
		observability.Int("routes", table.Len()),
		observability.Any("route_keys", table.Keys()),
	)

	return &application{
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		healthChecker: healthChecker,
		cache:         authCache,
		catalog:       catalog,
		gateway:       gw,
		server:        server.New(server.ConfigFromSpec(cfg.Spec.Listener), gw, server.WithLogger(logger)),
		noAuth:        noAuth,
		config:        cfg,
		functionsSum:  routingChecksum(&cfg.Spec),
	}, nil
}

// tracerConfig converts the tracing section of the configuration.
func tracerConfig(cfg *config.GatewayConfig) observability.TracerConfig {
	t := cfg.Spec.Observability.Tracing
	return observability.TracerConfig{
		ServiceName:  t.ServiceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	}
}
