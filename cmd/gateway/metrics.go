package main

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/health"
	"github.com/vyrodovalexey/avawsgw/internal/middleware"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// createMetricsServer creates the HTTP server exposing metrics and the
// health endpoints.
func createMetricsServer(
	cfg config.MetricsConfig,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	engine := gin.New()
	engine.Use(middleware.Recovery(logger))
	engine.GET(cfg.Path, gin.WrapH(metrics.Handler()))
	healthChecker.Register(engine)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServerIfEnabled starts the metrics server if enabled.
func startMetricsServerIfEnabled(app *application) {
	cfg := app.config.Spec.Observability.Metrics
	if !cfg.Enabled {
		return
	}

	app.metricsServer = createMetricsServer(cfg, app.metrics, app.healthChecker, app.logger)
	app.logger.Info("starting metrics server",
		observability.String("address", app.metricsServer.Addr),
		observability.String("metrics_path", cfg.Path),
	)
	go runMetricsServer(app.metricsServer, app.logger)
}
