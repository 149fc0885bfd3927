package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// runGateway runs the gateway until a shutdown signal or a listener
// failure, then shuts it down.
func runGateway(app *application, configPath string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- app.server.Start(context.Background()) }()

	startMetricsServerIfEnabled(app)
	watcher := startConfigWatcher(app, configPath)

	select {
	case sig := <-sigCh:
		app.logger.Info("received shutdown signal", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			app.logger.Error("websocket server failed", observability.Error(err))
		}
	}

	shutdown(app, watcher)
}

// shutdown stops the application. Open connections are closed with 1001
// and their $disconnect handlers run before the listener goes away.
func shutdown(app *application, watcher *config.Watcher) {
	app.healthChecker.SetDraining(true)

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Spec.Listener.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}

	if err := app.gateway.Shutdown(ctx); err != nil {
		app.logger.Error("failed to drain connections", observability.Error(err))
	}

	if err := app.server.Stop(ctx); err != nil {
		app.logger.Error("failed to stop websocket server gracefully", observability.Error(err))
	}

	if app.metricsServer != nil {
		app.logger.Info("stopping metrics server")
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			app.logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		}
	}

	if err := app.cache.Close(); err != nil {
		app.logger.Error("failed to close authorizer cache", observability.Error(err))
	}

	if err := app.tracer.Shutdown(ctx); err != nil {
		app.logger.Error("failed to shutdown tracer", observability.Error(err))
	}

	app.logger.Info("gateway stopped")
}
