package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"reflect"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/invoker"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
	"github.com/vyrodovalexey/avawsgw/internal/routes"
)

// routingChecksum hashes the settings the route table is built from.
func routingChecksum(spec *config.GatewaySpec) string {
	data, err := json.Marshal(struct {
		Functions map[string]config.FunctionConfig
		NoAuth    bool
	}{spec.Functions, spec.WebSocket.NoAuth})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// startConfigWatcher starts the configuration watcher.
func startConfigWatcher(app *application, configPath string) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, app.reload,
		config.WithLogger(app.logger),
		config.WithErrorCallback(func(error) {
			app.metrics.RecordConfigReload(false)
		}),
	)
	if err != nil {
		app.logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(context.Background()); err != nil {
		app.logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}

	return watcher
}

// reload applies a changed configuration. Functions and routes are
// swapped in place; listener, timeout and cache settings only take effect
// after a restart.
func (a *application) reload(newCfg *config.GatewayConfig) {
	if a.noAuth {
		newCfg.Spec.WebSocket.NoAuth = true
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	warnStaticChanges(a.logger, &a.config.Spec, &newCfg.Spec)

	sum := routingChecksum(&newCfg.Spec)
	if sum != "" && sum == a.functionsSum {
		a.logger.Debug("functions unchanged, keeping route table")
		a.config = newCfg
		return
	}

	a.catalog.Replace(invoker.FunctionsFromConfig(&newCfg.Spec))
	table := routes.FromConfig(&newCfg.Spec, a.catalog, routes.WithLogger(a.logger))
	a.gateway.SetRoutes(table)

	a.config = newCfg
	a.functionsSum = sum
	a.metrics.RecordConfigReload(true)

	a.logger.Info("route table reloaded",
		observability.Int("routes", table.Len()),
		observability.Any("route_keys", table.Keys()),
	)
}

func warnStaticChanges(logger observability.Logger, old, updated *config.GatewaySpec) {
	sections := []struct {
		name          string
		before, after any
	}{
		{"listener", old.Listener, updated.Listener},
		{"websocket", withoutNoAuth(old.WebSocket), withoutNoAuth(updated.WebSocket)},
		{"provider", old.Provider, updated.Provider},
		{"invoker", old.Invoker, updated.Invoker},
		{"authorizerCache", old.AuthorizerCache, updated.AuthorizerCache},
		{"observability", old.Observability, updated.Observability},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.before, s.after) {
			logger.Warn("configuration section changed, restart required to apply",
				observability.String("section", s.name))
		}
	}
}

func withoutNoAuth(ws config.WebSocketConfig) config.WebSocketConfig {
	ws.NoAuth = false
	return ws
}
