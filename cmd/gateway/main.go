// Package main is the entry point for the WebSocket gateway emulator.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vyrodovalexey/avawsgw/internal/config"
	"github.com/vyrodovalexey/avawsgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// exitFunc is replaced in tests.
var exitFunc = os.Exit

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	noAuth      bool
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		exitFunc(2)
		return
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	logger := initLogger(observability.LogConfig{
		Level:  valueOr(flags.logLevel, "info"),
		Format: valueOr(flags.logFormat, "json"),
	})
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags, logger)
	if cfg == nil {
		return
	}

	// The config file decides the log setup unless a flag or env var did.
	if flags.logLevel == "" && flags.logFormat == "" {
		logger = initLogger(observability.LogConfig{
			Level:  cfg.Spec.Observability.Logging.Level,
			Format: cfg.Spec.Observability.Logging.Format,
			Output: cfg.Spec.Observability.Logging.Output,
		})
	}

	app, err := initApplication(cfg, logger, flags.noAuth)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	runGateway(app, flags.configPath)
}

// parseFlags parses command line flags. Environment variables provide
// the defaults.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("avawsgw", flag.ContinueOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the config file")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides the config file")
	fs.BoolVar(&f.noAuth, "no-auth", getEnvBool("GATEWAY_NO_AUTH", false),
		"Skip authorizers bound to $connect")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "avawsgw version %s\n", version)
	_, _ = fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	_, _ = fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(cfg observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		exitFunc(1)
		return observability.NopLogger()
	}
	return logger
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(flags cliFlags, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting avawsgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
	)

	cfg, err := config.LoadAndValidate(flags.configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("address", cfg.Spec.Listener.Address()),
		observability.Int("functions", len(cfg.Spec.Functions)),
		observability.String("authorizer_cache", cfg.Spec.AuthorizerCache.Type),
		observability.Bool("no_auth", cfg.Spec.WebSocket.NoAuth || flags.noAuth),
	)

	return cfg
}

// fatalWithSync logs msg, flushes the logger and exits.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	logger.Error(msg, fields...)
	_ = logger.Sync()
	exitFunc(1)
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
