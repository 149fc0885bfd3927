// Package observability provides logging, metrics, and tracing
// functionality for the WebSocket gateway.
//
// # Logging
//
// The Logger interface provides structured logging over zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("connection registered",
//	    observability.String("connection_id", id),
//	)
//
// # Metrics
//
// Prometheus metrics for connections, messages, route dispatches,
// function invocations, and authorization decisions:
//
//	metrics := observability.NewMetrics("wsgateway")
//	handler := metrics.Handler()
//
// # Tracing
//
// OpenTelemetry tracing with OTLP gRPC export:
//
//	tracer, err := observability.NewTracer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
