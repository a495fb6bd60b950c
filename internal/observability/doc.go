// Package observability provides logging, metrics, and tracing for the
// server.
//
// # Logging
//
// The Logger interface wraps zap:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("connection closed",
//	    observability.String("connection_id", id),
//	    observability.Duration("duration", d),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry. Component collectors
// (server, tls, executor) register into it and Handler serves it:
//
//	metrics := observability.NewMetrics("avaserve")
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// Tracer wraps an OpenTelemetry tracer provider with an optional OTLP
// gRPC exporter:
//
//	tracer, err := observability.NewTracer(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracer.Shutdown(ctx)
package observability
