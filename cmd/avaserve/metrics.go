package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vyrodovalexey/avaserve/internal/config"
	"github.com/vyrodovalexey/avaserve/internal/health"
	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// createMetricsServer creates the metrics and health HTTP server.
func createMetricsServer(
	cfg config.MetricsConfig,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := healthChecker.Mux()
	mux.Handle(cfg.MetricsPath(), metrics.Handler())

	logger.Info("starting metrics server",
		observability.String("address", cfg.MetricsAddress()),
		observability.String("metrics_path", cfg.MetricsPath()),
	)

	return &http.Server{
		Addr:              cfg.MetricsAddress(),
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server until it is shut down.
func runMetricsServer(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownMetricsServer stops the metrics server within timeout.
func shutdownMetricsServer(server *http.Server, timeout time.Duration, logger observability.Logger) error {
	logger.Info("stopping metrics server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("failed to stop metrics server gracefully", observability.Error(err))
		return err
	}
	return nil
}
