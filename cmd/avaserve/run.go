package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/vyrodovalexey/avaserve/internal/config"
	"github.com/vyrodovalexey/avaserve/internal/health"
	"github.com/vyrodovalexey/avaserve/internal/launcher"
	"github.com/vyrodovalexey/avaserve/internal/observability"
	"github.com/vyrodovalexey/avaserve/internal/server"
	tlspkg "github.com/vyrodovalexey/avaserve/internal/tls"
)

// run serves until ctx is cancelled or the server fails.
func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	return runWithHooks(ctx, cfg, logger, nil)
}

// runWithHooks is run with a callback invoked once the connection
// listener is bound.
func runWithHooks(
	ctx context.Context,
	cfg *config.Config,
	logger observability.Logger,
	onBound func(*server.Server),
) error {
	tracer, err := observability.NewTracer(cfg.Observability.Tracing, logger)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutOrDefault())
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}()

	namespace := cfg.Observability.Metrics.Namespace
	metrics := observability.NewMetrics(namespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	checker := health.NewChecker(version)

	opts := []launcher.Option{
		launcher.WithLogger(logger),
		launcher.WithRegisterer(metrics.Registry()),
		launcher.WithNamespace(metrics.Namespace()),
		launcher.WithTracer(tracer),
		launcher.WithServerConfig(cfg.ServerSettings()),
		launcher.WithOnBound(func(srv *server.Server) {
			checker.RegisterCheck("listener", health.ListenerCheck(srv))
			checker.RegisterCheck("capacity", health.CapacityCheck(srv.Tracker(), health.DefaultCapacityThreshold))
			if onBound != nil {
				onBound(srv)
			}
		}),
	}

	if cfg.TLSEnabled() {
		manager, err := tlspkg.NewManager(cfg.TLS,
			tlspkg.WithManagerLogger(logger),
			tlspkg.WithManagerMetrics(tlspkg.NewMetrics(metrics.Namespace(), metrics.Registry())),
		)
		if err != nil {
			return fmt.Errorf("initializing TLS: %w", err)
		}
		defer func() { _ = manager.Close() }()

		if err := manager.Start(ctx); err != nil {
			return fmt.Errorf("starting TLS manager: %w", err)
		}
		opts = append(opts, launcher.WithTLSSource(manager))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting connection server",
			observability.String("workers", workersString(cfg.Server.Workers)),
		)
		return launcher.StartWithWorkers(gctx, cfg.Server.Address, newEchoFactory(logger), nil,
			cfg.Server.Workers, opts...)
	})

	g.Go(func() error {
		<-gctx.Done()
		checker.SetDraining(true)
		return nil
	})

	if cfg.Observability.Metrics.Enabled {
		metricsServer := createMetricsServer(cfg.Observability.Metrics, metrics, checker, logger)
		g.Go(func() error {
			return runMetricsServer(metricsServer)
		})
		g.Go(func() error {
			<-gctx.Done()
			return shutdownMetricsServer(metricsServer, cfg.Server.ShutdownTimeoutOrDefault(), logger)
		})
	}

	return g.Wait()
}
