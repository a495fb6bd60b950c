// Package launcher wires the executor, the TLS acceptor and the server
// together and runs them.
//
// Start and StartWithWorkers own the executor and block until the server
// has stopped and every connection task has returned. StartOnExecutor
// runs on an executor owned by the caller and returns as soon as the
// listener is bound. InitServer only builds the server.
package launcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/avaserve/internal/executor"
	"github.com/vyrodovalexey/avaserve/internal/observability"
	"github.com/vyrodovalexey/avaserve/internal/server"
	tlspkg "github.com/vyrodovalexey/avaserve/internal/tls"
)

// Option configures a launch.
type Option func(*options)

type options struct {
	logger       observability.Logger
	registerer   prometheus.Registerer
	namespace    string
	tracer       *observability.Tracer
	serverConfig server.Config
	tlsSource    server.ConfigSource
	resolver     server.Resolver
	executor     executor.Executor
	onBound      func(*server.Server)
}

func defaultOptions() *options {
	return &options{
		logger:       observability.NopLogger(),
		tracer:       observability.NoopTracer(),
		serverConfig: server.DefaultConfig(),
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers server, executor and TLS metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithTracer sets the tracer used for handshake spans.
func WithTracer(tracer *observability.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithServerConfig replaces the default server settings. Its Addr is
// overridden by the address passed to the launch function.
func WithServerConfig(cfg server.Config) Option {
	return func(o *options) {
		o.serverConfig = cfg
	}
}

// WithTLSSource serves TLS with configurations taken from src, such as a
// *tls.Manager that reloads certificates. It takes precedence over the
// tlsCfg argument.
func WithTLSSource(src server.ConfigSource) Option {
	return func(o *options) {
		o.tlsSource = src
	}
}

// WithResolver sets the resolver used to bind host names.
func WithResolver(r server.Resolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithExecutor sets the executor used by InitServer.
func WithExecutor(exec executor.Executor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

// WithOnBound registers fn to be called with the server once its listener
// is bound, before connections are accepted.
func WithOnBound(fn func(*server.Server)) Option {
	return func(o *options) {
		o.onBound = fn
	}
}

// Start serves addr with one worker per CPU. It blocks until ctx is
// cancelled and every connection has finished, or until the server fails.
// A nil tlsCfg serves plaintext.
func Start(
	ctx context.Context,
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	opts ...Option,
) error {
	return StartWithWorkers(ctx, addr, factory, tlsCfg, runtime.NumCPU(), opts...)
}

// StartWithWorkers is Start with an explicit worker count. GOMAXPROCS is
// set to workers for the duration of the call and restored on return.
// GOMAXPROCS is process wide: concurrent calls overwrite each other's
// setting and the last to return restores its own saved value.
//
// Cancelling ctx stops accepting and also ends every open connection.
// To drain connections instead, use StartOnExecutor and Server.Shutdown.
func StartWithWorkers(
	ctx context.Context,
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	workers int,
	opts ...Option,
) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	o := applyOptions(opts)

	prev := runtime.GOMAXPROCS(workers)
	defer runtime.GOMAXPROCS(prev)

	var execMetrics executor.MetricsRecorder = executor.NewNopMetrics()
	if o.registerer != nil {
		execMetrics = executor.NewMetrics(o.namespace, o.registerer)
	}
	pool := executor.NewPool(workers,
		executor.WithLogger(o.logger),
		executor.WithMetrics(execMetrics),
	)

	o.logger.Info("starting runtime", observability.Int("workers", workers))

	srv, err := startOnExecutor(ctx, addr, factory, tlsCfg, pool, o)
	if err != nil {
		_ = pool.Shutdown(context.Background())
		return err
	}

	pool.Wait()
	_ = pool.Shutdown(context.Background())

	return srv.Err()
}

// StartOnExecutor binds addr and schedules the accept loop on exec. It
// returns once the listener is bound; the caller owns exec and observes
// the server through Done and Err.
func StartOnExecutor(
	ctx context.Context,
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	exec executor.Executor,
	opts ...Option,
) (*server.Server, error) {
	return startOnExecutor(ctx, addr, factory, tlsCfg, exec, applyOptions(opts))
}

func startOnExecutor(
	ctx context.Context,
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	exec executor.Executor,
	o *options,
) (*server.Server, error) {
	srv := newServer(addr, factory, tlsCfg, exec, o)

	if err := srv.Bind(ctx); err != nil {
		return nil, err
	}
	if o.onBound != nil {
		o.onBound(srv)
	}

	err := exec.Spawn("serve", func(context.Context) {
		if err := srv.Serve(ctx); err != nil {
			o.logger.Error("server stopped with error", observability.Error(err))
		}
	})
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("scheduling accept loop: %w", err)
	}
	return srv, nil
}

// InitServer builds an unbound server for addr without starting it. The
// executor comes from WithExecutor, or a new pool sized to the CPU count.
func InitServer(
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	opts ...Option,
) *server.Server {
	o := applyOptions(opts)
	exec := o.executor
	if exec == nil {
		exec = executor.NewPool(runtime.NumCPU(), executor.WithLogger(o.logger))
	}
	return newServer(addr, factory, tlsCfg, exec, o)
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func newServer(
	addr string,
	factory server.HandlerFactory,
	tlsCfg *tls.Config,
	exec executor.Executor,
	o *options,
) *server.Server {
	cfg := o.serverConfig
	cfg.Addr = addr

	serverOpts := []server.Option{server.WithLogger(o.logger)}
	if o.registerer != nil {
		serverOpts = append(serverOpts, server.WithMetrics(server.NewMetrics(o.namespace, o.registerer)))
	}
	if o.resolver != nil {
		serverOpts = append(serverOpts, server.WithResolver(o.resolver))
	}

	return server.New(cfg, factory, newAcceptor(tlsCfg, o), exec, serverOpts...)
}

func newAcceptor(tlsCfg *tls.Config, o *options) server.SecureAcceptor {
	acceptorOpts := []server.AcceptorOption{
		server.WithAcceptorLogger(o.logger),
		server.WithAcceptorTracer(o.tracer),
	}

	switch {
	case o.tlsSource != nil:
		return server.NewTLSAcceptor(o.tlsSource, acceptorOpts...)
	case tlsCfg != nil:
		if o.registerer != nil {
			acceptorOpts = append(acceptorOpts,
				server.WithAcceptorMetrics(tlspkg.NewMetrics(o.namespace, o.registerer)))
		}
		return server.NewTLSAcceptor(server.StaticConfig{Config: tlsCfg}, acceptorOpts...)
	default:
		return server.PlainAcceptor{}
	}
}
