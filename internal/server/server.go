package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avaserve/internal/executor"
	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// Default configuration values.
const (
	DefaultAddr                 = ":8443"
	DefaultAcceptBackoffInitial = 5 * time.Millisecond
	DefaultAcceptBackoffMax     = time.Second
	DefaultShutdownTimeout      = 30 * time.Second

	drainPollInterval = 50 * time.Millisecond
)

// State is the lifecycle state of a Server.
type State int32

// Server states. Transitions only move forward.
const (
	StateUnbound State = iota
	StateBound
	StateListening
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateListening:
		return "listening"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config holds the server settings.
type Config struct {
	// Addr is a "host:port" address. The host may be a name resolving to
	// several addresses; the first that binds is used.
	Addr string

	// MaxConnections caps the number of connections served at once.
	MaxConnections int

	// AcceptRate limits admitted connections per second. Zero disables
	// the limit. Connections over the rate are closed immediately.
	AcceptRate  float64
	AcceptBurst int

	// ReusePort sets SO_REUSEPORT on the listening socket.
	ReusePort bool

	// AcceptBackoffInitial and AcceptBackoffMax bound the pause after a
	// transient accept error.
	AcceptBackoffInitial time.Duration
	AcceptBackoffMax     time.Duration

	// ShutdownTimeout bounds how long Shutdown waits for connections to
	// drain before closing them.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Addr:                 DefaultAddr,
		MaxConnections:       DefaultMaxConnections,
		AcceptBackoffInitial: DefaultAcceptBackoffInitial,
		AcceptBackoffMax:     DefaultAcceptBackoffMax,
		ShutdownTimeout:      DefaultShutdownTimeout,
	}
}

func (c *Config) applyDefaults() {
	if c.AcceptBackoffInitial <= 0 {
		c.AcceptBackoffInitial = DefaultAcceptBackoffInitial
	}
	if c.AcceptBackoffMax <= 0 {
		c.AcceptBackoffMax = DefaultAcceptBackoffMax
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.AcceptRate > 0 && c.AcceptBurst <= 0 {
		c.AcceptBurst = max(1, int(c.AcceptRate))
	}
}

// Resolver looks up the addresses of a host name. *net.Resolver
// implements it.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the server metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithResolver replaces net.DefaultResolver for Bind.
func WithResolver(r Resolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithListener makes the server use ln instead of binding Addr. The
// server starts in StateBound.
func WithListener(ln net.Listener) Option {
	return func(s *Server) {
		s.listener = ln
	}
}

// Server accepts connections and binds each one to a handler task.
type Server struct {
	cfg      Config
	acceptor SecureAcceptor
	exec     executor.Executor
	binder   *Binder
	tracker  *ConnectionTracker
	resolver Resolver
	limiter  *rate.Limiter
	logger   observability.Logger
	metrics  *Metrics

	mu        sync.Mutex
	listener  net.Listener
	closeOnce sync.Once
	fatal     error

	// closing is set once the listener is closed; pending counts dispatch
	// tasks that have not yet handed their connection to the binder.
	closing atomic.Bool
	pending atomic.Int64

	state atomic.Int32
	done  chan struct{}
}

// New creates an unbound Server. A nil acceptor serves plaintext.
func New(
	cfg Config,
	factory HandlerFactory,
	acceptor SecureAcceptor,
	exec executor.Executor,
	opts ...Option,
) *Server {
	cfg.applyDefaults()
	if acceptor == nil {
		acceptor = PlainAcceptor{}
	}

	s := &Server{
		cfg:      cfg,
		acceptor: acceptor,
		exec:     exec,
		resolver: net.DefaultResolver,
		logger:   observability.NopLogger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics("", nil)
	}
	if cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), cfg.AcceptBurst)
	}

	s.tracker = NewConnectionTracker(cfg.MaxConnections, s.logger)
	s.binder = NewBinder(exec, factory, s.tracker, s.logger, s.metrics)

	if s.listener != nil {
		s.state.Store(int32(StateBound))
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Scheme returns "https" or "http" depending on the acceptor.
func (s *Server) Scheme() string {
	return s.acceptor.Scheme()
}

// Addr returns the bound address, or nil before Bind.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Tracker returns the connection tracker.
func (s *Server) Tracker() *ConnectionTracker {
	return s.tracker
}

// Done is closed when Serve returns.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that stopped the server, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Bind resolves the configured address and listens on the first
// candidate that succeeds. If every candidate fails the joined errors are
// returned wrapped in ErrBind.
func (s *Server) Bind(ctx context.Context) error {
	if s.State() != StateUnbound {
		return ErrAlreadyBound
	}

	host, port, err := net.SplitHostPort(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: invalid address %q: %w", ErrBind, s.cfg.Addr, err)
	}

	candidates, err := s.candidates(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: resolving %q: %w", ErrBind, host, err)
	}

	lc := net.ListenConfig{Control: controlFunc(s.cfg.ReusePort)}
	errs := make([]error, 0, len(candidates))
	for _, candidate := range candidates {
		addr := net.JoinHostPort(candidate, port)
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			s.logger.Debug("bind candidate failed",
				observability.String("address", addr),
				observability.Error(err),
			)
			errs = append(errs, err)
			continue
		}

		s.mu.Lock()
		s.listener = ln
		s.mu.Unlock()
		s.state.Store(int32(StateBound))
		return nil
	}

	return fmt.Errorf("%w: %s: %w", ErrBind, s.cfg.Addr, errors.Join(errs...))
}

func (s *Server) candidates(ctx context.Context, host string) ([]string, error) {
	if host == "" || net.ParseIP(host) != nil {
		return []string{host}, nil
	}
	addrs, err := s.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses for %q", host)
	}
	return addrs, nil
}

// ListenAndServe binds and serves.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Bind(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve runs the accept loop until ctx is cancelled, Close is called or a
// connection cannot be scheduled. Cancellation and Close return nil. A
// scheduling failure returns an error wrapping the executor's.
//
// Cancelling ctx also ends every connection served by this call, since
// each connection context derives from it. Close only stops accepting;
// use Shutdown to drain open connections.
func (s *Server) Serve(ctx context.Context) error {
	switch {
	case s.state.CompareAndSwap(int32(StateBound), int32(StateListening)):
	case s.State() == StateTerminated:
		return ErrServerClosed
	default:
		return ErrNotBound
	}
	defer func() {
		s.state.Store(int32(StateTerminated))
		close(s.done)
	}()

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	s.logger.Info(fmt.Sprintf("listening on %s://%s", s.Scheme(), ln.Addr()),
		observability.String("scheme", s.Scheme()),
		observability.String("address", ln.Addr().String()),
		observability.Int("max_connections", s.tracker.Max()),
	)

	stop := context.AfterFunc(ctx, s.closeListener)
	defer stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.AcceptBackoffInitial
	bo.MaxInterval = s.cfg.AcceptBackoffMax

	for {
		raw, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return s.stopped()
			}

			delay := bo.NextBackOff()
			s.metrics.RecordAcceptError()
			s.logger.Error("accept error",
				observability.Error(err),
				observability.Duration("retry_in", delay),
			)
			if !sleepCtx(ctx, delay) {
				return s.stopped()
			}
			continue
		}
		bo.Reset()

		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.RecordRejected(rejectRateLimit)
			s.logger.Warn("connection rate limited",
				observability.String("remote_addr", addrString(raw.RemoteAddr())),
			)
			_ = raw.Close()
			continue
		}
		s.metrics.RecordAccepted()

		s.pending.Add(1)
		if err := s.exec.Spawn("dispatch", func(context.Context) {
			defer s.pending.Add(-1)
			s.dispatch(ctx, raw)
		}); err != nil {
			s.pending.Add(-1)
			_ = raw.Close()
			s.fail(fmt.Errorf("scheduling dispatch: %w", err))
			return s.stopped()
		}
	}
}

// dispatch secures raw and binds it to a handler. A connection whose
// handshake completes after the listener closed is dropped.
func (s *Server) dispatch(ctx context.Context, raw net.Conn) {
	secured, err := s.acceptor.Accept(ctx, raw)
	if err != nil {
		s.metrics.RecordRejected(rejectHandshake)
		return
	}

	if s.closing.Load() {
		s.metrics.RecordRejected(rejectShutdown)
		s.logger.Debug("connection dropped during shutdown",
			observability.String("remote_addr", addrString(secured.RemoteAddr())),
		)
		_ = secured.Close()
		return
	}

	if err := s.binder.Bind(ctx, secured); err != nil {
		s.logger.Error("failed to bind connection", observability.Error(err))
		s.fail(err)
	}
}

// fail records the first fatal error and stops the accept loop.
func (s *Server) fail(err error) {
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.mu.Unlock()
	s.closeListener()
}

func (s *Server) stopped() error {
	err := s.Err()
	if err == nil {
		s.logger.Info("server stopped", observability.Int("active_connections", s.tracker.Count()))
	}
	return err
}

func (s *Server) closeListener() {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.mu.Lock()
		ln := s.listener
		s.mu.Unlock()
		if ln == nil {
			return
		}
		if err := ln.Close(); err != nil {
			s.logger.Debug("error closing listener", observability.Error(err))
		}
	})
}

// Close stops accepting connections. Connections already being served
// keep running. A server that never served becomes terminated.
func (s *Server) Close() error {
	s.closeListener()
	if s.state.CompareAndSwap(int32(StateBound), int32(StateTerminated)) ||
		s.state.CompareAndSwap(int32(StateUnbound), int32(StateTerminated)) {
		close(s.done)
	}
	return nil
}

// Shutdown closes the listener and waits for served connections and
// in-progress handshakes to finish, up to ctx or the configured shutdown
// timeout. Connections still open after that are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.Close()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for s.tracker.Count() > 0 || s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("graceful shutdown timed out, closing remaining connections",
				observability.Int("remaining_connections", s.tracker.Count()),
				observability.Int64("pending_handshakes", s.pending.Load()),
			)
			s.tracker.CloseAll()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// sleepCtx waits for d and reports false if ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
