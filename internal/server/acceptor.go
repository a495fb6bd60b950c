package server

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avaserve/internal/observability"
	tlspkg "github.com/vyrodovalexey/avaserve/internal/tls"
)

// Schemes reported in the listening log line.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// SecureAcceptor turns a raw accepted connection into a secured stream.
// On failure it closes raw and returns an error; the caller drops the
// connection and keeps accepting.
type SecureAcceptor interface {
	Accept(ctx context.Context, raw net.Conn) (net.Conn, error)
	Scheme() string
}

// ConfigSource supplies the server TLS configuration. *tls.Manager
// implements it and swaps certificates underneath on reload.
type ConfigSource interface {
	TLSConfig() *tls.Config
}

// StaticConfig is a ConfigSource for a fixed *tls.Config.
type StaticConfig struct {
	Config *tls.Config
}

// TLSConfig returns the wrapped configuration.
func (s StaticConfig) TLSConfig() *tls.Config {
	return s.Config
}

// AcceptorOption configures a TLSAcceptor.
type AcceptorOption func(*TLSAcceptor)

// WithHandshakeTimeout bounds the duration of a handshake.
func WithHandshakeTimeout(d time.Duration) AcceptorOption {
	return func(a *TLSAcceptor) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithAcceptorLogger sets the logger for handshake failures.
func WithAcceptorLogger(logger observability.Logger) AcceptorOption {
	return func(a *TLSAcceptor) {
		a.logger = logger
	}
}

// WithAcceptorMetrics sets the TLS metrics recorder.
func WithAcceptorMetrics(metrics tlspkg.MetricsRecorder) AcceptorOption {
	return func(a *TLSAcceptor) {
		a.metrics = metrics
	}
}

// WithAcceptorTracer sets the tracer used for handshake spans.
func WithAcceptorTracer(tracer *observability.Tracer) AcceptorOption {
	return func(a *TLSAcceptor) {
		a.tracer = tracer
	}
}

// WithAcceptorMode sets the TLS mode label recorded for connections.
func WithAcceptorMode(mode tlspkg.TLSMode) AcceptorOption {
	return func(a *TLSAcceptor) {
		a.mode = mode
	}
}

// TLSAcceptor performs a server-side TLS handshake on every connection.
type TLSAcceptor struct {
	source  ConfigSource
	timeout time.Duration
	mode    tlspkg.TLSMode
	logger  observability.Logger
	metrics tlspkg.MetricsRecorder
	tracer  *observability.Tracer
}

// NewTLSAcceptor creates an acceptor over source. When source is a
// *tls.Manager its handshake timeout, mode and metrics are used unless
// overridden by options.
func NewTLSAcceptor(source ConfigSource, opts ...AcceptorOption) *TLSAcceptor {
	a := &TLSAcceptor{
		source:  source,
		timeout: tlspkg.DefaultHandshakeTimeout,
		mode:    tlspkg.TLSModeSimple,
		logger:  observability.NopLogger(),
		metrics: tlspkg.NewNopMetrics(),
		tracer:  observability.NoopTracer(),
	}

	if m, ok := source.(interface{ HandshakeTimeout() time.Duration }); ok {
		a.timeout = m.HandshakeTimeout()
	}
	if m, ok := source.(interface{ Mode() tlspkg.TLSMode }); ok {
		a.mode = m.Mode()
	}
	if m, ok := source.(interface{ Metrics() tlspkg.MetricsRecorder }); ok && m.Metrics() != nil {
		a.metrics = m.Metrics()
	}

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scheme returns "https".
func (a *TLSAcceptor) Scheme() string {
	return SchemeHTTPS
}

// Accept runs the handshake on raw within the handshake timeout.
func (a *TLSAcceptor) Accept(ctx context.Context, raw net.Conn) (net.Conn, error) {
	peer := addrString(raw.RemoteAddr())

	ctx, span := a.tracer.StartSpan(ctx, "tls.handshake",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("net.peer.address", peer)),
	)
	defer span.End()

	hsCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	conn := tls.Server(raw, a.source.TLSConfig())
	if err := conn.HandshakeContext(hsCtx); err != nil {
		_ = raw.Close()
		herr := tlspkg.NewHandshakeError(peer, err)

		a.metrics.RecordHandshakeError(string(herr.Class))
		span.RecordError(herr)
		span.SetStatus(codes.Error, string(herr.Class))
		a.logger.Error("TLS handshake error",
			observability.String("peer", peer),
			observability.String("class", string(herr.Class)),
			observability.Error(err),
		)
		return nil, herr
	}

	st := conn.ConnectionState()
	a.metrics.RecordHandshakeDuration(time.Since(start), st.Version)
	a.metrics.RecordConnection(st.Version, st.CipherSuite, a.mode)
	span.SetAttributes(
		attribute.String("tls.protocol.version", tlspkg.TLSVersionName(st.Version)),
		attribute.String("tls.cipher", tlspkg.CipherSuiteName(st.CipherSuite)),
		attribute.String("tls.next_protocol", st.NegotiatedProtocol),
		attribute.String("tls.server_name", st.ServerName),
	)
	a.logger.Debug("TLS handshake completed",
		observability.String("peer", peer),
		observability.String("sni", st.ServerName),
		observability.String("protocol", st.NegotiatedProtocol),
		observability.String("version", tlspkg.TLSVersionName(st.Version)),
	)
	return conn, nil
}

// PlainAcceptor passes connections through without a handshake.
type PlainAcceptor struct{}

// Accept returns raw unchanged.
func (PlainAcceptor) Accept(_ context.Context, raw net.Conn) (net.Conn, error) {
	return raw, nil
}

// Scheme returns "http".
func (PlainAcceptor) Scheme() string {
	return SchemeHTTP
}
