package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons recorded when a connection is dropped before serving.
const (
	rejectConnectionLimit = "connection_limit"
	rejectRateLimit       = "rate_limit"
	rejectHandshake       = "handshake"
	rejectShutdown        = "shutdown"
)

// Metrics holds Prometheus metrics for the accept loop and connection
// tasks.
type Metrics struct {
	acceptedTotal      prometheus.Counter
	acceptErrorsTotal  prometheus.Counter
	rejectedTotal      *prometheus.CounterVec
	activeConnections  prometheus.Gauge
	connectionDuration prometheus.Histogram
	handlerErrorsTotal prometheus.Counter
	handlerPanicsTotal prometheus.Counter
}

// NewMetrics creates server metrics and registers them with registerer
// when it is not nil.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaserve"
	}

	m := &Metrics{
		acceptedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted connections",
		}),
		acceptErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "accept_errors_total",
			Help:      "Total number of transient accept errors",
		}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Total number of connections dropped before serving",
		}, []string{"reason"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "active_connections",
			Help:      "Number of connections being served",
		}),
		connectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of served connections in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900},
		}),
		handlerErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handler_errors_total",
			Help:      "Total number of connection handlers that returned an error",
		}),
		handlerPanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "handler_panics_total",
			Help:      "Total number of recovered connection handler panics",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.acceptedTotal,
			m.acceptErrorsTotal,
			m.rejectedTotal,
			m.activeConnections,
			m.connectionDuration,
			m.handlerErrorsTotal,
			m.handlerPanicsTotal,
		)
	}
	return m
}

// RecordAccepted counts an accepted connection.
func (m *Metrics) RecordAccepted() {
	m.acceptedTotal.Inc()
}

// RecordAcceptError counts a transient accept failure.
func (m *Metrics) RecordAcceptError() {
	m.acceptErrorsTotal.Inc()
}

// RecordRejected counts a dropped connection.
func (m *Metrics) RecordRejected(reason string) {
	m.rejectedTotal.WithLabelValues(reason).Inc()
}

// ConnectionOpened increments the active connection gauge.
func (m *Metrics) ConnectionOpened() {
	m.activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge and observes
// the connection lifetime.
func (m *Metrics) ConnectionClosed(d time.Duration) {
	m.activeConnections.Dec()
	m.connectionDuration.Observe(d.Seconds())
}

// RecordHandlerError counts a failed handler.
func (m *Metrics) RecordHandlerError() {
	m.handlerErrorsTotal.Inc()
}

// RecordHandlerPanic counts a recovered handler panic.
func (m *Metrics) RecordHandlerPanic() {
	m.handlerPanicsTotal.Inc()
}
