package tls

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder records TLS metrics.
type MetricsRecorder interface {
	RecordConnection(version, cipherSuite uint16, mode TLSMode)
	RecordHandshakeDuration(duration time.Duration, version uint16)
	RecordHandshakeError(reason string)
	RecordCertificateReload(success bool)
	RecordClientCertValidation(success bool, reason string)
	UpdateCertificateExpiry(subject string, notAfter time.Time)
}

// Metrics holds Prometheus metrics for TLS operations.
type Metrics struct {
	connectionsTotal     *prometheus.CounterVec
	handshakeDuration    *prometheus.HistogramVec
	handshakeErrors      *prometheus.CounterVec
	certificateReload    *prometheus.CounterVec
	clientCertValidation *prometheus.CounterVec
	certificateExpiry    *prometheus.GaugeVec
}

// NewMetrics creates TLS metrics under namespace and registers them
// with registerer.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaserve"
	}

	m := &Metrics{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "connections_total",
			Help:      "Total number of established TLS connections by version, cipher suite, and mode",
		}, []string{"version", "cipher", "mode"}),

		handshakeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_duration_seconds",
			Help:      "Successful TLS handshake duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"version"}),

		handshakeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "handshake_errors_total",
			Help:      "Total number of failed TLS handshakes by failure class",
		}, []string{"reason"}),

		certificateReload: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_reload_total",
			Help:      "Total number of certificate reloads by status",
		}, []string{"status"}),

		clientCertValidation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "client_cert_validation_total",
			Help:      "Total number of client certificate validations by result",
		}, []string{"result"}),

		certificateExpiry: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tls",
			Name:      "certificate_expiry_seconds",
			Help:      "Seconds until the server certificate expires",
		}, []string{"subject"}),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.connectionsTotal,
			m.handshakeDuration,
			m.handshakeErrors,
			m.certificateReload,
			m.clientCertValidation,
			m.certificateExpiry,
		)
	}

	return m
}

// RecordConnection records an established TLS connection.
func (m *Metrics) RecordConnection(version, cipherSuite uint16, mode TLSMode) {
	m.connectionsTotal.WithLabelValues(TLSVersionName(version), CipherSuiteName(cipherSuite), string(mode)).Inc()
}

// RecordHandshakeDuration records the duration of a successful handshake.
func (m *Metrics) RecordHandshakeDuration(duration time.Duration, version uint16) {
	m.handshakeDuration.WithLabelValues(TLSVersionName(version)).Observe(duration.Seconds())
}

// RecordHandshakeError records a failed handshake.
func (m *Metrics) RecordHandshakeError(reason string) {
	m.handshakeErrors.WithLabelValues(reason).Inc()
}

// RecordCertificateReload records a certificate reload attempt.
func (m *Metrics) RecordCertificateReload(success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.certificateReload.WithLabelValues(status).Inc()
}

// RecordClientCertValidation records a client certificate validation.
func (m *Metrics) RecordClientCertValidation(success bool, reason string) {
	result := "success"
	if !success {
		result = reason
	}
	m.clientCertValidation.WithLabelValues(result).Inc()
}

// UpdateCertificateExpiry sets the remaining lifetime of a certificate.
func (m *Metrics) UpdateCertificateExpiry(subject string, notAfter time.Time) {
	m.certificateExpiry.WithLabelValues(subject).Set(time.Until(notAfter).Seconds())
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

// NewNopMetrics creates a new NopMetrics instance.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (NopMetrics) RecordConnection(_, _ uint16, _ TLSMode)           {}
func (NopMetrics) RecordHandshakeDuration(_ time.Duration, _ uint16) {}
func (NopMetrics) RecordHandshakeError(_ string)                     {}
func (NopMetrics) RecordCertificateReload(_ bool)                    {}
func (NopMetrics) RecordClientCertValidation(_ bool, _ string)       {}
func (NopMetrics) UpdateCertificateExpiry(_ string, _ time.Time)     {}

var (
	_ MetricsRecorder = (*Metrics)(nil)
	_ MetricsRecorder = (*NopMetrics)(nil)
)
