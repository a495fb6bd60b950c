package executor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives task lifecycle measurements.
type MetricsRecorder interface {
	RecordSpawned(task string)
	RecordRejected(task string)
	RecordPanic(task string)
	SetActive(n int)
}

// Metrics holds Prometheus metrics for a Pool.
type Metrics struct {
	spawnedTotal  *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	panicsTotal   *prometheus.CounterVec
	active        prometheus.Gauge
}

// NewMetrics creates executor metrics and registers them with
// registerer when it is not nil.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "avaserve"
	}

	m := &Metrics{
		spawnedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tasks_spawned_total",
			Help:      "Total number of tasks scheduled",
		}, []string{"task"}),
		rejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tasks_rejected_total",
			Help:      "Total number of tasks refused after shutdown",
		}, []string{"task"}),
		panicsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "task_panics_total",
			Help:      "Total number of recovered task panics",
		}, []string{"task"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tasks_active",
			Help:      "Number of running tasks",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.spawnedTotal, m.rejectedTotal, m.panicsTotal, m.active)
	}
	return m
}

// RecordSpawned counts a scheduled task.
func (m *Metrics) RecordSpawned(task string) {
	m.spawnedTotal.WithLabelValues(task).Inc()
}

// RecordRejected counts a refused task.
func (m *Metrics) RecordRejected(task string) {
	m.rejectedTotal.WithLabelValues(task).Inc()
}

// RecordPanic counts a recovered panic.
func (m *Metrics) RecordPanic(task string) {
	m.panicsTotal.WithLabelValues(task).Inc()
}

// SetActive sets the running task gauge.
func (m *Metrics) SetActive(n int) {
	m.active.Set(float64(n))
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

// NewNopMetrics returns a recorder that does nothing.
func NewNopMetrics() *NopMetrics {
	return &NopMetrics{}
}

func (NopMetrics) RecordSpawned(string)  {}
func (NopMetrics) RecordRejected(string) {}
func (NopMetrics) RecordPanic(string)    {}
func (NopMetrics) SetActive(int)         {}
