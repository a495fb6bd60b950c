package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics("")
	assert.Equal(t, DefaultNamespace, m.Namespace())

	m = NewMetrics("custom")
	assert.Equal(t, "custom", m.Namespace())
	assert.NotNil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.SetBuildInfo("1.0.0", "abc", "now")

	extra := prometheus.NewCounter(prometheus.CounterOpts{Name: "extra_total", Help: "extra"})
	require.NoError(t, m.RegisterCollector(extra))
	assert.Error(t, m.RegisterCollector(extra))
	extra.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "test_build_info")
	assert.Contains(t, body, "test_start_time_seconds")
	assert.Contains(t, body, "extra_total 1")
}

func findFamily(families []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestMetrics_Gather(t *testing.T) {
	m := NewMetrics("")
	m.SetBuildInfo("1.0.0", "abc", "now")

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	start := findFamily(families, "avaserve_start_time_seconds")
	require.NotNil(t, start)
	require.Len(t, start.GetMetric(), 1)
	assert.Positive(t, start.GetMetric()[0].GetGauge().GetValue())

	info := findFamily(families, "avaserve_build_info")
	require.NotNil(t, info)
	require.Len(t, info.GetMetric(), 1)
	labels := make(map[string]string)
	for _, lp := range info.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	assert.Equal(t, map[string]string{"version": "1.0.0", "commit": "abc", "build_time": "now"}, labels)

	assert.NotNil(t, findFamily(families, "go_goroutines"))
}
