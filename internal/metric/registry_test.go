package metric

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: name})
}

func TestRegisterAndScrape(t *testing.T) {
	r := NewMetricsRegistry()
	c := counter("test_total")
	require.NoError(t, r.RegisterCounter("test", "total", c))

	c.Add(3)

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "viewql_test_total" {
			found = true
			assert.Equal(t, float64(3), f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestDuplicateRegistration(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.RegisterCounter("test", "total", counter("dup_total")))

	err := r.RegisterCounter("test", "total", counter("other_total"))
	assert.ErrorIs(t, err, ErrDuplicate)

	err = r.RegisterCounter("other", "total", counter("dup_total"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUnregister(t *testing.T) {
	r := NewMetricsRegistry()
	require.NoError(t, r.RegisterGauge("test", "size", prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Name: "size", Help: "size"})))

	assert.True(t, r.Unregister("test", "size"))
	assert.False(t, r.Unregister("test", "size"))
	require.NoError(t, r.RegisterGauge("test", "size", prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Name: "size", Help: "size"})))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	r := NewMetricsRegistry()
	c := counter("served_total")
	require.NoError(t, r.RegisterCounter("test", "served", c))
	c.Inc()

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "viewql_served_total 1")
}
