package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/viewql/internal/metric"
)

const metricsComponent = "engine"

// Request outcomes.
const (
	outcomeHit   = "hit"
	outcomeMiss  = "miss"
	outcomeError = "error"
)

type engineMetrics struct {
	requests *prometheus.CounterVec   // by outcome
	errors   *prometheus.CounterVec   // by kind
	duration *prometheus.HistogramVec // by outcome
	cascades prometheus.Counter
}

func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	m := &engineMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "Queries served, by outcome (hit, miss, error)",
		}, []string{"outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "errors_total",
			Help:      "Failed queries, by error kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Query latency, by outcome",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"outcome"}),
		cascades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "cascades_total",
			Help:      "Cascades applied through the engine",
		}),
	}

	if err := registry.RegisterCounterVec(metricsComponent, "requests", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(metricsComponent, "errors", m.errors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec(metricsComponent, "duration", m.duration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(metricsComponent, "cascades", m.cascades); err != nil {
		return nil, err
	}
	return m, nil
}

func unregisterEngineMetrics(registry *metric.MetricsRegistry) {
	for _, name := range []string{"requests", "errors", "duration", "cascades"} {
		registry.Unregister(metricsComponent, name)
	}
}

func (e *Engine) observe(outcome string, kind ErrorKind, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.requests.WithLabelValues(outcome).Inc()
	e.metrics.duration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if kind != "" {
		e.metrics.errors.WithLabelValues(string(kind)).Inc()
	}
}
