package metric

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "viewql"

// ErrDuplicate is returned when a component registers the same metric twice.
var ErrDuplicate = errors.New("metric already registered")

// MetricsRegistry owns a Prometheus registry and tracks which component
// registered which metric, so double registration is an error instead of a
// panic.
type MetricsRegistry struct {
	prometheusRegistry *prometheus.Registry
	registered         map[string]prometheus.Collector
	mu                 sync.Mutex
}

// NewMetricsRegistry creates a registry with Go runtime and process
// collectors installed.
func NewMetricsRegistry() *MetricsRegistry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &MetricsRegistry{
		prometheusRegistry: reg,
		registered:         make(map[string]prometheus.Collector),
	}
}

// PrometheusRegistry returns the underlying registry, for promhttp.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// RegisterCounter registers a counter under component.name.
func (r *MetricsRegistry) RegisterCounter(component, name string, c prometheus.Counter) error {
	return r.register(component, name, c)
}

// RegisterGauge registers a gauge under component.name.
func (r *MetricsRegistry) RegisterGauge(component, name string, g prometheus.Gauge) error {
	return r.register(component, name, g)
}

// RegisterGaugeFunc registers a gauge whose value is read at scrape time.
func (r *MetricsRegistry) RegisterGaugeFunc(component, name string, g prometheus.GaugeFunc) error {
	return r.register(component, name, g)
}

// RegisterCounterVec registers a labelled counter under component.name.
func (r *MetricsRegistry) RegisterCounterVec(component, name string, c *prometheus.CounterVec) error {
	return r.register(component, name, c)
}

// RegisterHistogramVec registers a labelled histogram under component.name.
func (r *MetricsRegistry) RegisterHistogramVec(component, name string, h *prometheus.HistogramVec) error {
	return r.register(component, name, h)
}

func (r *MetricsRegistry) register(component, name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := component + "." + name
	if _, exists := r.registered[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return fmt.Errorf("%w: %s: prometheus conflict", ErrDuplicate, key)
		}
		return fmt.Errorf("register %s: %w", key, err)
	}
	r.registered[key] = c
	return nil
}

// Unregister removes component.name. Returns false when it was not
// registered.
func (r *MetricsRegistry) Unregister(component, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := component + "." + name
	c, ok := r.registered[key]
	if !ok {
		return false
	}
	delete(r.registered, key)
	return r.prometheusRegistry.Unregister(c)
}
