package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/viewql/internal/metric"
)

var counterNames = []string{
	"cache_hits",
	"cache_misses",
	"cache_puts",
	"cache_rejected_puts",
	"cache_invalidated",
	"cache_evicted",
	"cache_invalidate_calls",
}

// cacheMetrics holds Prometheus metrics for cache operations.
type cacheMetrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	puts            prometheus.Counter
	rejected        prometheus.Counter
	invalidated     prometheus.Counter
	evicted         prometheus.Counter
	invalidateCalls prometheus.Counter
}

func newCounter(component, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "cache",
		Name:        name,
		ConstLabels: prometheus.Labels{"component": component},
		Help:        help,
	})
}

// newCacheMetrics creates and registers cache metrics with the provided
// registry. size is sampled on every scrape.
func newCacheMetrics(registry *metric.MetricsRegistry, component string, size func() float64) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits:            newCounter(component, "hits_total", "Total number of cache hits"),
		misses:          newCounter(component, "misses_total", "Total number of cache misses"),
		puts:            newCounter(component, "puts_total", "Total number of accepted cache puts"),
		rejected:        newCounter(component, "rejected_puts_total", "Total number of puts rejected as stale"),
		invalidated:     newCounter(component, "invalidated_total", "Total number of entries removed by cascades"),
		evicted:         newCounter(component, "evicted_total", "Total number of entries evicted by capacity or TTL"),
		invalidateCalls: newCounter(component, "invalidate_calls_total", "Total number of cascade invalidation calls"),
	}

	counters := []prometheus.Counter{m.hits, m.misses, m.puts, m.rejected, m.invalidated, m.evicted, m.invalidateCalls}
	for i, name := range counterNames {
		if err := registry.RegisterCounter(component, name, counters[i]); err != nil {
			return nil, err
		}
	}

	sizeGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   metric.Namespace,
		Subsystem:   "cache",
		Name:        "size",
		ConstLabels: prometheus.Labels{"component": component},
		Help:        "Current number of entries in cache",
	}, size)
	if err := registry.RegisterGaugeFunc(component, "cache_size", sizeGauge); err != nil {
		return nil, err
	}
	return m, nil
}

func unregisterCacheMetrics(registry *metric.MetricsRegistry, component string) {
	for _, name := range counterNames {
		registry.Unregister(component, name)
	}
	registry.Unregister(component, "cache_size")
}
