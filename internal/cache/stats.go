package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Puts            int64 `json:"puts"`
	RejectedPuts    int64 `json:"rejected_puts"`
	Invalidated     int64 `json:"invalidated"`
	Evicted         int64 `json:"evicted"`
	InvalidateCalls int64 `json:"invalidate_calls"`
	Size            int   `json:"size"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// counters is always on; Prometheus metrics mirror it when configured.
type counters struct {
	hits            atomic.Int64
	misses          atomic.Int64
	puts            atomic.Int64
	rejectedPuts    atomic.Int64
	invalidated     atomic.Int64
	evicted         atomic.Int64
	invalidateCalls atomic.Int64
}

func (c *Cache) hit() {
	c.counters.hits.Add(1)
	if c.metrics != nil {
		c.metrics.hits.Inc()
	}
}

func (c *Cache) miss() {
	c.counters.misses.Add(1)
	if c.metrics != nil {
		c.metrics.misses.Inc()
	}
}

func (c *Cache) put(accepted bool) {
	if accepted {
		c.counters.puts.Add(1)
		if c.metrics != nil {
			c.metrics.puts.Inc()
		}
		return
	}
	c.counters.rejectedPuts.Add(1)
	if c.metrics != nil {
		c.metrics.rejected.Inc()
	}
}

func (c *Cache) invalidated(n int) {
	c.counters.invalidated.Add(int64(n))
	if c.metrics != nil {
		c.metrics.invalidated.Add(float64(n))
	}
}

func (c *Cache) evicted() {
	c.counters.evicted.Add(1)
	if c.metrics != nil {
		c.metrics.evicted.Inc()
	}
}

func (c *Cache) invalidateCall() {
	c.counters.invalidateCalls.Add(1)
	if c.metrics != nil {
		c.metrics.invalidateCalls.Inc()
	}
}
