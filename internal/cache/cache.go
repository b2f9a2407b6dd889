package cache

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roach88/viewql/internal/ir"
	"github.com/roach88/viewql/internal/metric"
)

// Config sizes the cache.
type Config struct {
	// Shards is rounded up to a power of two.
	Shards int `yaml:"shards" json:"shards"`
	// Capacity is the total entry bound, split evenly across shards. 0 means
	// unbounded.
	Capacity int `yaml:"capacity" json:"capacity"`
	// TTL bounds entry lifetime. 0 disables expiry. With a positive TTL
	// each shard runs an expiry goroutine that lives as long as the process.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// MaxTombstones bounds remembered invalidations across all shards.
	MaxTombstones int `yaml:"max_tombstones" json:"max_tombstones"`
}

// DefaultConfig returns the configuration a runtime starts with.
func DefaultConfig() Config {
	return Config{
		Shards:        16,
		Capacity:      10000,
		TTL:           5 * time.Minute,
		MaxTombstones: 1 << 16,
	}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics mirrors the cache counters into registry under component.
func WithMetrics(registry *metric.MetricsRegistry, component string) Option {
	return func(c *Cache) {
		c.registry = registry
		c.component = component
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// entry is one cached response. deps and gen never change after creation.
type entry struct {
	value       any
	deps        []string
	gen         uint64
	invalidated atomic.Bool
}

type shard struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *entry]
}

// Cache maps query fingerprints to projected responses and invalidates them
// by the entities they were built from.
//
// Lock order is forward shard, then LRU, then index shard. Invalidation never
// holds an index lock while taking a forward lock.
type Cache struct {
	shards []*shard
	index  []*indexShard
	mask   uint32

	gen       atomic.Uint64
	floor     atomic.Uint64
	typeMu    sync.RWMutex
	typeTombs map[string]uint64
	tombLimit int

	closed    atomic.Bool
	counters  counters
	metrics   *cacheMetrics
	registry  *metric.MetricsRegistry
	component string
	logger    *slog.Logger
}

// New creates a cache. Zero Shards and MaxTombstones take DefaultConfig
// values; zero Capacity and TTL mean unbounded. A negative field is an error.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.Capacity < 0 || cfg.TTL < 0 || cfg.Shards < 0 || cfg.MaxTombstones < 0 {
		return nil, fmt.Errorf("cache: negative size in config %+v", cfg)
	}
	def := DefaultConfig()
	if cfg.Shards == 0 {
		cfg.Shards = def.Shards
	}
	if cfg.MaxTombstones == 0 {
		cfg.MaxTombstones = def.MaxTombstones
	}

	n := 1
	for n < cfg.Shards {
		n <<= 1
	}

	c := &Cache{
		shards:    make([]*shard, n),
		index:     make([]*indexShard, n),
		mask:      uint32(n - 1),
		typeTombs: make(map[string]uint64),
		tombLimit: max(cfg.MaxTombstones/n, 1),
		component: "result_cache",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	perShard := 0
	if cfg.Capacity > 0 {
		perShard = (cfg.Capacity + n - 1) / n
	}
	for i := range c.shards {
		c.shards[i] = &shard{lru: expirable.NewLRU[string, *entry](perShard, c.onEvict, cfg.TTL)}
		c.index[i] = newIndexShard()
	}

	if c.registry != nil {
		m, err := newCacheMetrics(c.registry, c.component, func() float64 { return float64(c.Len()) })
		if err != nil {
			return nil, fmt.Errorf("cache: register metrics: %w", err)
		}
		c.metrics = m
	}

	c.logger.Debug("result cache created",
		"shards", n,
		"capacity", cfg.Capacity,
		"ttl", cfg.TTL,
	)
	return c, nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

func (c *Cache) shardFor(fp string) *shard {
	return c.shards[hash(fp)&c.mask]
}

// onEvict runs inside the LRU lock whenever an entry leaves a shard.
func (c *Cache) onEvict(fp string, e *entry) {
	c.unregister(fp, e, e.deps)
	if !e.invalidated.Load() && !c.closed.Load() {
		c.evicted()
	}
}

// Generation returns the current invalidation generation. Callers read it
// before computing a result and hand it back to Put.
func (c *Cache) Generation() uint64 {
	return c.gen.Load()
}

// Get returns the cached response for fp.
func (c *Cache) Get(fp string) (any, bool) {
	if c.closed.Load() {
		c.miss()
		return nil, false
	}
	e, ok := c.shardFor(fp).lru.Get(fp)
	if !ok {
		c.miss()
		return nil, false
	}
	c.hit()
	return e.value, true
}

// Put caches value under fp, depending on the entity keys in deps. gen is
// the Generation observed before value was computed. Put reports false and
// stores nothing if any dependency, or its type, has been invalidated since
// gen, or if a newer result for fp is already cached.
//
// value is shared with every later Get and must not be mutated.
func (c *Cache) Put(fp string, value any, deps []string, gen uint64) bool {
	if c.closed.Load() {
		return false
	}
	deps = slices.Clone(deps)
	slices.Sort(deps)
	e := &entry{value: value, deps: slices.Compact(deps), gen: gen}

	sh := c.shardFor(fp)
	sh.mu.Lock()
	live, hasLive := sh.lru.Peek(fp)
	if hasLive && live.gen > gen {
		sh.mu.Unlock()
		c.put(false)
		return false
	}
	if !c.register(fp, e) {
		// live may have lost index entries to e; drop it rather than keep an
		// entry the index cannot reach.
		if hasLive {
			live.invalidated.Store(true)
			sh.lru.Remove(fp)
		}
		sh.mu.Unlock()
		c.put(false)
		return false
	}
	if !hasLive {
		// Expired entries stay in the shard until purged; evict any now so
		// its index entries go with it.
		sh.lru.Remove(fp)
	}
	sh.lru.Add(fp, e)
	if hasLive {
		c.unregister(fp, live, live.deps)
	}
	sh.mu.Unlock()

	c.put(true)
	return true
}

// InvalidateFromCascade removes every entry that depends on an entity named
// by cascade, or on the type wildcard of such an entity. It returns the
// number of entries removed. Repeating a cascade removes nothing new.
func (c *Cache) InvalidateFromCascade(cascade CascadeMetadata) int {
	c.invalidateCall()
	refs := cascade.Entities()
	if len(refs) == 0 || c.closed.Load() {
		return 0
	}

	g := c.gen.Add(1)
	victims := make(map[string]bool)
	for _, r := range refs {
		if r.ID == ir.Wildcard {
			c.takeType(r.Type, g, victims)
			continue
		}
		c.take(r.Key(), g, victims)
		c.take(ir.WildcardKey(r.Type), g, victims)
	}

	removed := 0
	for fp := range victims {
		sh := c.shardFor(fp)
		sh.mu.Lock()
		if e, ok := sh.lru.Peek(fp); ok && e.gen < g {
			e.invalidated.Store(true)
			sh.lru.Remove(fp)
			removed++
		}
		sh.mu.Unlock()
	}
	c.invalidated(removed)

	c.logger.Debug("cascade invalidated",
		"entities", len(refs),
		"removed", removed,
		"generation", g,
	)
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	n := 0
	for _, sh := range c.shards {
		n += sh.lru.Len()
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.counters.hits.Load(),
		Misses:          c.counters.misses.Load(),
		Puts:            c.counters.puts.Load(),
		RejectedPuts:    c.counters.rejectedPuts.Load(),
		Invalidated:     c.counters.invalidated.Load(),
		Evicted:         c.counters.evicted.Load(),
		InvalidateCalls: c.counters.invalidateCalls.Load(),
		Size:            c.Len(),
	}
}

// Close drops every entry. Later calls miss and refuse puts. Expiry
// goroutines started for a positive TTL are not stopped; expirable.LRU
// offers no way to end them.
func (c *Cache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.lru.Purge()
		sh.mu.Unlock()
	}
	if c.registry != nil {
		unregisterCacheMetrics(c.registry, c.component)
	}
	return nil
}
