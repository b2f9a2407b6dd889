package cache

import (
	"slices"
	"sync"

	"github.com/roach88/viewql/internal/ir"
)

// indexShard maps entity keys to the cached entries that depend on them, and
// remembers the generation at which each key was last invalidated.
type indexShard struct {
	mu    sync.Mutex
	deps  map[string]map[string]*entry // entity key -> fingerprint -> entry
	tombs map[string]uint64            // entity key -> invalidation generation
}

func newIndexShard() *indexShard {
	return &indexShard{
		deps:  make(map[string]map[string]*entry),
		tombs: make(map[string]uint64),
	}
}

func (c *Cache) indexFor(key string) *indexShard {
	return c.index[hash(key)&c.mask]
}

// register records fp under every dependency of e. It fails, leaving no
// registration of e behind, if any dependency was invalidated after e.gen.
// Caller holds the forward shard lock for fp.
func (c *Cache) register(fp string, e *entry) bool {
	for i, key := range e.deps {
		s := c.indexFor(key)
		s.mu.Lock()
		if c.staleLocked(s, key, e.gen) {
			s.mu.Unlock()
			c.unregister(fp, e, e.deps[:i])
			return false
		}
		fps := s.deps[key]
		if fps == nil {
			fps = make(map[string]*entry)
			s.deps[key] = fps
		}
		fps[fp] = e
		s.mu.Unlock()
	}
	return true
}

// unregister drops fp from keys wherever the index still points at e.
func (c *Cache) unregister(fp string, e *entry, keys []string) {
	for _, key := range keys {
		s := c.indexFor(key)
		s.mu.Lock()
		if fps := s.deps[key]; fps[fp] == e {
			delete(fps, fp)
			if len(fps) == 0 {
				delete(s.deps, key)
			}
		}
		s.mu.Unlock()
	}
}

// staleLocked reports whether a result computed at gen may miss an
// invalidation of key. Caller holds s.mu.
func (c *Cache) staleLocked(s *indexShard, key string, gen uint64) bool {
	if gen < c.floor.Load() || s.tombs[key] > gen {
		return true
	}
	typeName, _, _ := ir.SplitEntityKey(key)
	return c.typeTomb(typeName) > gen
}

func (c *Cache) typeTomb(typeName string) uint64 {
	c.typeMu.RLock()
	defer c.typeMu.RUnlock()
	return c.typeTombs[typeName]
}

// take stamps key with gen and removes every dependent registered before
// gen, adding their fingerprints to victims.
func (c *Cache) take(key string, gen uint64, victims map[string]bool) {
	s := c.indexFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombs[key] = gen
	takeLocked(s, key, gen, victims)
	c.pruneLocked(s)
}

// takeType removes every dependent of any entity of typeName.
func (c *Cache) takeType(typeName string, gen uint64, victims map[string]bool) {
	c.typeMu.Lock()
	c.typeTombs[typeName] = gen
	c.typeMu.Unlock()

	for _, s := range c.index {
		s.mu.Lock()
		for key := range s.deps {
			if t, _, _ := ir.SplitEntityKey(key); t == typeName {
				takeLocked(s, key, gen, victims)
			}
		}
		s.mu.Unlock()
	}
}

func takeLocked(s *indexShard, key string, gen uint64, victims map[string]bool) {
	fps := s.deps[key]
	for fp, e := range fps {
		if e.gen < gen {
			victims[fp] = true
			delete(fps, fp)
		}
	}
	if len(fps) == 0 {
		delete(s.deps, key)
	}
}

// pruneLocked bounds the tombstones of s by dropping the older half and
// raising the floor below which every put is refused.
func (c *Cache) pruneLocked(s *indexShard) {
	if len(s.tombs) <= c.tombLimit {
		return
	}
	gens := make([]uint64, 0, len(s.tombs))
	for _, g := range s.tombs {
		gens = append(gens, g)
	}
	slices.Sort(gens)
	cutoff := gens[len(gens)/2]
	for key, g := range s.tombs {
		if g <= cutoff {
			delete(s.tombs, key)
		}
	}
	for {
		floor := c.floor.Load()
		if cutoff <= floor || c.floor.CompareAndSwap(floor, cutoff) {
			return
		}
	}
}
