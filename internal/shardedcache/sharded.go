// Package shardedcache is a generic, sharded, concurrent LRU cache used as
// the RAM tier of the image store (store.Store) and as the backing map for
// per-node action memoization (actioncache.Store).
//
// It continues the teacher's cache/sharded.go: a fixed number of
// power-of-two shards, each with its own mutex and LRU list, selected by a
// caller-supplied hash function so lock contention is spread across
// goroutines touching unrelated keys.
package shardedcache

import (
	"sync"
	"sync/atomic"
)

// DefaultShardCount is the number of shards. Must stay a power of 2 so shard
// selection can use a bitmask instead of a modulo.
const DefaultShardCount = 16

const shardMask = DefaultShardCount - 1

// Hasher computes a shard-selection hash for a key.
type Hasher[K any] func(K) uint64

// Cache is a thread-safe, sharded LRU cache.
//
// Thread safety: all exported methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	shards   [DefaultShardCount]*shard[K, V]
	hasher   Hasher[K]
	capacity int // per-shard capacity; 0 means unbounded

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type shard[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]*lruNode[K, V]
	lru     lruList[K, V]
}

// New creates a sharded cache. capacity is the per-shard soft limit; 0
// disables eviction (the caller is responsible for bounding cardinality some
// other way, e.g. actioncache's per-node whole-cache invalidation).
func New[K comparable, V any](capacity int, hasher Hasher[K]) *Cache[K, V] {
	c := &Cache[K, V]{hasher: hasher, capacity: capacity}
	for i := range c.shards {
		c.shards[i] = &shard[K, V]{entries: make(map[K]*lruNode[K, V])}
		c.shards[i].lru.init()
	}
	return c
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	return c.shards[c.hasher(key)&shardMask]
}

// Get returns the cached value for key, if present, moving it to the front
// of its shard's LRU list.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.entries[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	s.lru.moveToFront(n)
	c.hits.Add(1)
	return n.value, true
}

// Set stores value under key, evicting the shard's oldest entry if the
// shard is now over capacity.
func (c *Cache[K, V]) Set(key K, value V) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	c.setLocked(s, key, value)
}

func (c *Cache[K, V]) setLocked(s *shard[K, V], key K, value V) {
	if n, ok := s.entries[key]; ok {
		n.value = value
		s.lru.moveToFront(n)
		return
	}
	n := s.lru.pushFront(key, value)
	s.entries[key] = n
	if c.capacity > 0 {
		for len(s.entries) > c.capacity {
			oldest := s.lru.removeOldest()
			if oldest == nil {
				break
			}
			delete(s.entries, oldest.key)
			c.evictions.Add(1)
		}
	}
}

// GetOrCreate returns the cached value for key, calling create to compute
// and store it if absent. create runs with the shard lock held, so a
// second concurrent caller for the same key observes the first caller's
// result rather than recomputing — this is the mechanism behind spec.md §8
// property 4 and scenario S5.
func (c *Cache[K, V]) GetOrCreate(key K, create func() V) V {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.entries[key]; ok {
		s.lru.moveToFront(n)
		c.hits.Add(1)
		return n.value
	}
	c.misses.Add(1)
	value := create()
	c.setLocked(s, key, value)
	return value
}

// Delete removes key from the cache. Reports whether it was present.
func (c *Cache[K, V]) Delete(key K) bool {
	_, ok := c.Pop(key)
	return ok
}

// Pop removes key from the cache and returns the value that was stored
// there, if any — the variant of Delete callers that must dispose of the
// removed value themselves (e.g. releasing a reference count) need.
func (c *Cache[K, V]) Pop(key K) (V, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	s.lru.remove(n)
	delete(s.entries, key)
	return n.value, true
}

// EvictUntil repeatedly evicts the oldest entry of some shard — round-
// robining across shards rather than maintaining one global LRU order,
// continuing the cache's per-shard LRU design — calling onEvict for each
// evicted (key, value) pair, until done reports true or every shard is
// empty. Used by store.Store.SetRAMBudget to demote evicted-but-referenced
// images to the disk tier instead of just dropping them.
func (c *Cache[K, V]) EvictUntil(done func() bool, onEvict func(K, V)) {
	for !done() {
		progressed := false
		for _, s := range c.shards {
			s.mu.Lock()
			oldest := s.lru.removeOldest()
			if oldest == nil {
				s.mu.Unlock()
				continue
			}
			delete(s.entries, oldest.key)
			c.evictions.Add(1)
			s.mu.Unlock()

			onEvict(oldest.key, oldest.value)
			progressed = true
			if done() {
				return
			}
		}
		if !progressed {
			return
		}
	}
}

// Clear empties the entire cache.
func (c *Cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.entries = make(map[K]*lruNode[K, V])
		s.lru.init()
		s.mu.Unlock()
	}
}

// DeleteMatching removes every entry for which match returns true. Used by
// actioncache.Store to invalidate all entries for one node hash without
// tearing down the whole shared cache.
func (c *Cache[K, V]) DeleteMatching(match func(K) bool) {
	for _, s := range c.shards {
		s.mu.Lock()
		for k, n := range s.entries {
			if match(k) {
				s.lru.remove(n)
				delete(s.entries, k)
				c.evictions.Add(1)
			}
		}
		s.mu.Unlock()
	}
}

// Len returns the total number of entries across all shards.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}

// Stats reports cumulative hit/miss/eviction counters.
type Stats struct {
	Len       int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	HitRate   float64
}

// Stats returns current cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Len:       c.Len(),
		Hits:      hits,
		Misses:    misses,
		Evictions: c.evictions.Load(),
		HitRate:   rate,
	}
}

// --- intrusive doubly-linked LRU list, one per shard ---

type lruNode[K comparable, V any] struct {
	key        K
	value      V
	prev, next *lruNode[K, V]
}

type lruList[K comparable, V any] struct {
	root lruNode[K, V] // sentinel; root.next = front (most recent), root.prev = back (oldest)
}

func (l *lruList[K, V]) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *lruList[K, V]) pushFront(key K, value V) *lruNode[K, V] {
	n := &lruNode[K, V]{key: key, value: value}
	l.insertAfter(n, &l.root)
	return n
}

func (l *lruList[K, V]) insertAfter(n, at *lruNode[K, V]) {
	n.prev = at
	n.next = at.next
	at.next.prev = n
	at.next = n
}

func (l *lruList[K, V]) remove(n *lruNode[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

func (l *lruList[K, V]) moveToFront(n *lruNode[K, V]) {
	if l.root.next == n {
		return
	}
	l.remove(n)
	l.insertAfter(n, &l.root)
}

func (l *lruList[K, V]) removeOldest() *lruNode[K, V] {
	if l.root.prev == &l.root {
		return nil
	}
	oldest := l.root.prev
	l.remove(oldest)
	return oldest
}
