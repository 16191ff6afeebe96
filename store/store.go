package store

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/shardedcache"
)

// DiskTier is the interface the optional on-disk cache tier implements
// (diskstore.Store satisfies it). Kept as an interface here so store has no
// import-time dependency on mmap/OS-specific code, continuing the "global
// mutable state becomes an explicit injected dependency" redesign note of
// spec.md §9.
type DiskTier interface {
	Load(key imagekey.Key) (*Image, bool)
	Store(key imagekey.Key, img *Image) error
	Evict(key imagekey.Key)
	SetBudget(bytes int64)
}

// Store is the process-wide image & tile store (spec.md §4.1, component
// C1): a RAM-tier sharded cache in front of an optional memory-mapped disk
// tier. It continues the teacher's cache/sharded.go sharded-LRU design
// (internal/shardedcache.Cache) keyed on imagekey.Key instead of a generic
// comparable key.
//
// Thread safety: Store is safe for concurrent use.
type Store struct {
	ram  *shardedcache.Cache[imagekey.Key, *Image]
	disk DiskTier

	mu        sync.Mutex // guards ramBudget bookkeeping and holder index
	ramBudget int64
	ramBytes  atomic.Int64 // current RAM-tier footprint, for SetRAMBudget enforcement
	holderIdx map[any]map[imagekey.Key]struct{}
}

func hashKey(k imagekey.Key) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%016x|%g|%d|%d|%d|%d|%s", k.NodeHash, float64(k.Time), k.View, k.Mip, k.Components, k.Depth, k.Plane)
	return h.Sum64()
}

// New creates a Store with the given per-shard RAM capacity (images) and no
// disk tier. AttachDisk adds a disk tier later if desired.
func New(ramCapacityPerShard int) *Store {
	return &Store{
		ram:       shardedcache.New[imagekey.Key, *Image](ramCapacityPerShard, hashKey),
		holderIdx: make(map[any]map[imagekey.Key]struct{}),
	}
}

// AttachDisk wires an optional memory-mapped disk tier (spec.md §4.1 "two
// tiers: a process-wide RAM cache and an optional memory-mapped disk
// cache").
func (s *Store) AttachDisk(d DiskTier) {
	s.disk = d
}

// Lookup returns every cached Image for key. Because a given Key can in
// principle be satisfied by at most one instance (Key implies pixel
// equivalence, spec.md §3), Lookup returns a slice purely to match the
// contract of §4.1 ("lookup(key) -> list<Image>"); in this implementation
// it contains zero or one element.
func (s *Store) Lookup(key imagekey.Key) []*Image {
	if img, ok := s.ram.Get(key); ok {
		img.Retain()
		return []*Image{img}
	}
	if s.disk != nil {
		if img, ok := s.disk.Load(key); ok {
			img.Retain()
			s.ram.Set(key, img)
			return []*Image{img}
		}
	}
	return nil
}

// NewImageParams describes an image to create on a cache miss.
type NewImageParams struct {
	Bounds      imagekey.PixelRect
	RoD         imagekey.Rect
	PixelAspect float64
	Holder      any
}

// LookupOrCreate returns the cached image for key, creating it via params if
// absent. Exactly one concurrent caller observes "created"; all concurrent
// callers for the same key receive the same *Image instance (spec.md §8
// property 4, scenario S5) because the creation happens inside
// shardedcache.Cache.GetOrCreate, which runs the create closure with the
// shard lock held.
func (s *Store) LookupOrCreate(key imagekey.Key, params NewImageParams) (img *Image, created bool) {
	var didCreate bool
	got := s.ram.GetOrCreate(key, func() *Image {
		didCreate = true
		img := newImage(key, params.Bounds, params.RoD, params.PixelAspect, params.Holder)
		s.ramBytes.Add(img.ByteSize())
		s.indexHolder(params.Holder, key)
		return img
	})
	got.Retain()
	if didCreate {
		s.enforceRAMBudget()
	}
	return got, didCreate
}

func (s *Store) indexHolder(holder any, key imagekey.Key) {
	if holder == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.holderIdx[holder]
	if !ok {
		set = make(map[imagekey.Key]struct{})
		s.holderIdx[holder] = set
	}
	set[key] = struct{}{}
}

// Remove evicts key from both tiers, releasing the RAM tier's own reference
// to the popped Image.
func (s *Store) Remove(key imagekey.Key) {
	if img, ok := s.ram.Pop(key); ok {
		s.ramBytes.Add(-img.ByteSize())
		img.Release()
	}
	if s.disk != nil {
		s.disk.Evict(key)
	}
}

// RemoveAllWithHolder evicts every image registered under holder, except
// one whose NodeHash equals exceptHash (spec.md §4.1 "remove_all_with_
// holder(holder, except_hash)" — used when a node's parameters change but a
// specific still-valid hash should survive the purge).
func (s *Store) RemoveAllWithHolder(holder any, exceptHash uint64) {
	s.mu.Lock()
	keys := s.holderIdx[holder]
	toRemove := make([]imagekey.Key, 0, len(keys))
	for k := range keys {
		if k.NodeHash == exceptHash {
			continue
		}
		toRemove = append(toRemove, k)
		delete(keys, k)
	}
	s.mu.Unlock()

	for _, k := range toRemove {
		s.Remove(k)
	}
}

// SetRAMBudget sets a soft byte budget for the RAM tier. Enforcement walks
// the cache's LRU order evicting oldest entries — any evicted image that
// still has external references is handed to the disk tier (if attached)
// rather than being dropped, continuing spec.md §4.1 "entries move between
// tiers under pressure."
func (s *Store) SetRAMBudget(bytes int64) {
	s.mu.Lock()
	s.ramBudget = bytes
	s.mu.Unlock()
	s.enforceRAMBudget()
}

func (s *Store) enforceRAMBudget() {
	s.mu.Lock()
	budget := s.ramBudget
	s.mu.Unlock()
	if budget <= 0 {
		return
	}
	s.ram.EvictUntil(
		func() bool { return s.ramBytes.Load() <= budget },
		func(key imagekey.Key, img *Image) {
			s.ramBytes.Add(-img.ByteSize())
			s.demote(key, img)
		},
	)
}

// demote hands an entry evicted from the RAM tier to the disk tier, if one
// is attached, so a still-referenced Image's pixels survive the eviction
// instead of only the in-flight caller's own reference keeping them alive
// (spec.md §4.1 "entries move between tiers under pressure"). Either way the
// RAM tier's own reference (the one held since newImage) is released.
func (s *Store) demote(key imagekey.Key, img *Image) {
	if s.disk != nil {
		_ = s.disk.Store(key, img) // best-effort: a failed demotion still releases the RAM tier's reference
	}
	img.Release()
}

// SetDiskBudget forwards a byte budget to the disk tier, if attached.
func (s *Store) SetDiskBudget(bytes int64) {
	if s.disk != nil {
		s.disk.SetBudget(bytes)
	}
}

// Stats reports RAM-tier cache statistics.
func (s *Store) Stats() shardedcache.Stats {
	return s.ram.Stats()
}
