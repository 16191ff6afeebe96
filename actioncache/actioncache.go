// Package actioncache memoizes the five per-node queries the planner and
// executor repeat every frame — region of definition, identity redirection,
// transform, frames-needed, and time domain — keyed by node hash plus the
// (time, view, mip) each query depends on
// so a node's Go method is only ever called once per distinct query
// (spec.md §4.2, component C2).
//
// Continues the teacher's internal/cache LRU (internal/shardedcache in this
// module) generalized from one cache per consumer to one cache per query
// kind, and adds whole-node invalidation (DeleteMatching by node hash)
// since a parameter change invalidates every cached query for that node at
// once, something the teacher's single-key cache never needed.
package actioncache

import (
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/shardedcache"
)

// queryKey identifies one memoized query: which node, at what
// (time, view, mip), for which node-hash snapshot.
type queryKey struct {
	NodeHash uint64
	Time     imagekey.Time
	View     imagekey.View
	Mip      imagekey.Mip
}

func hashQueryKey(k queryKey) uint64 {
	h := k.NodeHash
	h = h*1099511628211 ^ uint64(int64(k.Time))
	h = h*1099511628211 ^ uint64(k.View)
	h = h*1099511628211 ^ uint64(k.Mip)
	return h
}

// rodResult pairs a RegionOfDefinition result with its Status so failures
// are memoized too (spec.md §7: failures are data, not exceptions).
type rodResult struct {
	Rect   imagekey.Rect
	Status graph.Status
}

// Store is the per-process action cache: one sharded cache per query kind.
// Thread safety: Store is safe for concurrent use.
type Store struct {
	rod        *shardedcache.Cache[queryKey, rodResult]
	identity   *shardedcache.Cache[queryKey, graph.IdentityResult]
	transform  *shardedcache.Cache[queryKey, graph.Transform]
	domain     *shardedcache.Cache[uint64, timeDomain]
	framesNeed *shardedcache.Cache[queryKey, graph.FramesNeeded]
}

type timeDomain struct {
	First, Last imagekey.Time
}

// defaultCapacity and framesNeedCapacity are per-shard caps that bound each
// query kind's cache independently; frames-needed maps are larger so get a
// smaller per-shard cap to bound total memory.
const (
	defaultCapacity    = 256
	framesNeedCapacity = 64
)

// New creates an empty action cache.
func New() *Store {
	return &Store{
		rod:        shardedcache.New[queryKey, rodResult](defaultCapacity, hashQueryKey),
		identity:   shardedcache.New[queryKey, graph.IdentityResult](defaultCapacity, hashQueryKey),
		transform:  shardedcache.New[queryKey, graph.Transform](defaultCapacity, hashQueryKey),
		domain:     shardedcache.New[uint64, timeDomain](defaultCapacity, func(h uint64) uint64 { return h }),
		framesNeed: shardedcache.New[queryKey, graph.FramesNeeded](framesNeedCapacity, hashQueryKey),
	}
}

// RegionOfDefinition memoizes node.RegionOfDefinition for (nodeHash, args,
// view), calling node only on a cache miss.
func (s *Store) RegionOfDefinition(node graph.Node, nodeHash uint64, args graph.RenderArgs, view imagekey.View) (imagekey.Rect, graph.Status) {
	key := queryKey{NodeHash: nodeHash, Time: args.Time, View: view, Mip: args.Mip}
	got := s.rod.GetOrCreate(key, func() rodResult {
		rect, status := node.RegionOfDefinition(args, view)
		return rodResult{Rect: rect, Status: status}
	})
	return got.Rect, got.Status
}

// IsIdentity memoizes node.IsIdentity.
func (s *Store) IsIdentity(node graph.Node, nodeHash uint64, args graph.RenderArgs, window imagekey.PixelRect, view imagekey.View) graph.IdentityResult {
	key := queryKey{NodeHash: nodeHash, Time: args.Time, View: view, Mip: args.Mip}
	return s.identity.GetOrCreate(key, func() graph.IdentityResult {
		return node.IsIdentity(args, window, view)
	})
}

// GetTransform memoizes node.GetTransform.
func (s *Store) GetTransform(node graph.Node, nodeHash uint64, args graph.RenderArgs, view imagekey.View) graph.Transform {
	key := queryKey{NodeHash: nodeHash, Time: args.Time, View: view, Mip: args.Mip}
	return s.transform.GetOrCreate(key, func() graph.Transform {
		return node.GetTransform(args, view)
	})
}

// TimeDomain memoizes node.TimeDomain, which does not vary with time/view/mip.
func (s *Store) TimeDomain(node graph.Node, nodeHash uint64) (first, last imagekey.Time) {
	got := s.domain.GetOrCreate(nodeHash, func() timeDomain {
		f, l := node.TimeDomain()
		return timeDomain{First: f, Last: l}
	})
	return got.First, got.Last
}

// FramesNeeded memoizes node.FramesNeeded.
func (s *Store) FramesNeeded(node graph.Node, nodeHash uint64, t imagekey.Time, view imagekey.View) graph.FramesNeeded {
	key := queryKey{NodeHash: nodeHash, Time: t, View: view}
	return s.framesNeed.GetOrCreate(key, func() graph.FramesNeeded {
		return node.FramesNeeded(t, view)
	})
}

// InvalidateNode drops every memoized query for nodeHash across all five
// query kinds (spec.md §4.2 "whole-node invalidation on hash change").
func (s *Store) InvalidateNode(nodeHash uint64) {
	match := func(k queryKey) bool { return k.NodeHash == nodeHash }
	s.rod.DeleteMatching(match)
	s.identity.DeleteMatching(match)
	s.transform.DeleteMatching(match)
	s.framesNeed.DeleteMatching(match)
	s.domain.DeleteMatching(func(h uint64) bool { return h == nodeHash })
}

// Stats reports aggregate statistics across all five query caches, for the
// --stats CLI flag.
type Stats struct {
	RegionOfDefinition shardedcache.Stats
	Identity           shardedcache.Stats
	Transform          shardedcache.Stats
	TimeDomain         shardedcache.Stats
	FramesNeeded       shardedcache.Stats
}

// Stats returns current cache statistics for every query kind.
func (s *Store) Stats() Stats {
	return Stats{
		RegionOfDefinition: s.rod.Stats(),
		Identity:           s.identity.Stats(),
		Transform:          s.transform.Stats(),
		TimeDomain:         s.domain.Stats(),
		FramesNeeded:       s.framesNeed.Stats(),
	}
}
