// Package deps implements the dependency tracker (spec.md §4.8, component
// C8): once per render, walk every graph input edge plus every
// expression-dependency edge a node's parameters declare, and pre-register
// each reachable node's render context in the rendercontext TLS shim
// before the render begins.
//
// Continues scene.Scene's imageRegistry walk (gogpu-gg/scene/scene.go):
// that registry dedupes image handles discovered while encoding a scene so
// each one is registered exactly once; this package generalizes the same
// "walk and register each reachable handle once" shape from encoded image
// references to the full set of a render's declared dependency edges
// (graph inputs and expression dependencies alike).
package deps

import (
	"sync"

	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/iface"
	"github.com/gogpu/compose/rendercontext"
)

// Walker walks a graph's declared dependencies for one render and
// registers each reachable node's context in its own by-node-id registry,
// so a host/plugin callback invoked for any reachable node during the
// render can recover the right Ctx even on a goroutine that never itself
// called rendercontext.Push for that node. One Walker is created per
// Graph (spec.md §9: injected dependency, not global mutable state — the
// teacher's scene.Scene.imageRegistry is itself per-Scene for the same
// reason).
type Walker struct {
	Graph *graph.Graph

	mu      sync.RWMutex
	entries map[graph.NodeID]*rendercontext.Ctx
}

// New creates a Walker over g.
func New(g *graph.Graph) *Walker {
	return &Walker{Graph: g, entries: make(map[graph.NodeID]*rendercontext.Ctx)}
}

// Register walks every node reachable from root via graph input edges and,
// where the node also implements iface.ParameterSource, via each
// parameter's declared expression-dependency edges, registering ctx (or a
// time-shifted Child of it — render context varies per node only in which
// goroutine observes it, not in content, since every node in one render
// shares the same token/action-cache/view) for every reachable node exactly
// once. Returns the list of node ids registered, matching imageRegistry's
// "return the deduped set" shape.
//
// Register does not itself Push anything onto the TLS stack — it is meant
// to run once per render from the scheduling goroutine, ahead of dispatch,
// so that whichever goroutine ends up executing a given node's callback can
// look its registration up. The actual Push/Pop around a node's callback
// happens at the call site in exec, via rendercontext.WithContext.
func (w *Walker) Register(root graph.NodeID, ctx *rendercontext.Ctx) []graph.NodeID {
	seen := make(map[graph.NodeID]struct{})
	var order []graph.NodeID

	var walk func(id graph.NodeID)
	walk = func(id graph.NodeID) {
		if !w.Graph.Valid(id) {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		order = append(order, id)

		node := w.Graph.GetNode(id)
		for _, in := range w.Graph.Inputs(id) {
			walk(in)
		}
		if src, ok := node.(iface.ParameterSource); ok {
			for _, p := range src.Parameters() {
				for _, dep := range src.ExpressionDependencies(p) {
					walk(dep)
				}
			}
		}
	}
	walk(root)

	w.mu.Lock()
	for _, id := range order {
		w.entries[id] = ctx
	}
	w.mu.Unlock()
	return order
}

// Lookup returns the Ctx registered for id by the most recent Register
// call that reached it, if any. This is the fallback path for a host
// callback running on a goroutine that never itself called
// rendercontext.Push for that node; rendercontext.Current() is the fast
// path when the executor made the call directly.
func (w *Walker) Lookup(id graph.NodeID) (*rendercontext.Ctx, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ctx, ok := w.entries[id]
	return ctx, ok
}

// Clear drops every registration. Called once a render finishes so a
// stale Ctx (holding an already-aborted Token) is never mistakenly reused
// for a later render.
func (w *Walker) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[graph.NodeID]*rendercontext.Ctx)
}
