// Package plan implements the two-pass request planner (spec.md §4.3,
// component C3): given a root node, time, view, and output region of
// interest, it produces a FrameRequestMap describing, for every node the
// render touches, the final region of interest, any identity redirection,
// frames-needed, and concatenated transforms.
//
// Grounded on the teacher's scene traversal (gogpu-gg/scene/builder.go,
// scene/renderer.go walk the scene graph top-down accumulating per-node
// state before a render pass) generalized from a static display-list walk
// to a two-pass recursive expansion with identity/transform short-circuits,
// per spec.md §4.3(a)-(g).
package plan

import (
	"fmt"
	"math"

	"github.com/gogpu/compose/actioncache"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/xform"
)

// IdentityRedirect records that a node's output at (time,view) is exactly
// one of its inputs (spec.md §3 FrameViewRequest "identity flag").
type IdentityRedirect struct {
	Input int
	Time  imagekey.Time
}

// ConcatenatedTransform records that a chain of upstream transform nodes
// collapsed into a single fetch at EndNode with a composed matrix (spec.md
// §4.3(d)).
type ConcatenatedTransform struct {
	Input   int
	EndNode graph.NodeID
	Matrix  xform.Matrix
}

// FrameViewRequest is the planner's per-(node,time,view) result (spec.md §3).
type FrameViewRequest struct {
	RegionOfDefinition imagekey.Rect
	IsProjectFormat    bool

	Identity *IdentityRedirect

	FramesNeeded graph.FramesNeeded
	Transforms   map[int]ConcatenatedTransform

	// RegionsOfInterest maps input index to the canonical region this node
	// needs from that input, as the node itself reported it.
	RegionsOfInterest map[int]imagekey.Rect

	// callerRoIs accumulates every canonical region a caller contributed in
	// pass 1 (spec.md §4.3 pass 2: "union of all caller-contributed regions").
	callerRoIs []imagekey.Rect

	// FinalRoI is the union of callerRoIs, computed by Finalize (pass 2).
	FinalRoI imagekey.Rect
}

// viewTimeKey identifies one (time, view) slot within a node's requests.
type viewTimeKey struct {
	Time imagekey.Time
	View imagekey.View
}

// nodeRequests holds every FrameViewRequest computed for one node across
// the (time,view) pairs the plan touched, plus the node-hash the plan was
// computed against (spec.md §3 "node → (hash, map<(time,view), ...>)").
type nodeRequests struct {
	Hash     uint64
	Requests map[viewTimeKey]*FrameViewRequest
}

// FrameRequestMap is the planner's full output: node → (hash, per-(time,view)
// requests).
type FrameRequestMap struct {
	byNode map[graph.NodeID]*nodeRequests
}

// Lookup returns the FrameViewRequest for (node, time, view), if the plan
// touched it.
func (m *FrameRequestMap) Lookup(id graph.NodeID, t imagekey.Time, v imagekey.View) (*FrameViewRequest, uint64, bool) {
	nr, ok := m.byNode[id]
	if !ok {
		return nil, 0, false
	}
	fvr, ok := nr.Requests[viewTimeKey{Time: t, View: v}]
	return fvr, nr.Hash, ok
}

// InfiniteClipMode selects how an "infinite" region of definition is
// clipped against the project format (spec.md §9 Open Question (a): "an
// implementer should parameterize the heuristic rather than hard-code").
type InfiniteClipMode int

const (
	// ClipToProjectFormat clips any infinite side to the project format
	// rectangle outright.
	ClipToProjectFormat InfiniteClipMode = iota
	// ClipToInputsUnion clips an infinite side to the union of the node's
	// finite inputs' regions of definition, falling back to the project
	// format if no input is finite.
	ClipToInputsUnion
)

// Planner runs the two-pass algorithm against one graph.Graph.
type Planner struct {
	Graph             *graph.Graph
	Actions           *actioncache.Store
	ProjectFormat     imagekey.Rect
	InfiniteClipMode  InfiniteClipMode
	TransformsEnabled bool

	// MaxPrefetchRanges bounds how many frames-needed ranges pass 1 expands
	// per input, guarding against exponential expansion for continuous
	// ranges (spec.md §4.3 "a per-input heuristic caps frame prefetch").
	MaxPrefetchRanges int
}

// New creates a Planner with sensible defaults (transforms enabled, 8-range
// prefetch cap, project-format clipping for infinite RoDs).
func New(g *graph.Graph, actions *actioncache.Store, projectFormat imagekey.Rect) *Planner {
	return &Planner{
		Graph:             g,
		Actions:           actions,
		ProjectFormat:     projectFormat,
		InfiniteClipMode:  ClipToProjectFormat,
		TransformsEnabled: true,
		MaxPrefetchRanges: 8,
	}
}

// planState is per-Plan-call mutable state: the in-progress map and the
// identity-cycle guard (spec.md §4.3(c): "guard against trivial self-cycles
// with a safety assertion").
type planState struct {
	result  *FrameRequestMap
	visited map[graph.NodeID]struct{}
}

// Plan runs pass 1 (top-down expansion from root) followed by pass 2
// (per-node RoI union finalization), returning the completed
// FrameRequestMap or a failure Status if any node action failed.
func (p *Planner) Plan(root graph.NodeID, args graph.RenderArgs, view imagekey.View, outputRoI imagekey.PixelRect) (*FrameRequestMap, graph.Status) {
	state := &planState{
		result:  &FrameRequestMap{byNode: make(map[graph.NodeID]*nodeRequests)},
		visited: make(map[graph.NodeID]struct{}),
	}

	canonicalRoI := imagekey.Rect{
		MinX: float64(outputRoI.X0), MinY: float64(outputRoI.Y0),
		MaxX: float64(outputRoI.X1), MaxY: float64(outputRoI.Y1),
	}

	if status := p.expand(state, root, args, view, canonicalRoI); !status.OK {
		return nil, status
	}

	p.finalize(state.result)
	return state.result, graph.Ok
}

// expand implements pass 1 for one (node, time, view) touched via the edge
// that contributed callerRoI.
func (p *Planner) expand(state *planState, id graph.NodeID, args graph.RenderArgs, view imagekey.View, callerRoI imagekey.Rect) graph.Status {
	node := p.Graph.GetNode(id)
	if node == nil {
		return graph.Failed(fmt.Errorf("plan: unknown node %d", id))
	}
	hash := node.Hash()

	nr, ok := state.result.byNode[id]
	if !ok {
		nr = &nodeRequests{Hash: hash, Requests: make(map[viewTimeKey]*FrameViewRequest)}
		state.result.byNode[id] = nr
	}

	key := viewTimeKey{Time: args.Time, View: view}
	fvr, exists := nr.Requests[key]
	if !exists {
		fvr = &FrameViewRequest{Transforms: make(map[int]ConcatenatedTransform)}
		nr.Requests[key] = fvr

		// (a) region of definition, via the action cache.
		rod, status := p.Actions.RegionOfDefinition(node, hash, args, view)
		if !status.OK {
			return status
		}
		if rod.IsInfinite() {
			rod = p.clipInfinite(id, node, args, view, rod)
		}
		fvr.RegionOfDefinition = rod
		fvr.IsProjectFormat = rod == p.ProjectFormat

		// (c) identity check, with a cycle guard.
		window := canonicalToPixel(callerRoI)
		identity := p.Actions.IsIdentity(node, hash, args, window, view)
		if identity.Identity {
			if _, seen := state.visited[id]; seen {
				// Trivial self-cycle: treat as non-identity rather than
				// recursing forever (spec.md §4.3(c) safety assertion).
				identity.Identity = false
			}
		}
		if identity.Identity {
			state.visited[id] = struct{}{}
			fvr.Identity = &IdentityRedirect{Input: identity.Input, Time: identity.Time}
			inputID := p.Graph.Input(id, identity.Input)
			redirectArgs := args
			redirectArgs.Time = identity.Time
			if inputID != graph.Invalid {
				if status := p.expand(state, inputID, redirectArgs, view, callerRoI); !status.OK {
					return status
				}
			}
			delete(state.visited, id)
		} else {
			if status := p.expandNonIdentity(state, id, node, hash, args, view, fvr, callerRoI); !status.OK {
				return status
			}
		}
	}

	fvr.callerRoIs = append(fvr.callerRoIs, callerRoI)
	return graph.Ok
}

// expandNonIdentity handles steps (d)-(g) for a node that is not an
// identity redirect.
func (p *Planner) expandNonIdentity(state *planState, id graph.NodeID, node graph.Node, hash uint64, args graph.RenderArgs, view imagekey.View, fvr *FrameViewRequest, callerRoI imagekey.Rect) graph.Status {
	renderWindow := canonicalToPixel(callerRoI)

	// (d) transform concatenation: walk upstream transform nodes as long as
	// each is invertible, composing matrices, until a node with no
	// transform is reached (spec.md §4.3(d)).
	composed := make(map[int]ConcatenatedTransform)
	if p.TransformsEnabled {
		for inputIdx := 0; inputIdx < node.InputCount(); inputIdx++ {
			upstream := p.Graph.Input(id, inputIdx)
			if upstream == graph.Invalid {
				continue
			}
			end, matrix, ok := p.concatenateTransforms(args, view, upstream)
			if ok {
				composed[inputIdx] = ConcatenatedTransform{Input: inputIdx, EndNode: end, Matrix: matrix}
			}
		}
	}
	fvr.Transforms = composed

	// (e) regions of interest per input.
	rois := node.RegionsOfInterest(args, fvr.RegionOfDefinition, renderWindow, view)
	fvr.RegionsOfInterest = rois

	// (f) frames needed.
	frames := p.Actions.FramesNeeded(node, hash, args.Time, view)
	fvr.FramesNeeded = frames

	// (g) for each needed (input, t', v', roi), append to that input's
	// FrameViewRequest, capped by MaxPrefetchRanges.
	for inputIdx := 0; inputIdx < node.InputCount(); inputIdx++ {
		inputID := p.Graph.Input(id, inputIdx)
		if inputID == graph.Invalid {
			if node.InputKind(inputIdx) == graph.InputMask {
				continue // (i) disconnected mask input prunes its subtree.
			}
			continue
		}

		inputRoI, haveRoI := rois[inputIdx]
		if !haveRoI {
			continue
		}

		if ct, concatenated := composed[inputIdx]; concatenated {
			// Fetch from the end of the chain with the inverse-transformed
			// region instead of recursing into the intermediate nodes.
			inv, invertible := ct.Matrix.Invert()
			transformedRoI := inputRoI
			if invertible {
				transformedRoI = applyToRect(inv, inputRoI)
			}
			if status := p.expand(state, ct.EndNode, args, view, transformedRoI); !status.OK {
				return status
			}
			continue
		}

		ranges := framesForInput(frames, inputIdx, view, args.Time)
		count := 0
		for _, rng := range ranges {
			if count >= p.MaxPrefetchRanges {
				break
			}
			t := rng.First
			inputArgs := args
			inputArgs.Time = t
			if status := p.expand(state, inputID, inputArgs, view, inputRoI); !status.OK {
				return status
			}
			count++
		}
	}

	return graph.Ok
}

// concatenateTransforms walks upstream from start composing invertible
// transforms until a node with no transform is found. Returns the end node
// and composed matrix, or ok=false if start itself has no transform.
func (p *Planner) concatenateTransforms(args graph.RenderArgs, view imagekey.View, start graph.NodeID) (graph.NodeID, xform.Matrix, bool) {
	current := start
	composed := xform.Identity()
	found := false

	for {
		node := p.Graph.GetNode(current)
		if node == nil {
			break
		}
		hash := node.Hash()
		t := p.Actions.GetTransform(node, hash, args, view)
		if t.IsNone() {
			break
		}
		m := xform.Matrix{
			A: t.Matrix[0], B: t.Matrix[1], C: t.Matrix[2],
			D: t.Matrix[3], E: t.Matrix[4], F: t.Matrix[5],
			G: t.Matrix[6], H: t.Matrix[7], I: t.Matrix[8],
		}
		if !m.Invertible() {
			break
		}
		composed = composed.Compose(m)
		found = true
		next := p.Graph.Input(current, t.Input)
		if next == graph.Invalid {
			break
		}
		current = next
	}

	return current, composed, found
}

// clipInfinite applies the configured heuristic to an infinite region of
// definition (spec.md §4.3(ii), §9 Open Question (a)): an infinite side
// clips to the project format under ClipToProjectFormat, or to the union of
// this node's already-planned finite input RoDs under ClipToInputsUnion
// (falling back to the project format when no input RoD is known yet,
// which is the common case since inputs are not expanded before their
// producer's own RoD is computed).
func (p *Planner) clipInfinite(id graph.NodeID, node graph.Node, args graph.RenderArgs, view imagekey.View, rod imagekey.Rect) imagekey.Rect {
	if p.InfiniteClipMode != ClipToInputsUnion {
		return clipRectToProject(rod, p.ProjectFormat)
	}

	var union imagekey.Rect
	for i := 0; i < node.InputCount(); i++ {
		inputID := p.Graph.Input(id, i)
		if inputID == graph.Invalid {
			continue
		}
		inputNode := p.Graph.GetNode(inputID)
		if inputNode == nil {
			continue
		}
		inputRoD, status := p.Actions.RegionOfDefinition(inputNode, inputNode.Hash(), args, view)
		if !status.OK || inputRoD.IsInfinite() {
			continue
		}
		union = union.Union(inputRoD)
	}
	if union.IsEmpty() {
		return clipRectToProject(rod, p.ProjectFormat)
	}
	return clipRectToProject(clampInfiniteSidesTo(rod, union), p.ProjectFormat)
}

// clampInfiniteSidesTo replaces only the infinite sides of rod with the
// corresponding side of bound, leaving finite sides untouched.
func clampInfiniteSidesTo(rod, bound imagekey.Rect) imagekey.Rect {
	out := rod
	if math.IsInf(rod.MinX, -1) {
		out.MinX = bound.MinX
	}
	if math.IsInf(rod.MinY, -1) {
		out.MinY = bound.MinY
	}
	if math.IsInf(rod.MaxX, 1) {
		out.MaxX = bound.MaxX
	}
	if math.IsInf(rod.MaxY, 1) {
		out.MaxY = bound.MaxY
	}
	return out
}

func clipRectToProject(rod, project imagekey.Rect) imagekey.Rect {
	out := rod
	if math.IsInf(rod.MinX, -1) {
		out.MinX = project.MinX
	}
	if math.IsInf(rod.MinY, -1) {
		out.MinY = project.MinY
	}
	if math.IsInf(rod.MaxX, 1) {
		out.MaxX = project.MaxX
	}
	if math.IsInf(rod.MaxY, 1) {
		out.MaxY = project.MaxY
	}
	return out
}

// finalize implements pass 2: the final region of interest at every
// touched (node,time,view) is the union of its accumulated caller regions
// (spec.md §4.3 pass 2, §8 property 2).
func (p *Planner) finalize(m *FrameRequestMap) {
	for _, nr := range m.byNode {
		for _, fvr := range nr.Requests {
			var union imagekey.Rect
			for _, r := range fvr.callerRoIs {
				union = union.Union(r)
			}
			fvr.FinalRoI = union
		}
	}
}

func canonicalToPixel(r imagekey.Rect) imagekey.PixelRect {
	return r.ToPixel(0, 1)
}

func applyToRect(m xform.Matrix, r imagekey.Rect) imagekey.Rect {
	x0, y0 := m.Apply(r.MinX, r.MinY)
	x1, y1 := m.Apply(r.MaxX, r.MaxY)
	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}
	return imagekey.Rect{MinX: x0, MinY: y0, MaxX: x1, MaxY: y1}
}

// framesForInput resolves the frame ranges to prefetch for one input.
// spec.md §8: "frames_needed returning an empty map at a node that
// declares non-generator inputs is a warning, not a failure, and results
// in no input fetches" — an entirely empty frames map is the node
// explicitly opting every input out of prefetch, not an omission, so it
// returns no ranges at all. A non-empty map that simply has no entry for
// this particular input is the ordinary "didn't bother to remap this
// input's time" case and still falls back to fetching at the caller's own
// time.
func framesForInput(frames graph.FramesNeeded, input int, view imagekey.View, fallback imagekey.Time) []imagekey.Range {
	if len(frames) == 0 {
		return nil
	}
	byView, ok := frames[input]
	if !ok {
		return []imagekey.Range{{First: fallback, Last: fallback}}
	}
	ranges, ok := byView[view]
	if !ok || len(ranges) == 0 {
		return []imagekey.Range{{First: fallback, Last: fallback}}
	}
	return ranges
}
