// Package exec implements the per-frame executor (spec.md §4.5, component
// C5): for one (root, time, view) task, consult the plan, allocate or
// fetch the output image, tile the render window, recurse into inputs,
// dispatch tiles per thread-safety class, run the node's render action,
// and post-process in the canonical order spec.md §9 Open Question (c)
// names.
package exec

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/compose/actioncache"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/parallel"
	"github.com/gogpu/compose/internal/pixbuf"
	"github.com/gogpu/compose/plan"
	"github.com/gogpu/compose/rendercontext"
	"github.com/gogpu/compose/stats"
	"github.com/gogpu/compose/store"
)

// ResultKind is the Go shape of spec.md §7's six error kinds plus success.
type ResultKind int

const (
	ResultOK ResultKind = iota
	ResultPlanFailure
	ResultAllocationFailure
	ResultRenderFailure
	ResultAborted
	ResultTransientRace
	ResultInvariantViolation
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultPlanFailure:
		return "plan_failure"
	case ResultAllocationFailure:
		return "allocation_failure"
	case ResultRenderFailure:
		return "render_failure"
	case ResultAborted:
		return "aborted"
	case ResultTransientRace:
		return "transient_race"
	case ResultInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Result is the sum type exec.RenderFrame returns, replacing exceptions
// for control flow per spec.md §9 ("node actions that fail map to
// explicit result variants; no unwinding is required").
type Result struct {
	Kind ResultKind
	Err  error
}

func resultOK() Result                         { return Result{Kind: ResultOK} }
func resultErr(kind ResultKind, err error) Result { return Result{Kind: kind, Err: err} }

// TileShapePolicy computes the tile rectangles to dispatch for one node's
// render window, given its thread-safety class (spec.md §4.5 step 3).
type TileShapePolicy func(safety graph.ThreadSafety, window imagekey.PixelRect) []imagekey.PixelRect

// Executor is the C5 per-frame executor.
//
// Thread safety: safe for concurrent use across independent (root, time,
// view) tasks; the per-node/global locks it holds internally serialize
// exactly what spec.md §4.5 step 5 requires and nothing more.
type Executor struct {
	Graph   *graph.Graph
	Actions *actioncache.Store
	Planner *plan.Planner
	Store   *store.Store
	Pool    *parallel.WorkerPool

	TileShape TileShapePolicy

	// Stats, if non-nil, receives one Record call per rendered tile — the
	// data behind the CLI's --stats per-node timing report.
	Stats *stats.Recorder

	// DisableTrimapInteractive is the tunable for spec.md §9 Open Question
	// (b): whether trimap tracking should be skipped in interactive mode.
	// Defaults to false — see DESIGN.md for why correctness, not just
	// performance, is assumed to depend on it until proven otherwise.
	DisableTrimapInteractive bool
	Interactive              bool

	nodeLocksMu sync.Mutex
	nodeLocks   map[graph.NodeID]*sync.Mutex
}

// New creates an Executor. pool may be nil, in which case fully-safe-frame
// tiles fan out through an errgroup limited to fallbackParallelism().
func New(g *graph.Graph, actions *actioncache.Store, planner *plan.Planner, st *store.Store, pool *parallel.WorkerPool) *Executor {
	return &Executor{
		Graph:     g,
		Actions:   actions,
		Planner:   planner,
		Store:     st,
		Pool:      pool,
		TileShape: DefaultTileShape,
		nodeLocks: make(map[graph.NodeID]*sync.Mutex),
	}
}

// RenderFrame executes one (root, time, view) task: step 1 (plan), then
// recursively renders root into the requested window. On success it
// returns the store.Image holding the rendered pixels, with one reference
// the caller owns and must Release — the handoff a writer (cmd/compose)
// or viewer needs to actually deliver the frame, not just learn that
// rendering succeeded.
func (e *Executor) RenderFrame(root graph.NodeID, ctx *rendercontext.Ctx, window imagekey.PixelRect) (*store.Image, Result) {
	if ctx.Aborted() {
		return nil, Result{Kind: ResultAborted}
	}

	reqMap, status := e.Planner.Plan(root, ctx.Args, ctx.View, window)
	if !status.OK {
		if status.Aborted {
			return nil, Result{Kind: ResultAborted}
		}
		return nil, resultErr(ResultPlanFailure, status.Err)
	}

	img, err := e.renderNode(root, ctx, reqMap, window)
	if err != nil {
		return nil, classify(err)
	}
	if img != nil {
		img.Retain()
	}
	return img, resultOK()
}

// renderNode implements spec.md §4.5 steps 2–7 for one node's contribution
// to the window rectangle, recursing into inputs as needed. It returns the
// store.Image holding (at least) window's pixels.
func (e *Executor) renderNode(id graph.NodeID, ctx *rendercontext.Ctx, reqMap *plan.FrameRequestMap, window imagekey.PixelRect) (*store.Image, error) {
	if ctx.Aborted() {
		return nil, errAborted
	}
	if !e.Graph.Valid(id) {
		return nil, fmt.Errorf("%w: invalid node id %d", errInvariant, id)
	}
	node := e.Graph.GetNode(id)
	hash := node.Hash()

	fvr, _, ok := reqMap.Lookup(id, ctx.Args.Time, ctx.View)
	if !ok {
		return nil, fmt.Errorf("%w: no plan entry for node %d at t=%v", errInvariant, id, ctx.Args.Time)
	}

	// step 2: identity delegation.
	if fvr.Identity != nil {
		inputID := e.Graph.Input(id, fvr.Identity.Input)
		if inputID == graph.Invalid {
			return nil, fmt.Errorf("%w: identity redirect to invalid input on node %d", errInvariant, id)
		}
		return e.renderNode(inputID, ctx.Child(fvr.Identity.Time), reqMap, window)
	}

	pixelRoD := fvr.RegionOfDefinition.ToPixel(ctx.Args.Mip, 1)
	bounds := pixelRoD.Intersect(window)
	if bounds.IsEmpty() {
		return nil, nil
	}

	key := imagekey.Key{NodeHash: hash, Time: ctx.Args.Time, View: ctx.View, Mip: ctx.Args.Mip, Components: imagekey.ComponentsRGBA, Depth: imagekey.Depth8, Plane: imagekey.ColorPlane}
	img, _ := e.Store.LookupOrCreate(key, store.NewImageParams{
		Bounds: pixelRoD, RoD: fvr.RegionOfDefinition, PixelAspect: 1, Holder: id,
	})
	defer img.Release()

	missing := bounds
	if !e.trimapDisabled() {
		missing = img.Trimap.MinimalRect(bounds)
	}
	if missing.IsEmpty() {
		if !e.trimapDisabled() {
			img.Trimap.AwaitRendered(bounds)
		}
		return img, nil
	}

	if err := e.renderMissing(id, node, ctx, reqMap, img, missing, fvr); err != nil {
		return nil, err
	}
	return img, nil
}

func (e *Executor) trimapDisabled() bool {
	return e.Interactive && e.DisableTrimapInteractive
}

// renderMissing implements steps 3–7 for the sub-rectangle of bounds not
// yet rendered.
func (e *Executor) renderMissing(id graph.NodeID, node graph.Node, ctx *rendercontext.Ctx, reqMap *plan.FrameRequestMap, img *store.Image, missing imagekey.PixelRect, fvr *plan.FrameViewRequest) error {
	tiles := e.TileShape(node.ThreadSafety(), missing)
	if len(tiles) == 0 {
		return nil
	}

	if !e.trimapDisabled() {
		img.Trimap.MarkForRendering(missing)
	}

	var (
		mu       sync.Mutex
		firstErr error
		aborted  bool
	)
	record := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == errAborted {
			aborted = true
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	renderTile := func(tile imagekey.PixelRect) {
		if ctx.Aborted() {
			record(errAborted)
			return
		}
		if err := e.renderTileLocked(id, node, ctx, reqMap, img, tile, fvr); err != nil {
			record(err)
		}
	}

	switch node.ThreadSafety() {
	case graph.FullySafeFrame:
		if e.Pool != nil {
			work := make([]func(), len(tiles))
			for i, t := range tiles {
				t := t
				work[i] = func() { renderTile(t) }
			}
			e.Pool.ExecuteAll(work)
		} else {
			// No worker pool supplied: still honor the effect's declared
			// fully-safe-frame parallelism via a bounded errgroup instead
			// of silently falling back to a serial loop.
			var g errgroup.Group
			g.SetLimit(fallbackParallelism())
			for _, t := range tiles {
				t := t
				g.Go(func() error { renderTile(t); return nil })
			}
			_ = g.Wait()
		}
	default:
		for _, t := range tiles {
			renderTile(t)
		}
	}

	if aborted || ctx.Aborted() {
		if !e.trimapDisabled() {
			img.Trimap.ClearBitmap(missing) // step 7
		}
		return errAborted
	}
	if firstErr != nil {
		if !e.trimapDisabled() {
			img.Trimap.ClearBitmap(missing)
		}
		return firstErr
	}

	if !e.trimapDisabled() {
		img.Trimap.MarkRendered(missing)
	}
	return nil
}

// globalLock is the one process-wide lock every Executor's Unsafe tiles
// serialize on.
var globalLock sync.Mutex

// renderTileLocked dispatches one tile under the node's declared
// thread-safety lock (step 5), fetches inputs (step 4), invokes Render,
// and post-processes (step 6).
func (e *Executor) renderTileLocked(id graph.NodeID, node graph.Node, ctx *rendercontext.Ctx, reqMap *plan.FrameRequestMap, img *store.Image, tile imagekey.PixelRect, fvr *plan.FrameViewRequest) error {
	switch node.ThreadSafety() {
	case graph.Unsafe:
		globalLock.Lock()
		defer globalLock.Unlock()
	case graph.InstanceSafe:
		lock := e.nodeLock(id)
		lock.Lock()
		defer lock.Unlock()
	}
	return e.renderTile(id, node, ctx, reqMap, img, tile, fvr)
}

func (e *Executor) nodeLock(id graph.NodeID) *sync.Mutex {
	e.nodeLocksMu.Lock()
	defer e.nodeLocksMu.Unlock()
	l, ok := e.nodeLocks[id]
	if !ok {
		l = &sync.Mutex{}
		e.nodeLocks[id] = l
	}
	return l
}

func (e *Executor) renderTile(id graph.NodeID, node graph.Node, ctx *rendercontext.Ctx, reqMap *plan.FrameRequestMap, img *store.Image, tile imagekey.PixelRect, fvr *plan.FrameViewRequest) error {
	if ctx.Aborted() {
		return errAborted
	}
	if e.Stats != nil {
		start := time.Now()
		defer func() { e.Stats.Record(id, fmt.Sprintf("node#%d", id), time.Since(start)) }()
	}

	// A node that cannot render directly at a reduced scale
	// (Capabilities().SupportsRenderScale == RenderScaleNo) renders its
	// mip-0 equivalent into a scratch buffer, then is downscaled into outBuf
	// (step 6's "downscale to the requested mip-level"). Its inputs must be
	// fetched at that same escalated mip-0/scale-1 resolution — sampling a
	// still-coarse input while producing full-resolution output would
	// address every input pixel off by the mip's scale factor.
	scale := ctx.Args.Mip.Scale()
	needsFullRes := scale != 1 && node.Capabilities().SupportsRenderScale == graph.RenderScaleNo

	inputCtx, inputTile := ctx, tile
	if needsFullRes {
		fullResCtx := ctx.Child(ctx.Args.Time)
		fullResCtx.Args.Mip = 0
		fullResCtx.Args.Scale = 1
		inputCtx = fullResCtx
		inputTile = toMip0Rect(tile, scale)
	}

	inputs := make(map[int]*graph.InputImage, len(fvr.RegionsOfInterest))
	for inputIdx := range fvr.RegionsOfInterest {
		inputID := e.Graph.Input(id, inputIdx)
		if inputID == graph.Invalid {
			continue
		}
		if ct, hasTransform := fvr.Transforms[inputIdx]; hasTransform {
			inputImg, err := e.renderNode(ct.EndNode, inputCtx, reqMap, inputTile)
			if err != nil {
				return err
			}
			if inputImg != nil {
				inputs[inputIdx] = toInputImage(inputImg)
			}
			continue
		}
		inputTimes := framesOrSelf(fvr.FramesNeeded, inputIdx, ctx.View, ctx.Args.Time)
		for _, t := range inputTimes {
			inputImg, err := e.renderNode(inputID, inputCtx.Child(t), reqMap, inputTile)
			if err != nil {
				return err
			}
			if inputImg != nil {
				inputs[inputIdx] = toInputImage(inputImg)
			}
		}
	}

	outBuf := img.Buf()
	req := graph.RenderRequest{
		Args:            ctx.Args,
		ROI:             tile,
		Planes:          []imagekey.PlaneID{imagekey.ColorPlane},
		Inputs:          inputs,
		ProcessChannels: [4]bool{true, true, true, true},
		Mix:             1,
	}

	if needsFullRes {
		mip0Tile := inputTile
		scratch, err := pixbuf.NewBuf(max(mip0Tile.Width(), 1), max(mip0Tile.Height(), 1), img.Key.Components, img.Key.Depth)
		if err != nil {
			return fmt.Errorf("%w: %v", errRender, err)
		}
		scratch.SetOrigin(mip0Tile.X0, mip0Tile.Y0)

		req.Args = inputCtx.Args
		req.ROI = mip0Tile
		req.Output = &graph.OutputImage{Bounds: mip0Tile, Pixels: scratch.Data(), Stride: scratch.Stride()}

		status := node.Render(req)
		if !status.OK {
			if status.Aborted {
				return errAborted
			}
			return fmt.Errorf("%w: %v", errRender, status.Err)
		}
		store.DownscaleTile(outBuf, tile, scratch, mip0Tile)
	} else {
		req.Output = &graph.OutputImage{Bounds: img.Bounds, Pixels: outBuf.Data(), Stride: outBuf.Stride()}
		status := node.Render(req)
		if !status.OK {
			if status.Aborted {
				return errAborted
			}
			return fmt.Errorf("%w: %v", errRender, status.Err)
		}
	}

	applyPostProcess(outBuf, tile, postProcessParams{
		TargetComponents: img.Key.Components,
		TargetDepth:      img.Key.Depth,
		TargetMip:        ctx.Args.Mip,
	})
	return nil
}

// toMip0Rect maps a tile expressed in the target mip's pixel coordinates
// back to the mip-0 pixel coordinates covering the same canonical area.
func toMip0Rect(tile imagekey.PixelRect, scale float64) imagekey.PixelRect {
	return imagekey.PixelRect{
		X0: int(math.Floor(float64(tile.X0) / scale)),
		Y0: int(math.Floor(float64(tile.Y0) / scale)),
		X1: int(math.Ceil(float64(tile.X1) / scale)),
		Y1: int(math.Ceil(float64(tile.Y1) / scale)),
	}
}

// fallbackParallelism is GOMAXPROCS minus a reserve of one, at least 1
// (spec.md §5), used when no *parallel.WorkerPool was supplied to the
// Executor. internal/parallel.NewWorkerPool's own workers <= 0 default is
// GOMAXPROCS with no reserve.
func fallbackParallelism() int {
	if n := runtime.GOMAXPROCS(0) - 1; n > 0 {
		return n
	}
	return 1
}

func toInputImage(img *store.Image) *graph.InputImage {
	buf := img.Buf()
	return &graph.InputImage{
		Key:    img.Key,
		Bounds: img.Bounds,
		Pixels: buf.Data(),
		Stride: buf.Stride(),
	}
}

// framesOrSelf mirrors plan.framesForInput's resolution so the node the
// executor actually fetches from at render time agrees with what the
// planner recursed into. spec.md §8: a node whose FramesNeeded returns an
// entirely empty map declares no input fetches for any input at all; a
// non-empty map simply missing this input's entry still defaults to
// fetching at the caller's own time.
func framesOrSelf(fn graph.FramesNeeded, inputIdx int, view imagekey.View, self imagekey.Time) []imagekey.Time {
	if len(fn) == 0 {
		return nil
	}
	byView, ok := fn[inputIdx]
	if !ok {
		return []imagekey.Time{self}
	}
	ranges, ok := byView[view]
	if !ok || len(ranges) == 0 {
		return []imagekey.Time{self}
	}
	var out []imagekey.Time
	for _, r := range ranges {
		out = append(out, r.First)
	}
	return out
}

var (
	errAborted  = fmt.Errorf("exec: aborted")
	errRender   = fmt.Errorf("exec: render failure")
	errInvariant = fmt.Errorf("exec: invariant violation")
)

func classify(err error) Result {
	switch {
	case errors.Is(err, errAborted):
		return Result{Kind: ResultAborted}
	case errors.Is(err, errInvariant):
		return resultErr(ResultInvariantViolation, err)
	case errors.Is(err, errRender):
		return resultErr(ResultRenderFailure, err)
	default:
		return resultErr(ResultAllocationFailure, err)
	}
}
