// Command compose is the render-core driver named in spec.md §6's CLI
// surface: it loads a project, renders a range of frames through the
// plan/exec pipeline, and hands each finished frame to a writer. It is the
// module's only executable, continuing the teacher's cmd/ggdemo pattern
// (stdlib flag, one main package, no cobra/pflag) and owns the module's
// one log/slog logger — every other package returns errors instead of
// logging, exactly as gogpu-gg's recording and scene packages do.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/gogpu/compose/actioncache"
	"github.com/gogpu/compose/cancel"
	"github.com/gogpu/compose/deps"
	"github.com/gogpu/compose/exec"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/parallel"
	"github.com/gogpu/compose/plan"
	"github.com/gogpu/compose/rendercontext"
	"github.com/gogpu/compose/schedule"
	"github.com/gogpu/compose/stats"
	"github.com/gogpu/compose/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if fs.project == "" {
		log.Error("missing required flag", "flag", "--project")
		return 2
	}

	spans, err := parseFrameRangeSpans(fs.frames)
	if err != nil {
		log.Error("invalid frames", "err", err)
		return 2
	}

	p, err := loadProjectFull(fs.project)
	if err != nil {
		log.Error("failed to load project", "err", err)
		return 2
	}

	wc, ok := p.Writers[fs.writer]
	if !ok {
		log.Error("unknown writer", "name", fs.writer)
		return 2
	}
	w, err := newWriter(wc.Type)
	if err != nil {
		log.Error("invalid writer", "err", err)
		return 2
	}

	rnd := newRenderer(p.Graph, p.Format, fs.stats)
	defer rnd.pool.Close()

	sr := newSchedulerRenderer(rnd, p.Root)
	viewer := &cliViewer{
		sr:        sr,
		w:         w,
		r:         rnd,
		log:       log,
		withStats: fs.stats,
		pathFor: func(t imagekey.Time) string {
			return fmt.Sprintf("%s.%04d.png", wc.Path, int(t))
		},
	}

	// Parallelism is 1: renderer's deps.Walker registers one render's
	// context per node-id under a single shared map (cleared after each
	// render), which a second concurrent render would stomp. The
	// scheduler's queue/output stages still give this run ordered delivery,
	// cooperative cancellation, and one render age per IntentRenderRange
	// span instead of per frame (spec.md §4.4).
	sched := schedule.New(p.Root, sr, viewer, schedule.Options{Parallelism: 1, QueueCapacity: 4})

	// Each span is submitted and fully drained before the next is admitted:
	// a newer SubmitRange call aborts any older still in-flight age (spec.md
	// §4.4 "Admission"), and an aborted task never reaches cliViewer at all
	// (outputLoop drops it before calling OnFrameComplete) — so admitting
	// span N+1 while span N is still rendering would both abort span N
	// short and hang its wait group forever.
	for _, span := range spans {
		if viewer.failureCount() > 0 {
			// spec.md §7: sequential renders stop on first failure — at
			// the granularity of a --frames span, since an in-flight
			// span's tasks already admitted to the scheduler can't be
			// recalled without losing their completion signal (see
			// cliViewer's doc comment).
			break
		}
		var wg sync.WaitGroup
		wg.Add(int(span.Hi-span.Lo) + 1)
		viewer.wg = &wg
		sched.SubmitRange(schedule.IntentRenderRange, span.Lo, span.Hi, 0)
		wg.Wait()
	}
	sched.Close()

	if viewer.failureCount() > 0 {
		return 1
	}
	return 0
}

func writeStatsReport(r *stats.Recorder, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return r.WriteReport(f)
}

// renderer bundles the wiring every frame render needs: the graph and the
// plan/exec pipeline. Render ages/tokens (spec.md §4.6) are minted by
// whichever schedule.Scheduler drives this renderer's frames, not here, so
// a batch of frames can share one age (see renderFrameWithToken).
type renderer struct {
	graph    *graph.Graph
	executor *exec.Executor
	walker   *deps.Walker
	actions  *actioncache.Store
	pool     *parallel.WorkerPool
	stats    *stats.Recorder
}

func newRenderer(g *graph.Graph, format imagekey.Rect, withStats bool) *renderer {
	actions := actioncache.New()
	st := store.New(64)
	planner := plan.New(g, actions, format)
	pool := parallel.NewWorkerPool(workerPoolSize())
	executor := exec.New(g, actions, planner, st, pool)

	var recorder *stats.Recorder
	if withStats {
		recorder = stats.New()
		executor.Stats = recorder
	}

	return &renderer{
		graph:    g,
		executor: executor,
		walker:   deps.New(g),
		actions:  actions,
		pool:     pool,
		stats:    recorder,
	}
}

// renderFrameWithToken renders one frame using a caller-supplied
// cancellation token instead of minting its own, so a batch of frames
// admitted together (schedule.Scheduler's IntentRenderRange) can share one
// render age and abort as a unit (spec.md §4.4, §4.6).
func (r *renderer) renderFrameWithToken(root graph.NodeID, t imagekey.Time, view imagekey.View, token cancel.Token) (*store.Image, exec.Result) {
	args := graph.RenderArgs{Time: t, View: view, Mip: 0, Scale: 1}
	ctx := rendercontext.New(args, 0, token, r.actions)

	r.walker.Register(root, ctx)
	defer r.walker.Clear()

	window, status := regionOfDefinitionWindow(r.graph, root, args)
	if !status.OK {
		return nil, exec.Result{Kind: exec.ResultPlanFailure, Err: status.Err}
	}

	return r.executor.RenderFrame(root, ctx, window)
}

// regionOfDefinitionWindow asks root for its region of definition and
// projects it to pixel space at mip 0, the render window a CLI render
// covers when no interactive viewport narrows it (spec.md §4.5 step 1).
func regionOfDefinitionWindow(g *graph.Graph, root graph.NodeID, args graph.RenderArgs) (imagekey.PixelRect, graph.Status) {
	node := g.GetNode(root)
	if node == nil {
		return imagekey.PixelRect{}, graph.Failed(fmt.Errorf("compose: unknown root node %d", root))
	}
	rod, status := node.RegionOfDefinition(args, 0)
	if !status.OK {
		return imagekey.PixelRect{}, status
	}
	return rod.ToPixel(args.Mip, 1), graph.Ok
}

// workerPoolSize is spec.md §5's worker pool sizing rule:
// runtime.GOMAXPROCS(0) minus a reserve of one, continuing the teacher's
// NewWorkerPool "workers <= 0 means GOMAXPROCS" default generalized with
// that reserve.
func workerPoolSize() int {
	if n := runtime.GOMAXPROCS(0) - 1; n > 0 {
		return n
	}
	return 1
}
