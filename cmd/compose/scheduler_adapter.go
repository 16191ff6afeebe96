package main

import (
	"log/slog"
	"sync"

	"github.com/gogpu/compose/exec"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/schedule"
	"github.com/gogpu/compose/store"
)

// schedulerRenderer adapts renderer's plan/exec pipeline to schedule.Renderer
// (component C4's seam onto C5), the interface package schedule depends on
// instead of importing exec directly. Neither schedule.Renderer.Render nor
// iface.Viewer.OnFrameComplete carries pixel data — spec.md §4.4/§6 describe
// status delivery only — so this command stashes each render's resulting
// *store.Image here for cliViewer to claim by time once delivery happens.
type schedulerRenderer struct {
	r    *renderer
	root graph.NodeID

	mu     sync.Mutex
	images map[imagekey.Time]*store.Image
}

func newSchedulerRenderer(r *renderer, root graph.NodeID) *schedulerRenderer {
	return &schedulerRenderer{r: r, root: root, images: make(map[imagekey.Time]*store.Image)}
}

func (sr *schedulerRenderer) Render(task schedule.Task) graph.Status {
	img, result := sr.r.renderFrameWithToken(sr.root, task.Time, task.View, task.Token)
	switch result.Kind {
	case exec.ResultOK:
	case exec.ResultAborted:
		return graph.Aborted
	default:
		return graph.Failed(result.Err)
	}
	if img != nil {
		sr.mu.Lock()
		sr.images[task.Time] = img
		sr.mu.Unlock()
	}
	return graph.Ok
}

// takeImage returns and forgets the image stashed for t by the most recent
// Render call, if any. cliViewer.OnFrameComplete claims it exactly once per
// delivered frame.
func (sr *schedulerRenderer) takeImage(t imagekey.Time) (*store.Image, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	img, ok := sr.images[t]
	delete(sr.images, t)
	return img, ok
}

// cliViewer is schedule.Scheduler's iface.Viewer for command compose: on
// each in-order delivery it claims the rendered image from a
// schedulerRenderer, writes it, and logs the outcome the same way the
// former direct-call loop did.
//
// Delivery of one frame here always corresponds to one call to Done on wg
// (set by run before submitting), so run can wait for every admitted frame
// to be accounted for before closing the scheduler. An aborted task is
// never delivered to a Viewer at all (outputLoop drops it before calling
// OnFrameComplete) — so unlike a truly interactive viewer, this one must
// never cause a task it is still waiting on to be aborted, or wg would
// never reach zero. That is why failures here stop run from admitting any
// further --frames span (spec.md §7 "sequential renders stop on first
// failure") instead of reaching back into the scheduler to abort
// already-admitted, in-flight work.
type cliViewer struct {
	sr        *schedulerRenderer
	w         writer
	r         *renderer
	log       *slog.Logger
	withStats bool
	pathFor   func(imagekey.Time) string
	wg        *sync.WaitGroup

	mu       sync.Mutex
	failures int
}

func (v *cliViewer) OnTileReady(imagekey.Key, imagekey.PixelRect, uint64) {}

func (v *cliViewer) OnFrameComplete(key imagekey.Key, age uint64, status graph.Status) {
	defer v.wg.Done()
	t := key.Time
	img, ok := v.sr.takeImage(t)

	if !status.OK {
		v.log.Error("frame failed", "frame", float64(t), "err", status.Err)
		if img != nil {
			img.Release()
		}
		v.recordFailure()
		return
	}
	if !ok || img == nil {
		// The render window fell entirely outside root's region of
		// definition — nothing to write, but not a failure.
		v.log.Warn("frame produced no pixels", "frame", float64(t))
		return
	}

	path := v.pathFor(t)
	if err := v.w.Write(img, path); err != nil {
		img.Release()
		v.log.Error("write failed", "frame", float64(t), "path", path, "err", err)
		v.recordFailure()
		return
	}
	img.Release()
	v.log.Info("rendered frame", "frame", float64(t), "path", path)

	if v.withStats {
		statsPath := path + ".stats.txt"
		if err := writeStatsReport(v.r.stats, statsPath); err != nil {
			v.log.Warn("failed to write stats report", "path", statsPath, "err", err)
		}
	}
}

func (v *cliViewer) recordFailure() {
	v.mu.Lock()
	v.failures++
	v.mu.Unlock()
}

func (v *cliViewer) failureCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.failures
}
