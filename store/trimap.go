package store

import (
	"sync"

	"github.com/gogpu/compose/imagekey"
)

// cellSize is the edge length, in pixels, of one trimap cell. Tracking
// render state at cell granularity (rather than per-pixel) keeps the bitmap
// cheap for large images while still letting minimal_rect find the
// unrendered remainder of a region of interest down to a coarse grain,
// continuing the teacher's internal/parallel.DirtyRegion tile-granularity
// bitmap generalized from two states (clean/dirty) to the three spec.md
// §4.1(iii) names: unrendered, rendering, rendered.
const cellSize = 16

// cellState is the per-cell render state.
type cellState uint8

const (
	cellUnrendered cellState = iota
	cellRendering
	cellRendered
)

// Trimap tracks, at cell granularity, which parts of an Image have been
// rendered. It generalizes the teacher's atomic-word dirty bitmap
// (internal/parallel/dirty.go) from a 1-bit-per-tile "dirty" flag to a
// one-byte-per-cell {unrendered, rendering, rendered} state, so one thread can
// detect that another thread is already rendering a rectangle and wait
// instead of duplicating the work (spec.md §4.1(iii)).
//
// Thread safety: Trimap is safe for concurrent use; Mark/Rendered/Clear all
// take an internal mutex rather than using lock-free atomics, because a
// packed 2-bit state would need a compare-and-swap loop per cell and a plain mutex over
// the owning Image's bounds is simpler and the bitmap is not on the hot
// per-pixel path.
type Trimap struct {
	mu           sync.Mutex
	cellsX       int
	cellsY       int
	bounds       imagekey.PixelRect
	states       []cellState
	renderingCnd *sync.Cond
}

// NewTrimap creates a trimap covering bounds, all cells starting unrendered.
func NewTrimap(bounds imagekey.PixelRect) *Trimap {
	t := &Trimap{bounds: bounds}
	if !bounds.IsEmpty() {
		t.cellsX = (bounds.Width() + cellSize - 1) / cellSize
		t.cellsY = (bounds.Height() + cellSize - 1) / cellSize
		t.states = make([]cellState, t.cellsX*t.cellsY)
	}
	t.renderingCnd = sync.NewCond(&t.mu)
	return t
}

func (t *Trimap) cellIndex(px, py int) (int, bool) {
	if px < t.bounds.X0 || px >= t.bounds.X1 || py < t.bounds.Y0 || py >= t.bounds.Y1 {
		return 0, false
	}
	cx := (px - t.bounds.X0) / cellSize
	cy := (py - t.bounds.Y0) / cellSize
	return cy*t.cellsX + cx, true
}

func (t *Trimap) cellRect(idx int) imagekey.PixelRect {
	cy := idx / t.cellsX
	cx := idx % t.cellsX
	x0 := t.bounds.X0 + cx*cellSize
	y0 := t.bounds.Y0 + cy*cellSize
	return imagekey.PixelRect{
		X0: x0, Y0: y0,
		X1: min(x0+cellSize, t.bounds.X1),
		Y1: min(y0+cellSize, t.bounds.Y1),
	}
}

func (t *Trimap) forEachCellIn(r imagekey.PixelRect, fn func(idx int)) {
	r = r.Intersect(t.bounds)
	if r.IsEmpty() {
		return
	}
	cx0 := (r.X0 - t.bounds.X0) / cellSize
	cy0 := (r.Y0 - t.bounds.Y0) / cellSize
	cx1 := (r.X1 - 1 - t.bounds.X0) / cellSize
	cy1 := (r.Y1 - 1 - t.bounds.Y0) / cellSize
	for cy := cy0; cy <= cy1; cy++ {
		for cx := cx0; cx <= cx1; cx++ {
			fn(cy*t.cellsX + cx)
		}
	}
}

// MarkForRendering transitions every unrendered cell touching rect to
// "rendering." Cells already rendered or rendering are left untouched.
func (t *Trimap) MarkForRendering(rect imagekey.PixelRect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forEachCellIn(rect, func(idx int) {
		if t.states[idx] == cellUnrendered {
			t.states[idx] = cellRendering
		}
	})
}

// MarkRendered transitions every cell touching rect to "rendered" and wakes
// any goroutine blocked in AwaitRendered for this region.
func (t *Trimap) MarkRendered(rect imagekey.PixelRect) {
	t.mu.Lock()
	t.forEachCellIn(rect, func(idx int) { t.states[idx] = cellRendered })
	t.mu.Unlock()
	t.renderingCnd.Broadcast()
}

// ClearBitmap resets every cell touching rect back to "unrendered." Used
// when an abort unwinds mid-render so other threads do not wait forever on
// abandoned work (spec.md §4.5 step 7, §8 property 5).
func (t *Trimap) ClearBitmap(rect imagekey.PixelRect) {
	t.mu.Lock()
	t.forEachCellIn(rect, func(idx int) {
		if t.states[idx] == cellRendering {
			t.states[idx] = cellUnrendered
		}
	})
	t.mu.Unlock()
	t.renderingCnd.Broadcast()
}

// MinimalRect returns the sub-region of roi that is not yet "rendered": the
// union of every unrendered or rendering cell intersecting roi. An empty
// result means roi is fully covered.
func (t *Trimap) MinimalRect(roi imagekey.PixelRect) imagekey.PixelRect {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out imagekey.PixelRect
	t.forEachCellIn(roi, func(idx int) {
		if t.states[idx] != cellRendered {
			out = out.Union(t.cellRect(idx).Intersect(roi))
		}
	})
	return out
}

// AnyRendering reports whether any cell touching rect is currently in the
// "rendering" state (another thread is actively producing it).
func (t *Trimap) AnyRendering(rect imagekey.PixelRect) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	t.forEachCellIn(rect, func(idx int) {
		if t.states[idx] == cellRendering {
			found = true
		}
	})
	return found
}

// AwaitRendered blocks until no cell touching rect is in the "rendering"
// state (it becomes either fully rendered or reverts to unrendered via
// ClearBitmap after an abort). This backs the executor's "take-image-lock"
// return policy (spec.md §4.5 "Return policy").
func (t *Trimap) AwaitRendered(rect imagekey.PixelRect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.anyRenderingLocked(rect) {
		t.renderingCnd.Wait()
	}
}

func (t *Trimap) anyRenderingLocked(rect imagekey.PixelRect) bool {
	found := false
	t.forEachCellIn(rect, func(idx int) {
		if t.states[idx] == cellRendering {
			found = true
		}
	})
	return found
}

// FullyRendered reports whether every cell is in the "rendered" state.
func (t *Trimap) FullyRendered() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := 0
	for _, s := range t.states {
		if s == cellRendered {
			count++
		}
	}
	return count == len(t.states)
}

// renderedCellCount is a test/diagnostic helper exposing internal state
// without exporting the cellState type.
func (t *Trimap) renderedCellCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, s := range t.states {
		if s == cellRendered {
			n++
		}
	}
	return n
}
