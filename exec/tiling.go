package exec

import (
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// DefaultTileShape is spec.md §4.5 step 3's adaptive tiling policy: one
// tile per output scanline when the effect is fully-safe-frame (so each
// scanline can run on its own worker), one tile per frame otherwise.
//
// Continues internal/parallel.TileGrid's row-major fixed-size tiling
// (gogpu-gg/internal/parallel/tile_grid.go, kept as reference but not
// reused directly — see DESIGN.md), generalized from fixed 64×64 tiles to
// a caller-supplied TileShapePolicy so the shape can depend on the node's
// declared thread-safety class instead of being a constant.
func DefaultTileShape(safety graph.ThreadSafety, window imagekey.PixelRect) []imagekey.PixelRect {
	if window.IsEmpty() {
		return nil
	}
	if safety != graph.FullySafeFrame {
		return []imagekey.PixelRect{window}
	}

	height := window.Height()
	tiles := make([]imagekey.PixelRect, 0, height)
	for y := window.Y0; y < window.Y1; y++ {
		tiles = append(tiles, imagekey.PixelRect{X0: window.X0, Y0: y, X1: window.X1, Y1: y + 1})
	}
	return tiles
}
