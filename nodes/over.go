package nodes

import (
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// Over is a two-input compositor: input 0 is the base, input 1 is the
// layer drawn on top. Pixels are composited with premultiplied
// source-over alpha blending, the same formula as the teacher's
// sdf_accelerator.go blendPixel and scene/renderer.go compositeTile
// ("Result = Src + Dst * (1 - SrcA)"), generalized from "blend one shape
// onto a canvas" to "blend one Node's whole output onto another's."
type Over struct {
	Format imagekey.Rect
}

func (o *Over) Hash() uint64 { return 0xd1b54a32d192ed03 }

func (o *Over) InputCount() int { return 2 }

func (o *Over) InputKind(i int) graph.InputKind {
	if i == 0 {
		return graph.InputRegular
	}
	return graph.InputOptional
}

func (o *Over) Capabilities() graph.Capabilities {
	return graph.Capabilities{
		SupportsTiles:       true,
		SupportsRenderScale: graph.RenderScaleYes,
		HostMixing:          true,
	}
}

func (o *Over) ThreadSafety() graph.ThreadSafety { return graph.FullySafeFrame }

func (o *Over) RegionOfDefinition(args graph.RenderArgs, view imagekey.View) (imagekey.Rect, graph.Status) {
	return o.Format, graph.Ok
}

// RegionsOfInterest asks for exactly the output window from both inputs —
// Over never samples outside the pixel it is writing.
func (o *Over) RegionsOfInterest(args graph.RenderArgs, outputRoD imagekey.Rect, renderWindow imagekey.PixelRect, view imagekey.View) map[int]imagekey.Rect {
	window := imagekey.Rect{
		MinX: float64(renderWindow.X0), MinY: float64(renderWindow.Y0),
		MaxX: float64(renderWindow.X1), MaxY: float64(renderWindow.Y1),
	}
	return map[int]imagekey.Rect{0: window, 1: window}
}

// FramesNeeded declares an explicit self-time entry for both inputs.
// spec.md §8 treats an entirely empty map as "fetch neither input", which
// would silently blank out every composite; Over always needs both its
// base and its layer at its own time, so it says so rather than relying on
// the planner/executor's no-entry fallback.
func (o *Over) FramesNeeded(t imagekey.Time, view imagekey.View) graph.FramesNeeded {
	self := []imagekey.Range{{First: t, Last: t}}
	return graph.FramesNeeded{
		0: {view: self},
		1: {view: self},
	}
}

func (o *Over) TimeDomain() (first, last imagekey.Time) {
	return imagekey.Time(0), imagekey.Time(0)
}

func (o *Over) IsIdentity(args graph.RenderArgs, window imagekey.PixelRect, view imagekey.View) graph.IdentityResult {
	return graph.IdentityResult{}
}

func (o *Over) GetTransform(args graph.RenderArgs, view imagekey.View) graph.Transform {
	return graph.NoTransform
}

func (o *Over) Render(req graph.RenderRequest) graph.Status {
	out := req.Output
	if out == nil {
		return graph.Ok
	}
	base := req.Inputs[0]
	top := req.Inputs[1]

	for y := req.ROI.Y0; y < req.ROI.Y1; y++ {
		outRow := out.Stride * (y - out.Bounds.Y0)
		for x := req.ROI.X0; x < req.ROI.X1; x++ {
			outOff := outRow + (x-out.Bounds.X0)*4
			if outOff < 0 || outOff+4 > len(out.Pixels) {
				continue
			}

			dr, dg, db, da := sampleAt(base, x, y)
			sr, sg, sb, sa := sampleAt(top, x, y)

			inv := 1 - float64(sa)/255
			out.Pixels[outOff+0] = clampAdd(sr, dr, inv)
			out.Pixels[outOff+1] = clampAdd(sg, dg, inv)
			out.Pixels[outOff+2] = clampAdd(sb, db, inv)
			out.Pixels[outOff+3] = clampAdd(sa, da, inv)
		}
	}
	return graph.Ok
}

func (o *Over) BeginSequence(args graph.RenderArgs, first, last imagekey.Time) {}
func (o *Over) EndSequence()                                                  {}

// sampleAt returns the premultiplied RGBA8 sample at (x, y) from img, or
// fully transparent if img is nil or (x, y) falls outside its bounds (an
// unconnected or smaller-RoD input contributes nothing, per spec.md §3's
// "unconnected optional inputs").
func sampleAt(img *graph.InputImage, x, y int) (r, g, b, a uint8) {
	if img == nil || x < img.Bounds.X0 || x >= img.Bounds.X1 || y < img.Bounds.Y0 || y >= img.Bounds.Y1 {
		return 0, 0, 0, 0
	}
	off := img.Stride*(y-img.Bounds.Y0) + (x-img.Bounds.X0)*4
	if off < 0 || off+4 > len(img.Pixels) {
		return 0, 0, 0, 0
	}
	return img.Pixels[off+0], img.Pixels[off+1], img.Pixels[off+2], img.Pixels[off+3]
}

func clampAdd(src, dst uint8, dstCoverage float64) uint8 {
	v := float64(src) + float64(dst)*dstCoverage
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
