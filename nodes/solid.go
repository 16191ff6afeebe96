// Package nodes supplies the minimal set of built-in graph.Node
// implementations cmd/compose's demo project format can reference: a
// constant-color generator and a Porter-Duff compositor. Everything else a
// real graph needs — the plugin host, a parameter/expression evaluator,
// project serialization itself — is spec.md §1's explicitly out-of-scope
// external collaborator; these two nodes exist only so the render core has
// something concrete to drive end to end.
package nodes

import (
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// Color is a straight (non-premultiplied) RGBA color in [0, 1], the format
// a project file specifies colors in.
type Color struct {
	R, G, B, A float64
}

// Solid is a zero-input generator that fills its region of definition with
// a constant color, the simplest possible Node implementation — grounded
// on the teacher's own RGBA fill path (gg.Context.SetRGBA + Fill), reduced
// to the one primitive a render-core demo needs: produce pixels with no
// upstream dependency.
type Solid struct {
	Format imagekey.Rect
	Fill   Color
}

func (s *Solid) Hash() uint64 {
	h := uint64(0x9e3779b97f4a7c15)
	h = mix(h, floatBits(s.Fill.R))
	h = mix(h, floatBits(s.Fill.G))
	h = mix(h, floatBits(s.Fill.B))
	h = mix(h, floatBits(s.Fill.A))
	return h
}

func (s *Solid) InputCount() int                { return 0 }
func (s *Solid) InputKind(i int) graph.InputKind { return graph.InputRegular }

func (s *Solid) Capabilities() graph.Capabilities {
	return graph.Capabilities{
		SupportsTiles:       true,
		SupportsRenderScale: graph.RenderScaleYes,
	}
}

func (s *Solid) ThreadSafety() graph.ThreadSafety { return graph.FullySafeFrame }

func (s *Solid) RegionOfDefinition(args graph.RenderArgs, view imagekey.View) (imagekey.Rect, graph.Status) {
	return s.Format, graph.Ok
}

func (s *Solid) RegionsOfInterest(args graph.RenderArgs, outputRoD imagekey.Rect, renderWindow imagekey.PixelRect, view imagekey.View) map[int]imagekey.Rect {
	return nil
}

func (s *Solid) FramesNeeded(t imagekey.Time, view imagekey.View) graph.FramesNeeded { return nil }

func (s *Solid) TimeDomain() (first, last imagekey.Time) {
	return imagekey.Time(0), imagekey.Time(0)
}

func (s *Solid) IsIdentity(args graph.RenderArgs, window imagekey.PixelRect, view imagekey.View) graph.IdentityResult {
	return graph.IdentityResult{}
}

func (s *Solid) GetTransform(args graph.RenderArgs, view imagekey.View) graph.Transform {
	return graph.NoTransform
}

// Render fills ROI with Fill, stored premultiplied — the convention the
// teacher's Pixmap uses internally (pixmap.go FillSpan/blend paths), even
// though its image.Image-facing ColorModel is the straight NRGBAModel.
func (s *Solid) Render(req graph.RenderRequest) graph.Status {
	out := req.Output
	if out == nil {
		return graph.Ok
	}
	r8, g8, b8, a8 := toBytes(premultiply(s.Fill))
	for y := req.ROI.Y0; y < req.ROI.Y1; y++ {
		row := out.Stride * (y - out.Bounds.Y0)
		for x := req.ROI.X0; x < req.ROI.X1; x++ {
			off := row + (x-out.Bounds.X0)*4
			if off < 0 || off+4 > len(out.Pixels) {
				continue
			}
			out.Pixels[off+0] = r8
			out.Pixels[off+1] = g8
			out.Pixels[off+2] = b8
			out.Pixels[off+3] = a8
		}
	}
	return graph.Ok
}

func (s *Solid) BeginSequence(args graph.RenderArgs, first, last imagekey.Time) {}
func (s *Solid) EndSequence()                                                  {}

// premultiply converts a straight color to the premultiplied-alpha form
// this module's RGBA8 buffers store.
func premultiply(c Color) Color {
	return Color{R: c.R * c.A, G: c.G * c.A, B: c.B * c.A, A: c.A}
}

func toBytes(c Color) (r, g, b, a uint8) {
	clamp := func(f float64) uint8 {
		if f < 0 {
			return 0
		}
		if f > 1 {
			return 255
		}
		return uint8(f*255 + 0.5)
	}
	return clamp(c.R), clamp(c.G), clamp(c.B), clamp(c.A)
}

func mix(h, v uint64) uint64 {
	h ^= v
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h
}

func floatBits(f float64) uint64 {
	return uint64(f * 1e9)
}
