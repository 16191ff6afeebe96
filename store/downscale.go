package store

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/pixbuf"
)

// DownscaleTile resamples the full-resolution pixels of src (covering
// srcBounds, in mip-0 pixel coordinates) into dst (covering dstBounds, in
// the target mip's pixel coordinates), for nodes whose
// Capabilities().SupportsRenderScale is RenderScaleNo and therefore cannot
// render directly at a reduced scale (spec.md §4.5 step 6, "downscale to
// the requested mip-level"). Uses golang.org/x/image/draw's bilinear
// scaler rather than a hand-rolled box filter, continuing the teacher's
// go.mod dependency on golang.org/x/image.
func DownscaleTile(dst *pixbuf.Buf, dstBounds imagekey.PixelRect, src *pixbuf.Buf, srcBounds imagekey.PixelRect) {
	srcImg := pixbuf.ImageAdapter{Buf: src, Rect: toImageRect(srcBounds)}
	dstImg := pixbuf.ImageAdapter{Buf: dst, Rect: toImageRect(dstBounds)}
	draw.ApproxBiLinear.Scale(dstImg, dstImg.Rect, srcImg, srcImg.Rect, draw.Src, nil)
}

func toImageRect(r imagekey.PixelRect) image.Rectangle {
	return image.Rect(r.X0, r.Y0, r.X1, r.Y1)
}
