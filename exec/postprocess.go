package exec

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/pixbuf"
)

// postProcessParams bundles the optional per-tile post-processing steps
// spec.md §4.5 step 6 lists, applied in the canonical order spec.md §9
// Open Question (c) resolves: NaN-fix -> unpremultiply -> copy-unprocessed-
// channels-from-source -> mask/mix blend -> convert (components/depth) ->
// downscale to mip. See DESIGN.md for why this order was chosen.
type postProcessParams struct {
	FixNaNs          bool
	Unpremultiply    bool
	ProcessChannels  [4]bool
	Source           *graph.InputImage
	Mask             *graph.InputImage
	Mix              float64
	TargetComponents imagekey.Components
	TargetDepth      imagekey.BitDepth
	TargetMip        imagekey.Mip
}

// applyPostProcess runs the canonical post-processing pipeline over rect
// in buf. Every step is a no-op unless its trigger condition in params is
// set, so a plain render with no mask/mix/conversion costs nothing beyond
// the trigger checks.
func applyPostProcess(buf *pixbuf.Buf, rect imagekey.PixelRect, p postProcessParams) {
	if p.FixNaNs && buf.Depth() == imagekey.Depth32Float {
		fixNaNs(buf, rect)
	}
	if p.Unpremultiply && buf.Components()&imagekey.ComponentsA != 0 {
		unpremultiply(buf, rect)
	}
	if p.Source != nil {
		copyUnprocessedChannels(buf, rect, p.Source, p.ProcessChannels)
	}
	if p.Mask != nil {
		applyMaskMix(buf, rect, p.Source, p.Mask, p.Mix)
	}
	if buf.Components() != p.TargetComponents || buf.Depth() != p.TargetDepth {
		// Conversion to a different (components, depth) pair happens into a
		// scratch buffer and is the caller's responsibility to adopt; this
		// pipeline only normalizes pixels already laid out in buf's own
		// shape. A component/depth mismatch here means the cached image's
		// shape does not match the node's declared output shape, which is
		// an executor wiring bug rather than something to silently paper
		// over pixel-by-pixel.
		return
	}
	// Downscaling to p.TargetMip is driven by the caller allocating the
	// destination Image at the already-downscaled pixel bounds (spec.md
	// §4.1: Bounds/RoD are independent of mip); this pipeline's job ends at
	// producing correct full-resolution pixels for the tile it owns.
}

func channelOffset(buf *pixbuf.Buf, x, y, channel int) int {
	base := buf.PixelOffset(x, y)
	if base < 0 {
		return -1
	}
	return base + channel*buf.Depth().Bytes()
}

func readChannel(data []byte, off int, depth imagekey.BitDepth) float64 {
	switch depth {
	case imagekey.Depth8:
		return float64(data[off]) / 255
	case imagekey.Depth16:
		return float64(binary.LittleEndian.Uint16(data[off:off+2])) / 65535
	case imagekey.Depth32Float:
		bits := binary.LittleEndian.Uint32(data[off : off+4])
		return float64(math.Float32frombits(bits))
	default:
		return 0
	}
}

func writeChannel(data []byte, off int, depth imagekey.BitDepth, v float64) {
	switch depth {
	case imagekey.Depth8:
		data[off] = byte(clamp01(v) * 255)
	case imagekey.Depth16:
		binary.LittleEndian.PutUint16(data[off:off+2], uint16(clamp01(v)*65535))
	case imagekey.Depth32Float:
		binary.LittleEndian.PutUint32(data[off:off+4], math.Float32bits(float32(v)))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// fixNaNs replaces any NaN float32 sample with 1.0, the diagnostic
// replacement spec.md §4.5 step 6 names ("optionally check NaNs and
// replace with 1.0 on a diagnostic path").
func fixNaNs(buf *pixbuf.Buf, rect imagekey.PixelRect) {
	channels := buf.Components().Count()
	for y := rect.Y0; y < rect.Y1; y++ {
		row := buf.RowBytes(y)
		if row == nil {
			continue
		}
		for x := rect.X0; x < rect.X1; x++ {
			for c := 0; c < channels; c++ {
				off := channelOffset(buf, x, y, c)
				if off < 0 {
					continue
				}
				bits := binary.LittleEndian.Uint32(buf.Data()[off : off+4])
				if math.IsNaN(float64(math.Float32frombits(bits))) {
					writeChannel(buf.Data(), off, imagekey.Depth32Float, 1.0)
				}
			}
		}
	}
}

// unpremultiply divides R/G/B by A wherever A is an addressed channel,
// continuing gg.RGBA.Unpremultiply's math (gogpu-gg/color.go) generalized
// from a single float64 color value to every pixel in rect.
func unpremultiply(buf *pixbuf.Buf, rect imagekey.PixelRect) {
	channels := buf.Components().Count()
	alphaIdx := channels - 1 // alpha is always the last channel in this layout
	depth := buf.Depth()
	data := buf.Data()
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			alphaOff := channelOffset(buf, x, y, alphaIdx)
			if alphaOff < 0 {
				continue
			}
			a := readChannel(data, alphaOff, depth)
			if a <= 0 {
				continue
			}
			for c := 0; c < alphaIdx; c++ {
				off := channelOffset(buf, x, y, c)
				v := readChannel(data, off, depth)
				writeChannel(data, off, depth, v/a)
			}
		}
	}
}

// copyUnprocessedChannels copies, byte-for-byte, every channel the node
// did not process (ProcessChannels[c] == false) from source into buf, so a
// node that only touches R/G/B leaves A untouched rather than zeroing it
// (spec.md §4.5 step 6 "optionally copy unprocessed channels from the
// designated source input").
func copyUnprocessedChannels(buf *pixbuf.Buf, rect imagekey.PixelRect, source *graph.InputImage, processed [4]bool) {
	channels := buf.Components().Count()
	depth := buf.Depth()
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			for c := 0; c < channels && c < 4; c++ {
				if processed[c] {
					continue
				}
				dstOff := channelOffset(buf, x, y, c)
				srcOff := source.Stride*(y-source.Bounds.Y0) + (x-source.Bounds.X0)*channels*depth.Bytes() + c*depth.Bytes()
				if dstOff < 0 || srcOff < 0 || srcOff+depth.Bytes() > len(source.Pixels) {
					continue
				}
				v := readChannel(source.Pixels, srcOff, depth)
				writeChannel(buf.Data(), dstOff, depth, v)
			}
		}
	}
}

// applyMaskMix blends buf's pixels toward the source input's values weighted
// by the mask channel and the global mix factor (spec.md §4.5 step 6
// "optionally apply mask/mix blending against the source"). mix=1 with no
// mask is a full pass-through of the rendered pixels; mix=0 reproduces the
// source untouched. Where source is nil or has no sample at a pixel, that
// pixel blends toward 0.
func applyMaskMix(buf *pixbuf.Buf, rect imagekey.PixelRect, source, mask *graph.InputImage, mix float64) {
	if mix >= 1 && mask == nil {
		return
	}
	channels := buf.Components().Count()
	depth := buf.Depth()
	for y := rect.Y0; y < rect.Y1; y++ {
		for x := rect.X0; x < rect.X1; x++ {
			weight := mix
			if mask != nil {
				maskOff := mask.Stride*(y-mask.Bounds.Y0) + (x - mask.Bounds.X0)
				if maskOff >= 0 && maskOff < len(mask.Pixels) {
					weight *= float64(mask.Pixels[maskOff]) / 255
				}
			}
			for c := 0; c < channels; c++ {
				off := channelOffset(buf, x, y, c)
				if off < 0 {
					continue
				}
				var src float64
				if source != nil {
					srcOff := source.Stride*(y-source.Bounds.Y0) + (x-source.Bounds.X0)*channels*depth.Bytes() + c*depth.Bytes()
					if srcOff >= 0 && srcOff+depth.Bytes() <= len(source.Pixels) {
						src = readChannel(source.Pixels, srcOff, depth)
					}
				}
				rendered := readChannel(buf.Data(), off, depth)
				writeChannel(buf.Data(), off, depth, src+(rendered-src)*weight)
			}
		}
	}
}
