package pixbuf

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/compose/imagekey"
)

// ImageAdapter exposes a rectangle of a Buf as a standard library
// image.Image/draw.Image, so golang.org/x/image/draw's scalers can read and
// write it directly instead of this module hand-rolling a resampling
// filter (spec.md §4.5 step 6, "downscale to the requested mip-level").
//
// Color is round-tripped through color.NRGBA64 regardless of the Buf's own
// (Components, BitDepth) pair; a channel the Buf does not carry reads back
// as its Color zero value (0 for color, full opacity for a missing alpha
// channel) and is simply never written back by Set.
type ImageAdapter struct {
	Buf  *Buf
	Rect image.Rectangle
}

func (a ImageAdapter) ColorModel() color.Model { return color.NRGBA64Model }

func (a ImageAdapter) Bounds() image.Rectangle { return a.Rect }

func (a ImageAdapter) At(x, y int) color.Color {
	depth := a.Buf.Depth()
	data := a.Buf.Data()
	read := func(c int) uint16 {
		off := a.Buf.PixelOffset(x, y)
		if off < 0 {
			return 0
		}
		return sampleTo16(data, off+c*depth.Bytes(), depth)
	}

	var r, g, b, al uint16
	switch a.Buf.Components() {
	case imagekey.ComponentsA:
		al = read(0)
	case imagekey.ComponentsRGB:
		r, g, b, al = read(0), read(1), read(2), 0xffff
	case imagekey.ComponentsRGBA:
		r, g, b, al = read(0), read(1), read(2), read(3)
	}
	return color.NRGBA64{R: r, G: g, B: b, A: al}
}

func (a ImageAdapter) Set(x, y int, c color.Color) {
	off := a.Buf.PixelOffset(x, y)
	if off < 0 {
		return
	}
	nrgba := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	depth := a.Buf.Depth()
	data := a.Buf.Data()

	switch a.Buf.Components() {
	case imagekey.ComponentsA:
		write16ToSample(data, off, depth, nrgba.A)
	case imagekey.ComponentsRGB:
		write16ToSample(data, off, depth, nrgba.R)
		write16ToSample(data, off+depth.Bytes(), depth, nrgba.G)
		write16ToSample(data, off+2*depth.Bytes(), depth, nrgba.B)
	case imagekey.ComponentsRGBA:
		write16ToSample(data, off, depth, nrgba.R)
		write16ToSample(data, off+depth.Bytes(), depth, nrgba.G)
		write16ToSample(data, off+2*depth.Bytes(), depth, nrgba.B)
		write16ToSample(data, off+3*depth.Bytes(), depth, nrgba.A)
	}
}

func sampleTo16(data []byte, off int, depth imagekey.BitDepth) uint16 {
	switch depth {
	case imagekey.Depth8:
		v := data[off]
		return uint16(v)<<8 | uint16(v)
	case imagekey.Depth16:
		return binary.LittleEndian.Uint16(data[off : off+2])
	case imagekey.Depth32Float:
		bits := binary.LittleEndian.Uint32(data[off : off+4])
		f := math.Float32frombits(bits)
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		return uint16(f * 65535)
	default:
		return 0
	}
}

func write16ToSample(data []byte, off int, depth imagekey.BitDepth, v uint16) {
	switch depth {
	case imagekey.Depth8:
		data[off] = byte(v >> 8)
	case imagekey.Depth16:
		binary.LittleEndian.PutUint16(data[off:off+2], v)
	case imagekey.Depth32Float:
		binary.LittleEndian.PutUint32(data[off:off+4], math.Float32bits(float32(v)/65535))
	}
}
