// Package store is the image & tile store (spec.md §4.1, component C1): it
// owns pixel buffers keyed by ImageKey, reference-counts them, and tracks
// which sub-rectangles of each image have already been rendered.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/internal/pixbuf"
)

// Image is one cached frame: a pixel buffer plus its bounds, region of
// definition, and render-state trimap (spec.md §3 "Image").
//
// Allocation is lazy (spec.md §4.1(ii)): LookupOrCreate can return an Image
// before its pixel buffer is sized; the allocMu lock below is what lets the
// first caller to actually touch pixels win that race, continuing the
// teacher's internal/image.Pool "clear on reuse, allocate on first touch"
// discipline generalized to a race-safe single allocation instead of a
// pool checkout.
type Image struct {
	Key imagekey.Key

	Bounds      imagekey.PixelRect // pixel bounds this Image instance covers
	RoD         imagekey.Rect      // canonical region of definition
	PixelAspect float64

	allocMu sync.Mutex
	buf     *pixbuf.Buf

	Trimap *Trimap

	refCount atomic.Int32
	holder   any // the Store entry or caller that created this image, for RemoveAllWithHolder
}

// newImage builds an Image with a described-but-not-yet-allocated buffer.
func newImage(key imagekey.Key, bounds imagekey.PixelRect, rod imagekey.Rect, pixelAspect float64, holder any) *Image {
	buf, _ := pixbuf.NewBuf(max(bounds.Width(), 1), max(bounds.Height(), 1), key.Components, key.Depth)
	buf.SetOrigin(bounds.X0, bounds.Y0)
	img := &Image{
		Key:         key,
		Bounds:      bounds,
		RoD:         rod,
		PixelAspect: pixelAspect,
		buf:         buf,
		Trimap:      NewTrimap(bounds),
		holder:      holder,
	}
	img.refCount.Store(1)
	return img
}

// NewImageFromBytes builds an Image around an already-populated pixel
// buffer (e.g. a memory-mapped disk-tier file) rather than a lazily
// allocated one. Used by diskstore.Store.Load so a disk-tier hit promotes
// straight into the RAM tier without copying pixel data.
func NewImageFromBytes(key imagekey.Key, bounds imagekey.PixelRect, rod imagekey.Rect, pixelAspect float64, data []byte) *Image {
	buf, err := pixbuf.WrapBytes(max(bounds.Width(), 1), max(bounds.Height(), 1), key.Components, key.Depth, data)
	if err != nil {
		buf, _ = pixbuf.NewBuf(max(bounds.Width(), 1), max(bounds.Height(), 1), key.Components, key.Depth)
	}
	buf.SetOrigin(bounds.X0, bounds.Y0)
	img := &Image{
		Key:         key,
		Bounds:      bounds,
		RoD:         rod,
		PixelAspect: pixelAspect,
		buf:         buf,
		Trimap:      NewTrimap(bounds),
	}
	img.Trimap.MarkForRendering(bounds)
	img.Trimap.MarkRendered(bounds)
	img.refCount.Store(1)
	return img
}

// Buf returns the pixel buffer, allocating it on first touch. Multiple
// goroutines may call Buf concurrently; allocMu ensures only one of them
// performs the underlying allocation (spec.md §4.1(ii)).
func (img *Image) Buf() *pixbuf.Buf {
	img.allocMu.Lock()
	defer img.allocMu.Unlock()
	img.buf.EnsureAllocated()
	return img.buf
}

// Retain increments the reference count. Every LookupOrCreate/Lookup result
// the caller keeps a pointer to must be paired with a Release.
func (img *Image) Retain() {
	img.refCount.Add(1)
}

// Release decrements the reference count, reporting whether it reached
// zero. Callers must not touch the Image again once Release returns true;
// the Store is responsible for final disposal (e.g. demoting to the disk
// tier) once every referencer has released.
func (img *Image) Release() bool {
	return img.refCount.Add(-1) == 0
}

// RefCount returns the current reference count, for diagnostics and tests.
func (img *Image) RefCount() int32 {
	return img.refCount.Load()
}

// ByteSize returns the pixel buffer's footprint in bytes, allocated or not —
// the unit Store.SetRAMBudget's budget is denominated in.
func (img *Image) ByteSize() int64 {
	return int64(img.buf.Stride()) * int64(img.buf.Height())
}
