package pixbuf

import (
	"sync"

	"github.com/gogpu/compose/imagekey"
)

// Pool recycles Bufs by (width, height, components, depth) so the image
// store does not churn the allocator on every tile render, continuing the
// teacher's internal/image/pool.go bucketed-by-shape design.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[poolKey][]*Buf
	maxSize int
}

type poolKey struct {
	width, height int
	components    uint8
	depth         uint8
}

// NewPool creates a pool retaining at most maxPerBucket buffers per shape.
// maxPerBucket <= 0 means unlimited.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{buckets: make(map[poolKey][]*Buf), maxSize: maxPerBucket}
}

func key(width, height int, c imagekey.Components, d imagekey.BitDepth) poolKey {
	return poolKey{width, height, uint8(c), uint8(d)}
}

// Get returns a pooled Buf matching the requested shape, or a freshly
// described one (not yet allocated) if the pool has none. A reused buffer is
// cleared and its allocation (if any) is retained, so the caller still pays
// for EnsureAllocated only once per physical byte slice.
func (p *Pool) Get(width, height int, components imagekey.Components, depth imagekey.BitDepth) *Buf {
	k := key(width, height, components, depth)

	p.mu.Lock()
	bucket := p.buckets[k]
	if len(bucket) > 0 {
		buf := bucket[len(bucket)-1]
		p.buckets[k] = bucket[:len(bucket)-1]
		p.mu.Unlock()
		buf.Clear()
		return buf
	}
	p.mu.Unlock()

	buf, err := NewBuf(width, height, components, depth)
	if err != nil {
		return nil
	}
	return buf
}

// Put returns buf to the pool for reuse. If the bucket is already at
// capacity the buffer is dropped (left for the garbage collector).
func (p *Pool) Put(buf *Buf) {
	if buf == nil {
		return
	}
	buf.Clear()
	k := key(buf.width, buf.height, buf.components, buf.depth)

	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[k]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		return
	}
	p.buckets[k] = append(bucket, buf)
}
