// Package cancel implements cooperative cancellation and render versioning
// (spec.md §4.6, component C6): a monotonic render-age counter and an abort
// flag every suspension point in exec/schedule polls.
//
// Continues the redesign note in spec.md §9 directly: "Replace ad-hoc abort
// booleans with a single CancellationToken containing the render age and a
// root reference; every suspension point takes &CancellationToken."
package cancel

import (
	"sync/atomic"

	"github.com/gogpu/compose/graph"
)

// Token is a CancellationToken: the render age it was admitted with, the
// output node it is rendering for, and a shared abort flag. Copying a Token
// shares the same underlying flag — every tile, worker, and recursive
// upstream fetch for one frame task must use the same Token instance (or a
// copy of it) so aborting one call aborts the whole tree.
type Token struct {
	Age  uint64
	Root graph.NodeID
	flag *atomic.Bool
}

// New creates a Token for the given render age and root, not yet aborted.
func New(age uint64, root graph.NodeID) Token {
	return Token{Age: age, Root: root, flag: new(atomic.Bool)}
}

// IsAborted reports whether this token's render has been cancelled. Every
// long-running phase in exec/schedule must poll this at least before each
// tile and before each upstream recursion (spec.md §4.6).
func (t Token) IsAborted() bool {
	if t.flag == nil {
		return false
	}
	return t.flag.Load()
}

// Abort sets the cancellation flag. Safe to call concurrently and more than
// once; cooperative — it does not forcibly terminate anything, it only
// changes what IsAborted subsequently reports.
func (t Token) Abort() {
	if t.flag != nil {
		t.flag.Store(true)
	}
}

// AgeCounter hands out strictly increasing render ages, one per call to
// Next; schedule calls it once per admission, so every frame task of one
// admitted batch shares an age (spec.md §3 "Render age. Per output node a monotonically
// increasing 64-bit counter assigned at request admission").
type AgeCounter struct {
	next atomic.Uint64
}

// Next returns the next render age. The first call returns 1 so the zero
// value of uint64 can be used as a sentinel "no age yet."
func (c *AgeCounter) Next() uint64 {
	return c.next.Add(1)
}
