package cancel

import (
	"sync"
	"testing"

	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/store"
)

func TestTokenIsAbortedInitiallyFalse(t *testing.T) {
	tok := New(1, graph.NodeID(0))
	if tok.IsAborted() {
		t.Fatalf("new token reports aborted")
	}
}

func TestTokenAbortIsObservedByCopies(t *testing.T) {
	tok := New(1, graph.NodeID(0))
	copyOfTok := tok
	tok.Abort()
	if !copyOfTok.IsAborted() {
		t.Fatalf("copy of token did not observe Abort()")
	}
}

func TestZeroValueTokenNeverAborted(t *testing.T) {
	var tok Token
	if tok.IsAborted() {
		t.Fatalf("zero-value token reports aborted")
	}
	tok.Abort() // must not panic on a nil flag
	if tok.IsAborted() {
		t.Fatalf("zero-value token abort should be a no-op, still reports not aborted")
	}
}

func TestAgeCounterMonotonic(t *testing.T) {
	var c AgeCounter
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		age := c.Next()
		if age <= prev {
			t.Fatalf("age %d is not greater than previous %d", age, prev)
		}
		prev = age
	}
}

func TestAgeCounterConcurrentUnique(t *testing.T) {
	var c AgeCounter
	const n = 200
	seen := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- c.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ages := make(map[uint64]struct{}, n)
	for age := range seen {
		if _, dup := ages[age]; dup {
			t.Fatalf("age %d handed out twice", age)
		}
		ages[age] = struct{}{}
	}
	if len(ages) != n {
		t.Fatalf("got %d unique ages, want %d", len(ages), n)
	}
}

// TestAbortUnwindsClearsRenderingBit grounds spec.md §8 property 5: "no
// 'rendering' trimap bit remains set after an aborted render unwinds." A
// render that discovers the token aborted mid-tile must ClearBitmap the
// rect it had marked rendering, not leave it stuck.
func TestAbortUnwindsClearsRenderingBit(t *testing.T) {
	bounds := imagekey.PixelRect{X0: 0, Y0: 0, X1: 64, Y1: 64}
	tm := store.NewTrimap(bounds)
	tok := New(1, graph.NodeID(0))

	rect := imagekey.PixelRect{X0: 0, Y0: 0, X1: 32, Y1: 32}
	tm.MarkForRendering(rect)

	// simulate the executor's per-tile loop: check IsAborted before
	// committing the tile, and unwind via ClearBitmap if it fires mid-render.
	tok.Abort()
	if tok.IsAborted() {
		tm.ClearBitmap(rect)
	} else {
		tm.MarkRendered(rect)
	}

	if tm.AnyRendering(rect) {
		t.Fatalf("rendering bit still set after aborted render unwound")
	}
	if tm.FullyRendered() {
		t.Fatalf("aborted render should not leave the rect marked rendered")
	}
}

// TestNewerAgeAdmissionAbortsOlder grounds schedule's "abort on newer-age
// admission" rule (spec.md §4.6): when a newer render age is admitted for
// the same root, the older token must be abortable by the admitting code,
// and the older render's in-flight rect must unwind cleanly.
func TestNewerAgeAdmissionAbortsOlder(t *testing.T) {
	var ages AgeCounter
	root := graph.NodeID(7)

	older := New(ages.Next(), root)
	bounds := imagekey.PixelRect{X0: 0, Y0: 0, X1: 16, Y1: 16}
	tm := store.NewTrimap(bounds)
	tm.MarkForRendering(bounds)

	newer := New(ages.Next(), root)
	if newer.Age <= older.Age {
		t.Fatalf("newer.Age = %d, want > older.Age = %d", newer.Age, older.Age)
	}

	// admission of the newer age aborts the older in-flight token.
	older.Abort()

	if older.IsAborted() {
		tm.ClearBitmap(bounds)
	}
	if tm.AnyRendering(bounds) {
		t.Fatalf("older render's rect still marked rendering after being superseded")
	}
	if newer.IsAborted() {
		t.Fatalf("newer token should not be aborted")
	}
}
