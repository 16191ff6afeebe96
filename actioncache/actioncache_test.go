package actioncache

import (
	"sync/atomic"
	"testing"

	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// countingNode implements graph.Node, counting calls to each query method so
// tests can assert memoization actually suppresses repeat calls.
type countingNode struct {
	rodCalls       atomic.Int32
	identityCalls  atomic.Int32
	transformCalls atomic.Int32
	domainCalls    atomic.Int32
	framesCalls    atomic.Int32
}

func (n *countingNode) Hash() uint64       { return 42 }
func (n *countingNode) InputCount() int    { return 1 }
func (n *countingNode) InputKind(int) graph.InputKind { return graph.InputRegular }
func (n *countingNode) Capabilities() graph.Capabilities { return graph.Capabilities{} }
func (n *countingNode) ThreadSafety() graph.ThreadSafety { return graph.FullySafeFrame }

func (n *countingNode) RegionOfDefinition(graph.RenderArgs, imagekey.View) (imagekey.Rect, graph.Status) {
	n.rodCalls.Add(1)
	return imagekey.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, graph.Ok
}

func (n *countingNode) RegionsOfInterest(graph.RenderArgs, imagekey.Rect, imagekey.PixelRect, imagekey.View) map[int]imagekey.Rect {
	return nil
}

func (n *countingNode) FramesNeeded(imagekey.Time, imagekey.View) graph.FramesNeeded {
	n.framesCalls.Add(1)
	return graph.FramesNeeded{0: {0: {{First: 1, Last: 1}}}}
}

func (n *countingNode) TimeDomain() (imagekey.Time, imagekey.Time) {
	n.domainCalls.Add(1)
	return 1, 100
}

func (n *countingNode) IsIdentity(graph.RenderArgs, imagekey.PixelRect, imagekey.View) graph.IdentityResult {
	n.identityCalls.Add(1)
	return graph.IdentityResult{}
}

func (n *countingNode) GetTransform(graph.RenderArgs, imagekey.View) graph.Transform {
	n.transformCalls.Add(1)
	return graph.NoTransform
}

func (n *countingNode) Render(graph.RenderRequest) graph.Status { return graph.Ok }
func (n *countingNode) BeginSequence(graph.RenderArgs, imagekey.Time, imagekey.Time) {}
func (n *countingNode) EndSequence() {}

func testArgs() graph.RenderArgs {
	return graph.RenderArgs{Time: 1, View: 0, Mip: 0, Scale: 1}
}

func TestRegionOfDefinitionMemoized(t *testing.T) {
	s := New()
	n := &countingNode{}
	args := testArgs()

	for i := 0; i < 5; i++ {
		s.RegionOfDefinition(n, n.Hash(), args, args.View)
	}
	if got := n.rodCalls.Load(); got != 1 {
		t.Fatalf("RegionOfDefinition called node %d times, want 1", got)
	}
}

func TestIsIdentityMemoized(t *testing.T) {
	s := New()
	n := &countingNode{}
	args := testArgs()
	window := imagekey.PixelRect{X0: 0, Y0: 0, X1: 10, Y1: 10}

	for i := 0; i < 5; i++ {
		s.IsIdentity(n, n.Hash(), args, window, args.View)
	}
	if got := n.identityCalls.Load(); got != 1 {
		t.Fatalf("IsIdentity called node %d times, want 1", got)
	}
}

func TestTimeDomainMemoized(t *testing.T) {
	s := New()
	n := &countingNode{}
	for i := 0; i < 5; i++ {
		s.TimeDomain(n, n.Hash())
	}
	if got := n.domainCalls.Load(); got != 1 {
		t.Fatalf("TimeDomain called node %d times, want 1", got)
	}
}

func TestFramesNeededMemoized(t *testing.T) {
	s := New()
	n := &countingNode{}
	for i := 0; i < 5; i++ {
		s.FramesNeeded(n, n.Hash(), 1, 0)
	}
	if got := n.framesCalls.Load(); got != 1 {
		t.Fatalf("FramesNeeded called node %d times, want 1", got)
	}
}

func TestInvalidateNodeForcesRecompute(t *testing.T) {
	s := New()
	n := &countingNode{}
	args := testArgs()

	s.RegionOfDefinition(n, n.Hash(), args, args.View)
	s.InvalidateNode(n.Hash())
	s.RegionOfDefinition(n, n.Hash(), args, args.View)

	if got := n.rodCalls.Load(); got != 2 {
		t.Fatalf("RegionOfDefinition called %d times after invalidation, want 2", got)
	}
}

func TestInvalidateNodeDoesNotAffectOtherNodes(t *testing.T) {
	s := New()
	a := &countingNode{}
	b := &countingNode{}
	args := testArgs()

	s.RegionOfDefinition(a, 1, args, args.View)
	s.RegionOfDefinition(b, 2, args, args.View)

	s.InvalidateNode(1)

	s.RegionOfDefinition(a, 1, args, args.View)
	s.RegionOfDefinition(b, 2, args, args.View)

	if got := a.rodCalls.Load(); got != 2 {
		t.Fatalf("node a called %d times, want 2 (invalidated once)", got)
	}
	if got := b.rodCalls.Load(); got != 1 {
		t.Fatalf("node b called %d times, want 1 (never invalidated)", got)
	}
}

func TestStatsReportsPerQueryKind(t *testing.T) {
	s := New()
	n := &countingNode{}
	args := testArgs()
	s.RegionOfDefinition(n, n.Hash(), args, args.View)
	s.TimeDomain(n, n.Hash())

	stats := s.Stats()
	if stats.RegionOfDefinition.Len != 1 {
		t.Fatalf("RegionOfDefinition.Len = %d, want 1", stats.RegionOfDefinition.Len)
	}
	if stats.TimeDomain.Len != 1 {
		t.Fatalf("TimeDomain.Len = %d, want 1", stats.TimeDomain.Len)
	}
}
