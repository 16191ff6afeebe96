package graph

import (
	"testing"

	"github.com/gogpu/compose/imagekey"
)

// fakeNode is a minimal Node used across this package's tests; plan and
// exec define their own.
type fakeNode struct {
	hash      uint64
	inputs    int
	caps      Capabilities
	safety    ThreadSafety
	rod       imagekey.Rect
	identity  IdentityResult
	transform Transform
	renderFn  func(RenderRequest) Status
}

func newFakeNode(hash uint64, inputs int) *fakeNode {
	return &fakeNode{
		hash:      hash,
		inputs:    inputs,
		safety:    FullySafeFrame,
		rod:       imagekey.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100},
		transform: NoTransform,
	}
}

func (f *fakeNode) Hash() uint64       { return f.hash }
func (f *fakeNode) InputCount() int    { return f.inputs }
func (f *fakeNode) InputKind(i int) InputKind {
	return InputRegular
}
func (f *fakeNode) Capabilities() Capabilities { return f.caps }
func (f *fakeNode) ThreadSafety() ThreadSafety { return f.safety }
func (f *fakeNode) RegionOfDefinition(args RenderArgs, view imagekey.View) (imagekey.Rect, Status) {
	return f.rod, Ok
}
func (f *fakeNode) RegionsOfInterest(args RenderArgs, outputRoD imagekey.Rect, renderWindow imagekey.PixelRect, view imagekey.View) map[int]imagekey.Rect {
	m := make(map[int]imagekey.Rect, f.inputs)
	for i := 0; i < f.inputs; i++ {
		m[i] = outputRoD
	}
	return m
}
func (f *fakeNode) FramesNeeded(t imagekey.Time, view imagekey.View) FramesNeeded {
	fn := FramesNeeded{}
	for i := 0; i < f.inputs; i++ {
		fn[i] = map[imagekey.View][]imagekey.Range{view: {{First: t, Last: t}}}
	}
	return fn
}
func (f *fakeNode) TimeDomain() (imagekey.Time, imagekey.Time) { return 0, 100 }
func (f *fakeNode) IsIdentity(args RenderArgs, window imagekey.PixelRect, view imagekey.View) IdentityResult {
	return f.identity
}
func (f *fakeNode) GetTransform(args RenderArgs, view imagekey.View) Transform { return f.transform }
func (f *fakeNode) Render(req RenderRequest) Status {
	if f.renderFn != nil {
		return f.renderFn(req)
	}
	return Ok
}
func (f *fakeNode) BeginSequence(RenderArgs, imagekey.Time, imagekey.Time) {}
func (f *fakeNode) EndSequence()                                          {}

func TestGraphAddConnect(t *testing.T) {
	g := New()
	a := g.AddNode(newFakeNode(1, 0))
	b := g.AddNode(newFakeNode(2, 1))
	if err := g.Connect(b, 0, a); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := g.Input(b, 0); got != a {
		t.Fatalf("Input(b,0) = %v, want %v", got, a)
	}
	if g.GetNode(a) == nil {
		t.Fatalf("GetNode(a) returned nil")
	}
}

func TestGraphConnectOutOfRange(t *testing.T) {
	g := New()
	a := g.AddNode(newFakeNode(1, 0))
	b := g.AddNode(newFakeNode(2, 1))
	if err := g.Connect(b, 5, a); err == nil {
		t.Fatalf("expected error connecting out-of-range input")
	}
}

func TestGraphRemoveNode(t *testing.T) {
	g := New()
	a := g.AddNode(newFakeNode(1, 0))
	g.RemoveNode(a)
	if g.Valid(a) {
		t.Fatalf("expected node to be invalid after removal")
	}
	if g.GetNode(a) != nil {
		t.Fatalf("expected nil node after removal")
	}
}

func TestGraphWalk(t *testing.T) {
	g := New()
	a := g.AddNode(newFakeNode(1, 0))
	b := g.AddNode(newFakeNode(2, 1))
	c := g.AddNode(newFakeNode(3, 2))
	_ = g.Connect(b, 0, a)
	_ = g.Connect(c, 0, a)
	_ = g.Connect(c, 1, b)

	var visited []NodeID
	g.Walk(c, func(id NodeID) { visited = append(visited, id) })

	if len(visited) != 3 {
		t.Fatalf("expected 3 nodes visited, got %d: %v", len(visited), visited)
	}
	seen := map[NodeID]bool{}
	for _, id := range visited {
		if seen[id] {
			t.Fatalf("node %v visited twice", id)
		}
		seen[id] = true
	}
	for _, id := range []NodeID{a, b, c} {
		if !seen[id] {
			t.Fatalf("expected %v to be visited", id)
		}
	}
}

func TestGraphNodeCount(t *testing.T) {
	g := New()
	a := g.AddNode(newFakeNode(1, 0))
	g.AddNode(newFakeNode(2, 0))
	if g.NodeCount() != 2 {
		t.Fatalf("NodeCount() = %d, want 2", g.NodeCount())
	}
	g.RemoveNode(a)
	if g.NodeCount() != 1 {
		t.Fatalf("NodeCount() after remove = %d, want 1", g.NodeCount())
	}
}
