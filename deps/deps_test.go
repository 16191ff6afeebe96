package deps

import (
	"testing"

	"github.com/gogpu/compose/actioncache"
	"github.com/gogpu/compose/cancel"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/iface"
	"github.com/gogpu/compose/imagekey"
	"github.com/gogpu/compose/rendercontext"
)

type plainNode struct{ hash uint64 }

func (n *plainNode) Hash() uint64                     { return n.hash }
func (n *plainNode) InputCount() int                  { return 2 }
func (n *plainNode) InputKind(int) graph.InputKind    { return graph.InputRegular }
func (n *plainNode) Capabilities() graph.Capabilities { return graph.Capabilities{} }
func (n *plainNode) ThreadSafety() graph.ThreadSafety { return graph.FullySafeFrame }
func (n *plainNode) RegionOfDefinition(graph.RenderArgs, imagekey.View) (imagekey.Rect, graph.Status) {
	return imagekey.Rect{}, graph.Ok
}
func (n *plainNode) RegionsOfInterest(graph.RenderArgs, imagekey.Rect, imagekey.PixelRect, imagekey.View) map[int]imagekey.Rect {
	return nil
}
func (n *plainNode) FramesNeeded(imagekey.Time, imagekey.View) graph.FramesNeeded { return nil }
func (n *plainNode) TimeDomain() (imagekey.Time, imagekey.Time)                  { return 0, 0 }
func (n *plainNode) IsIdentity(graph.RenderArgs, imagekey.PixelRect, imagekey.View) graph.IdentityResult {
	return graph.IdentityResult{}
}
func (n *plainNode) GetTransform(graph.RenderArgs, imagekey.View) graph.Transform { return graph.NoTransform }
func (n *plainNode) Render(graph.RenderRequest) graph.Status                     { return graph.Ok }
func (n *plainNode) BeginSequence(graph.RenderArgs, imagekey.Time, imagekey.Time) {}
func (n *plainNode) EndSequence()                                                {}

// exprNode additionally declares an expression dependency edge, so deps
// must discover it even though it is not a graph input.
type exprNode struct {
	plainNode
	exprDep graph.NodeID
}

type fakeParam struct{ name string }

func (p fakeParam) Name() string                      { return p.name }
func (p fakeParam) ValueAt(imagekey.Time) float64      { return 0 }

func (n *exprNode) Parameters() []iface.Parameter { return []iface.Parameter{fakeParam{"x"}} }
func (n *exprNode) ExpressionDependencies(iface.Parameter) []graph.NodeID {
	return []graph.NodeID{n.exprDep}
}

func testCtx() *rendercontext.Ctx {
	return rendercontext.New(graph.RenderArgs{Time: 0, View: 0, Mip: 0, Scale: 1}, 0, cancel.New(1, 0), actioncache.New())
}

func TestRegisterWalksGraphInputs(t *testing.T) {
	g := graph.New()
	leaf := g.AddNode(&plainNode{hash: 1})
	root := g.AddNode(&plainNode{hash: 2})
	_ = g.Connect(root, 0, leaf)

	w := New(g)
	ctx := testCtx()
	order := w.Register(root, ctx)

	if len(order) != 2 {
		t.Fatalf("registered %d nodes, want 2", len(order))
	}
	if _, ok := w.Lookup(leaf); !ok {
		t.Fatalf("expected leaf registered via graph input edge")
	}
	if _, ok := w.Lookup(root); !ok {
		t.Fatalf("expected root registered")
	}
}

func TestRegisterWalksExpressionDependencies(t *testing.T) {
	g := graph.New()
	dep := g.AddNode(&plainNode{hash: 1})
	rootNode := &exprNode{plainNode: plainNode{hash: 2}, exprDep: dep}
	root := g.AddNode(rootNode)
	rootNode.exprDep = dep

	w := New(g)
	ctx := testCtx()
	order := w.Register(root, ctx)

	if len(order) != 2 {
		t.Fatalf("registered %d nodes, want 2 (root + expression dependency)", len(order))
	}
	if _, ok := w.Lookup(dep); !ok {
		t.Fatalf("expected expression-dependency node to be registered even though it is not a graph input")
	}
}

func TestRegisterDedupesDiamond(t *testing.T) {
	g := graph.New()
	shared := g.AddNode(&plainNode{hash: 1})
	a := g.AddNode(&plainNode{hash: 2})
	b := g.AddNode(&plainNode{hash: 3})
	root := g.AddNode(&plainNode{hash: 4})
	_ = g.Connect(a, 0, shared)
	_ = g.Connect(b, 0, shared)
	_ = g.Connect(root, 0, a)
	_ = g.Connect(root, 1, b)

	w := New(g)
	order := w.Register(root, testCtx())

	count := 0
	for _, id := range order {
		if id == shared {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("shared node appeared %d times in registration order, want 1", count)
	}
}

func TestLookupMissingNode(t *testing.T) {
	g := graph.New()
	w := New(g)
	if _, ok := w.Lookup(graph.NodeID(999)); ok {
		t.Fatalf("expected no registration for an id never passed to Register")
	}
}

func TestClearRemovesAllRegistrations(t *testing.T) {
	g := graph.New()
	root := g.AddNode(&plainNode{hash: 1})
	w := New(g)
	w.Register(root, testCtx())

	w.Clear()

	if _, ok := w.Lookup(root); ok {
		t.Fatalf("expected no registration after Clear")
	}
}
