package xform

import (
	"math"
	"testing"
)

func approxEq(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestIdentityApply(t *testing.T) {
	x, y := Identity().Apply(3, 4)
	if x != 3 || y != 4 {
		t.Fatalf("Identity().Apply(3,4) = (%v,%v), want (3,4)", x, y)
	}
}

func TestTranslateCompose(t *testing.T) {
	// Two stacked translate(10,0) nodes (spec.md scenario S4): composing them
	// must produce a single translate(20,0).
	a := Translate(10, 0)
	b := Translate(10, 0)
	composed := a.Compose(b)
	x, y := composed.Apply(0, 0)
	if !approxEq(x, 20) || !approxEq(y, 0) {
		t.Fatalf("composed translate Apply(0,0) = (%v,%v), want (20,0)", x, y)
	}
}

func TestComposeAssociative(t *testing.T) {
	// spec.md §8 property 8: transform concatenation is associative.
	a := Translate(5, -2)
	b := Rotate(0.3)
	c := Scale(2, 3)

	left := a.Compose(b).Compose(c)
	right := a.Compose(b.Compose(c))

	px, py := 7.0, -11.0
	lx, ly := left.Apply(px, py)
	rx, ry := right.Apply(px, py)
	if !approxEq(lx, rx) || !approxEq(ly, ry) {
		t.Fatalf("associativity violated: left=(%v,%v) right=(%v,%v)", lx, ly, rx, ry)
	}
}

func TestInvert(t *testing.T) {
	m := Translate(10, 20).Compose(Scale(2, 4))
	inv, ok := m.Invert()
	if !ok {
		t.Fatalf("expected invertible matrix")
	}
	x, y := m.Apply(3, 5)
	ix, iy := inv.Apply(x, y)
	if !approxEq(ix, 3) || !approxEq(iy, 5) {
		t.Fatalf("Invert round-trip = (%v,%v), want (3,5)", ix, iy)
	}
}

func TestSingularNotInvertible(t *testing.T) {
	m := Scale(0, 1)
	if m.Invertible() {
		t.Fatalf("expected singular matrix to be non-invertible")
	}
	_, ok := m.Invert()
	if ok {
		t.Fatalf("Invert() on singular matrix returned ok=true")
	}
}

func TestIsIdentity(t *testing.T) {
	if !Identity().IsIdentity() {
		t.Fatalf("Identity() did not report IsIdentity")
	}
	if Translate(1, 0).IsIdentity() {
		t.Fatalf("translate reported as identity")
	}
}
