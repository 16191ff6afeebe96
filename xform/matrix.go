// Package xform implements the 3x3 canonical-space transform composition
// used by the request planner (spec.md §4.3(d)) to concatenate chains of
// upstream affine nodes into a single fetch at the end of the chain.
//
// The Matrix type and its operators continue the teacher's affine-matrix
// idiom (internal/image/affine.go, recording/matrix.go) generalized from a
// fixed 2x3 row-major representation to the full 3x3 form spec.md names,
// so a future projective (perspective) node can still be represented.
package xform

import "math"

// Matrix is a 3x3 transform in row-major order:
//
//	| A  B  C |
//	| D  E  F |
//	| G  H  I |
//
// For the affine nodes this planner concatenates, G and H are always 0 and
// I is always 1; the extra row is carried so Compose stays associative even
// if a projective node is added later (spec.md §8 property 8).
type Matrix struct {
	A, B, C float64
	D, E, F float64
	G, H, I float64
}

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{A: 1, E: 1, I: 1}
}

// Translate returns a translation by (tx, ty).
func Translate(tx, ty float64) Matrix {
	m := Identity()
	m.C, m.F = tx, ty
	return m
}

// Scale returns a scale by (sx, sy) about the origin.
func Scale(sx, sy float64) Matrix {
	return Matrix{A: sx, E: sy, I: 1}
}

// Rotate returns a counter-clockwise rotation of angle radians about the
// origin.
func Rotate(angle float64) Matrix {
	c, s := math.Cos(angle), math.Sin(angle)
	return Matrix{A: c, B: -s, D: s, E: c, I: 1}
}

// IsIdentity reports whether m performs no transformation.
func (m Matrix) IsIdentity() bool {
	return m == Identity()
}

// Compose returns m followed by other (other ∘ m): applying the result to a
// point is equivalent to applying m, then applying other to that result.
// This is the operation spec.md §4.3(d) uses to concatenate a chain of
// upstream transform nodes, and §8 property 8 requires it to be associative.
func (m Matrix) Compose(other Matrix) Matrix {
	return Matrix{
		A: other.A*m.A + other.B*m.D + other.C*m.G,
		B: other.A*m.B + other.B*m.E + other.C*m.H,
		C: other.A*m.C + other.B*m.F + other.C*m.I,
		D: other.D*m.A + other.E*m.D + other.F*m.G,
		E: other.D*m.B + other.E*m.E + other.F*m.H,
		F: other.D*m.C + other.E*m.F + other.F*m.I,
		G: other.G*m.A + other.H*m.D + other.I*m.G,
		H: other.G*m.B + other.H*m.E + other.I*m.H,
		I: other.G*m.C + other.H*m.F + other.I*m.I,
	}
}

// Apply transforms the point (x, y) by m.
func (m Matrix) Apply(x, y float64) (float64, float64) {
	w := m.G*x + m.H*y + m.I
	if w == 0 {
		w = 1
	}
	return (m.A*x + m.B*y + m.C) / w, (m.D*x + m.E*y + m.F) / w
}

// Determinant returns the determinant of the upper-left 2x2 submatrix,
// which is all that matters for the affine-only matrices this package
// composes (G=H=0, I=1).
func (m Matrix) Determinant() float64 {
	return m.A*m.E - m.B*m.D
}

// Invertible reports whether m has a well-defined inverse.
func (m Matrix) Invertible() bool {
	return m.Determinant() != 0
}

// Invert returns the inverse of m. The second return value is false if m is
// singular, in which case the first return value is the identity matrix.
func (m Matrix) Invert() (Matrix, bool) {
	det := m.Determinant()
	if det == 0 {
		return Identity(), false
	}
	invDet := 1 / det
	a := m.E * invDet
	b := -m.B * invDet
	d := -m.D * invDet
	e := m.A * invDet
	c := -(a*m.C + b*m.F)
	f := -(d*m.C + e*m.F)
	return Matrix{A: a, B: b, C: c, D: d, E: e, F: f, I: 1}, true
}
