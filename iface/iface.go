// Package iface collects the external interfaces spec.md §6 names beyond
// the Node contract (which lives in package graph since every other
// package needs it): Cache, Parameter/ParameterSource, Viewer, and
// TextureSink. These are the seams a host application or plugin
// implements; this module only calls them.
package iface

import (
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// Cache is the external cache contract: a host may supply its own image
// cache instead of the built-in store.Store, e.g. to share pixels across
// process boundaries. Mirrors store.Store's read/write surface without
// depending on that package, so a host can implement it without importing
// this module's internals.
type Cache interface {
	Lookup(key imagekey.Key) (found bool)
	Fetch(key imagekey.Key) ([]byte, bool)
	Store(key imagekey.Key, data []byte) error
	Invalidate(key imagekey.Key)
}

// Parameter is a single knob value a Node reads when evaluating its
// actions. Spec.md §1 excludes the parameter/knob object model and
// expression evaluator themselves from this module's scope; this
// interface is the minimal read surface a Node needs, not a full model.
type Parameter interface {
	Name() string
	ValueAt(t imagekey.Time) float64
}

// ParameterSource exposes the set of upstream nodes a parameter's
// expression depends on — e.g. a parameter whose expression reads another
// node's output pixel or another parameter's value. The deps package
// walks these edges alongside graph input edges so every node an
// expression can reach gets its RenderCtx pre-registered before a render
// begins (spec.md §4.8).
type ParameterSource interface {
	Parameters() []Parameter
	ExpressionDependencies(p Parameter) []graph.NodeID
}

// Viewer is the contract a host implements to receive rendered tiles as
// they complete, for progressive display during an interactive render
// (spec.md §6). TextureSink is the GPU-backed variant; spec.md §1
// explicitly excludes an OpenGL texture uploader from this module's scope,
// so TextureSink here is a narrow handoff point a host's own uploader
// implements, not an uploader this module provides.
type Viewer interface {
	OnTileReady(key imagekey.Key, rect imagekey.PixelRect, age uint64)
	OnFrameComplete(key imagekey.Key, age uint64, status graph.Status)
}

// TextureSink receives a rendered Image's raw bytes for upload to a GPU
// texture. This module never implements TextureSink itself; a host
// application's own uploader does.
type TextureSink interface {
	Upload(key imagekey.Key, width, height int, components imagekey.Components, depth imagekey.BitDepth, data []byte) error
}
