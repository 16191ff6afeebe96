// Package rendercontext implements the render context (spec.md §4.7,
// component C7): the piece of state every plan/exec call needs (render
// args, the view, the cancellation token, the action cache) that
// the teacher passes as an implicit "current graphics state" but this
// module threads explicitly.
//
// Primary path: callers pass *Ctx directly through every plan/exec call
// (per spec.md §9's "explicit RenderCtx instead of TLS" redesign note). The
// tls shim below exists only for the secondary "host/plugin callback" case
// of spec.md §6's Node contract, where a Node's method is invoked by code
// this module does not control (a host calling back into a plugin's
// RegionOfDefinition, say) and cannot be made to accept an extra argument.
package rendercontext

import (
	"github.com/gogpu/compose/actioncache"
	"github.com/gogpu/compose/cancel"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/imagekey"
)

// Ctx is the render context for one frame task: the render arguments it was
// requested with, the cancellation token for this render age, the shared
// action cache, and the view being rendered.
type Ctx struct {
	Args    graph.RenderArgs
	View    imagekey.View
	Token   cancel.Token
	Actions *actioncache.Store
}

// New creates a Ctx for one frame task.
func New(args graph.RenderArgs, view imagekey.View, token cancel.Token, actions *actioncache.Store) *Ctx {
	return &Ctx{Args: args, View: view, Token: token, Actions: actions}
}

// Aborted reports whether this context's render has been cancelled.
func (c *Ctx) Aborted() bool {
	return c.Token.IsAborted()
}

// Child returns a copy of c for a recursive call at a different time (an
// upstream fetch at a frames-needed time other than c.Args.Time, or an
// identity redirect). The token, action cache, and view are shared; only
// the time changes.
func (c *Ctx) Child(t imagekey.Time) *Ctx {
	child := *c
	child.Args.Time = t
	return &child
}
