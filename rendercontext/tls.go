package rendercontext

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// tls is the goroutine-local shim backing the host/plugin-callback case of
// spec.md §6's Node contract: a Node method invoked by a caller this module
// does not control (a host application calling back into a plugin's
// RegionOfDefinition) cannot be changed to accept an extra *Ctx parameter,
// so the currently-active Ctx for that goroutine is looked up here instead.
//
// Go has no native goroutine-local storage. The widely used workaround —
// and the one used here — parses the goroutine id out of runtime.Stack's
// header line and keys a sync.Map by it, continuing the teacher's
// recording.Recorder.stateStack push/pop pattern (Save pushes the current
// graphics state, Restore pops it) generalized from a single-goroutine
// slice-as-stack to a per-goroutine stack of *Ctx values, one per
// goroutine id. This is a last resort, used only where the call boundary
// genuinely cannot carry an explicit argument; every call this module
// controls threads *Ctx directly instead (see rendercontext.go).
var tls sync.Map // goroutine id (uint64) -> []*Ctx

// goroutineID extracts the numeric id from the "goroutine N [running]:"
// header runtime.Stack always writes first. It is not a public Go API;
// this is the same trick the wider ecosystem falls back to when a
// goroutine-scoped value is unavoidable and no context is threaded.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		return 0
	}
	b = b[len(prefix):]
	if sp := bytes.IndexByte(b, ' '); sp >= 0 {
		b = b[:sp]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Push installs ctx as the active context for the current goroutine,
// saving whatever was previously active beneath it (mirrors Recorder.Save
// pushing the current graphics state onto r.stateStack).
func Push(ctx *Ctx) {
	id := goroutineID()
	stackAny, _ := tls.LoadOrStore(id, &[]*Ctx{})
	stack := stackAny.(*[]*Ctx)
	*stack = append(*stack, ctx)
}

// Pop removes and discards the current goroutine's active context,
// restoring whatever was active before the matching Push (mirrors
// Recorder.Restore popping r.stateStack). Pop must be called exactly once
// for every Push, typically via defer immediately after Push.
func Pop() {
	id := goroutineID()
	stackAny, ok := tls.Load(id)
	if !ok {
		return
	}
	stack := stackAny.(*[]*Ctx)
	if len(*stack) == 0 {
		return
	}
	*stack = (*stack)[:len(*stack)-1]
	if len(*stack) == 0 {
		tls.Delete(id)
	}
}

// Current returns the active *Ctx for the calling goroutine, or nil if
// none has been Push'd (the caller is not inside a host/plugin callback).
func Current() *Ctx {
	id := goroutineID()
	stackAny, ok := tls.Load(id)
	if !ok {
		return nil
	}
	stack := stackAny.(*[]*Ctx)
	if len(*stack) == 0 {
		return nil
	}
	return (*stack)[len(*stack)-1]
}

// WithContext pushes ctx, runs fn, and pops it again even if fn panics.
// This is the preferred entry point for the host-callback case — it bounds
// the lifetime of the TLS entry to fn's execution instead of relying on
// matched Push/Pop calls at the call site.
func WithContext(ctx *Ctx, fn func()) {
	Push(ctx)
	defer Pop()
	fn()
}
