package schedule

import "sync"

// outputGate delivers submitted Results to a single consumer strictly in
// ascending seq order, even when they are submitted out of order by
// concurrent render-stage workers. This is the Go shape of spec.md §4.4's
// "output stage that blocks on a per-age gate so the viewer/writer sees
// frames in issue order even if rendered out of order," and grounds
// spec.md §8 property 6.
type outputGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	pending map[uint64]Result
	closed  bool
}

func newOutputGate() *outputGate {
	g := &outputGate{pending: make(map[uint64]Result)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// submit records a finished task's result. It may arrive in any order
// relative to other submits; drain still delivers in seq order.
func (g *outputGate) submit(seq uint64, res Result) {
	g.mu.Lock()
	g.pending[seq] = res
	g.cond.Broadcast()
	g.mu.Unlock()
}

// close signals drain to return once every already-submitted result has
// been delivered; no further submits are expected after close.
func (g *outputGate) close() {
	g.mu.Lock()
	g.closed = true
	g.cond.Broadcast()
	g.mu.Unlock()
}

// drain delivers each Result in ascending seq order to onDeliver, starting
// from seq 0, blocking until the next one in sequence arrives. It returns
// once closed and the pending set has been fully drained, or once stop
// fires.
func (g *outputGate) drain(onDeliver func(Result), stop <-chan struct{}) {
	go func() {
		<-stop
		g.close()
	}()

	g.mu.Lock()
	defer g.mu.Unlock()
	for {
		res, ok := g.pending[g.next]
		if ok {
			delete(g.pending, g.next)
			g.next++
			g.mu.Unlock()
			onDeliver(res)
			g.mu.Lock()
			continue
		}
		if g.closed {
			return
		}
		g.cond.Wait()
	}
}
