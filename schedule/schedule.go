// Package schedule implements the frame scheduler (spec.md §4.4, component
// C4): turns a user intent (play, pause, abort, seek, step, render_range,
// rerender_current) into an ordered stream of frame tasks with
// backpressure, cooperative cancellation, and in-order delivery to a
// viewer even when frames finish rendering out of order.
//
// Grounded on the teacher's internal/parallel.WorkerPool generalized from
// one queue to three explicit stages connected by channels — task queue,
// render stage, output stage — because the teacher's single-stage pool has
// no notion of ordered delivery; the per-age output gate is new, built on
// the teacher's sync.WaitGroup-based completion-signalling idiom in
// ExecuteAll generalized from "wait for all" to "deliver each as soon as
// every earlier one has already been delivered."
package schedule

import (
	"sync"

	"github.com/gogpu/compose/cancel"
	"github.com/gogpu/compose/graph"
	"github.com/gogpu/compose/iface"
	"github.com/gogpu/compose/imagekey"
)

// Intent is a user action the scheduler converts into frame tasks
// (spec.md §4.4).
type Intent int

const (
	IntentPlayForward Intent = iota
	IntentPlayBackward
	IntentPause
	IntentAbort
	IntentSeek
	IntentStep
	IntentRenderRange
	IntentRerenderCurrent
)

// Task is one admitted (time, view, age) unit of work (spec.md §3).
type Task struct {
	Time  imagekey.Time
	View  imagekey.View
	Age   uint64
	Token cancel.Token
	seq   uint64
}

// Renderer is the C5 executor seam: schedule depends only on this
// interface, not on package exec directly, so the scheduler can be tested
// without a real tile-rendering backend and so C4/C5 stay decoupled
// dependencies rather than one importing the other (spec.md §9 "global
// mutable state becomes explicit dependencies injected").
type Renderer interface {
	Render(task Task) graph.Status
}

// RenderFunc adapts a plain function to Renderer.
type RenderFunc func(task Task) graph.Status

func (f RenderFunc) Render(task Task) graph.Status { return f(task) }

// Result pairs a delivered task with its outcome, what the output stage
// hands the viewer.
type Result struct {
	Task   Task
	Status graph.Status
}

// Scheduler is the C4 frame scheduler for one output node.
//
// Thread safety: all exported methods are safe for concurrent use.
type Scheduler struct {
	root     graph.NodeID
	renderer Renderer
	viewer   iface.Viewer
	ages     cancel.AgeCounter

	tasks  chan Task
	stop   chan struct{}
	stopWg sync.WaitGroup
	once   sync.Once

	gate *outputGate

	mu          sync.Mutex
	paused      bool
	nextSeq     uint64
	currentTime imagekey.Time
	view        imagekey.View
	inFlight    map[uint64]*inFlightEntry // age -> entry, for abort-on-newer-admission
}

// inFlightEntry tracks one admitted render age: its shared cancellation
// token (every task admitted under IntentRenderRange's batch shares one) and
// how many of that age's tasks have yet to finish, so the age stays marked
// in-flight (abortable by a newer admission) until its last task completes
// rather than being forgotten after the first.
type inFlightEntry struct {
	token     cancel.Token
	remaining int
}

// Options configures a Scheduler.
type Options struct {
	Parallelism   int // render-stage worker count; <=0 means 1
	QueueCapacity int // task-queue buffer size, the backpressure bound; <=0 means 1
}

// New creates a Scheduler for root, draining tasks through renderer and
// delivering results to viewer in strictly increasing render-age order
// (spec.md §8 property 6).
func New(root graph.NodeID, renderer Renderer, viewer iface.Viewer, opts Options) *Scheduler {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 1
	}
	s := &Scheduler{
		root:     root,
		renderer: renderer,
		viewer:   viewer,
		tasks:    make(chan Task, opts.QueueCapacity),
		stop:     make(chan struct{}),
		gate:     newOutputGate(),
		inFlight: make(map[uint64]*inFlightEntry),
	}
	for i := 0; i < opts.Parallelism; i++ {
		s.stopWg.Add(1)
		go s.renderLoop()
	}
	s.stopWg.Add(1)
	go s.outputLoop()
	return s
}

// Submit dispatches a user intent for a single time, admitting zero or one
// new task. It is SubmitRange with start==end — every intent except
// IntentRenderRange only ever needs one frame, so this is the common-case
// convenience form. Submit blocks while the task queue is full, the
// backpressure point spec.md §5 names.
func (s *Scheduler) Submit(intent Intent, t imagekey.Time, view imagekey.View) {
	s.SubmitRange(intent, t, t, view)
}

// SubmitRange dispatches a user intent over the inclusive frame range
// [start, end] (reversed bounds are normalized). Only IntentRenderRange
// admits more than one task per call — spec.md §4.4's render_range([a,b]) —
// enqueuing one task per frame in the range; every other intent uses just
// start and ignores end.
//
// spec.md §4.4's admission rule ("each intent...bumps the render age")
// applies once per call, not once per frame: a render_range's frames all
// share one render age and cancellation token, so admitting frame 2 of a
// range never marks frame 1 of the *same* range abortable — only a later,
// separate intent does that.
func (s *Scheduler) SubmitRange(intent Intent, start, end imagekey.Time, view imagekey.View) {
	switch intent {
	case IntentPause:
		s.mu.Lock()
		s.paused = true
		s.mu.Unlock()
	case IntentAbort:
		s.abortAllInFlight()
	case IntentPlayForward, IntentPlayBackward:
		// resuming playback explicitly clears pause; spec.md §4.4 treats
		// play/pause as the pair that governs admission gating.
		s.mu.Lock()
		s.paused = false
		s.currentTime = start
		s.view = view
		s.mu.Unlock()
		s.admitBatch(view, []imagekey.Time{start})
	case IntentSeek, IntentStep, IntentRerenderCurrent:
		s.mu.Lock()
		s.currentTime = start
		s.view = view
		s.mu.Unlock()
		s.admitBatch(view, []imagekey.Time{start})
	case IntentRenderRange:
		if end < start {
			start, end = end, start
		}
		times := make([]imagekey.Time, 0, int(end-start)+1)
		for t := start; t <= end; t++ {
			times = append(times, t)
		}
		s.mu.Lock()
		s.currentTime = end
		s.view = view
		s.mu.Unlock()
		s.admitBatch(view, times)
	}
}

// admitBatch assigns one new render age shared by every task in times,
// marks any older in-flight ages for this root abortable (spec.md §4.4
// "Admission"), and enqueues one task per time. New tasks are admitted only
// while not paused.
func (s *Scheduler) admitBatch(view imagekey.View, times []imagekey.Time) {
	if len(times) == 0 {
		return
	}
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	age := s.ages.Next()
	token := cancel.New(age, s.root)
	s.inFlight[age] = &inFlightEntry{token: token, remaining: len(times)}
	// abort every older in-flight age for this root (newer-age admission
	// supersedes them — spec.md §8 scenario S2).
	for olderAge, entry := range s.inFlight {
		if olderAge < age {
			entry.token.Abort()
		}
	}
	seqs := make([]uint64, len(times))
	for i := range times {
		seqs[i] = s.nextSeq
		s.nextSeq++
	}
	s.mu.Unlock()

	for i, t := range times {
		task := Task{Time: t, View: view, Age: age, Token: token, seq: seqs[i]}
		select {
		case s.tasks <- task:
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) abortAllInFlight() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.inFlight {
		entry.token.Abort()
	}
}

func (s *Scheduler) renderLoop() {
	defer s.stopWg.Done()
	for {
		select {
		case task, ok := <-s.tasks:
			if !ok {
				return
			}
			var status graph.Status
			if task.Token.IsAborted() {
				status = graph.Aborted
			} else {
				status = s.renderer.Render(task)
			}
			s.mu.Lock()
			if entry, ok := s.inFlight[task.Age]; ok {
				entry.remaining--
				if entry.remaining <= 0 {
					delete(s.inFlight, task.Age)
				}
			}
			s.mu.Unlock()
			s.gate.submit(task.seq, Result{Task: task, Status: status})
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) outputLoop() {
	defer s.stopWg.Done()
	s.gate.drain(func(res Result) {
		if s.viewer == nil {
			return
		}
		if res.Status.Aborted {
			return // aborted tasks drain without delivery (spec.md §4.4)
		}
		s.viewer.OnFrameComplete(imagekey.Key{NodeHash: uint64(s.root), Time: res.Task.Time, View: res.Task.View}, res.Task.Age, res.Status)
	}, s.stop)
}

// Close stops accepting new admissions and waits for in-flight tasks to
// drain. Safe to call more than once.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		close(s.stop)
		s.gate.close()
	})
	s.stopWg.Wait()
}
