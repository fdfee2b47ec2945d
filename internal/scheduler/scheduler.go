// Package scheduler implements the single-threaded cooperative
// per-connection task dispatcher that every ws-connection binds to: all
// state mutation for a connection, including receiver callback
// dispatch, happens on its scheduler's goroutine, never concurrently
// with itself.
//
// Grounded on the shape of the teacher's internal/concurrency package
// (a task runner over a FIFO), re-expressed as a buffered channel
// drained by a single dedicated goroutine per connection, and driven by
// github.com/jonboulle/clockwork
// instead of time.Timer so tests can advance time deterministically.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Func is a unit of work scheduled onto a Scheduler.
type Func func()

type task struct {
	id        uint64
	fn        Func
	timer     clockwork.Timer
	tag       any
	cancelled bool
}

// Scheduler runs Func values one at a time, in submission order for
// immediate tasks, on a single goroutine.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[uint64]*task
	nextID  uint64
	closed  bool

	immediate chan *task
	wg        sync.WaitGroup
}

// New returns a running Scheduler backed by clock. Callers own shutdown
// via Close.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		clock:     clock,
		pending:   make(map[uint64]*task),
		immediate: make(chan *task, 256),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// DoNext schedules fn to run as soon as the scheduler is free, tagged
// with tag so a later Clear(tag) can cancel it before it fires.
func (s *Scheduler) DoNext(tag any, fn Func) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.nextID++
	t := &task{id: s.nextID, fn: fn, tag: tag}
	s.pending[t.id] = t
	s.mu.Unlock()
	s.immediate <- t
}

// DoLater schedules fn to run after delayMs milliseconds, tagged with
// tag. Returns a cancel function equivalent to clearing just this task.
func (s *Scheduler) DoLater(tag any, delayMs int64, fn Func) func() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextID++
	t := &task{id: s.nextID, fn: fn, tag: tag}
	d := millisToDuration(delayMs)
	t.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, ok := s.pending[t.id]
		if !ok {
			// already cancelled via cancel()/Clear(), which removed it
			// from pending before the timer could fire.
			s.mu.Unlock()
			return
		}
		delete(s.pending, t.id)
		s.mu.Unlock()
		s.immediate <- t
	})
	s.pending[t.id] = t
	s.mu.Unlock()
	return func() { s.cancel(t.id) }
}

func (s *Scheduler) cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.pending[id]
	if !ok {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.cancelled = true
	delete(s.pending, id)
}

// Clear cancels every pending task (immediate or delayed) whose tag
// equals the given tag, mirroring prx_scheduler_clear's predicate scan.
func (s *Scheduler) Clear(tag any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.pending {
		if t.tag == tag {
			if t.timer != nil {
				t.timer.Stop()
			}
			t.cancelled = true
			delete(s.pending, id)
		}
	}
}

// Close stops accepting new tasks and waits for the worker goroutine to
// finish the task it is running. Every task still pending, immediate or
// delayed, is cancelled, not run.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, t := range s.pending {
		if t.timer != nil {
			t.timer.Stop()
		}
		t.cancelled = true
		delete(s.pending, id)
	}
	s.mu.Unlock()
	close(s.immediate)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for t := range s.immediate {
		s.mu.Lock()
		if _, stillPending := s.pending[t.id]; stillPending {
			// An immediate (DoNext) task is still registered here; a
			// DoLater task already removed itself from pending in its
			// timer callback before being sent to this channel.
			delete(s.pending, t.id)
		}
		cancelled := t.cancelled
		s.mu.Unlock()
		if cancelled {
			continue
		}
		if t.fn != nil {
			t.fn()
		}
	}
}

func millisToDuration(ms int64) (d time.Duration) {
	return time.Duration(ms) * time.Millisecond
}
