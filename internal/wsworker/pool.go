// Package wsworker implements the ws-worker-pool: a fixed set of
// workers, each owning up to MaxPerWorker connections and the single
// scheduler goroutine that drives them.
//
// Grounded on the teacher's internal/concurrency.Executor (a fixed set
// of goroutines pulling from a github.com/eapache/queue-backed FIFO),
// generalized here from "run one TaskFunc, discard it" to "own a
// *wsconn.Connection for its lifetime" — a worker in this package never
// finishes a unit of work and move on, it is assigned a connection and
// keeps that connection's scheduler running until Remove.
package wsworker

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
	"github.com/azure-iot/reverse-tunnel/internal/scheduler"
)

// MaxPerWorker bounds how many connections one worker may own,
// mirroring the spec's dtablesize()-1 derivation.
func MaxPerWorker() int {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 1024
	}
	n := int(rl.Cur) - 1
	if n < 1 {
		n = 1
	}
	return n
}

// Owned is anything a worker keeps alive for the lifetime of its
// membership in the pool; *wsconn.Connection satisfies it via its
// scheduler-bound Close.
type Owned interface {
	Close()
}

type worker struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler
	conns map[Owned]struct{}
}

// Pool multiplexes many connections across a fixed set of workers, each
// capped at MaxPerWorker.
type Pool struct {
	mu      sync.Mutex
	workers []*worker
	perCap  int
}

// New returns a Pool with the given worker count; perCap <= 0 uses
// MaxPerWorker().
func New(numWorkers, perCap int) *Pool {
	if perCap <= 0 {
		perCap = MaxPerWorker()
	}
	p := &Pool{perCap: perCap}
	for i := 0; i < numWorkers; i++ {
		p.workers = append(p.workers, &worker{
			sched: scheduler.New(nil),
			conns: make(map[Owned]struct{}),
		})
	}
	return p
}

// Assign places conn onto the least-loaded worker with spare capacity,
// returning that worker's Scheduler for the connection to bind to.
func (p *Pool) Assign(conn Owned) (*scheduler.Scheduler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *worker
	for _, w := range p.workers {
		w.mu.Lock()
		n := len(w.conns)
		w.mu.Unlock()
		if n >= p.perCap {
			continue
		}
		if best == nil {
			best = w
			continue
		}
		best.mu.Lock()
		bn := len(best.conns)
		best.mu.Unlock()
		if n < bn {
			best = w
		}
	}
	if best == nil {
		return nil, pnerr.New(pnerr.KindBusy, "wsworker.Assign", nil)
	}
	best.mu.Lock()
	best.conns[conn] = struct{}{}
	best.mu.Unlock()
	return best.sched, nil
}

// Remove drops conn from whichever worker owns it and closes it.
func (p *Pool) Remove(conn Owned) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.mu.Lock()
		if _, ok := w.conns[conn]; ok {
			delete(w.conns, conn)
		}
		w.mu.Unlock()
	}
	conn.Close()
}

// Shutdown stops every worker's scheduler, closing every connection
// still assigned to it first.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.mu.Lock()
		for c := range w.conns {
			c.Close()
		}
		w.conns = nil
		w.mu.Unlock()
		w.sched.Close()
	}
}
