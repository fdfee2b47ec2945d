package ioqueue

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

// Queue is the four-sub-list FIFO discipline backing one stream direction
// of a connection: buffers are taken from free, filled and enqueued to
// ready, moved to inprogress once handed to the transport, and finally to
// done once the transport confirms completion.
type Queue struct {
	mu         sync.Mutex
	free       []*Buffer
	ready      *queue.Queue
	inprogress *queue.Queue
	done       *queue.Queue
	bufSize    int
}

// New returns an empty Queue whose buffers are allocated with bufSize
// capacity (typically DefaultFrameSize).
func New(bufSize int) *Queue {
	return &Queue{
		ready:      queue.New(),
		inprogress: queue.New(),
		done:       queue.New(),
		bufSize:    bufSize,
	}
}

// Acquire returns a buffer from the free list, allocating one if the free
// list is empty.
func (q *Queue) Acquire() *Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n := len(q.free); n > 0 {
		b := q.free[n-1]
		q.free = q.free[:n-1]
		b.reset(q.bufSize)
		return b
	}
	b := &Buffer{}
	b.reset(q.bufSize)
	return b
}

// Release returns a buffer to the free list for reuse.
func (q *Queue) Release(b *Buffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.free = append(q.free, b)
}

// Enqueue appends b to the tail of ready.
func (q *Queue) Enqueue(b *Buffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready.Add(b)
}

// ReadyLen reports how many buffers are waiting to be submitted.
func (q *Queue) ReadyLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Length()
}

// BeginSubmit pops the head of ready and moves it to inprogress, returning
// it for handoff to the transport. It reports false when ready is empty.
func (q *Queue) BeginSubmit() (*Buffer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ready.Length() == 0 {
		return nil, false
	}
	b := q.ready.Remove().(*Buffer)
	q.inprogress.Add(b)
	return b, true
}

// EndSubmit resolves the oldest inprogress buffer. When message is true
// (the submitted buffer completed a message, i.e. carried FlagMessage),
// every inprogress buffer up to and including it is moved to done and
// returned for delivery in submission order; otherwise the buffer stays
// in inprogress and nil is returned.
func (q *Queue) EndSubmit(message bool) []*Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !message {
		return nil
	}
	var delivered []*Buffer
	for q.inprogress.Length() > 0 {
		b := q.inprogress.Remove().(*Buffer)
		q.done.Add(b)
		delivered = append(delivered, b)
		if b.Flag == FlagMessage {
			break
		}
	}
	return delivered
}

// DrainDone removes and returns every buffer currently in done, in
// completion order, so their completion callbacks can be invoked.
func (q *Queue) DrainDone() []*Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Buffer
	for q.done.Length() > 0 {
		out = append(out, q.done.Remove().(*Buffer))
	}
	return out
}

// Rollback atomically moves every inprogress entry back to the head of
// ready, preserving submission order, so a reconnect resends exactly the
// buffers that were never confirmed.
func (q *Queue) Rollback() {
	q.mu.Lock()
	defer q.mu.Unlock()
	merged := queue.New()
	for q.inprogress.Length() > 0 {
		merged.Add(q.inprogress.Remove())
	}
	for q.ready.Length() > 0 {
		merged.Add(q.ready.Remove())
	}
	q.ready = merged
}

// Abort completes every buffer queued in ready and inprogress with
// pnerr.KindAborted, in submission order, then frees them. It is used on
// close, where in-flight sends must not be silently dropped.
func (q *Queue) Abort() {
	q.mu.Lock()
	var pending []*Buffer
	for q.inprogress.Length() > 0 {
		pending = append(pending, q.inprogress.Remove().(*Buffer))
	}
	for q.ready.Length() > 0 {
		pending = append(pending, q.ready.Remove().(*Buffer))
	}
	q.mu.Unlock()

	for _, b := range pending {
		b.Code = pnerr.KindAborted
		if b.Complete != nil {
			b.Complete(b, pnerr.KindAborted)
		}
		q.Release(b)
	}
}

// Reset releases every ready buffer back to the free list; used by the
// streaming reset operation to guarantee no
// partially delivered fragment remains observable afterward.
func (q *Queue) Reset() {
	q.mu.Lock()
	var pending []*Buffer
	for q.ready.Length() > 0 {
		pending = append(pending, q.ready.Remove().(*Buffer))
	}
	q.mu.Unlock()
	for _, b := range pending {
		q.Release(b)
	}
}
