package wsconn

import "github.com/azure-iot/reverse-tunnel/internal/ioqueue"

// Reader is the inbound stream interface handed to a ReceiverFunc: a
// sequential reader across every buffer making up one reassembled
// message.
type Reader struct {
	parts []*ioqueue.Buffer
	idx   int
}

// Read copies bytes from the current buffer, advancing to the next part
// once exhausted. It returns (0, nil) once every part has been drained.
func (r *Reader) Read(p []byte) (int, error) {
	for r.idx < len(r.parts) {
		part := r.parts[r.idx]
		if part.Unread() == 0 {
			r.idx++
			continue
		}
		return part.Read(p), nil
	}
	return 0, nil
}

// Readable reports the number of unread bytes remaining across every
// part of the message.
func (r *Reader) Readable() int {
	n := 0
	for i := r.idx; i < len(r.parts); i++ {
		n += r.parts[i].Unread()
	}
	return n
}

// Reset discards any unread bytes, guaranteeing no partially delivered
// fragment is observable after it returns.
func (r *Reader) Reset() { r.idx = len(r.parts) }

// Writer is the outbound stream interface handed to a WriterFunc: bytes
// accumulate into DefaultFrameSize buffers, spilling into a new one
// whenever the current buffer fills. Capacity is "effectively
// infinite" — buffers allocate from the queue's free list as needed.
type Writer struct {
	q       *ioqueue.Queue
	current *ioqueue.Buffer
}

// Write appends p, allocating additional frame buffers as needed. Every
// buffer but the last is enqueued as a fragment; Write never returns a
// short count or error.
func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		if w.current == nil {
			w.current = w.q.Acquire()
		}
		n := w.current.Write(p)
		p = p[n:]
		if w.current.Full() && len(p) > 0 {
			w.current.Flag = ioqueue.FlagFragment
			w.q.Enqueue(w.current)
			w.current = nil
		}
	}
	return total, nil
}

// Writable reports the theoretical remaining capacity; writers never
// block on it since buffers are allocated on demand.
func (w *Writer) Writable() int { return int(^uint(0) >> 1) }

// finish marks the final buffer as FlagMessage, lets attach attach a
// completion callback to it, and enqueues it.
func (w *Writer) finish(attach func(b *ioqueue.Buffer)) {
	if w.current == nil {
		w.current = w.q.Acquire()
	}
	w.current.Flag = ioqueue.FlagMessage
	if attach != nil {
		attach(w.current)
	}
	w.q.Enqueue(w.current)
	w.current = nil
}
