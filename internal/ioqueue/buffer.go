// Package ioqueue implements the buffered FIFO discipline shared by the
// inbound and outbound streams of a connection: payload bytes move through
// four named sub-lists (free -> ready -> inprogress -> done) as they are
// filled, submitted, and completed.
//
// Grounded on the teacher's pool.baseBufferPool recycling pattern (a
// channel-backed free list keyed by size class) combined with
// github.com/eapache/queue, the FIFO the teacher already depends on for
// its executor's task queue, reused here for the three ordered sub-lists.
package ioqueue

import "github.com/azure-iot/reverse-tunnel/internal/pnerr"

// Flag tags a Buffer with its position in a message sequence.
type Flag int

const (
	// FlagNone marks a buffer that has not yet been assigned a role.
	FlagNone Flag = iota
	// FlagFragment marks a non-final frame of a multi-frame message.
	FlagFragment
	// FlagMessage marks the final frame of a message (or a complete
	// single-frame message).
	FlagMessage
)

// CompleteFunc is invoked exactly once when a Buffer reaches done or is
// aborted. code is pnerr.KindOK on success.
type CompleteFunc func(buf *Buffer, code pnerr.Kind)

// DefaultFrameSize is the maximum payload carried by one wire frame,
// mirroring DEFAULT_FRAME_SIZE from the connection framing contract.
const DefaultFrameSize = 4096

// Buffer is one FIFO entry: a byte region plus the bookkeeping needed to
// track its progress and, for the final buffer of a message, deliver a
// completion.
type Buffer struct {
	Data        []byte
	WriteOffset int
	ReadOffset  int
	Flag        Flag
	Complete    CompleteFunc
	Ctx         any
	Code        pnerr.Kind
}

// Len returns the number of valid bytes written into Data.
func (b *Buffer) Len() int { return b.WriteOffset }

// Unread returns the number of bytes not yet consumed by Read.
func (b *Buffer) Unread() int { return b.WriteOffset - b.ReadOffset }

// Write appends p to the buffer up to its capacity, returning the number
// of bytes actually written.
func (b *Buffer) Write(p []byte) int {
	n := copy(b.Data[b.WriteOffset:], p)
	b.WriteOffset += n
	return n
}

// Read copies unread bytes into p, advancing the read offset.
func (b *Buffer) Read(p []byte) int {
	n := copy(p, b.Data[b.ReadOffset:b.WriteOffset])
	b.ReadOffset += n
	return n
}

// Full reports whether the buffer has no remaining write capacity.
func (b *Buffer) Full() bool { return b.WriteOffset >= len(b.Data) }

// reset clears a buffer for reuse from the free list.
func (b *Buffer) reset(size int) {
	if cap(b.Data) < size {
		b.Data = make([]byte, size)
	} else {
		b.Data = b.Data[:size]
	}
	b.WriteOffset = 0
	b.ReadOffset = 0
	b.Flag = FlagNone
	b.Complete = nil
	b.Ctx = nil
	b.Code = pnerr.KindOK
}
