package ioqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

func fill(q *Queue, tag Flag) *Buffer {
	b := q.Acquire()
	b.Write([]byte("x"))
	b.Flag = tag
	q.Enqueue(b)
	return b
}

func TestSubmitDeliverMessage(t *testing.T) {
	q := New(16)
	fill(q, FlagFragment)
	fill(q, FlagMessage)

	b1, ok := q.BeginSubmit()
	require.True(t, ok)
	assert.Nil(t, q.EndSubmit(false))

	b2, ok := q.BeginSubmit()
	require.True(t, ok)
	delivered := q.EndSubmit(true)
	require.Len(t, delivered, 2)
	assert.Same(t, b1, delivered[0])
	assert.Same(t, b2, delivered[1])
}

func TestRollbackPreservesOrder(t *testing.T) {
	q := New(16)
	b1 := fill(q, FlagFragment)
	b2 := fill(q, FlagMessage)
	fill(q, FlagMessage) // still ready, not yet submitted

	_, _ = q.BeginSubmit() // b1 -> inprogress
	_, _ = q.BeginSubmit() // b2 -> inprogress

	q.Rollback()

	assert.Equal(t, 3, q.ReadyLen())
	first, ok := q.BeginSubmit()
	require.True(t, ok)
	assert.Same(t, b1, first)
	second, ok := q.BeginSubmit()
	require.True(t, ok)
	assert.Same(t, b2, second)
}

func TestAbortCompletesAllQueued(t *testing.T) {
	q := New(16)
	var codes []pnerr.Kind
	b := q.Acquire()
	b.Flag = FlagMessage
	b.Complete = func(buf *Buffer, code pnerr.Kind) { codes = append(codes, code) }
	q.Enqueue(b)

	_, ok := q.BeginSubmit()
	require.True(t, ok)

	q.Abort()

	require.Len(t, codes, 1)
	assert.Equal(t, pnerr.KindAborted, codes[0])
	assert.Equal(t, 0, q.ReadyLen())
}
