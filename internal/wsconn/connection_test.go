package wsconn

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/ioqueue"
	"github.com/azure-iot/reverse-tunnel/internal/palsocket"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
	"github.com/azure-iot/reverse-tunnel/internal/scheduler"
)

func TestBackoffDoublesAndClamps(t *testing.T) {
	c := &Connection{}
	assert.Equal(t, time.Duration(0), c.backoff)

	c.advanceBackoff()
	assert.Equal(t, initialBackoff, c.backoff)

	for i := 0; i < 20; i++ {
		c.advanceBackoff()
	}
	assert.Equal(t, maxBackoff, c.backoff)
}

// TestFragmentStaysInProgressUntilMessageEndSend reproduces the S1
// scenario's queue bookkeeping: a message split across one fragment
// frame and one terminal message frame must keep the fragment in
// inprogress (not drained to done) until the terminal frame's
// end_send confirms, so a drop between the two still recovers the
// fragment via Rollback.
func TestFragmentStaysInProgressUntilMessageEndSend(t *testing.T) {
	sched := scheduler.New(clockwork.NewFakeClock())
	defer sched.Close()

	c := &Connection{
		sched:         sched,
		outbound:      ioqueue.New(ioqueue.DefaultFrameSize),
		handshakeDone: true,
	}

	fragment := c.outbound.Acquire()
	fragment.Write(make([]byte, ioqueue.DefaultFrameSize))
	fragment.Flag = ioqueue.FlagFragment
	c.outbound.Enqueue(fragment)

	tail := c.outbound.Acquire()
	tail.Write([]byte("tail"))
	tail.Flag = ioqueue.FlagMessage
	c.outbound.Enqueue(tail)

	// Submit and end_send the fragment.
	op := &palsocket.Op{}
	c.onBeginSend(op)
	require.NotNil(t, op.Buffer)
	c.onEndSend(op, pnerr.KindOK)

	// The fragment must still be recoverable by Rollback: simulate a
	// drop here and confirm it resends first.
	c.outbound.Rollback()
	require.Equal(t, 2, c.outbound.ReadyLen())
	first, ok := c.outbound.BeginSubmit()
	require.True(t, ok)
	assert.Same(t, fragment, first)
	second, ok := c.outbound.BeginSubmit()
	require.True(t, ok)
	assert.Same(t, tail, second)

	// Now drive both to completion for real and confirm both drain
	// together only once the message frame ends.
	c.pendingSendFlag = fragment.Flag
	delivered := c.outbound.EndSubmit(c.pendingSendFlag == ioqueue.FlagMessage)
	assert.Nil(t, delivered)
	c.pendingSendFlag = tail.Flag
	delivered = c.outbound.EndSubmit(c.pendingSendFlag == ioqueue.FlagMessage)
	require.Len(t, delivered, 2)
}
