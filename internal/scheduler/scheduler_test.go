package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoNextRunsOnce(t *testing.T) {
	s := New(clockwork.NewFakeClock())
	defer s.Close()

	var n int32
	done := make(chan struct{})
	s.DoNext(nil, func() {
		atomic.AddInt32(&n, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}

func TestDoLaterFiresAfterAdvance(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Close()

	fired := make(chan struct{})
	s.DoLater("conn-1", 1000, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("fired before delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clock.Advance(1100 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task never fired after advance")
	}
}

func TestClearCancelsTaggedTasks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := New(clock)
	defer s.Close()

	var fired int32
	s.DoLater("conn-1", 500, func() { atomic.AddInt32(&fired, 1) })
	s.Clear("conn-1")

	clock.Advance(time.Second)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	require.True(t, true)
}
