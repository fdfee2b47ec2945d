//go:build linux

package evport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

func TestRegisterSelectReadDispatch(t *testing.T) {
	port, err := New()
	require.NoError(t, err)
	defer port.Shutdown()

	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	r, w := fds[0], fds[1]

	readCh := make(chan struct{}, 8)
	h, err := port.Register(r, func(ctx any, event EventType, kind pnerr.Kind) bool {
		if event == EventRead {
			var buf [1]byte
			n, _ := unix.Read(r, buf[:])
			readCh <- struct{}{}
			return n > 0
		}
		return false
	}, nil)
	require.NoError(t, err)
	require.NoError(t, port.Select(h, InterestRead))

	_, err = unix.Write(w, []byte{1})
	require.NoError(t, err)

	select {
	case <-readCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read dispatch")
	}

	destroyed := make(chan struct{})
	h2, err := port.Register(w, func(ctx any, event EventType, kind pnerr.Kind) bool {
		if event == EventDestroy {
			close(destroyed)
		}
		return false
	}, nil)
	require.NoError(t, err)
	require.NoError(t, port.Close(h2, false))
	<-destroyed

	require.NoError(t, port.Close(h, true))
	unix.Close(w)
}
