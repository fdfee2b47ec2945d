//go:build linux

package palsocket

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/azure-iot/reverse-tunnel/internal/evport"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

func TestListenerAcceptsStreamConnection(t *testing.T) {
	port, err := evport.New()
	require.NoError(t, err)
	defer port.Shutdown()

	opened := make(chan struct{}, 2)
	accepted := make(chan *Op, 1)

	listener := New(port, Properties{Type: TypeStream, Listen: true, Address: "127.0.0.1:0"},
		func(ctx any, ev EventType, op *Op, kind pnerr.Kind) {
			switch ev {
			case EventOpened:
				opened <- struct{}{}
			case EventBeginAccept:
				op.Accept = New(port, Properties{Type: TypeStream}, func(ctx any, ev EventType, op *Op, kind pnerr.Kind) {}, nil)
			case EventEndAccept:
				// EventEndAccept is delivered to the listener's handler.
				if kind == pnerr.KindOK {
					accepted <- op
				}
			}
		}, nil)

	require.NoError(t, listener.Open())
	select {
	case <-opened:
	case <-time.After(time.Second):
		t.Fatal("listener never opened")
	}

	sa, err := unix.Getsockname(listener.fd)
	require.NoError(t, err)
	client, err := net.Dial("tcp", sockaddrString(sa))
	require.NoError(t, err)
	defer client.Close()

	select {
	case op := <-accepted:
		require.NotNil(t, op.Accept)
		require.Equal(t, StateOpened, op.Accept.State())
		require.Equal(t, client.LocalAddr().String(), op.Addr)
		op.Accept.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("connection never accepted")
	}
	require.NoError(t, listener.Close())
}

func TestOperationsAfterCloseReturnBadState(t *testing.T) {
	port, err := evport.New()
	require.NoError(t, err)
	defer port.Shutdown()

	opened := make(chan struct{}, 1)
	sock := New(port, Properties{Type: TypeStream, Listen: true, Address: "127.0.0.1:0"},
		func(ctx any, ev EventType, op *Op, kind pnerr.Kind) {
			if ev == EventOpened {
				opened <- struct{}{}
			}
		}, nil)
	require.NoError(t, sock.Open())
	<-opened
	require.NoError(t, sock.Close())

	require.Equal(t, pnerr.KindBadState, pnerr.KindOf(sock.CanSend(true)))
	require.Equal(t, pnerr.KindBadState, pnerr.KindOf(sock.CanRecv(true)))
	require.Equal(t, pnerr.KindBadState, pnerr.KindOf(sock.Open()))
}
