//go:build linux

package palsocket

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/evport"
	"github.com/azure-iot/reverse-tunnel/internal/pnerr"
)

func TestSetGetOptionRoundTrips(t *testing.T) {
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
	defer sock.Close()

	require.NoError(t, sock.SetOption(OptSendBufSize, 65536))
	got, err := sock.GetOption(OptSendBufSize)
	require.NoError(t, err)
	require.Greater(t, got, 0)

	_, err = sock.GetOption(OptionName(999))
	require.Error(t, err)
	require.Equal(t, pnerr.KindNotSupported, pnerr.KindOf(err))
}
