package wsconn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azure-iot/reverse-tunnel/internal/ioqueue"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 200)
	wire := encodeFrame(payload, true)

	df, n, ok := decodeFrame(wire)
	require.True(t, ok)
	assert.Equal(t, len(wire), n)
	assert.True(t, df.fin)
	assert.Equal(t, payload, df.payload)
}

func TestDecodeFrameIncomplete(t *testing.T) {
	wire := encodeFrame([]byte("hello"), true)
	_, _, ok := decodeFrame(wire[:len(wire)-1])
	assert.False(t, ok)
}

func TestSliceIntoFramesRespectsDefaultFrameSize(t *testing.T) {
	msg := bytes.Repeat([]byte{1}, 5000)
	frames := sliceIntoFrames(msg)
	require.Len(t, frames, 2)
	assert.Equal(t, ioqueue.DefaultFrameSize, len(frames[0]))
	assert.Equal(t, 5000-ioqueue.DefaultFrameSize, len(frames[1]))
}

func TestHandshakeAcceptKeyMatchesRFC6455Example(t *testing.T) {
	// Canonical example from RFC 6455 section 1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", acceptKeyFor("dGhlIHNhbXBsZSBub25jZQ=="))
}
