package wsworker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() { f.closed = true }

func TestAssignRespectsPerWorkerCap(t *testing.T) {
	p := New(1, 2)
	a, b := &fakeConn{}, &fakeConn{}
	c := &fakeConn{}

	_, err := p.Assign(a)
	require.NoError(t, err)
	_, err = p.Assign(b)
	require.NoError(t, err)

	_, err = p.Assign(c)
	assert.Error(t, err)
}

func TestRemoveClosesConnection(t *testing.T) {
	p := New(1, 2)
	conn := &fakeConn{}
	_, err := p.Assign(conn)
	require.NoError(t, err)

	p.Remove(conn)
	assert.True(t, conn.closed)
}

func TestShutdownClosesAllConnections(t *testing.T) {
	p := New(2, 2)
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = p.Assign(a)
	_, _ = p.Assign(b)

	p.Shutdown()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
