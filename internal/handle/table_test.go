package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetRemove(t *testing.T) {
	tbl := New[string]()

	id := tbl.Insert("alpha")
	assert.NotEqual(t, Invalid, id)

	v, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", v)

	removed, err := tbl.Remove(id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", removed)

	_, err = tbl.Get(id)
	assert.Error(t, err)
}

func TestBijection(t *testing.T) {
	tbl := New[int]()
	ids := make(map[int32]bool)
	for i := 0; i < 100; i++ {
		id := tbl.Insert(i)
		assert.False(t, ids[id], "id %d reused while live", id)
		ids[id] = true
	}
	assert.Equal(t, 100, tbl.Len())
}

func TestGetInvalidHandle(t *testing.T) {
	tbl := New[int]()
	_, err := tbl.Get(Invalid)
	assert.Error(t, err)
}

func TestRemoveUnknown(t *testing.T) {
	tbl := New[int]()
	_, err := tbl.Remove(12345)
	assert.Error(t, err)
}
