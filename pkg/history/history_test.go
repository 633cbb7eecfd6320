package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Sandbox/internal/types"
)

func sig(i int) types.Signature {
	var s types.Signature
	s[0] = byte(i)
	s[1] = byte(i >> 8)
	return s
}

func TestInsertEvictsOldest(t *testing.T) {
	h := New[int](3)
	for i := 0; i < 5; i++ {
		h.Insert(sig(i), i)
	}

	assert.Equal(t, 3, h.Len())
	assert.False(t, h.Contains(sig(0)))
	assert.False(t, h.Contains(sig(1)))
	for i := 2; i < 5; i++ {
		v, ok := h.Get(sig(i))
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, []types.Signature{sig(2), sig(3), sig(4)}, h.Signatures())
}

func TestGetDoesNotRefresh(t *testing.T) {
	h := New[int](2)
	h.Insert(sig(1), 1)
	h.Insert(sig(2), 2)
	_, _ = h.Get(sig(1))
	h.Insert(sig(3), 3)

	assert.False(t, h.Contains(sig(1)))
	assert.True(t, h.Contains(sig(2)))
}

func TestZeroCapacityDisablesHistory(t *testing.T) {
	h := New[string](0)
	h.Insert(sig(1), "ok")
	assert.False(t, h.Contains(sig(1)))
	_, ok := h.Get(sig(1))
	assert.False(t, ok)
	assert.Equal(t, 0, h.Len())
}

func TestResize(t *testing.T) {
	h := New[int](DefaultCapacity)
	for i := 0; i < 10; i++ {
		h.Insert(sig(i), i)
	}

	h.Resize(4)
	assert.Equal(t, 4, h.Len())
	assert.False(t, h.Contains(sig(5)))
	assert.True(t, h.Contains(sig(6)))

	h.Resize(0)
	assert.Equal(t, 0, h.Len())
	assert.False(t, h.Contains(sig(9)))

	h.Resize(2)
	h.Insert(sig(1), 1)
	assert.True(t, h.Contains(sig(1)))
	assert.Equal(t, 2, h.Capacity())
}

func TestInsertExistingKeepsPosition(t *testing.T) {
	h := New[int](3)
	for i := 1; i <= 3; i++ {
		h.Insert(sig(i), i)
	}

	h.Insert(sig(1), 10)
	v, ok := h.Get(sig(1))
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.Equal(t, []types.Signature{sig(1), sig(2), sig(3)}, h.Signatures())

	h.Insert(sig(4), 4)
	assert.False(t, h.Contains(sig(1)))
	assert.Equal(t, []types.Signature{sig(2), sig(3), sig(4)}, h.Signatures())
}
