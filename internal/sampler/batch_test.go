package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCapacity(t *testing.T) {
	t.Parallel()

	b, err := NewBatch(2)
	require.NoError(t, err)
	require.False(t, b.IsFull())

	require.NoError(t, b.Add(NewCoordinate(1, 1)))
	require.NoError(t, b.Add(NewCoordinate(2, 2)))
	require.True(t, b.IsFull())

	err = b.Add(NewCoordinate(3, 3))
	var capErr *CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Capacity)
	assert.Equal(t, 2, b.Len())
}

func TestBatchAddStoresCopies(t *testing.T) {
	t.Parallel()

	b, err := NewBatch(3)
	require.NoError(t, err)

	c := NewCoordinate(1, 2)
	require.NoError(t, b.Add(c))
	require.NoError(t, c.SetInWater(true))

	_, set := b.Items()[0].InWater()
	assert.False(t, set)

	// Item exposes the batch-owned value for in-place enrichment.
	require.NoError(t, b.Item(0).SetInPolygon(true))
	v, ok := b.Items()[0].InPolygon()
	assert.True(t, ok)
	assert.True(t, v)
}

func TestBatchMergeAndClear(t *testing.T) {
	t.Parallel()

	processed, err := NewBatch(Unbounded)
	require.NoError(t, err)
	b, err := NewBatch(2)
	require.NoError(t, err)

	for round := range 3 {
		require.NoError(t, b.Add(NewCoordinate(float64(round), 0)))
		require.NoError(t, b.Add(NewCoordinate(float64(round), 1)))
		require.NoError(t, processed.Merge(b))
		b.Clear()
		assert.Zero(t, b.Len())
		assert.Equal(t, 2, b.Capacity())
	}

	items := processed.Items()
	require.Len(t, items, 6)
	for i, c := range items {
		assert.Equal(t, float64(i/2), c.Lat)
		assert.Equal(t, float64(i%2), c.Lng)
	}
	assert.False(t, processed.IsFull())
}

func TestBatchMergeRespectsCapacity(t *testing.T) {
	t.Parallel()

	small, err := NewBatch(1)
	require.NoError(t, err)
	other, err := NewBatch(2)
	require.NoError(t, err)
	require.NoError(t, other.Add(NewCoordinate(1, 1)))
	require.NoError(t, other.Add(NewCoordinate(2, 2)))

	var capErr *CapacityExceededError
	require.ErrorAs(t, small.Merge(other), &capErr)
	assert.Zero(t, small.Len())
}

func TestBatchClone(t *testing.T) {
	t.Parallel()

	b, err := NewBatch(2)
	require.NoError(t, err)
	require.NoError(t, b.Add(NewCoordinate(1, 1)))

	cp := b.Clone()
	require.NoError(t, b.Item(0).SetInWater(false))
	_, set := cp.Item(0).InWater()
	assert.False(t, set)
	assert.Equal(t, b.Capacity(), cp.Capacity())
}

func TestNewBatchRejectsNegativeCapacity(t *testing.T) {
	t.Parallel()

	_, err := NewBatch(-1)
	assert.Error(t, err)
}
