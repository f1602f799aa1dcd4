package axes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionWithRemainder(t *testing.T) {
	ranges, err := PartitionWithRemainder(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 3}, {3, 6}, {6, 10}}, ranges)
}

func TestPartitionCoverage(t *testing.T) {
	for length := 0; length <= 24; length++ {
		for shards := 1; shards <= 6; shards++ {
			ranges, err := PartitionWithRemainder(length, shards)
			require.NoError(t, err)
			require.Len(t, ranges, shards)

			// Ranges must tile [0, length) in shard-index order.
			next := 0
			for _, r := range ranges {
				assert.Equal(t, next, r.Start)
				assert.LessOrEqual(t, r.Start, r.Stop)
				next = r.Stop
			}
			assert.Equal(t, length, next)
		}
	}
}

func TestPartitionRejectsRemainder(t *testing.T) {
	_, err := Partition(10, 3)
	assert.Error(t, err)

	ranges, err := Partition(12, 3)
	require.NoError(t, err)
	assert.Equal(t, []Range{{0, 4}, {4, 8}, {8, 12}}, ranges)
}

func TestPartitionZeroShards(t *testing.T) {
	_, err := Partition(10, 0)
	assert.ErrorIs(t, err, ErrZeroShards)
	_, err = PartitionWithRemainder(10, 0)
	assert.ErrorIs(t, err, ErrZeroShards)
}

func TestSlices(t *testing.T) {
	b := Make("B", 6)
	a := MakeAxes(Make("A", 1), b)

	table, err := Slices(a, &b, 3)
	require.NoError(t, err)
	require.Len(t, table, 3)
	assert.Equal(t, []Range{{0, 1}, {0, 2}}, table[0])
	assert.Equal(t, []Range{{0, 1}, {2, 4}}, table[1])
	assert.Equal(t, []Range{{0, 1}, {4, 6}}, table[2])
}

func TestSlicesRemainderOnLastShard(t *testing.T) {
	b := Make("B", 10)
	a := MakeAxes(b)

	table, err := Slices(a, &b, 3)
	require.NoError(t, err)
	assert.Equal(t, []Range{{6, 10}}, table[2])
}

func TestSlicesNilParallelAxis(t *testing.T) {
	a := MakeAxes(Make("A", 4), Make("B", 8))

	table, err := Slices(a, nil, 2)
	require.NoError(t, err)
	require.Len(t, table, 2)
	for _, slices := range table {
		assert.Equal(t, []Range{Full(4), Full(8)}, slices)
	}
}
