package allreduce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRound(t *testing.T, g *Group, data [][]float64) []error {
	t.Helper()
	ctx := context.Background()
	errs := make([]error, len(data))
	var wg sync.WaitGroup
	for rank := range data {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			errs[rank] = g.Reduce(ctx, rank, data[rank])
		}(rank)
	}
	wg.Wait()
	return errs
}

func TestParseReduceFunc(t *testing.T) {
	for _, s := range []string{"sum", "mean"} {
		fn, err := ParseReduceFunc(s)
		require.NoError(t, err)
		assert.Equal(t, ReduceFunc(s), fn)
	}
	_, err := ParseReduceFunc("max")
	assert.Error(t, err)
}

func TestNewGroupValidates(t *testing.T) {
	_, err := NewGroup(0, "sum")
	assert.Error(t, err)
	_, err = NewGroup(2, "prod")
	assert.Error(t, err)
	g, err := NewGroup(2, "mean")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Size())
}

func TestReduceMeanTwoReplicas(t *testing.T) {
	g, err := NewGroup(2, "mean")
	require.NoError(t, err)

	// Both replicas hold 36s: the mean leaves every element at 36 on both.
	data := [][]float64{
		{36, 36, 36, 36, 36, 36},
		{36, 36, 36, 36, 36, 36},
	}
	for _, err := range runRound(t, g, data) {
		require.NoError(t, err)
	}
	for rank := range data {
		assert.Equal(t, []float64{36, 36, 36, 36, 36, 36}, data[rank], "rank %d", rank)
	}
}

func TestReduceSumTwoReplicas(t *testing.T) {
	g, err := NewGroup(2, "sum")
	require.NoError(t, err)

	data := [][]float64{
		{36, 36, 36, 36, 36, 36},
		{36, 36, 36, 36, 36, 36},
	}
	for _, err := range runRound(t, g, data) {
		require.NoError(t, err)
	}
	for rank := range data {
		assert.Equal(t, []float64{72, 72, 72, 72, 72, 72}, data[rank], "rank %d", rank)
	}
}

func TestReduceDistinctReplicaValues(t *testing.T) {
	g, err := NewGroup(4, "sum")
	require.NoError(t, err)

	data := [][]float64{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
		{1000, 2000, 3000},
	}
	for _, err := range runRound(t, g, data) {
		require.NoError(t, err)
	}
	for rank := range data {
		assert.Equal(t, []float64{1111, 2222, 3333}, data[rank], "rank %d", rank)
	}
}

func TestReduceElementCountBelowGroupSize(t *testing.T) {
	// 2 elements across 3 ranks: the last rank's segment carries the
	// remainder, and empty segments are fine.
	g, err := NewGroup(3, "sum")
	require.NoError(t, err)

	data := [][]float64{{1, 2}, {10, 20}, {100, 200}}
	for _, err := range runRound(t, g, data) {
		require.NoError(t, err)
	}
	for rank := range data {
		assert.Equal(t, []float64{111, 222}, data[rank], "rank %d", rank)
	}
}

func TestGroupReusableAcrossRounds(t *testing.T) {
	g, err := NewGroup(2, "sum")
	require.NoError(t, err)

	first := [][]float64{{1, 1}, {2, 2}}
	for _, err := range runRound(t, g, first) {
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{3, 3}, first[0])

	// Different element count in the next round.
	second := [][]float64{{5, 5, 5}, {7, 7, 7}}
	for _, err := range runRound(t, g, second) {
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{12, 12, 12}, second[1])
}

func TestReduceMismatchedElementCounts(t *testing.T) {
	g, err := NewGroup(2, "sum")
	require.NoError(t, err)

	data := [][]float64{{1, 2, 3}, {4, 5}}
	errs := runRound(t, g, data)
	for rank, err := range errs {
		assert.Error(t, err, "rank %d", rank)
	}

	// The failed round must not poison the next one.
	next := [][]float64{{1, 1}, {1, 1}}
	for _, err := range runRound(t, g, next) {
		require.NoError(t, err)
	}
	assert.Equal(t, []float64{2, 2}, next[0])
}

func TestReduceRejectsBadRank(t *testing.T) {
	g, err := NewGroup(2, "sum")
	require.NoError(t, err)
	ctx := context.Background()
	assert.Error(t, g.Reduce(ctx, -1, []float64{1}))
	assert.Error(t, g.Reduce(ctx, 2, []float64{1}))
}

func TestReduceCancelledWhilePeersMissing(t *testing.T) {
	g, err := NewGroup(2, "sum")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = g.Reduce(ctx, 0, []float64{1, 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
