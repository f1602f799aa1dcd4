package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/graph"
)

func TestNewAllReduceRejectsUnknownReduceFunc(t *testing.T) {
	ax := axes.Make("N", 8)
	x := graph.NewPlaceholder(axes.MakeAxes(ax), graph.Replicated("cpu", []string{"0", "1"}, &ax))

	_, err := NewAllReduce(x, "max", 0)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "max")

	for _, fn := range []string{"sum", "mean"} {
		ar, err := NewAllReduce(x, fn, 1)
		require.NoError(t, err)
		assert.Equal(t, AllReduceOp, ar.Kind)
		assert.Equal(t, fn, ar.ReduceFunc)
		assert.Equal(t, x, ar.Slot)
		assert.Equal(t, 1, ar.Idx)
	}
}

func TestScatterSendSliceTable(t *testing.T) {
	h := axes.Make("H", 10)
	w := axes.Make("W", 4)
	from := graph.NewPlaceholder(axes.MakeAxes(h, w), graph.Single("cpu", "0"))
	to := graph.NewPlaceholder(nil, graph.Replicated("cpu", []string{"1", "2", "3"}, &h))

	send, err := NewScatterSend(from, to)
	require.NoError(t, err)
	assert.Equal(t, ScatterSendOp, send.Kind)
	assert.Equal(t, []string{"1", "2", "3"}, send.ToIDs)
	require.Len(t, send.Slices, 3)

	// 10 over 3 destinations: remainder lands on the last shard.
	assert.Equal(t, axes.Range{Start: 0, Stop: 3}, send.Slices[0][0])
	assert.Equal(t, axes.Range{Start: 3, Stop: 6}, send.Slices[1][0])
	assert.Equal(t, axes.Range{Start: 6, Stop: 10}, send.Slices[2][0])
	for i := range send.Slices {
		assert.Equal(t, axes.Full(4), send.Slices[i][1], "W axis must be kept whole")
	}
}

func TestScatterRecvShardAxes(t *testing.T) {
	h := axes.Make("H", 10)
	w := axes.Make("W", 4)
	from := graph.NewPlaceholder(axes.MakeAxes(h, w), graph.Single("cpu", "0"))
	to := graph.NewPlaceholder(nil, graph.Replicated("cpu", []string{"1", "2", "3"}, &h))

	send, err := NewScatterSend(from, to)
	require.NoError(t, err)

	recv0, err := NewScatterRecv(to, send, 0)
	require.NoError(t, err)
	assert.Equal(t, axes.Axes{{Name: "H", Length: 3}, {Name: "W", Length: 4}}, recv0.Axes)
	assert.Equal(t, from, recv0.Slot)

	recv2, err := NewScatterRecv(to, send, 2)
	require.NoError(t, err)
	assert.Equal(t, axes.Axes{{Name: "H", Length: 4}, {Name: "W", Length: 4}}, recv2.Axes)

	_, err = NewScatterRecv(to, send, 3)
	assert.Error(t, err)
}

func TestGatherEndpointsInvertScatter(t *testing.T) {
	h := axes.Make("H", 10)
	w := axes.Make("W", 4)
	from := graph.NewPlaceholder(axes.MakeAxes(h, w),
		graph.Replicated("cpu", []string{"1", "2"}, &h))
	to := graph.NewPlaceholder(nil, graph.Single("cpu", "0"))

	sends := make([]*Op, 2)
	for idx := range sends {
		send, err := NewGatherSend(from, idx)
		require.NoError(t, err)
		// 10 over 2 sources splits evenly.
		assert.Equal(t, axes.Axes{{Name: "H", Length: 5}, {Name: "W", Length: 4}}, send.Axes)
		sends[idx] = send
	}

	recv, err := NewGatherRecv(from, to, sends)
	require.NoError(t, err)
	assert.Equal(t, GatherRecvOp, recv.Kind)
	assert.Equal(t, from.Axes, recv.Axes)
	assert.Equal(t, []string{"1", "2"}, recv.FromIDs)
	require.Len(t, recv.Slices, 2)
	assert.Equal(t, axes.Range{Start: 0, Stop: 5}, recv.Slices[0][0])
	assert.Equal(t, axes.Range{Start: 5, Stop: 10}, recv.Slices[1][0])

	_, err = NewGatherRecv(from, to, nil)
	assert.Error(t, err)
}

func TestIsRecvCoversEveryKind(t *testing.T) {
	recvKinds := map[OpKind]bool{
		RecvOp: true, ScatterRecvOp: true, GatherRecvOp: true, BroadcastRecvOp: true,
	}
	for k := SendOp; k <= AllReduceOp; k++ {
		op := &Op{Kind: k}
		assert.Equal(t, recvKinds[k], op.IsRecv(), "kind %v", k)
	}
}
