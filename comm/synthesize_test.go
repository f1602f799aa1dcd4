package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
)

func commSteps(w *WorkerProgram) []*Op {
	var out []*Op
	for _, s := range w.Steps {
		if s.Comm != nil {
			out = append(out, s.Comm)
		}
	}
	return out
}

func TestSynthesizeSameDeviceNeedsNoComm(t *testing.T) {
	ax := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	x := graph.NewPlaceholder(axes.MakeAxes(ax), host)
	y := graph.NewAddScalar(x, 1)

	prog, err := Synthesize([]*graph.Op{y}, host)
	require.NoError(t, err)
	require.Len(t, prog.Workers, 1)
	assert.Empty(t, commSteps(prog.Workers["cpu0"]))
	assert.Empty(t, prog.Ctx.Edges)
	assert.Empty(t, prog.Ctx.Groups)
}

func TestSynthesizeDirectSplicesSendRecvPair(t *testing.T) {
	ax := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	x := graph.NewPlaceholder(axes.MakeAxes(ax), host)
	y := graph.NewAddScalar(x, 1).WithPlacement(graph.Single("cpu", "1"))

	prog, err := Synthesize([]*graph.Op{y}, host)
	require.NoError(t, err)

	// cpu0 -> cpu1 for x, then cpu1 -> cpu0 for the result.
	require.Len(t, prog.Ctx.Edges, 2)
	assert.Equal(t, EdgeSpec{Channel: 0, From: "cpu0", To: "cpu1"}, prog.Ctx.Edges[0])
	assert.Equal(t, EdgeSpec{Channel: 1, From: "cpu1", To: "cpu0"}, prog.Ctx.Edges[1])

	w0 := commSteps(prog.Workers["cpu0"])
	w1 := commSteps(prog.Workers["cpu1"])
	require.Len(t, w0, 2)
	require.Len(t, w1, 2)
	assert.Equal(t, SendOp, w0[0].Kind)
	assert.Equal(t, RecvOp, w0[1].Kind)
	assert.Equal(t, RecvOp, w1[0].Kind)
	assert.Equal(t, SendOp, w1[1].Kind)
	assert.Equal(t, x, w1[0].Slot)
}

func TestSynthesizeScatterGatherRoundTrip(t *testing.T) {
	h := axes.Make("H", 10)
	w := axes.Make("W", 4)
	host := graph.Single("cpu", "0")
	x := graph.NewPlaceholder(axes.MakeAxes(h, w), host)
	shard := graph.NewAddScalar(x, 1).
		WithPlacement(graph.Replicated("cpu", []string{"1", "2"}, &h))

	prog, err := Synthesize([]*graph.Op{shard}, host)
	require.NoError(t, err)
	require.Len(t, prog.Workers, 3)

	host0 := commSteps(prog.Workers["cpu0"])
	require.Len(t, host0, 2)
	assert.Equal(t, ScatterSendOp, host0[0].Kind)
	assert.Equal(t, GatherRecvOp, host0[1].Kind)
	assert.Len(t, host0[0].Channels, 2)
	assert.Len(t, host0[1].Channels, 2)

	for _, name := range []string{"cpu1", "cpu2"} {
		steps := commSteps(prog.Workers[name])
		require.Len(t, steps, 2, name)
		assert.Equal(t, ScatterRecvOp, steps[0].Kind)
		assert.Equal(t, GatherSendOp, steps[1].Kind)
	}
}

func TestSynthesizeBroadcastReachesEveryReplica(t *testing.T) {
	n := axes.Make("N", 6)
	c := axes.Make("C", 20)
	host := graph.Single("cpu", "0")
	x := graph.NewPlaceholder(axes.MakeAxes(n), host)
	// Parallel axis C is absent from x's axes, so the transfer replicates.
	y := graph.NewAddScalar(x, 1).
		WithPlacement(graph.Replicated("cpu", []string{"1", "2"}, &c))

	prog, err := Synthesize([]*graph.Op{y}, host)
	require.NoError(t, err)

	host0 := commSteps(prog.Workers["cpu0"])
	require.NotEmpty(t, host0)
	assert.Equal(t, BroadcastSendOp, host0[0].Kind)
	assert.Len(t, host0[0].Channels, 2)
	for idx, name := range []string{"cpu1", "cpu2"} {
		steps := commSteps(prog.Workers[name])
		require.NotEmpty(t, steps, name)
		assert.Equal(t, BroadcastRecvOp, steps[0].Kind)
		assert.Equal(t, idx, steps[0].Idx)
	}
}

func TestSynthesizeAllReduceAllocatesOneGroup(t *testing.T) {
	n := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	replicas := graph.Replicated("cpu", []string{"1", "2"}, nil)
	x := graph.NewPlaceholder(axes.MakeAxes(n), replicas)

	reduced := graph.NewAddScalar(x, 1)
	reduced.Place.ReduceFunc = "mean"
	y := graph.NewSub(x, reduced).WithPlacement(replicas)

	prog, err := Synthesize([]*graph.Op{y}, host)
	require.NoError(t, err)

	require.Len(t, prog.Ctx.Groups, 1)
	assert.Equal(t, GroupSpec{Handle: 0, Size: 2, ReduceFunc: "mean"}, prog.Ctx.Groups[0])

	for _, name := range []string{"cpu1", "cpu2"} {
		var found bool
		for _, op := range commSteps(prog.Workers[name]) {
			if op.Kind == AllReduceOp {
				found = true
				assert.Equal(t, reduced, op.Slot)
				assert.Equal(t, []int{0}, op.Channels)
			}
		}
		assert.True(t, found, "%s missing allreduce step", name)
	}
}

func TestSynthesizeAllReduceRejectsUnknownReduceFunc(t *testing.T) {
	n := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	replicas := graph.Replicated("cpu", []string{"1", "2"}, nil)
	x := graph.NewPlaceholder(axes.MakeAxes(n), replicas)
	reduced := graph.NewAddScalar(x, 1)
	reduced.Place.ReduceFunc = "max"
	y := graph.NewSub(x, reduced).WithPlacement(replicas)

	_, err := Synthesize([]*graph.Op{y}, host)
	assert.Error(t, err)
}

func TestSynthesizeSharedProducerMovesOnce(t *testing.T) {
	n := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	x := graph.NewPlaceholder(axes.MakeAxes(n), host)
	remote := graph.Single("cpu", "1")
	a := graph.NewAddScalar(x, 1).WithPlacement(remote)
	b := graph.NewAddScalar(x, 2).WithPlacement(remote)

	prog, err := Synthesize([]*graph.Op{a, b}, host)
	require.NoError(t, err)

	sends := 0
	for _, op := range commSteps(prog.Workers["cpu0"]) {
		if op.Kind == SendOp && op.Source == x {
			sends++
		}
	}
	assert.Equal(t, 1, sends, "x should cross to cpu1 exactly once")
}

func TestSynthesizeScalarConstantMaterializedPerReplica(t *testing.T) {
	n := axes.Make("N", 6)
	host := graph.Single("cpu", "0")
	replicas := graph.Replicated("cpu", []string{"1", "2"}, nil)
	x := graph.NewPlaceholder(axes.MakeAxes(n), replicas)
	one := graph.NewConstant(tensor.Scalar(1), host)
	y := graph.NewAdd(x, one)

	prog, err := Synthesize([]*graph.Op{y}, host)
	require.NoError(t, err)

	for _, name := range []string{"cpu1", "cpu2"} {
		w := prog.Workers[name]
		require.NotNil(t, w, name)
		var local bool
		for _, s := range w.Steps {
			if s.Compute == one {
				local = true
			}
			if s.Comm != nil {
				assert.NotEqual(t, BroadcastRecvOp, s.Comm.Kind,
					"scalar constants are not broadcast")
			}
		}
		assert.True(t, local, "%s should materialize the constant locally", name)
	}
}

func TestSynthesizeRejectsReplicatedHost(t *testing.T) {
	n := axes.Make("N", 6)
	x := graph.NewPlaceholder(axes.MakeAxes(n), graph.Single("cpu", "0"))
	_, err := Synthesize([]*graph.Op{x}, graph.Replicated("cpu", []string{"0", "1"}, nil))
	assert.Error(t, err)
}
