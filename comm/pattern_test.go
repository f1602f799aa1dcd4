package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
)

func TestPatternOf(t *testing.T) {
	axA := axes.Make("A", 10)
	axB := axes.Make("B", 15)
	axC := axes.Make("C", 20)
	ab := axes.MakeAxes(axA, axB)

	opOn := func(p graph.Placement, a axes.Axes) *graph.Op {
		return graph.NewPlaceholder(a, p)
	}

	cases := []struct {
		name     string
		from, to *graph.Op
		expected Pattern
	}{
		{
			name:     "nil nodes",
			expected: None,
		},
		{
			name:     "same single device",
			from:     opOn(graph.Single("cpu", "0"), nil),
			to:       opOn(graph.Single("cpu", "0"), nil),
			expected: None,
		},
		{
			name:     "different single devices",
			from:     opOn(graph.Single("cpu", "0"), nil),
			to:       opOn(graph.Single("cpu", "1"), nil),
			expected: Direct,
		},
		{
			name:     "same id across device kinds",
			from:     opOn(graph.Single("cpu", "0"), nil),
			to:       opOn(graph.Single("gpu", "0"), nil),
			expected: Direct,
		},
		{
			name:     "scalar constant to replica set",
			from:     graph.NewConstant(tensor.Scalar(1), graph.Single("cpu", "0")),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, &axB), nil),
			expected: None,
		},
		{
			name:     "source axes include parallel axis",
			from:     opOn(graph.Single("cpu", "0"), ab),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, &axB), nil),
			expected: Scatter,
		},
		{
			name:     "source axes exclude parallel axis",
			from:     opOn(graph.Single("cpu", "0"), ab),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), nil),
			expected: Broadcast,
		},
		{
			name:     "replica set to single device",
			from:     opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), ab),
			to:       opOn(graph.Single("cpu", "0"), nil),
			expected: Gather,
		},
		{
			name:     "no parallel axis declared",
			from:     opOn(graph.Single("cpu", "0"), ab),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, nil), nil),
			expected: Broadcast,
		},
		{
			name: "matching replica sets with reduce func",
			from: opOn(graph.Placement{
				Device:     "cpu",
				DeviceIDs:  []string{"1", "2"},
				Replicated: true,
				Parallel:   &axC,
				ReduceFunc: "mean",
			}, ab),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), nil),
			expected: AllReduce,
		},
		{
			name: "reduce func on the consumer does not reduce its inputs",
			from: opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), ab),
			to: opOn(graph.Placement{
				Device:     "cpu",
				DeviceIDs:  []string{"1", "2"},
				Replicated: true,
				ReduceFunc: "mean",
			}, nil),
			expected: None,
		},
		{
			name:     "matching replica sets without reduce func",
			from:     opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), ab),
			to:       opOn(graph.Replicated("cpu", []string{"1", "2"}, &axC), nil),
			expected: None,
		},
		{
			name:     "disjoint replica sets with reduce func",
			from:     opOn(graph.Placement{Device: "cpu", DeviceIDs: []string{"1", "2"}, Replicated: true, ReduceFunc: "sum"}, ab),
			to:       opOn(graph.Replicated("cpu", []string{"3", "4"}, nil), nil),
			expected: None,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, PatternOf(c.from, c.to))
		})
	}
}

func TestPatternOfReplicaSetOrderInsensitive(t *testing.T) {
	from := graph.NewPlaceholder(nil, graph.Placement{
		Device: "cpu", DeviceIDs: []string{"2", "1"}, Replicated: true, ReduceFunc: "sum",
	})
	to := graph.NewPlaceholder(nil, graph.Replicated("cpu", []string{"1", "2"}, nil))
	assert.Equal(t, AllReduce, PatternOf(from, to))
}
