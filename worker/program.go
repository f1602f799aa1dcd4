package worker

import (
	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/comm"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
)

// CompileNodes turns wire-form node specs back into executable graph ops.
// Arg indices must point at earlier nodes, so the returned slice is a valid
// execution order.
func CompileNodes(nodes []NodeSpec) ([]*graph.Op, error) {
	ops := make([]*graph.Op, len(nodes))
	for i, n := range nodes {
		if len(n.AxisName) != len(n.AxisLen) {
			return nil, errors.Errorf(
				"worker: node %d has %d axis names for %d lengths", i, len(n.AxisName), len(n.AxisLen))
		}
		a := make(axes.Axes, len(n.AxisName))
		for j := range n.AxisName {
			a[j] = axes.Make(n.AxisName[j], n.AxisLen[j])
		}
		op := &graph.Op{Kind: n.Kind, Axes: a, Scalar: n.Scalar}
		if n.Kind == graph.Constant {
			v, err := tensor.New(a, append([]float64(nil), n.Value...))
			if err != nil {
				return nil, errors.Wrapf(err, "worker: node %d", i)
			}
			op.Value = v
		}
		for _, arg := range n.Args {
			if arg < 0 || arg >= i {
				return nil, errors.Errorf(
					"worker: node %d references node %d out of order", i, arg)
			}
			op.Args = append(op.Args, ops[arg])
		}
		ops[i] = op
	}
	return ops, nil
}

// NodesFromProgram flattens a worker program's compute steps into wire
// form, returning the node specs plus each op's node index. Communication
// steps are rejected: remote workers run compute-only programs, with all
// data movement handled by the orchestrator between Execute calls.
func NodesFromProgram(w *comm.WorkerProgram) ([]NodeSpec, map[*graph.Op]int, error) {
	var nodes []NodeSpec
	index := make(map[*graph.Op]int)
	for _, step := range w.Steps {
		if step.Comm != nil {
			return nil, nil, errors.Errorf(
				"worker: %s program contains a %v step; remote workers are compute-only",
				w.Transformer, step.Comm.Kind)
		}
		op := step.Compute
		spec := NodeSpec{Kind: op.Kind, Scalar: op.Scalar}
		for _, ax := range op.Axes {
			spec.AxisName = append(spec.AxisName, ax.Name)
			spec.AxisLen = append(spec.AxisLen, ax.Length)
		}
		if op.Kind == graph.Constant {
			spec.Value = append([]float64(nil), op.Value.Data...)
		}
		for _, arg := range op.Args {
			argIdx, ok := index[arg]
			if !ok {
				return nil, nil, errors.Errorf(
					"worker: %s program uses a value that never arrives", w.Transformer)
			}
			spec.Args = append(spec.Args, argIdx)
		}
		index[op] = len(nodes)
		nodes = append(nodes, spec)
	}
	return nodes, index, nil
}
