package graph

import (
	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/tensor"
)

// Apply executes one compute op on already-evaluated argument values.
// Placeholder values come from the caller's environment; communication ops
// are not compute ops and are dispatched by the executor, never here.
func Apply(op *Op, args []*tensor.Tensor) (*tensor.Tensor, error) {
	switch op.Kind {
	case Placeholder:
		return nil, errors.New("graph: placeholder has no local value")
	case Constant:
		return op.Value, nil
	case AddScalar:
		return args[0].AddScalar(op.Scalar), nil
	case MulScalar:
		return args[0].Scale(op.Scalar), nil
	case Add:
		return args[0].Add(args[1])
	case Sub:
		return args[0].Sub(args[1])
	case Dot:
		return args[0].Dot(args[1])
	case Result:
		return args[0], nil
	default:
		return nil, errors.Errorf("graph: unknown op kind %v", op.Kind)
	}
}

// Walk visits op and its transitive arguments once each, arguments before
// users (post-order), which is a valid sequential execution order.
func Walk(outputs []*Op, visit func(*Op)) {
	seen := make(map[*Op]bool)
	var rec func(op *Op)
	rec = func(op *Op) {
		if op == nil || seen[op] {
			return
		}
		seen[op] = true
		for _, arg := range op.Args {
			rec(arg)
		}
		visit(op)
	}
	for _, out := range outputs {
		rec(out)
	}
}
