// Package graph holds the minimal compute-op model consumed by the
// communication layer: opaque nodes carrying output axes plus the placement
// metadata (device, device-id set, transformer, parallel axis, reduce
// function) that drives pattern classification.
package graph

import (
	"fmt"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/tensor"
)

// Placement is the device metadata attached to every op.
type Placement struct {
	// Device is the logical device kind, e.g. "cpu" or "gpu".
	Device string
	// DeviceIDs names the execution units. A single entry with Replicated
	// false is a scalar placement; Replicated true marks a replica tuple
	// (even one of size one).
	DeviceIDs  []string
	Replicated bool
	// Parallel is the axis along which a replicated op shards its work.
	Parallel *axes.Axis
	// ReduceFunc marks an op whose replicas must be combined ("sum"|"mean").
	ReduceFunc string
	// HostDevice is the device id hosting the computation's inputs/outputs.
	HostDevice string
}

// Single places an op on one device.
func Single(device, id string) Placement {
	return Placement{Device: device, DeviceIDs: []string{id}}
}

// Replicated places an op on a replica set sharded along parallel.
func Replicated(device string, ids []string, parallel *axes.Axis) Placement {
	return Placement{Device: device, DeviceIDs: ids, Replicated: true, Parallel: parallel}
}

// IsScalar reports whether the placement names exactly one device (not a
// replica tuple).
func (p Placement) IsScalar() bool {
	return !p.Replicated && len(p.DeviceIDs) == 1
}

// Transformer names the worker executing the op's replica on the given
// device id, e.g. "cpu0".
func (p Placement) Transformer(id string) string {
	return fmt.Sprintf("%s%s", p.Device, id)
}

// Kind enumerates the compute ops the executor understands.
type Kind int

const (
	Placeholder Kind = iota
	Constant
	AddScalar
	MulScalar
	Add
	Sub
	Dot
	// Result pins a computation output to the host device.
	Result
)

func (k Kind) String() string {
	switch k {
	case Placeholder:
		return "Placeholder"
	case Constant:
		return "Constant"
	case AddScalar:
		return "AddScalar"
	case MulScalar:
		return "MulScalar"
	case Add:
		return "Add"
	case Sub:
		return "Sub"
	case Dot:
		return "Dot"
	case Result:
		return "Result"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Op is one graph node. Identity is pointer identity; the communication
// layer never compares ops by value.
type Op struct {
	Kind   Kind
	Args   []*Op
	Axes   axes.Axes
	Value  *tensor.Tensor // Constant only
	Scalar float64        // AddScalar / MulScalar operand
	Place  Placement
}

// NewPlaceholder declares an input value.
func NewPlaceholder(a axes.Axes, p Placement) *Op {
	return &Op{Kind: Placeholder, Axes: a, Place: p}
}

// NewConstant wraps a fixed value.
func NewConstant(v *tensor.Tensor, p Placement) *Op {
	return &Op{Kind: Constant, Axes: v.Axes, Value: v, Place: p}
}

// NewAddScalar builds x + v, inheriting x's placement unless overridden.
func NewAddScalar(x *Op, v float64) *Op {
	return &Op{Kind: AddScalar, Args: []*Op{x}, Axes: x.Axes, Scalar: v, Place: x.Place}
}

// NewMulScalar builds x * v.
func NewMulScalar(x *Op, v float64) *Op {
	return &Op{Kind: MulScalar, Args: []*Op{x}, Axes: x.Axes, Scalar: v, Place: x.Place}
}

// NewAdd builds x + y elementwise.
func NewAdd(x, y *Op) *Op {
	return &Op{Kind: Add, Args: []*Op{x, y}, Axes: x.Axes, Place: x.Place}
}

// NewSub builds x - y elementwise.
func NewSub(x, y *Op) *Op {
	return &Op{Kind: Sub, Args: []*Op{x, y}, Axes: x.Axes, Place: x.Place}
}

// NewDot builds the matrix product of two rank-2 ops.
func NewDot(x, w *Op) *Op {
	var a axes.Axes
	if len(x.Axes) == 2 && len(w.Axes) == 2 {
		a = axes.MakeAxes(x.Axes[0], w.Axes[1])
	}
	return &Op{Kind: Dot, Args: []*Op{x, w}, Axes: a, Place: x.Place}
}

// NewResult pins x as a computation output on the given placement.
func NewResult(x *Op, p Placement) *Op {
	return &Op{Kind: Result, Args: []*Op{x}, Axes: x.Axes, Place: p}
}

// WithPlacement overrides the op's placement and returns it.
func (op *Op) WithPlacement(p Placement) *Op {
	op.Place = p
	return op
}
