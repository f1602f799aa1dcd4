package worker

import "cs426.yale.edu/hetr/graph"

// NodeSpec is one compute op in wire form. Args index earlier nodes of the
// same program, so a valid program is already in execution order.
type NodeSpec struct {
	Kind     graph.Kind
	Args     []int
	AxisName []string
	AxisLen  []int
	Scalar   float64
	Value    []float64 // Constant only
}

// BuildRequest installs a compute-only program on a worker. Inputs name the
// placeholder nodes Execute binds; Outputs name the nodes whose values
// Execute returns.
type BuildRequest struct {
	Transformer string
	Computation string
	Nodes       []NodeSpec
	Inputs      []int
	Outputs     []int
}

type BuildResponse struct{}

type IsBuiltRequest struct {
	Transformer string
}

type IsBuiltResponse struct {
	Built bool
	// Computation identifies the installed program when Built.
	Computation string
}

// ExecuteRequest runs the installed program once. Inputs map node index to
// an encoded tensor.
type ExecuteRequest struct {
	Transformer string
	Inputs      map[int][]byte
}

type ExecuteResponse struct {
	Outputs map[int][]byte
}

type CloseRequest struct {
	Transformer string
}

type CloseResponse struct{}
