package worker

import (
	"context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"k8s.io/klog/v2"

	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
)

type builtProgram struct {
	computation string
	ops         []*graph.Op
	inputs      []int
	outputs     []int
}

// Server hosts compute-only programs, one per transformer name. A single
// process may serve several transformers.
type Server struct {
	mu    sync.RWMutex
	built map[string]*builtProgram
}

// NewServer builds an empty worker service.
func NewServer() *Server {
	return &Server{built: make(map[string]*builtProgram)}
}

func (s *Server) IsBuilt(ctx context.Context, req *IsBuiltRequest) (*IsBuiltResponse, error) {
	if req == nil {
		return nil, status.Errorf(codes.InvalidArgument, "nil request")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	prog, ok := s.built[req.Transformer]
	if !ok {
		return &IsBuiltResponse{Built: false}, nil
	}
	return &IsBuiltResponse{Built: true, Computation: prog.computation}, nil
}

func (s *Server) Build(ctx context.Context, req *BuildRequest) (*BuildResponse, error) {
	if req == nil {
		return nil, status.Errorf(codes.InvalidArgument, "nil request")
	}
	if req.Transformer == "" {
		return nil, status.Errorf(codes.InvalidArgument, "empty transformer name")
	}
	ops, err := CompileNodes(req.Nodes)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid program: %v", err)
	}
	for _, idx := range append(append([]int(nil), req.Inputs...), req.Outputs...) {
		if idx < 0 || idx >= len(ops) {
			return nil, status.Errorf(codes.InvalidArgument,
				"node index %d outside program of %d nodes", idx, len(ops))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.built[req.Transformer] = &builtProgram{
		computation: req.Computation,
		ops:         ops,
		inputs:      req.Inputs,
		outputs:     req.Outputs,
	}
	klog.V(1).Infof("built %s: %d nodes, %d inputs, %d outputs",
		req.Transformer, len(ops), len(req.Inputs), len(req.Outputs))
	return &BuildResponse{}, nil
}

func (s *Server) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	if req == nil {
		return nil, status.Errorf(codes.InvalidArgument, "nil request")
	}
	s.mu.RLock()
	prog, ok := s.built[req.Transformer]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.FailedPrecondition,
			"transformer %v has no built computation", req.Transformer)
	}

	env := make(map[*graph.Op]*tensor.Tensor, len(prog.ops))
	for _, idx := range prog.inputs {
		data, ok := req.Inputs[idx]
		if !ok {
			return nil, status.Errorf(codes.InvalidArgument, "missing input for node %d", idx)
		}
		// Lengths come from the wire: a replica may execute on a shard of
		// the declared axes.
		names := make([]string, len(prog.ops[idx].Axes))
		for i, ax := range prog.ops[idx].Axes {
			names[i] = ax.Name
		}
		v, err := tensor.DecodeWithNames(data, names)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "input for node %d: %v", idx, err)
		}
		env[prog.ops[idx]] = v
	}

	for i, op := range prog.ops {
		if _, bound := env[op]; bound {
			continue
		}
		if op.Kind == graph.Placeholder {
			return nil, status.Errorf(codes.InvalidArgument, "node %d has no bound value", i)
		}
		args := make([]*tensor.Tensor, len(op.Args))
		for j, arg := range op.Args {
			args[j] = env[arg]
		}
		out, err := graph.Apply(op, args)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "node %d: %v", i, err)
		}
		env[op] = out
	}

	resp := &ExecuteResponse{Outputs: make(map[int][]byte, len(prog.outputs))}
	for _, idx := range prog.outputs {
		data, err := tensor.Encode(env[prog.ops[idx]])
		if err != nil {
			return nil, status.Errorf(codes.Internal, "output for node %d: %v", idx, err)
		}
		resp.Outputs[idx] = data
	}
	return resp, nil
}

func (s *Server) Close(ctx context.Context, req *CloseRequest) (*CloseResponse, error) {
	if req == nil {
		return nil, status.Errorf(codes.InvalidArgument, "nil request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.built, req.Transformer)
	return &CloseResponse{}, nil
}
