package hetr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"cs426.yale.edu/hetr/allreduce"
	"cs426.yale.edu/hetr/comm"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
	"cs426.yale.edu/hetr/transport"
	"cs426.yale.edu/hetr/worker"
)

// RemoteComputation runs a synthesized program against worker server
// processes: every run of consecutive compute steps becomes a program
// installed on the worker's server, while communication steps stay with
// the orchestrator, which moves values between Execute calls.
type RemoteComputation struct {
	id          string
	transformer *Transformer
	prog        *comm.Program
	inputs      []*graph.Op
	workers     map[string]*remoteWorker
}

type remoteWorker struct {
	program *comm.WorkerProgram
	steps   []remoteStep
}

// remoteStep is either one communication op or one compute segment.
type remoteStep struct {
	comm *comm.Op
	seg  *segment
}

// segment is a maximal run of compute steps shipped to a worker server.
type segment struct {
	client *worker.Client
	nodes  []worker.NodeSpec
	// inputs are the ops whose env values the orchestrator encodes into
	// the Execute request, at the paired node index.
	inputs   []*graph.Op
	inputIdx []int
	// ops are the segment's compute ops; every one comes back as an
	// output at the paired node index.
	ops   []*graph.Op
	opIdx []int
}

// RemoteComputation synthesizes the graph and installs each worker's
// compute segments on the server at addresses[transformer name]. The
// returned computation must be Closed to release the remote programs.
func (t *Transformer) RemoteComputation(
	ctx context.Context,
	outputs []*graph.Op,
	addresses map[string]string,
	inputs ...*graph.Op,
) (*RemoteComputation, error) {
	for i, in := range inputs {
		if in == nil || in.Kind != graph.Placeholder {
			return nil, errors.Errorf("hetr: input %d is not a placeholder", i)
		}
	}
	prog, err := comm.Synthesize(outputs, t.host)
	if err != nil {
		return nil, err
	}
	rc := &RemoteComputation{
		id:          uuid.NewString(),
		transformer: t,
		prog:        prog,
		inputs:      inputs,
		workers:     make(map[string]*remoteWorker, len(prog.Workers)),
	}
	for _, name := range prog.Order {
		addr, ok := addresses[name]
		if !ok {
			rc.closeClients(ctx)
			return nil, errors.Errorf("hetr: no server address for worker %s", name)
		}
		rw, err := rc.buildWorker(ctx, prog.Workers[name], addr)
		if err != nil {
			rc.closeClients(ctx)
			return nil, err
		}
		rc.workers[name] = rw
	}
	klog.V(1).Infof("remote computation %s: %d workers", rc.id, len(rc.workers))
	return rc, nil
}

func (rc *RemoteComputation) buildWorker(ctx context.Context, w *comm.WorkerProgram, addr string) (*remoteWorker, error) {
	rw := &remoteWorker{program: w}
	var cur *segment
	flush := func() {
		if cur != nil && len(cur.ops) > 0 {
			rw.steps = append(rw.steps, remoteStep{seg: cur})
		}
		cur = nil
	}
	index := make(map[*graph.Op]int)
	for _, step := range w.Steps {
		if step.Comm != nil {
			flush()
			index = make(map[*graph.Op]int)
			rw.steps = append(rw.steps, remoteStep{comm: step.Comm})
			continue
		}
		op := step.Compute
		if cur == nil {
			cur = &segment{}
		}
		spec := worker.NodeSpec{Kind: op.Kind, Scalar: op.Scalar}
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
				// Boundary value: produced before this segment (a receive
				// or an earlier segment) and fed in at run time.
				argIdx = len(cur.nodes)
				boundary := worker.NodeSpec{Kind: graph.Placeholder}
				for _, ax := range arg.Axes {
					boundary.AxisName = append(boundary.AxisName, ax.Name)
					boundary.AxisLen = append(boundary.AxisLen, ax.Length)
				}
				cur.nodes = append(cur.nodes, boundary)
				index[arg] = argIdx
				cur.inputs = append(cur.inputs, arg)
				cur.inputIdx = append(cur.inputIdx, argIdx)
			}
			spec.Args = append(spec.Args, argIdx)
		}
		if op.Kind == graph.Placeholder {
			cur.inputs = append(cur.inputs, op)
			cur.inputIdx = append(cur.inputIdx, len(cur.nodes))
		}
		index[op] = len(cur.nodes)
		cur.ops = append(cur.ops, op)
		cur.opIdx = append(cur.opIdx, len(cur.nodes))
		cur.nodes = append(cur.nodes, spec)
	}
	flush()

	for i := range rw.steps {
		seg := rw.steps[i].seg
		if seg == nil {
			continue
		}
		client, err := worker.NewClient(addr, fmt.Sprintf("%s/%d", w.Transformer, i))
		if err != nil {
			return nil, err
		}
		seg.client = client
		err = client.Build(ctx, &worker.BuildRequest{
			Computation: rc.id,
			Nodes:       seg.nodes,
			Inputs:      seg.inputIdx,
			Outputs:     seg.opIdx,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "hetr: building segment %d of %s", i, w.Transformer)
		}
	}
	return rw, nil
}

// Run executes the computation, binding one value per declared placeholder.
func (rc *RemoteComputation) Run(ctx context.Context, values ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(values) != len(rc.inputs) {
		return nil, errors.Errorf(
			"hetr: computation %s takes %d inputs, got %d", rc.id, len(rc.inputs), len(values))
	}

	chans := make([]transport.Channel, len(rc.prog.Ctx.Edges))
	for i := range rc.prog.Ctx.Edges {
		// Channels live in the orchestrator, so the in-memory queue serves
		// every edge regardless of the configured backend.
		chans[i] = transport.NewQueue()
	}
	defer func() {
		for _, ch := range chans {
			ch.Close()
		}
	}()
	groups := make([]*allreduce.Group, len(rc.prog.Ctx.Groups))
	for i, spec := range rc.prog.Ctx.Groups {
		g, err := allreduce.NewGroup(spec.Size, spec.ReduceFunc)
		if err != nil {
			return nil, err
		}
		groups[i] = g
	}

	envs := make(map[string]map[*graph.Op]*tensor.Tensor, len(rc.workers))
	for _, name := range rc.prog.Order {
		envs[name] = make(map[*graph.Op]*tensor.Tensor)
	}
	for i, in := range rc.inputs {
		for _, name := range rc.prog.Order {
			for _, step := range rc.prog.Workers[name].Steps {
				if step.Compute == in {
					envs[name][in] = values[i].Clone()
					break
				}
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, len(rc.workers))
	var wg sync.WaitGroup
	for _, name := range rc.prog.Order {
		rw := rc.workers[name]
		env := envs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if werr := runRemoteWorker(runCtx, rw, env, chans, groups); werr != nil {
				errCh <- errors.Wrapf(werr, "hetr: worker %s", rw.program.Transformer)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if werr := <-errCh; werr != nil {
		return nil, werr
	}

	hostEnv := envs[rc.prog.Host]
	outs := make([]*tensor.Tensor, len(rc.prog.Outputs))
	for i, result := range rc.prog.Outputs {
		v, ok := hostEnv[result]
		if !ok {
			return nil, errors.Errorf("hetr: output %d was never produced on %s", i, rc.prog.Host)
		}
		outs[i] = v
	}
	return outs, nil
}

// Close releases the remote programs and connections.
func (rc *RemoteComputation) Close(ctx context.Context) error {
	return rc.closeClients(ctx)
}

func (rc *RemoteComputation) closeClients(ctx context.Context) error {
	var firstErr error
	for _, rw := range rc.workers {
		for _, step := range rw.steps {
			if step.seg == nil || step.seg.client == nil {
				continue
			}
			if err := step.seg.client.Close(ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func runRemoteWorker(
	ctx context.Context,
	rw *remoteWorker,
	env map[*graph.Op]*tensor.Tensor,
	chans []transport.Channel,
	groups []*allreduce.Group,
) error {
	for _, step := range rw.steps {
		if step.comm != nil {
			if err := runComm(ctx, step.comm, env, chans, groups); err != nil {
				return err
			}
			continue
		}
		if err := executeSegment(ctx, step.seg, env); err != nil {
			return err
		}
	}
	return nil
}

func executeSegment(ctx context.Context, seg *segment, env map[*graph.Op]*tensor.Tensor) error {
	inputs := make(map[int][]byte, len(seg.inputs))
	for i, op := range seg.inputs {
		v, ok := env[op]
		if !ok {
			return errors.Errorf("hetr: segment input %d has no value", i)
		}
		data, err := tensor.Encode(v)
		if err != nil {
			return err
		}
		inputs[seg.inputIdx[i]] = data
	}
	outputs, err := seg.client.Execute(ctx, inputs)
	if err != nil {
		return err
	}
	for i, op := range seg.ops {
		data, ok := outputs[seg.opIdx[i]]
		if !ok {
			return errors.Errorf("hetr: segment output %d missing from response", i)
		}
		names := make([]string, len(op.Axes))
		for j, ax := range op.Axes {
			names[j] = ax.Name
		}
		v, err := tensor.DecodeWithNames(data, names)
		if err != nil {
			return err
		}
		env[op] = v
	}
	return nil
}
