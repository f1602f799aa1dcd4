// Package hetr is the computation boundary: it synthesizes a placed graph
// into per-device worker programs, binds every communication edge to a
// transport channel, and drives one worker per device to completion.
package hetr

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"cs426.yale.edu/hetr/allreduce"
	"cs426.yale.edu/hetr/comm"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
	"cs426.yale.edu/hetr/transport"
)

// Option configures a Transformer.
type Option func(*Transformer)

// WithHost sets the device hosting computation inputs and outputs. The
// default is cpu device "0".
func WithHost(device, id string) Option {
	return func(t *Transformer) { t.host = graph.Single(device, id) }
}

// WithTransport selects the channel backend for cross-worker edges.
// Self-edges (a worker sending to itself) always use the in-memory queue.
func WithTransport(kind transport.Kind) Option {
	return func(t *Transformer) { t.kind = kind }
}

// WithShmDir sets the directory for shared-memory backing files.
func WithShmDir(dir string) Option {
	return func(t *Transformer) { t.shmDir = dir }
}

// Transformer builds runnable computations from placed graphs.
type Transformer struct {
	host   graph.Placement
	kind   transport.Kind
	shmDir string
}

// New builds a transformer. With no options it hosts on cpu "0" and moves
// data over in-memory queues.
func New(opts ...Option) *Transformer {
	t := &Transformer{
		host: graph.Single("cpu", "0"),
		kind: transport.Queue,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Computation synthesizes the graph rooted at outputs into a runnable
// distributed program. inputs name the placeholders Run binds, in order.
func (t *Transformer) Computation(outputs []*graph.Op, inputs ...*graph.Op) (*Computation, error) {
	for i, in := range inputs {
		if in == nil || in.Kind != graph.Placeholder {
			return nil, errors.Errorf("hetr: input %d is not a placeholder", i)
		}
	}
	prog, err := comm.Synthesize(outputs, t.host)
	if err != nil {
		return nil, err
	}
	c := &Computation{
		id:          uuid.NewString(),
		transformer: t,
		prog:        prog,
		inputs:      inputs,
	}
	klog.V(1).Infof("computation %s: %d workers, %d channels, %d groups",
		c.id, len(prog.Workers), len(prog.Ctx.Edges), len(prog.Ctx.Groups))
	return c, nil
}

// Computation is a synthesized distributed program. It may be run any
// number of times; every run binds fresh channels and reduction groups.
type Computation struct {
	id          string
	transformer *Transformer
	prog        *comm.Program
	inputs      []*graph.Op
}

// Run executes the computation with the given input values, one per
// declared placeholder, and returns one tensor per output. Any worker
// failure cancels the remaining workers and surfaces here.
func (c *Computation) Run(ctx context.Context, values ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(values) != len(c.inputs) {
		return nil, errors.Errorf(
			"hetr: computation %s takes %d inputs, got %d", c.id, len(c.inputs), len(values))
	}
	for i, v := range values {
		if v == nil {
			return nil, errors.Errorf("hetr: input %d is nil", i)
		}
		if len(c.inputs[i].Axes) > 0 && !v.Axes.Equal(c.inputs[i].Axes) {
			return nil, errors.Errorf(
				"hetr: input %d axes %v do not match declared %v", i, v.Axes, c.inputs[i].Axes)
		}
	}

	chans, err := c.bindChannels()
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, ch := range chans {
			ch.Close()
		}
	}()
	groups := make([]*allreduce.Group, len(c.prog.Ctx.Groups))
	for i, spec := range c.prog.Ctx.Groups {
		groups[i], err = allreduce.NewGroup(spec.Size, spec.ReduceFunc)
		if err != nil {
			return nil, err
		}
	}

	// Every worker gets a private environment; input values are cloned per
	// worker so no two replicas share a buffer.
	envs := make(map[string]map[*graph.Op]*tensor.Tensor, len(c.prog.Workers))
	for _, name := range c.prog.Order {
		envs[name] = make(map[*graph.Op]*tensor.Tensor)
	}
	for i, in := range c.inputs {
		for _, name := range c.prog.Order {
			for _, step := range c.prog.Workers[name].Steps {
				if step.Compute == in {
					envs[name][in] = values[i].Clone()
					break
				}
			}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, len(c.prog.Order))
	var wg sync.WaitGroup
	for _, name := range c.prog.Order {
		w := c.prog.Workers[name]
		env := envs[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if werr := runWorker(runCtx, w, env, chans, groups); werr != nil {
				errCh <- errors.Wrapf(werr, "hetr: worker %s", w.Transformer)
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	if werr := <-errCh; werr != nil {
		return nil, werr
	}

	hostEnv := envs[c.prog.Host]
	outs := make([]*tensor.Tensor, len(c.prog.Outputs))
	for i, result := range c.prog.Outputs {
		v, ok := hostEnv[result]
		if !ok {
			return nil, errors.Errorf("hetr: output %d was never produced on %s", i, c.prog.Host)
		}
		outs[i] = v
	}
	return outs, nil
}

func (c *Computation) bindChannels() ([]transport.Channel, error) {
	chans := make([]transport.Channel, len(c.prog.Ctx.Edges))
	for i, edge := range c.prog.Ctx.Edges {
		kind := c.transformer.kind
		if edge.From == edge.To {
			// A worker that talks to itself must not rendezvous.
			kind = transport.Queue
		}
		ch, err := transport.New(kind, c.transformer.shmDir)
		if err != nil {
			for _, open := range chans[:i] {
				open.Close()
			}
			return nil, err
		}
		chans[i] = ch
	}
	return chans, nil
}
