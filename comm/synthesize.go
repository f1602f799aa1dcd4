package comm

import (
	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/graph"
)

// ExecutionContext owns the channel and reduction-group handles allocated
// during synthesis. Handles are integers scoped to one computation; the
// execution layer binds each to a concrete transport at run time. There is
// no process-wide registry.
type ExecutionContext struct {
	Edges  []EdgeSpec
	Groups []GroupSpec
}

// EdgeSpec wires one channel between two workers.
type EdgeSpec struct {
	Channel int
	From    string // sender transformer
	To      string // receiver transformer
}

// GroupSpec declares one all-reduce group.
type GroupSpec struct {
	Handle     int
	Size       int
	ReduceFunc string
}

func (c *ExecutionContext) allocChannel(from, to string) int {
	ch := len(c.Edges)
	c.Edges = append(c.Edges, EdgeSpec{Channel: ch, From: from, To: to})
	return ch
}

func (c *ExecutionContext) allocGroup(size int, reduceFunc string) int {
	h := len(c.Groups)
	c.Groups = append(c.Groups, GroupSpec{Handle: h, Size: size, ReduceFunc: reduceFunc})
	return h
}

// Step is one scheduled action on a worker: exactly one of Compute or Comm
// is set.
type Step struct {
	Compute *graph.Op
	Comm    *Op
}

// WorkerProgram is the ordered op list one device worker executes
// sequentially, blocking only at communication steps.
type WorkerProgram struct {
	Transformer string
	Device      string
	DeviceID    string
	Rank        int
	Steps       []Step

	scheduled map[*graph.Op]bool
}

func (w *WorkerProgram) addCompute(op *graph.Op) {
	if w.scheduled[op] {
		return
	}
	w.scheduled[op] = true
	w.Steps = append(w.Steps, Step{Compute: op})
}

func (w *WorkerProgram) addComm(op *Op) {
	w.Steps = append(w.Steps, Step{Comm: op})
	if op.Slot != nil {
		// The slot's value is now available on this worker.
		w.scheduled[op.Slot] = true
	}
}

// Program is the synthesized distributed computation: one program per
// worker plus the channel/group wiring between them.
type Program struct {
	Ctx     *ExecutionContext
	Workers map[string]*WorkerProgram
	Order   []string
	Outputs []*graph.Op
	Host    string
}

func (p *Program) worker(place graph.Placement, id string, rank int) *WorkerProgram {
	name := place.Transformer(id)
	if w, ok := p.Workers[name]; ok {
		return w
	}
	w := &WorkerProgram{
		Transformer: name,
		Device:      place.Device,
		DeviceID:    id,
		Rank:        rank,
		scheduled:   make(map[*graph.Op]bool),
	}
	p.Workers[name] = w
	p.Order = append(p.Order, name)
	return w
}

// Synthesize rewrites the graph rooted at outputs into per-worker programs,
// splicing communication op pairs into every cross-device edge. Each output
// is pinned to the host placement via a Result op. Configuration errors
// (unsupported reduce function, bad partitioning) surface here, before any
// transport resource is allocated.
func Synthesize(outputs []*graph.Op, host graph.Placement) (*Program, error) {
	if !host.IsScalar() {
		return nil, errors.New("comm: host placement must name a single device")
	}
	prog := &Program{
		Ctx:     &ExecutionContext{},
		Workers: make(map[string]*WorkerProgram),
		Host:    host.Transformer(host.DeviceIDs[0]),
	}
	prog.worker(host, host.DeviceIDs[0], 0)

	results := make([]*graph.Op, len(outputs))
	for i, out := range outputs {
		results[i] = graph.NewResult(out, host)
	}
	prog.Outputs = results

	// delivered tracks which producer values have already been moved to a
	// consumer placement, so two consumers on the same workers share one
	// communication group.
	delivered := make(map[*graph.Op]map[string]bool)

	var synthErr error
	graph.Walk(results, func(op *graph.Op) {
		if synthErr != nil {
			return
		}
		for _, arg := range op.Args {
			if err := spliceEdge(prog, delivered, arg, op); err != nil {
				synthErr = err
				return
			}
		}
		for rank, id := range op.Place.DeviceIDs {
			prog.worker(op.Place, id, rank).addCompute(op)
		}
	})
	if synthErr != nil {
		return nil, synthErr
	}
	return prog, nil
}

func placementKey(p graph.Placement) string {
	key := p.Device
	for _, id := range p.DeviceIDs {
		key += "," + id
	}
	if p.Parallel != nil {
		key += "|" + p.Parallel.Name
	}
	return key
}

// spliceEdge classifies the arg -> op edge and, when a transfer is needed,
// appends the matched communication endpoints to the affected workers.
func spliceEdge(prog *Program, delivered map[*graph.Op]map[string]bool, arg, op *graph.Op) error {
	pattern := PatternOf(arg, op)

	key := placementKey(op.Place)
	if delivered[arg] == nil {
		delivered[arg] = make(map[string]bool)
	}
	if delivered[arg][key] {
		return nil
	}

	switch pattern {
	case None:
		// Same workers, or a scalar constant every replica can materialize
		// locally.
		if arg.Kind == graph.Constant {
			for rank, id := range op.Place.DeviceIDs {
				prog.worker(op.Place, id, rank).addCompute(arg)
			}
		}
		return nil

	case Direct:
		send := NewSend(arg)
		recv := NewRecv(op, send)
		ch := prog.Ctx.allocChannel(
			arg.Place.Transformer(arg.Place.DeviceIDs[0]),
			op.Place.Transformer(op.Place.DeviceIDs[0]))
		send.Channels = []int{ch}
		recv.Channels = []int{ch}
		prog.worker(arg.Place, arg.Place.DeviceIDs[0], 0).addComm(send)
		prog.worker(op.Place, op.Place.DeviceIDs[0], 0).addComm(recv)

	case Scatter:
		send, err := NewScatterSend(arg, op)
		if err != nil {
			return err
		}
		recvs := make([]*Op, len(op.Place.DeviceIDs))
		sender := prog.worker(arg.Place, arg.Place.DeviceIDs[0], 0)
		for idx, id := range op.Place.DeviceIDs {
			recv, err := NewScatterRecv(op, send, idx)
			if err != nil {
				return err
			}
			ch := prog.Ctx.allocChannel(sender.Transformer, op.Place.Transformer(id))
			send.Channels = append(send.Channels, ch)
			recv.Channels = []int{ch}
			recvs[idx] = recv
		}
		// The send is scheduled before any receive so a sender that is also
		// a destination does not block on its own shard.
		sender.addComm(send)
		for idx, id := range op.Place.DeviceIDs {
			prog.worker(op.Place, id, idx).addComm(recvs[idx])
		}

	case Gather:
		recver := prog.worker(op.Place, op.Place.DeviceIDs[0], 0)
		sends := make([]*Op, len(arg.Place.DeviceIDs))
		channels := make([]int, len(arg.Place.DeviceIDs))
		for idx, id := range arg.Place.DeviceIDs {
			send, err := NewGatherSend(arg, idx)
			if err != nil {
				return err
			}
			ch := prog.Ctx.allocChannel(arg.Place.Transformer(id), recver.Transformer)
			send.Channels = []int{ch}
			channels[idx] = ch
			sends[idx] = send
			prog.worker(arg.Place, id, idx).addComm(send)
		}
		recv, err := NewGatherRecv(arg, op, sends)
		if err != nil {
			return err
		}
		recv.Channels = channels
		recver.addComm(recv)

	case Broadcast:
		send := NewBroadcastSend(arg, op)
		sender := prog.worker(arg.Place, arg.Place.DeviceIDs[0], 0)
		recvs := make([]*Op, len(op.Place.DeviceIDs))
		for idx, id := range op.Place.DeviceIDs {
			recv := NewBroadcastRecv(op, send, idx)
			ch := prog.Ctx.allocChannel(sender.Transformer, op.Place.Transformer(id))
			send.Channels = append(send.Channels, ch)
			recv.Channels = []int{ch}
			recvs[idx] = recv
		}
		sender.addComm(send)
		for idx, id := range op.Place.DeviceIDs {
			prog.worker(op.Place, id, idx).addComm(recvs[idx])
		}

	case AllReduce:
		reduceFunc := arg.Place.ReduceFunc
		group := prog.Ctx.allocGroup(len(arg.Place.DeviceIDs), reduceFunc)
		for idx, id := range arg.Place.DeviceIDs {
			ar, err := NewAllReduce(arg, reduceFunc, idx)
			if err != nil {
				return err
			}
			ar.Channels = []int{group}
			prog.worker(arg.Place, id, idx).addComm(ar)
		}

	default:
		return errors.Errorf("comm: unhandled pattern %v", pattern)
	}

	delivered[arg][key] = true
	return nil
}
