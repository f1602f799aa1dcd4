package comm

import (
	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/axes"
	"cs426.yale.edu/hetr/graph"
)

// OpKind tags the closed set of communication op variants. Every switch
// over OpKind in this repository enumerates all nine kinds and fails loudly
// on anything else.
type OpKind int

const (
	SendOp OpKind = iota
	RecvOp
	ScatterSendOp
	ScatterRecvOp
	GatherSendOp
	GatherRecvOp
	BroadcastSendOp
	BroadcastRecvOp
	AllReduceOp
)

func (k OpKind) String() string {
	switch k {
	case SendOp:
		return "Send"
	case RecvOp:
		return "Recv"
	case ScatterSendOp:
		return "ScatterSend"
	case ScatterRecvOp:
		return "ScatterRecv"
	case GatherSendOp:
		return "GatherSend"
	case GatherRecvOp:
		return "GatherRecv"
	case BroadcastSendOp:
		return "BroadcastSend"
	case BroadcastRecvOp:
		return "BroadcastRecv"
	case AllReduceOp:
		return "AllReduce"
	}
	return "unknown"
}

// Op is one communication endpoint, a single struct tagged by Kind rather
// than a subclass per {pattern} x {backend} combination. Transport selection
// happens independently, at channel-binding time.
type Op struct {
	Kind OpKind

	// Source is the wrapped graph op whose value is being moved. Send-side
	// ops and AllReduce wrap exactly one source; receives have none and get
	// their value out-of-band.
	Source *graph.Op

	// Slot is the graph op whose value this endpoint produces: receives
	// (and AllReduce) deposit their result under Slot in the consumer
	// worker's environment.
	Slot *graph.Op

	// Axes of the value at this endpoint. For scatter receives this is the
	// producer's axes with the parallel axis cut down to this shard; for
	// gather receives the parallel axis is multiplied back up.
	Axes axes.Axes

	Place graph.Placement

	// Peer links a receive to its paired send. GatherRecv fans in from
	// Sends instead, in source-id order.
	Peer  *Op
	Sends []*Op

	// SourceID is the originating device id for receives.
	SourceID string
	// ToIDs are the destination device ids for scatter/broadcast sends.
	ToIDs []string
	// FromIDs are the source device ids for gather receives.
	FromIDs []string

	// Slices is the per-destination (scatter send) or per-source (gather
	// recv) slice table over Source's axes.
	Slices [][]axes.Range

	// Idx is this endpoint's position within the device-id tuple.
	Idx int

	// Parallel is the axis being sharded, for scatter/gather/allreduce.
	Parallel *axes.Axis

	// ReduceFunc is "sum" or "mean" for AllReduce; validated at
	// construction, before any execution resource exists.
	ReduceFunc string

	// Channels are the transport handles assigned at synthesis: one entry
	// for point-to-point ops, one per peer for scatter/gather/broadcast
	// groups, one group handle for AllReduce.
	Channels []int
}

// IsCommunication distinguishes comm ops from compute ops.
func (op *Op) IsCommunication() bool { return true }

// HasSideEffects marks comm ops as never dead-code-eliminated and always
// scheduled.
func (op *Op) HasSideEffects() bool { return true }

// IsRecv reports whether this endpoint consumes from a channel.
func (op *Op) IsRecv() bool {
	switch op.Kind {
	case RecvOp, ScatterRecvOp, GatherRecvOp, BroadcastRecvOp:
		return true
	case SendOp, ScatterSendOp, GatherSendOp, BroadcastSendOp, AllReduceOp:
		return false
	}
	panic("comm: unhandled op kind " + op.Kind.String())
}

// NewSend wraps the producer of a direct transfer.
func NewSend(from *graph.Op) *Op {
	return &Op{
		Kind:   SendOp,
		Source: from,
		Axes:   from.Axes,
		Place:  from.Place,
	}
}

// NewRecv pairs with a direct send on the consumer device. The received
// axes match the send's.
func NewRecv(to *graph.Op, send *Op) *Op {
	return &Op{
		Kind:     RecvOp,
		Slot:     send.Source,
		Axes:     send.Axes,
		Place:    to.Place,
		Peer:     send,
		SourceID: send.Place.DeviceIDs[0],
	}
}

// NewScatterSend builds the producer side of a scatter: one slice per
// member of the consumer's device tuple, remainder on the last shard.
func NewScatterSend(from, to *graph.Op) (*Op, error) {
	slices, err := axes.Slices(from.Axes, to.Place.Parallel, len(to.Place.DeviceIDs))
	if err != nil {
		return nil, errors.Wrap(err, "comm: scatter send")
	}
	return &Op{
		Kind:     ScatterSendOp,
		Source:   from,
		Axes:     from.Axes,
		Place:    from.Place,
		ToIDs:    append([]string(nil), to.Place.DeviceIDs...),
		Slices:   slices,
		Parallel: to.Place.Parallel,
	}, nil
}

// NewScatterRecv builds one consumer-side endpoint of a scatter. idx is the
// endpoint's position in the destination tuple; its axes are the send's
// with the parallel axis cut to this shard's slice.
func NewScatterRecv(to *graph.Op, send *Op, idx int) (*Op, error) {
	if idx < 0 || idx >= len(send.Slices) {
		return nil, errors.Errorf(
			"comm: scatter recv index %d outside %d destinations", idx, len(send.Slices))
	}
	shard := make(axes.Axes, len(send.Axes))
	for i, ax := range send.Axes {
		shard[i] = axes.Make(ax.Name, send.Slices[idx][i].Len())
	}
	return &Op{
		Kind:     ScatterRecvOp,
		Slot:     send.Source,
		Axes:     shard,
		Place:    to.Place,
		Peer:     send,
		SourceID: send.Place.DeviceIDs[0],
		Idx:      idx,
		Parallel: send.Parallel,
	}, nil
}

// NewGatherSend builds one producer-side endpoint of a gather. idx is the
// endpoint's position in the producer's device tuple; its axes are the
// producer's with the parallel axis cut to this shard.
func NewGatherSend(from *graph.Op, idx int) (*Op, error) {
	slices, err := axes.Slices(from.Axes, from.Place.Parallel, len(from.Place.DeviceIDs))
	if err != nil {
		return nil, errors.Wrap(err, "comm: gather send")
	}
	shard := make(axes.Axes, len(from.Axes))
	for i, ax := range from.Axes {
		shard[i] = axes.Make(ax.Name, slices[idx][i].Len())
	}
	return &Op{
		Kind:     GatherSendOp,
		Source:   from,
		Axes:     shard,
		Place:    from.Place,
		Idx:      idx,
		Parallel: from.Place.Parallel,
	}, nil
}

// NewGatherRecv builds the single consumer endpoint of a gather, fanning in
// from sends in device-id order. The received axes invert the scatter: the
// parallel axis is scaled back up to the producer's declared length, and
// the slice table records each source's region of the reassembled value.
func NewGatherRecv(from, to *graph.Op, sends []*Op) (*Op, error) {
	if len(sends) == 0 {
		return nil, errors.New("comm: gather recv with no sends")
	}
	parallel := from.Place.Parallel
	n := len(from.Place.DeviceIDs)
	gathered := from.Axes
	slices, err := axes.Slices(gathered, parallel, n)
	if err != nil {
		return nil, errors.Wrap(err, "comm: gather recv")
	}
	return &Op{
		Kind:     GatherRecvOp,
		Slot:     from,
		Axes:     gathered,
		Place:    to.Place,
		Sends:    sends,
		FromIDs:  append([]string(nil), from.Place.DeviceIDs...),
		Slices:   slices,
		Parallel: parallel,
	}, nil
}

// NewBroadcastSend builds the producer side of a broadcast.
func NewBroadcastSend(from, to *graph.Op) *Op {
	return &Op{
		Kind:   BroadcastSendOp,
		Source: from,
		Axes:   from.Axes,
		Place:  from.Place,
		ToIDs:  append([]string(nil), to.Place.DeviceIDs...),
	}
}

// NewBroadcastRecv builds one consumer-side endpoint of a broadcast; all
// receivers share the send's axes unchanged.
func NewBroadcastRecv(to *graph.Op, send *Op, idx int) *Op {
	return &Op{
		Kind:     BroadcastRecvOp,
		Slot:     send.Source,
		Axes:     send.Axes,
		Place:    to.Place,
		Peer:     send,
		SourceID: send.Place.DeviceIDs[0],
		Idx:      idx,
	}
}

// NewAllReduce replaces a replicated op in place: each replica's local value
// is merged across the device set with the given reduction before any
// consumer reads it. A reduce function outside {sum, mean} is a
// configuration error, raised here at graph-build time.
func NewAllReduce(x *graph.Op, reduceFunc string, idx int) (*Op, error) {
	if reduceFunc != "sum" && reduceFunc != "mean" {
		return nil, errors.Errorf("comm: reduce function %q is not supported", reduceFunc)
	}
	return &Op{
		Kind:       AllReduceOp,
		Source:     x,
		Slot:       x,
		Axes:       x.Axes,
		Place:      x.Place,
		Idx:        idx,
		Parallel:   x.Place.Parallel,
		ReduceFunc: reduceFunc,
	}, nil
}
