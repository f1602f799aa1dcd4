package hetr

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"cs426.yale.edu/hetr/allreduce"
	"cs426.yale.edu/hetr/comm"
	"cs426.yale.edu/hetr/graph"
	"cs426.yale.edu/hetr/tensor"
	"cs426.yale.edu/hetr/transport"
)

// runWorker executes one device's program sequentially. Compute steps are
// local and never block; communication steps block on their channels.
func runWorker(
	ctx context.Context,
	w *comm.WorkerProgram,
	env map[*graph.Op]*tensor.Tensor,
	chans []transport.Channel,
	groups []*allreduce.Group,
) error {
	for _, step := range w.Steps {
		switch {
		case step.Compute != nil:
			if err := runCompute(step.Compute, env); err != nil {
				return err
			}
		case step.Comm != nil:
			klog.V(2).Infof("worker %s: %v", w.Transformer, step.Comm.Kind)
			if err := runComm(ctx, step.Comm, env, chans, groups); err != nil {
				return err
			}
		}
	}
	return nil
}

func runCompute(op *graph.Op, env map[*graph.Op]*tensor.Tensor) error {
	if _, ok := env[op]; ok {
		// Bound input or a value deposited by a receive.
		return nil
	}
	switch op.Kind {
	case graph.Placeholder:
		return errors.New("hetr: placeholder executed with no bound value")
	case graph.Constant:
		// Cloned so an in-place reduction on one replica cannot leak into
		// another.
		env[op] = op.Value.Clone()
		return nil
	}
	args := make([]*tensor.Tensor, len(op.Args))
	for i, arg := range op.Args {
		v, ok := env[arg]
		if !ok {
			return errors.Errorf("hetr: %v is missing argument %d (%v)", op.Kind, i, arg.Kind)
		}
		args[i] = v
	}
	out, err := graph.Apply(op, args)
	if err != nil {
		return err
	}
	env[op] = out
	return nil
}

func runComm(
	ctx context.Context,
	op *comm.Op,
	env map[*graph.Op]*tensor.Tensor,
	chans []transport.Channel,
	groups []*allreduce.Group,
) error {
	switch op.Kind {
	case comm.SendOp, comm.GatherSendOp:
		src, ok := env[op.Source]
		if !ok {
			return errors.Errorf("hetr: %v has no value for its source", op.Kind)
		}
		data, err := tensor.Encode(src)
		if err != nil {
			return err
		}
		return chans[op.Channels[0]].Send(ctx, data)

	case comm.RecvOp, comm.ScatterRecvOp, comm.BroadcastRecvOp:
		data, err := chans[op.Channels[0]].Recv(ctx)
		if err != nil {
			return err
		}
		v, err := tensor.Decode(data, op.Axes)
		if err != nil {
			return err
		}
		env[op.Slot] = v
		return nil

	case comm.ScatterSendOp:
		src, ok := env[op.Source]
		if !ok {
			return errors.New("hetr: scatter send has no value for its source")
		}
		for i, ch := range op.Channels {
			shard, err := src.Slice(op.Slices[i])
			if err != nil {
				return err
			}
			data, err := tensor.Encode(shard)
			if err != nil {
				return err
			}
			if err := chans[ch].Send(ctx, data); err != nil {
				return err
			}
		}
		return nil

	case comm.GatherRecvOp:
		parts := make([]*tensor.Tensor, len(op.Channels))
		for i, ch := range op.Channels {
			data, err := chans[ch].Recv(ctx)
			if err != nil {
				return err
			}
			part, err := tensor.Decode(data, op.Sends[i].Axes)
			if err != nil {
				return err
			}
			parts[i] = part
		}
		merged, err := mergeGathered(op, parts)
		if err != nil {
			return err
		}
		env[op.Slot] = merged
		return nil

	case comm.BroadcastSendOp:
		src, ok := env[op.Source]
		if !ok {
			return errors.New("hetr: broadcast send has no value for its source")
		}
		data, err := tensor.Encode(src)
		if err != nil {
			return err
		}
		for _, ch := range op.Channels {
			if err := chans[ch].Send(ctx, data); err != nil {
				return err
			}
		}
		return nil

	case comm.AllReduceOp:
		v, ok := env[op.Source]
		if !ok {
			return errors.New("hetr: all-reduce has no value for its source")
		}
		return groups[op.Channels[0]].Reduce(ctx, op.Idx, v.Data)
	}
	return errors.Errorf("hetr: unhandled communication op %v", op.Kind)
}

// mergeGathered reassembles gathered shards: concatenated along the
// parallel axis when the shards really are partitions, the first part when
// every source held the full value.
func mergeGathered(op *comm.Op, parts []*tensor.Tensor) (*tensor.Tensor, error) {
	if op.Parallel != nil && op.Axes.Has(op.Parallel.Name) && len(parts) > 1 {
		return tensor.Concat(op.Parallel.Name, parts)
	}
	return parts[0], nil
}
