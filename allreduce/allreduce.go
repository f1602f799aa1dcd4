// Package allreduce merges replicated tensor values in place across a fixed
// group of in-process workers. The reduction is segmented: each rank owns a
// contiguous slice of the element range, reduces it across every replica,
// and writes the merged segment back into all of them, so the work is split
// evenly instead of funneled through one rank.
package allreduce

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"cs426.yale.edu/hetr/axes"
)

// ReduceFunc names a supported reduction.
type ReduceFunc string

const (
	Sum  ReduceFunc = "sum"
	Mean ReduceFunc = "mean"
)

// ParseReduceFunc validates a reduction name.
func ParseReduceFunc(s string) (ReduceFunc, error) {
	switch ReduceFunc(s) {
	case Sum, Mean:
		return ReduceFunc(s), nil
	}
	return "", errors.Errorf("allreduce: reduce function %q is not supported", s)
}

// Group is one all-reduce collective shared by size ranks. A Group is
// reusable: each call to Reduce is one round, and element counts may differ
// between rounds as long as all ranks agree within a round. A cancelled
// round leaves the group unusable; groups are cheap and made per run.
type Group struct {
	size int
	fn   ReduceFunc

	mu       sync.Mutex
	bufs     [][]float64
	n        int // element count of the current round, -1 between rounds
	roundErr error

	staged, reduced, written *barrier
}

// NewGroup builds a group for size ranks using the given reduction.
func NewGroup(size int, reduceFunc string) (*Group, error) {
	if size <= 0 {
		return nil, errors.Errorf("allreduce: group size %d", size)
	}
	fn, err := ParseReduceFunc(reduceFunc)
	if err != nil {
		return nil, err
	}
	return &Group{
		size:    size,
		fn:      fn,
		bufs:    make([][]float64, size),
		n:       -1,
		staged:  newBarrier(size),
		reduced: newBarrier(size),
		written: newBarrier(size),
	}, nil
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Reduce merges data with the other ranks' buffers in place and blocks
// until every replica holds the merged value. All size ranks must call
// Reduce once per round, each with a distinct rank and the same element
// count; a mismatch fails the whole round on every rank.
func (g *Group) Reduce(ctx context.Context, rank int, data []float64) error {
	if rank < 0 || rank >= g.size {
		return errors.Errorf("allreduce: rank %d outside group of %d", rank, g.size)
	}

	g.mu.Lock()
	if g.bufs[rank] != nil {
		g.mu.Unlock()
		return errors.Errorf("allreduce: rank %d staged twice in one round", rank)
	}
	g.bufs[rank] = data
	if g.n == -1 {
		g.n = len(data)
	} else if g.n != len(data) {
		g.roundErr = errors.Errorf(
			"allreduce: rank %d staged %d elements, round has %d", rank, len(data), g.n)
	}
	g.mu.Unlock()
	if err := g.staged.wait(ctx, nil); err != nil {
		return err
	}

	g.mu.Lock()
	err := g.roundErr
	n := g.n
	g.mu.Unlock()
	if err != nil {
		g.finishRound(ctx)
		return err
	}

	// Each rank reduces its own segment across all replicas, remainder on
	// the last rank.
	segments, perr := axes.PartitionWithRemainder(n, g.size)
	if perr != nil {
		g.finishRound(ctx)
		return perr
	}
	seg := segments[rank]
	merged := make([]float64, seg.Len())
	for i := seg.Start; i < seg.Stop; i++ {
		var acc float64
		for _, buf := range g.bufs {
			acc += buf[i]
		}
		if g.fn == Mean {
			acc /= float64(g.size)
		}
		merged[i-seg.Start] = acc
	}
	if err := g.reduced.wait(ctx, nil); err != nil {
		return err
	}

	// Every replica gets the merged segment; only this rank touches it.
	for _, buf := range g.bufs {
		copy(buf[seg.Start:seg.Stop], merged)
	}
	return g.finishRound(ctx)
}

// finishRound waits until every rank is done writing, then the last rank
// through resets the staging state for the next round.
func (g *Group) finishRound(ctx context.Context) error {
	return g.written.wait(ctx, func() {
		g.mu.Lock()
		for i := range g.bufs {
			g.bufs[i] = nil
		}
		g.n = -1
		g.roundErr = nil
		g.mu.Unlock()
	})
}

// barrier is a reusable channel-based rendezvous for a fixed number of
// waiters. onLast runs on the final arriving goroutine before the others
// are released. Cancellation abandons the current generation.
type barrier struct {
	mu      sync.Mutex
	size    int
	count   int
	release chan struct{}
}

func newBarrier(size int) *barrier {
	return &barrier{size: size, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context, onLast func()) error {
	b.mu.Lock()
	b.count++
	if b.count == b.size {
		if onLast != nil {
			onLast()
		}
		b.count = 0
		close(b.release)
		b.release = make(chan struct{})
		b.mu.Unlock()
		return nil
	}
	release := b.release
	b.mu.Unlock()

	select {
	case <-release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
