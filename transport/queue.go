package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// queueChannel moves payload copies through a buffered Go channel. The
// buffer holds exactly one payload so a worker that is both sender and
// receiver of the same edge can complete its send before running the
// paired receive.
type queueChannel struct {
	ch     chan Payload
	closed chan struct{}
	once   sync.Once

	sendSeq uint64 // sender side only
	recvSeq uint64 // receiver side only
}

// NewQueue builds an in-memory channel.
func NewQueue() Channel {
	return &queueChannel{
		ch:     make(chan Payload, 1),
		closed: make(chan struct{}),
	}
}

func (q *queueChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-q.closed:
		// The buffer may still have room; a closed channel must not accept
		// new payloads regardless.
		return ErrClosed
	default:
	}
	q.sendSeq++
	p := Payload{Seq: q.sendSeq, Data: append([]byte(nil), data...)}
	select {
	case q.ch <- p:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *queueChannel) Recv(ctx context.Context) ([]byte, error) {
	select {
	case p := <-q.ch:
		if p.Seq <= q.recvSeq {
			return nil, errors.Errorf(
				"transport: stale payload seq %d after %d", p.Seq, q.recvSeq)
		}
		q.recvSeq = p.Seq
		return p.Data, nil
	case <-q.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *queueChannel) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
