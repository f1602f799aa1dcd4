// Package transport provides the byte-level channels the execution layer
// binds to the channel handles allocated at synthesis. Two in-process
// backends are implemented: an in-memory queue and a shared-memory region
// with out-of-band handle exchange. Cross-process edges go through the
// worker RPC layer instead of a Channel.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Send and Recv after Close.
var ErrClosed = errors.New("transport: channel closed")

// Payload is one framed message. Seq is assigned by the channel on send,
// starting at 1 and strictly increasing; a receiver seeing a non-increasing
// sequence reports corruption instead of silently re-reading old data.
type Payload struct {
	Seq  uint64
	Data []byte
}

// Channel is a single-producer single-consumer byte pipe between two
// workers. Send blocks until the payload is accepted, Recv until one is
// available; both respect ctx cancellation.
type Channel interface {
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Kind selects a channel backend.
type Kind int

const (
	// Queue passes copies through an in-memory buffered queue.
	Queue Kind = iota
	// SharedMemory writes payloads to a file-backed region and passes only
	// a region handle through the queue.
	SharedMemory
)

func (k Kind) String() string {
	switch k {
	case Queue:
		return "queue"
	case SharedMemory:
		return "shm"
	}
	return "unknown"
}

// New builds a channel of the given kind. SharedMemory channels create a
// backing file under dir (the default temp dir when empty).
func New(kind Kind, dir string) (Channel, error) {
	switch kind {
	case Queue:
		return NewQueue(), nil
	case SharedMemory:
		return NewSharedMemory(dir)
	}
	return nil, errors.Errorf("transport: unknown channel kind %d", int(kind))
}
