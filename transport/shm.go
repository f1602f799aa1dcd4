package transport

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Handle describes one payload in the shared region: where it starts, how
// long it is, and the sender's sequence number.
type Handle struct {
	Offset int64
	Length int
	Seq    uint64
}

// shmChannel writes payload bytes to a file-backed region and moves only a
// Handle through the queue. The region is a single reusable slot: the
// sender blocks on the receiver's ack before overwriting it, so at most one
// payload is in flight.
type shmChannel struct {
	path string
	file *os.File

	handles chan Handle
	acks    chan uint64
	closed  chan struct{}
	once    sync.Once

	sendSeq uint64 // sender side only
	recvSeq uint64 // receiver side only
}

// NewSharedMemory builds a channel backed by a fresh file under dir, or the
// system temp dir when dir is empty. The file is removed on Close.
func NewSharedMemory(dir string) (Channel, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "hetr-shm-"+uuid.NewString())
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: create shared region %v", path)
	}
	return &shmChannel{
		path:    path,
		file:    file,
		handles: make(chan Handle, 1),
		acks:    make(chan uint64, 1),
		closed:  make(chan struct{}),
	}, nil
}

func (s *shmChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	// Wait for the previous payload's ack before reusing the region.
	if s.sendSeq > 0 {
		select {
		case <-s.acks:
		case <-s.closed:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.sendSeq++
	if err := writeRegion(s.file, 0, data); err != nil {
		return err
	}
	h := Handle{Offset: 0, Length: len(data), Seq: s.sendSeq}
	select {
	case s.handles <- h:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *shmChannel) Recv(ctx context.Context) ([]byte, error) {
	var h Handle
	select {
	case h = <-s.handles:
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.Seq <= s.recvSeq {
		return nil, errors.Errorf(
			"transport: stale handle seq %d after %d", h.Seq, s.recvSeq)
	}
	s.recvSeq = h.Seq
	data, err := readRegion(s.file, h.Offset, h.Length)
	if err != nil {
		return nil, err
	}
	select {
	case s.acks <- h.Seq:
	case <-s.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return data, nil
}

func (s *shmChannel) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		if cerr := s.file.Close(); cerr != nil {
			err = errors.Wrapf(cerr, "transport: close shared region %v", s.path)
		}
		if rerr := os.Remove(s.path); rerr != nil && !os.IsNotExist(rerr) {
			klog.Warningf("leaking shared region %v: %v", s.path, rerr)
		}
	})
	return err
}

func readRegion(file *os.File, offset int64, length int) ([]byte, error) {
	buffer := make([]byte, length)
	if _, err := file.ReadAt(buffer, offset); err != nil {
		return nil, errors.Wrapf(err, "transport: read %d bytes at %d", length, offset)
	}
	return buffer, nil
}

func writeRegion(file *os.File, offset int64, data []byte) error {
	if _, err := file.WriteAt(data, offset); err != nil {
		return errors.Wrapf(err, "transport: write %d bytes at %d", len(data), offset)
	}
	return nil
}
