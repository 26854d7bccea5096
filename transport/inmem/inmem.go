// Package inmem provides an in-process, in-memory duplex.Connection
// pair, for pairing two Peers without a real socket. It is the simplest
// possible Connection implementation and exists mainly to let this
// module's own tests (and callers') exercise paired peers deterministically.
package inmem

import (
	"errors"
	"sync"

	"github.com/progrium/duplex"
)

// ErrPipeClosed is returned by Send/Recv on a pipe end after Close.
var ErrPipeClosed = errors.New("inmem: pipe closed")

// pipeEnd is one side of a Pipe. Frames sent on one end arrive, in
// order, as Recv results on the other.
type pipeEnd struct {
	mu     sync.Mutex
	closed bool
	done   chan struct{}
	out    chan duplex.Frame
	in     chan duplex.Frame
}

// NewPipe returns two connected Connections: frames sent on a arrive on
// b's Recv and vice versa. Each end buffers up to 64 unread frames
// before Send blocks, matching the backpressure a real socket would
// eventually apply.
func NewPipe() (a, b duplex.Connection) {
	c1 := make(chan duplex.Frame, 64)
	c2 := make(chan duplex.Frame, 64)
	pa := &pipeEnd{out: c1, in: c2, done: make(chan struct{})}
	pb := &pipeEnd{out: c2, in: c1, done: make(chan struct{})}
	return pa, pb
}

func (p *pipeEnd) Send(frame duplex.Frame) error {
	select {
	case <-p.done:
		return ErrPipeClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	case <-p.done:
		return ErrPipeClosed
	}
}

func (p *pipeEnd) Recv() (duplex.Frame, error) {
	select {
	case frame, ok := <-p.in:
		if !ok {
			return nil, ErrPipeClosed
		}
		return frame, nil
	case <-p.done:
		return nil, ErrPipeClosed
	}
}

// Close unblocks any pending Send/Recv on this end. It does not force
// the peer's own Send/Recv to unblock if the peer hasn't closed its own
// end, mirroring how closing one end of a real duplex socket doesn't
// instantly fail the other process's unrelated writes. It deliberately
// does not close the underlying channels: a concurrent Send racing this
// Close would otherwise panic sending on a closed channel instead of
// observing ErrPipeClosed.
func (p *pipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	return nil
}
