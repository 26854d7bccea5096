// Package tcpframe provides a newline-delimited duplex.Connection over
// any net.Conn, plus a StoppableListener adapted from
// xiqingping-birpc/stoppablelisten for graceful accept-loop shutdown in
// servers built on this transport.
package tcpframe

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/progrium/duplex"
)

// ErrFrameContainsNewline is returned by Send when frame contains a
// newline byte, which would corrupt the delimiter-based framing.
var ErrFrameContainsNewline = errors.New("tcpframe: frame contains a newline byte")

// Conn frames a net.Conn by terminating every written frame with '\n'
// and reading up to the next '\n' on Recv. Send rejects any frame that
// itself contains a newline byte with ErrFrameContainsNewline. Compact
// JSON frames contain none; msgpackmsg's binary frames are not escaped
// and are rejected whenever their bytes include 0x0A.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader

	writeMu sync.Mutex
}

// New wraps nc for frame-oriented Send/Recv.
func New(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Dial connects to addr over TCP and wraps the connection.
func Dial(addr string) (*Conn, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(nc), nil
}

func (c *Conn) Send(frame duplex.Frame) error {
	if bytes.IndexByte(frame, '\n') >= 0 {
		return ErrFrameContainsNewline
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(frame); err != nil {
		return err
	}
	_, err := c.nc.Write([]byte{'\n'})
	return err
}

func (c *Conn) Recv() (duplex.Frame, error) {
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	return duplex.Frame(bytes.TrimSuffix(line, []byte{'\n'})), nil
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

// deadlineListener is the subset of net.Listener (plus SetDeadline) that
// StoppableListener needs; it's satisfied by *net.TCPListener and any
// other listener that supports deadlines, generalizing the teacher's
// stoppablelisten.go (which only accepted *net.TCPListener via a type
// assertion).
type deadlineListener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// ErrStopped is returned by Accept after Stop has been called.
var ErrStopped = errors.New("tcpframe: listener stopped")

// StoppableListener wraps a net.Listener so Accept can be interrupted by
// Stop instead of only by closing the listener out from under a blocked
// Accept call.
type StoppableListener struct {
	deadlineListener
	stop     chan struct{}
	stopOnce sync.Once
}

// NewStoppableListener wraps l, which must support SetDeadline.
func NewStoppableListener(l net.Listener) (*StoppableListener, error) {
	dl, ok := l.(deadlineListener)
	if !ok {
		return nil, fmt.Errorf("tcpframe: listener %T does not support SetDeadline", l)
	}
	return &StoppableListener{deadlineListener: dl, stop: make(chan struct{})}, nil
}

// Listen is a convenience wrapper: net.Listen("tcp", addr) wrapped in a
// StoppableListener.
func Listen(addr string) (*StoppableListener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewStoppableListener(l)
}

// Accept waits up to one second at a time for a new connection, so a
// Stop call is noticed within roughly a second instead of blocking
// forever.
func (sl *StoppableListener) Accept() (net.Conn, error) {
	for {
		sl.SetDeadline(time.Now().Add(time.Second))

		conn, err := sl.deadlineListener.Accept()

		select {
		case <-sl.stop:
			if conn != nil {
				conn.Close()
			}
			return nil, ErrStopped
		default:
		}

		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return nil, err
		}
		return conn, nil
	}
}

// Stop interrupts any blocked or future Accept call with ErrStopped. It
// is idempotent and does not itself close the underlying listener.
func (sl *StoppableListener) Stop() {
	sl.stopOnce.Do(func() { close(sl.stop) })
}
