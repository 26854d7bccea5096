// Package wsconn adapts a *websocket.Conn into a duplex.Connection,
// text-framing each SIMPLEX/1.0 frame as one websocket message and
// running a ping/pong keepalive loop alongside it. Adapted from
// xiqingping-birpc's wetsock.codec and the ping/pong wiring in
// birpc.go's Endpoint.Serve.
package wsconn

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/progrium/duplex"
)

// DefaultPingPeriod matches the teacher's pingPeriod.
const DefaultPingPeriod = 10 * time.Second

// ErrPingTimeout is returned (via Recv) once the peer has failed to
// answer pings for more than twice the Conn's ping period.
var ErrPingTimeout = errors.New("wsconn: remote connection timed out")

// Conn implements duplex.Connection over a gorilla websocket connection.
// Per gorilla/websocket's concurrency rules, only one goroutine may call
// WriteMessage and one may call ReadMessage/SetPingHandler at a time;
// Conn serializes both internally.
type Conn struct {
	ws *websocket.Conn

	readMu  sync.Mutex
	writeMu sync.Mutex

	pingPeriod time.Duration
	lastPong   int64 // unix seconds, atomic

	stopOnce sync.Once
	stop     chan struct{}
	pingErr  chan error
}

// New wraps ws and starts its keepalive goroutine. period overrides
// DefaultPingPeriod when non-zero.
func New(ws *websocket.Conn, period time.Duration) *Conn {
	if period == 0 {
		period = DefaultPingPeriod
	}
	c := &Conn{
		ws:         ws,
		pingPeriod: period,
		stop:       make(chan struct{}),
		pingErr:    make(chan error, 1),
	}
	atomic.StoreInt64(&c.lastPong, time.Now().Unix())

	c.readMu.Lock()
	ws.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastPong, time.Now().Unix())
		return nil
	})
	ws.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	c.readMu.Unlock()

	go c.pingLoop()
	return c
}

func (c *Conn) pingLoop() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			last := atomic.LoadInt64(&c.lastPong)
			if last+2*int64(c.pingPeriod.Seconds()) < time.Now().Unix() {
				select {
				case c.pingErr <- ErrPingTimeout:
				default:
				}
				c.Close()
				return
			}
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, []byte{})
			c.writeMu.Unlock()
			if err != nil {
				select {
				case c.pingErr <- err:
				default:
				}
				c.Close()
				return
			}
		}
	}
}

// Send writes frame as one text websocket message.
func (c *Conn) Send(frame duplex.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Recv reads one websocket message and returns it as a Frame. If the
// keepalive loop has already detected a ping timeout, that error takes
// priority over whatever ReadMessage returns.
func (c *Conn) Recv() (duplex.Frame, error) {
	select {
	case err := <-c.pingErr:
		return nil, err
	default:
	}
	c.readMu.Lock()
	_, data, err := c.ws.ReadMessage()
	c.readMu.Unlock()
	if err != nil {
		select {
		case pingErr := <-c.pingErr:
			return nil, pingErr
		default:
		}
		return nil, err
	}
	return duplex.Frame(data), nil
}

// Close stops the keepalive loop and closes the underlying websocket
// connection. Idempotent.
func (c *Conn) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		err = c.ws.Close()
	})
	return err
}
