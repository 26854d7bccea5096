package duplex

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// Peer is one endpoint bound to a Connection: it owns the channel
// registries, the frame router, the peer-local id counter, and the set
// of spawned handler goroutines.
type Peer struct {
	rpc    *RPC
	conn   Connection
	logger *log.Logger

	tableMu         sync.Mutex
	requestChannels map[uint64]*Channel
	replyChannels   map[uint64]*Channel

	counter uint64 // atomic; pre-incremented by Open

	sendMu sync.Mutex

	wg sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}

	routeDone chan struct{}
}

func newPeer(rpc *RPC, conn Connection) *Peer {
	return &Peer{
		rpc:             rpc,
		conn:            conn,
		logger:          rpc.logger,
		requestChannels: make(map[uint64]*Channel),
		replyChannels:   make(map[uint64]*Channel),
		closed:          make(chan struct{}),
	}
}

// RPC returns the Peer's owning RPC (read-only back-reference).
func (p *Peer) RPC() *RPC { return p.rpc }

// Done returns a channel that is closed once the peer has started
// shutting down, for callers that want to select on peer liveness
// alongside their own channels.
func (p *Peer) Done() <-chan struct{} { return p.closed }

// Open creates a request-role channel: id = ++counter, registered in the
// peer's reply-expecting table, and returns it. The id space is
// peer-local and monotonic; two peers may independently reuse the same
// id values for opposite-direction calls, since inbound req/rep frames
// are disambiguated by which table they're looked up in, never by a
// shared global id space.
func (p *Peer) Open(method string) *Channel {
	ch := newChannel(p, RoleRequest, method)
	ch.id = atomic.AddUint64(&p.counter, 1)
	ch.hasID = true
	p.tableMu.Lock()
	p.replyChannels[ch.id] = ch
	p.tableMu.Unlock()
	return ch
}

// Call is the Peer-level convenience equivalent of Channel.Call: open a
// channel for method, send args, and (if wait) block for the reply.
func (p *Peer) Call(method string, args interface{}, wait bool) (interface{}, error) {
	ch := p.Open(method)
	if err := ch.Send(args, false); err != nil {
		return nil, err
	}
	if !wait {
		return nil, nil
	}
	ctx := context.Background()
	if timeout := p.rpc.CallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ret, _, err := ch.RecvContext(ctx)
	return ret, err
}

func (p *Peer) sendMessage(msg *Message) error {
	frame, err := p.rpc.codec.Encode(msg)
	if err != nil {
		return err
	}
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return p.conn.Send(frame)
}

func (p *Peer) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

// route starts the peer's router goroutine. Exactly one router runs per
// peer; no other goroutine may call conn.Recv.
func (p *Peer) route() {
	p.routeDone = make(chan struct{})
	go func() {
		defer close(p.routeDone)
		p.runRouter(-1)
	}()
}

// RouteN runs at most n router iterations synchronously on the calling
// goroutine, for deterministic tests (spec §4.4's "bounded-iteration
// variant"). It returns the error that stopped routing, or nil if all n
// iterations completed normally.
func (p *Peer) RouteN(n int) error {
	return p.runRouter(n)
}

func (p *Peer) runRouter(loops int) error {
	for loops != 0 {
		if loops > 0 {
			loops--
		}
		frame, err := p.conn.Recv()
		if err != nil {
			p.logger.Printf("[DEBUG] duplex: router stopping: %v", err)
			p.shutdown()
			return err
		}
		if len(frame) == 0 {
			continue
		}
		msg, err := p.rpc.codec.Decode(frame)
		if err != nil {
			de := &DecodeError{Frame: frame, Err: err}
			p.logger.Printf("[ERROR] duplex: %v", de)
			p.shutdown()
			return de
		}
		p.dispatch(msg)
	}
	return nil
}

func (p *Peer) dispatch(msg *Message) {
	switch msg.Type {
	case TypeRequest:
		p.dispatchRequest(msg)
	case TypeReply:
		p.dispatchReply(msg)
	default:
		p.logger.Printf("[ERROR] duplex: bad message type %q", msg.Type)
	}
}

func (p *Peer) dispatchRequest(msg *Message) {
	id, hasID := msg.IDOrZero(), msg.HasID()

	var ch *Channel
	if hasID {
		p.tableMu.Lock()
		existing, ok := p.requestChannels[id]
		if ok && !msg.More {
			delete(p.requestChannels, id)
		}
		p.tableMu.Unlock()
		if ok {
			ch = existing
		}
	}

	if ch == nil {
		ch = newChannel(p, RoleReply, msg.Method)
		if hasID {
			ch.id = id
			ch.hasID = true
			if msg.More {
				// Register before spawning the handler, so any
				// subsequent frame for this id reaches the same
				// channel regardless of handler progress.
				p.tableMu.Lock()
				p.requestChannels[id] = ch
				p.tableMu.Unlock()
			}
		}

		handler, ok := p.rpc.lookupHandler(msg.Method)
		if !ok {
			if hasID {
				if msg.More {
					p.tableMu.Lock()
					delete(p.requestChannels, id)
					p.tableMu.Unlock()
				}
				if err := ch.SendErr(CodeMethodMissing, ErrMethodMissing, nil); err != nil {
					p.logger.Printf("[WARN] duplex: failed to report missing method %q: %v", msg.Method, err)
				}
			}
			return
		}
		p.spawn(func() { handler(ch) })
	}

	if msg.Ext != nil {
		ch.ext = msg.Ext
	}
	ch.inbox.put(inboxItem{payload: msg.Payload, more: msg.More})
}

func (p *Peer) dispatchReply(msg *Message) {
	id := msg.IDOrZero()

	p.tableMu.Lock()
	ch, ok := p.replyChannels[id]
	if ok && (msg.Error != nil || !msg.More) {
		delete(p.replyChannels, id)
	}
	p.tableMu.Unlock()

	if !ok {
		p.logger.Printf("[WARN] duplex: reply for unknown channel id %d", id)
		return
	}

	if msg.Error != nil {
		ch.inbox.put(inboxItem{errObj: msg.Error})
		return
	}
	ch.inbox.put(inboxItem{payload: msg.Payload, more: msg.More})
}

// shutdown closes the transport, unblocks every channel inbox (so a
// handler parked in Channel.Recv wakes up instead of stalling Close
// forever), then waits for every spawned handler to finish and drains
// the channel tables. It is called both by Close and by the router's
// own fatal-error paths; it never waits on routeDone, so it is safe to
// call from the router goroutine itself.
func (p *Peer) shutdown() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeErr = p.conn.Close()
	})

	p.tableMu.Lock()
	for _, ch := range p.requestChannels {
		ch.inbox.close()
	}
	for _, ch := range p.replyChannels {
		ch.inbox.close()
	}
	p.requestChannels = map[uint64]*Channel{}
	p.replyChannels = map[uint64]*Channel{}
	p.tableMu.Unlock()

	p.wg.Wait()

	return p.closeErr
}

// Close marks the peer closed (see Done), closes the transport
// (unblocking the router's Recv), and waits for every spawned handler and the router
// itself to finish. Close is idempotent.
//
// Close must not be called synchronously from within a handler spawned
// by this peer: it waits for all handlers to return, including the
// calling one, which would deadlock. A handler that wants to close its
// peer should do so from its own goroutine (go ch.Close()).
func (p *Peer) Close() error {
	err := p.shutdown()
	if p.routeDone != nil {
		<-p.routeDone
	}
	return err
}
