package duplex

import (
	"context"
	"sync"
)

// Role distinguishes a channel created locally by Open (request) from
// one created by the router on the first inbound frame for an id
// (reply).
type Role string

const (
	// RoleRequest channels were opened locally via Peer.Open/Channel.Open
	// and carry outbound requests, awaiting replies.
	RoleRequest Role = "request"
	// RoleReply channels were created by the router for an inbound
	// request and carry outbound replies.
	RoleReply Role = "reply"
)

// inboxItem is one frame queued for a Channel's Recv.
type inboxItem struct {
	payload interface{}
	more    bool
	errObj  *ErrorObject
}

// inbox is an unbounded, thread-safe FIFO queue. The router enqueues
// under its own goroutine and must never block on a slow receiver, so
// the queue grows rather than applies backpressure (spec §5: "the
// router never blocks on a handler").
type inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []inboxItem
	closed bool
}

func newInbox() *inbox {
	b := &inbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *inbox) put(item inboxItem) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.items = append(b.items, item)
	b.cond.Signal()
}

func (b *inbox) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

// get blocks until an item is available, the inbox is closed, or ctx is
// done. ctx may be nil to block without a deadline.
func (b *inbox) get(ctx context.Context) (inboxItem, error) {
	if ctx != nil {
		// Wake the waiter if ctx is cancelled while blocked in cond.Wait.
		done := ctx.Done()
		if done != nil {
			stop := make(chan struct{})
			defer close(stop)
			go func() {
				select {
				case <-done:
					b.cond.Broadcast()
				case <-stop:
				}
			}()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.items) == 0 && !b.closed {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return inboxItem{}, ctx.Err()
			default:
			}
		}
		b.cond.Wait()
	}
	if len(b.items) == 0 {
		return inboxItem{}, ErrClosed
	}
	item := b.items[0]
	b.items = b.items[1:]
	return item, nil
}

// Channel is one logical call leg: an ordered inbox of inbound payloads,
// a role, a method name, a peer-local id, and opaque extension metadata
// inherited by siblings opened through Open/Call.
type Channel struct {
	peer   *Peer
	role   Role
	method string
	id     uint64
	hasID  bool
	ext    interface{}
	inbox  *inbox
}

func newChannel(peer *Peer, role Role, method string) *Channel {
	return &Channel{
		peer:   peer,
		role:   role,
		method: method,
		inbox:  newInbox(),
	}
}

// ID returns the channel's correlation id and whether one has been
// assigned yet (a reply-role channel created for an untagged/"notify"
// request has none).
func (c *Channel) ID() (uint64, bool) { return c.id, c.hasID }

// Role reports whether this channel carries outbound requests (request)
// or outbound replies (reply).
func (c *Channel) Role() Role { return c.role }

// Method returns the method name this channel was opened or dispatched
// for.
func (c *Channel) Method() string { return c.method }

// Ext returns the channel's opaque extension metadata.
func (c *Channel) Ext() interface{} { return c.ext }

// SetExt sets the channel's opaque extension metadata, propagated on
// every subsequent Send.
func (c *Channel) SetExt(ext interface{}) { c.ext = ext }

// Send encodes and transmits a request or reply frame according to the
// channel's role, using its method and id. more=true indicates more
// frames will follow on this id; clients MUST set more=true on all but
// the terminal frame of a stream (spec §9), since the router does not
// defensively validate this.
func (c *Channel) Send(payload interface{}, more bool) error {
	var msg *Message
	switch c.role {
	case RoleRequest:
		msg = NewRequest(c.method, payload, c.id, c.hasID, more, c.ext)
	case RoleReply:
		msg = NewReply(c.id, payload, more, c.ext)
	default:
		return &ChannelTypeError{Role: c.role, Op: "send"}
	}
	return c.peer.sendMessage(msg)
}

// SendErr encodes and transmits an error reply. It is only valid on a
// reply-role channel.
func (c *Channel) SendErr(code int, message string, data interface{}) error {
	if c.role != RoleReply {
		return &ChannelTypeError{Role: c.role, Op: "senderr"}
	}
	msg := NewErrorReply(c.id, code, message, data, c.ext)
	return c.peer.sendMessage(msg)
}

// Recv blocks until the next inbound frame for this channel's id is
// routed, returning its payload and streaming flag. If the frame was an
// error reply, the returned error is a *RemoteError and payload is nil.
func (c *Channel) Recv() (interface{}, bool, error) {
	return c.RecvContext(context.Background())
}

// RecvContext is Recv with a cancellable/deadline-bound context, for
// callers that want Channel.Recv's optional deadline (spec §5).
func (c *Channel) RecvContext(ctx context.Context) (interface{}, bool, error) {
	item, err := c.inbox.get(ctx)
	if err != nil {
		return nil, false, err
	}
	if item.errObj != nil {
		return nil, false, &RemoteError{Code: item.errObj.Code, Message: item.errObj.Message, Data: item.errObj.Data}
	}
	return item.payload, item.more, nil
}

// Open creates a sibling request-role channel on the same peer,
// inheriting this channel's Ext, without sending anything.
func (c *Channel) Open(method string) *Channel {
	ch := c.peer.Open(method)
	ch.ext = c.ext
	return ch
}

// Call opens a sibling channel, sends args as the sole request frame,
// and (if wait) blocks for the single reply. If the owning RPC has a
// configured call timeout, it bounds the wait (spec §5: "Channel.recv
// may accept an optional deadline").
func (c *Channel) Call(method string, args interface{}, wait bool) (interface{}, error) {
	ch := c.Open(method)
	if err := ch.Send(args, false); err != nil {
		return nil, err
	}
	if !wait {
		return nil, nil
	}
	ctx := context.Background()
	if timeout := c.peer.rpc.CallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ret, _, err := ch.RecvContext(ctx)
	return ret, err
}

// CallAsync opens a sibling channel, sends args as the sole request
// frame, and returns the channel immediately without waiting for a
// reply. The caller may later Recv on it, or ignore it entirely (a
// stray reply then has no defined cleanup beyond Peer.Close, per spec
// §9's Open Questions).
func (c *Channel) CallAsync(method string, args interface{}) (*Channel, error) {
	ch := c.Open(method)
	if err := ch.Send(args, false); err != nil {
		return nil, err
	}
	return ch, nil
}

// Close closes the underlying peer (and therefore every channel on it).
func (c *Channel) Close() error {
	return c.peer.Close()
}
