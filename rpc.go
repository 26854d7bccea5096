package duplex

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// Handler is a user-registered callable invoked by the router for
// inbound requests addressed to its method name. It receives the
// reply-role Channel the router created for the call.
type Handler func(ch *Channel)

// RPC is the factory/configuration object: it holds the codec, the
// method handler table, and performs the handshake that produces Peers.
// A single RPC may be shared by multiple Peers.
type RPC struct {
	codec Codec

	mu         sync.RWMutex
	registered map[string]Handler

	logger      *log.Logger
	callTimeout time.Duration
}

// NewRPC creates an RPC bound to codec. Options configure ambient
// behavior (logging, default call timeout) without relying on package-
// level state (spec §9's "Global loop/registry" redesign flag).
func NewRPC(codec Codec, opts ...RPCOption) *RPC {
	r := &RPC{
		codec:      codec,
		registered: make(map[string]Handler),
		logger:     defaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Codec returns the RPC's configured codec.
func (r *RPC) Codec() Codec { return r.codec }

// Logger returns the RPC's configured logger.
func (r *RPC) Logger() *log.Logger { return r.logger }

// CallTimeout returns the default deadline applied to Channel.Call's
// blocking receive, or 0 if none is configured.
func (r *RPC) CallTimeout() time.Duration { return r.callTimeout }

// Register makes handler callable remotely under method.
func (r *RPC) Register(method string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered[method] = handler
}

// Unregister removes method from the handler table.
func (r *RPC) Unregister(method string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registered, method)
}

// RegisterFunc wraps fn so that it auto-receives the first inbound
// payload and auto-sends its return value as the single reply. If fn
// returns a non-nil error, an error reply is sent instead of a payload.
func (r *RPC) RegisterFunc(method string, fn func(args interface{}, ch *Channel) (interface{}, error)) {
	r.Register(method, func(ch *Channel) {
		args, _, err := ch.Recv()
		if err != nil {
			r.logger.Printf("[WARN] duplex: %s: failed to receive args: %v", method, err)
			return
		}
		ret, err := fn(args, ch)
		if err != nil {
			if sendErr := ch.SendErr(1, err.Error(), nil); sendErr != nil {
				r.logger.Printf("[WARN] duplex: %s: failed to send error reply: %v", method, sendErr)
			}
			return
		}
		if sendErr := ch.Send(ret, false); sendErr != nil {
			r.logger.Printf("[WARN] duplex: %s: failed to send reply: %v", method, sendErr)
		}
	})
}

// CallbackFunc registers fn under a fresh random method name,
// "_callback.<uuid>", and returns that name, so a callable reference can
// be passed to the remote side as a plain string.
func (r *RPC) CallbackFunc(fn func(args interface{}, ch *Channel) (interface{}, error)) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("duplex: generating callback name: %w", err)
	}
	name := "_callback." + id
	r.RegisterFunc(name, fn)
	return name, nil
}

// Methods returns the names of all currently registered methods, sorted.
func (r *RPC) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.registered))
	for name := range r.registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *RPC) lookupHandler(method string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.registered[method]
	return h, ok
}

// Handshake performs the client side of the SIMPLEX/1.0 handshake: send
// "SIMPLEX/1.0;<codec>", require the server's reply begin with "+", then
// (by default) start the peer's router. The returned Peer is fully
// usable as either initiator or responder afterward.
func (r *RPC) Handshake(conn Connection, route bool) (*Peer, error) {
	peer := newPeer(r, conn)
	if err := conn.Send(Frame(handshakeString(r.codec.Name))); err != nil {
		return nil, &HandshakeError{Reason: "sending handshake", Err: err}
	}
	resp, err := conn.Recv()
	if err != nil {
		return nil, &HandshakeError{Reason: "waiting for server response", Err: err}
	}
	if len(resp) == 0 || resp[0] != '+' {
		return nil, &HandshakeError{Reason: fmt.Sprintf("unexpected server response %q", resp)}
	}
	if route {
		peer.route()
	}
	return peer, nil
}

// Accept performs the server side of the SIMPLEX/1.0 handshake: receive
// the client's handshake frame, validate its codec name against this
// RPC's configured codec, reply "+OK", then (by default) start the
// peer's router.
func (r *RPC) Accept(conn Connection, route bool) (*Peer, error) {
	peer := newPeer(r, conn)
	frame, err := conn.Recv()
	if err != nil {
		return nil, &HandshakeError{Reason: "waiting for client handshake", Err: err}
	}
	codecName, ok := parseHandshake(string(frame))
	if !ok {
		return nil, &HandshakeError{Reason: fmt.Sprintf("malformed handshake %q", frame)}
	}
	if codecName != r.codec.Name {
		return nil, &HandshakeError{Reason: fmt.Sprintf("codec mismatch: client wants %q, server has %q", codecName, r.codec.Name)}
	}
	if err := conn.Send(Frame(HandshakeAccept)); err != nil {
		return nil, &HandshakeError{Reason: "sending accept", Err: err}
	}
	if route {
		peer.route()
	}
	return peer, nil
}
