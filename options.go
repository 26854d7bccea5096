package duplex

import (
	"log"
	"time"
)

// RPCOption configures an RPC at construction time, in place of the
// package-level event loop/registry the source relies on (spec §9's
// "Global loop/registry" redesign flag: loop/logger ownership belongs on
// the RPC object, not in module state).
type RPCOption func(*RPC)

// WithLogger overrides the RPC's default logger.
func WithLogger(logger *log.Logger) RPCOption {
	return func(r *RPC) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithCallTimeout sets the default deadline applied to Channel.Call and
// Peer.Call's blocking receive. Zero (the default) means no deadline.
func WithCallTimeout(d time.Duration) RPCOption {
	return func(r *RPC) {
		r.callTimeout = d
	}
}
