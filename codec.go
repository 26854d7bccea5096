package duplex

import (
	"fmt"
	"sync"
)

// Codec is the (name, encode, decode) triple described in spec §4.1. A
// codec must be deterministic and total on well-formed Messages; the
// core never inspects Payload contents.
type Codec struct {
	Name   string
	Encode func(*Message) (Frame, error)
	Decode func(Frame) (*Message, error)
}

// Name must be a non-empty token containing no ';' or '/'; this is
// checked by RegisterCodec, not by Codec itself, so a Codec can be built
// and used directly (as in tests) without going through the registry.

var (
	registryMu sync.RWMutex
	registry   = map[string]Codec{}
)

// RegisterCodec makes a Codec available for lookup by name. Concrete
// codec packages (codec/jsonmsg, codec/msgpackmsg) call this from an
// init() function, following the database/sql driver-registration
// convention: importing a codec package for its side effect is enough to
// make it available to LookupCodec.
//
// RegisterCodec panics if name is already registered or is not a valid
// codec identifier (spec §6.2: no ';' or '/').
func RegisterCodec(c Codec) {
	if c.Name == "" || containsAny(c.Name, ";/") {
		panic(fmt.Sprintf("duplex: invalid codec name %q", c.Name))
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[c.Name]; exists {
		panic(fmt.Sprintf("duplex: codec %q already registered", c.Name))
	}
	registry[c.Name] = c
}

// LookupCodec returns the codec registered under name, if any.
func LookupCodec(name string) (Codec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

func containsAny(s, chars string) bool {
	for _, r := range chars {
		for _, sr := range s {
			if sr == r {
				return true
			}
		}
	}
	return false
}
