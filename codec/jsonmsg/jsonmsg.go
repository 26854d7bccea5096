// Package jsonmsg is the default SIMPLEX/1.0 codec, registered under the
// name "json". It encodes duplex.Message values as JSON text frames,
// matching the wire examples in spec §6.4.
package jsonmsg

import (
	"encoding/json"

	"github.com/progrium/duplex"
)

// Name is the codec identifier this package registers under.
const Name = "json"

func init() {
	duplex.RegisterCodec(duplex.Codec{
		Name:   Name,
		Encode: Encode,
		Decode: Decode,
	})
}

// Encode serializes msg to a JSON frame. Message's struct tags already
// omit absent optional fields rather than encoding them as null, so
// round-tripping through Decode reproduces the original field presence.
func Encode(msg *duplex.Message) (duplex.Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return duplex.Frame(b), nil
}

// Decode parses a JSON frame into a duplex.Message. Payload decodes into
// whatever generic shape encoding/json produces (map[string]interface{},
// []interface{}, float64, string, bool, nil) since the core treats
// payloads as opaque.
func Decode(frame duplex.Frame) (*duplex.Message, error) {
	var msg duplex.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
