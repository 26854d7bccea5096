// Package msgpackmsg is a binary SIMPLEX/1.0 codec, registered under the
// name "msgpack", for deployments that want a more compact wire format
// than JSON. It mirrors the MsgpackHandle usage in hashicorp/serf's RPC
// client, adapted from its streaming Encoder/Decoder to the byte-slice
// frames duplex.Codec expects.
package msgpackmsg

import (
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/progrium/duplex"
)

// Name is the codec identifier this package registers under.
const Name = "msgpack"

var handle = &codec.MsgpackHandle{RawToString: true, WriteExt: true}

func init() {
	duplex.RegisterCodec(duplex.Codec{
		Name:   Name,
		Encode: Encode,
		Decode: Decode,
	})
}

// wireError mirrors duplex.ErrorObject with exported fields msgpack can
// reach via reflection without extra tags.
type wireError struct {
	Code    int
	Message string
	Data    interface{} `codec:",omitempty"`
}

// wireMessage mirrors duplex.Message; kept distinct (rather than reusing
// Message directly) so this codec's wire shape doesn't silently drift
// if Message ever grows JSON-only concerns.
type wireMessage struct {
	Type    string
	Method  string      `codec:",omitempty"`
	ID      *uint64     `codec:",omitempty"`
	Payload interface{} `codec:",omitempty"`
	More    bool        `codec:",omitempty"`
	Ext     interface{} `codec:",omitempty"`
	Error   *wireError  `codec:",omitempty"`
}

// Encode serializes msg to a msgpack frame.
func Encode(msg *duplex.Message) (duplex.Frame, error) {
	w := wireMessage{
		Type:    string(msg.Type),
		Method:  msg.Method,
		ID:      msg.ID,
		Payload: msg.Payload,
		More:    msg.More,
		Ext:     msg.Ext,
	}
	if msg.Error != nil {
		w.Error = &wireError{Code: msg.Error.Code, Message: msg.Error.Message, Data: msg.Error.Data}
	}

	var buf []byte
	enc := codec.NewEncoderBytes(&buf, handle)
	if err := enc.Encode(&w); err != nil {
		return nil, err
	}
	return duplex.Frame(buf), nil
}

// Decode parses a msgpack frame into a duplex.Message.
func Decode(frame duplex.Frame) (*duplex.Message, error) {
	var w wireMessage
	dec := codec.NewDecoderBytes([]byte(frame), handle)
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}

	msg := &duplex.Message{
		Type:    duplex.MsgType(w.Type),
		Method:  w.Method,
		ID:      w.ID,
		Payload: w.Payload,
		More:    w.More,
		Ext:     w.Ext,
	}
	if w.Error != nil {
		msg.Error = &duplex.ErrorObject{Code: w.Error.Code, Message: w.Error.Message, Data: w.Error.Data}
	}
	return msg, nil
}
