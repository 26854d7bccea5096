// Package duplex implements the SIMPLEX/1.0 full-duplex RPC and streaming
// protocol: either end of a connected pair may open calls, both ends may
// send and receive concurrently, and a single call may stream multiple
// request or reply payloads before it terminates.
//
// The package is transport- and codec-agnostic. See the transport/ and
// codec/ subpackages for concrete Connection and Codec implementations.
package duplex

import (
	"fmt"
	"strings"
)

// MsgType discriminates the two message shapes on the wire.
type MsgType string

const (
	TypeRequest MsgType = "req"
	TypeReply   MsgType = "rep"
)

const (
	protocolName    = "SIMPLEX"
	protocolVersion = "1.0"

	// HandshakeAccept is the literal server response to a valid handshake.
	HandshakeAccept = "+OK"
)

// ErrorObject is the {code, message, data} triple carried by an error
// reply. Data is optional and opaque to the core.
type ErrorObject struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Message is the structured record carried by one frame, after codec
// decoding. ID is nil when absent (untagged notifications); More and Ext
// are the zero value when absent. A codec's encoder is responsible for
// omitting absent fields on the wire rather than emitting a null
// sentinel.
type Message struct {
	Type    MsgType      `json:"type"`
	Method  string       `json:"method,omitempty"`
	ID      *uint64      `json:"id,omitempty"`
	Payload interface{}  `json:"payload,omitempty"`
	More    bool         `json:"more,omitempty"`
	Ext     interface{}  `json:"ext,omitempty"`
	Error   *ErrorObject `json:"error,omitempty"`
}

// HasID reports whether the message carries a correlation id.
func (m *Message) HasID() bool { return m.ID != nil }

// IDOrZero returns the message id, or 0 if absent.
func (m *Message) IDOrZero() uint64 {
	if m.ID == nil {
		return 0
	}
	return *m.ID
}

func idPtr(id uint64) *uint64 { return &id }

// NewRequest builds a well-formed request message. id is only attached
// when hasID is true, matching the source's "absent, not null" rule for
// correlation ids on fire-and-forget requests.
func NewRequest(method string, payload interface{}, id uint64, hasID bool, more bool, ext interface{}) *Message {
	msg := &Message{
		Type:    TypeRequest,
		Method:  method,
		Payload: payload,
		More:    more,
		Ext:     ext,
	}
	if hasID {
		msg.ID = idPtr(id)
	}
	return msg
}

// NewReply builds a well-formed, non-error reply message.
func NewReply(id uint64, payload interface{}, more bool, ext interface{}) *Message {
	return &Message{
		Type:    TypeReply,
		ID:      idPtr(id),
		Payload: payload,
		More:    more,
		Ext:     ext,
	}
}

// NewErrorReply builds an error reply. An error reply never carries a
// payload.
func NewErrorReply(id uint64, code int, message string, data interface{}, ext interface{}) *Message {
	return &Message{
		Type:  TypeReply,
		ID:    idPtr(id),
		Ext:   ext,
		Error: &ErrorObject{Code: code, Message: message, Data: data},
	}
}

// handshakeString returns the client's first frame: "SIMPLEX/1.0;<codec>".
func handshakeString(codecName string) string {
	return fmt.Sprintf("%s/%s;%s", protocolName, protocolVersion, codecName)
}

// parseHandshake extracts the codec token from a client handshake frame.
// It returns false if frame is not a well-formed SIMPLEX/1.0 handshake.
func parseHandshake(frame string) (codecName string, ok bool) {
	prefix := protocolName + "/" + protocolVersion + ";"
	if !strings.HasPrefix(frame, prefix) {
		return "", false
	}
	codecName = strings.TrimPrefix(frame, prefix)
	if codecName == "" {
		return "", false
	}
	return codecName, true
}
