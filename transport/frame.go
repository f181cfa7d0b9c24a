package transport

import (
	"context"
	"encoding/json"

	"github.com/vinayprograms/aclmts/errors"
)

// ErrClosed is returned by a link or handler after Close.
var ErrClosed = errors.New(errors.ErrCodeUnavailable, "link closed")

// Link is one peer connection carrying JSON-RPC frames both ways.
type Link interface {
	// Frames yields decoded inbound frames; it is closed when the link ends.
	Frames() <-chan *Frame

	// Send queues an outbound frame.
	Send(f *Frame) error

	// Run pumps the connection until ctx ends or the peer goes away.
	Run(ctx context.Context) error

	Close() error
}

// Frame is one JSON-RPC 2.0 frame. Inbound frames carry Call or Notice;
// outbound frames carry Reply or Notice.
type Frame struct {
	Call   *Request
	Notice *Notification
	Reply  *Response

	// Raw is the frame as read off the wire; empty for outbound frames.
	Raw json.RawMessage
}

// DecodeFrame parses an inbound frame. Failures are *Error values ready to
// be sent back to the peer.
func DecodeFrame(data []byte) (*Frame, error) {
	var head struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	if head.JSONRPC != Version {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "jsonrpc must be 2.0"}
	}
	if head.Method == "" {
		return nil, &Error{Code: InvalidRequest, Message: "Invalid Request", Data: "method is required"}
	}

	f := &Frame{Raw: data}
	if len(head.ID) == 0 || string(head.ID) == "null" {
		f.Notice = &Notification{}
		if err := json.Unmarshal(data, f.Notice); err != nil {
			return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
		}
		return f, nil
	}
	f.Call = &Request{}
	if err := json.Unmarshal(data, f.Call); err != nil {
		return nil, &Error{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	return f, nil
}

// Encode serializes an outbound frame.
func (f *Frame) Encode() ([]byte, error) {
	switch {
	case f.Reply != nil:
		return json.Marshal(f.Reply)
	case f.Notice != nil:
		return json.Marshal(f.Notice)
	case f.Call != nil:
		return json.Marshal(f.Call)
	}
	return nil, errors.New(errors.ErrCodeCodec, "empty frame")
}

// ReplyFrame answers the call with id.
func ReplyFrame(id interface{}, result interface{}) *Frame {
	return &Frame{Reply: &Response{JSONRPC: Version, ID: id, Result: result}}
}

// ErrorFrame answers the call with id with a JSON-RPC error.
func ErrorFrame(id interface{}, code int, message string, data interface{}) *Frame {
	return &Frame{Reply: &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	}}
}

// Buffers sizes a link's frame queues.
type Buffers struct {
	Inbound  int
	Outbound int
}

// DefaultBuffers returns 64-frame queues each way.
func DefaultBuffers() Buffers {
	return Buffers{Inbound: 64, Outbound: 64}
}
