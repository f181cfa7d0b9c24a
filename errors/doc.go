// Package errors provides the structured error taxonomy of the message
// transport system. Every failure surfaced by the mts, handlers and payload
// registry is an *Error carrying a code, a category and optional metadata.
//
// # Error Kinds
//
//   - Configuration: UNSUPPORTED_SCHEME, DUPLICATE_SCHEME, UNKNOWN_PARSER
//   - Routing: BROADCAST_UNSUPPORTED, INVALID_RECEIVER, INVALID_ADDRESS
//   - Delivery: NOT_SENT, raised after every address of a receiver failed
//   - Transport-local: UNKNOWN_RECEIVER, UNAVAILABLE, TIMEOUT
//
// Configuration and routing errors are permanent. Delivery and
// transport-local errors are transient: a later attempt, or another address,
// may succeed. The mts never retries on its own.
//
// # Usage
//
//	err := m.Send(ctx, msg)
//	switch {
//	case errors.Is(err, errors.ErrCodeNotSent):
//	    // nothing accepted the message
//	case errors.IsPermanent(err):
//	    // malformed request
//	}
//
// # JSON Serialization
//
// Errors marshal to JSON so that remote handlers can report a delivery
// failure back to the sending platform:
//
//	data, _ := json.Marshal(err)
//	var remote errors.Error
//	json.Unmarshal(data, &remote)
package errors
