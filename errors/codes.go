package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates failures where another attempt, address or
	// scheme may succeed. Examples: receiver not bound on one handler,
	// network timeouts on a remote transport.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates caller errors that retrying will not fix.
	// Examples: unsupported scheme, malformed receiver.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for common failure scenarios.
const (
	// Configuration errors
	ErrCodeUnsupportedScheme ErrorCode = "UNSUPPORTED_SCHEME" // No handler installed for scheme
	ErrCodeDuplicateScheme   ErrorCode = "DUPLICATE_SCHEME"   // Handler already installed for scheme
	ErrCodeUnknownParser     ErrorCode = "UNKNOWN_PARSER"     // No payload parser registered under name
	ErrCodeInvalidConfig     ErrorCode = "INVALID_CONFIG"     // Configuration rejected by validation
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"      // Operation not allowed in current state

	// Routing errors
	ErrCodeBroadcastUnsupported ErrorCode = "BROADCAST_UNSUPPORTED" // Message has no receiver
	ErrCodeInvalidReceiver      ErrorCode = "INVALID_RECEIVER"      // Receiver is not an AID or AID set
	ErrCodeInvalidAddress       ErrorCode = "INVALID_ADDRESS"       // Address is not scheme://host/name
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"         // Malformed or invalid input

	// Delivery errors
	ErrCodeNotSent         ErrorCode = "NOT_SENT"         // Every address of the receiver failed
	ErrCodeUnknownReceiver ErrorCode = "UNKNOWN_RECEIVER" // Handler has no binding for the receiver
	ErrCodeUnavailable     ErrorCode = "UNAVAILABLE"      // Transport temporarily unavailable
	ErrCodeTimeout         ErrorCode = "TIMEOUT"          // Operation timed out
	ErrCodeCanceled        ErrorCode = "CANCELED"         // Operation was canceled

	// Lookup errors
	ErrCodeNoMailbox     ErrorCode = "NO_MAILBOX"     // Agent never requested an address
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"      // Resource does not exist
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS" // Resource already exists

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodeCodec    ErrorCode = "CODEC"    // Payload could not be encoded or decoded
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeNotSent, ErrCodeUnknownReceiver, ErrCodeUnavailable, ErrCodeTimeout:
		return CategoryTransient

	case ErrCodeUnsupportedScheme, ErrCodeDuplicateScheme, ErrCodeUnknownParser,
		ErrCodeInvalidConfig, ErrCodeInvalidState, ErrCodeBroadcastUnsupported,
		ErrCodeInvalidReceiver, ErrCodeInvalidAddress, ErrCodeInvalidInput,
		ErrCodeCanceled, ErrCodeNoMailbox, ErrCodeNotFound, ErrCodeAlreadyExists,
		ErrCodeCodec:
		return CategoryPermanent

	default:
		return CategoryInternal
	}
}

// codeDescriptions provides human-readable descriptions for error codes.
var codeDescriptions = map[ErrorCode]string{
	ErrCodeUnsupportedScheme:    "unsupported scheme",
	ErrCodeDuplicateScheme:      "scheme already has a handler",
	ErrCodeUnknownParser:        "unknown payload parser",
	ErrCodeInvalidConfig:        "invalid configuration",
	ErrCodeInvalidState:         "invalid state for operation",
	ErrCodeBroadcastUnsupported: "broadcast is not supported",
	ErrCodeInvalidReceiver:      "invalid receiver",
	ErrCodeInvalidAddress:       "invalid address",
	ErrCodeInvalidInput:         "invalid input provided",
	ErrCodeNotSent:              "message not sent",
	ErrCodeUnknownReceiver:      "receiver unknown to handler",
	ErrCodeUnavailable:          "transport temporarily unavailable",
	ErrCodeTimeout:              "operation timed out",
	ErrCodeCanceled:             "operation canceled",
	ErrCodeNoMailbox:            "agent has no mailbox",
	ErrCodeNotFound:             "resource not found",
	ErrCodeAlreadyExists:        "resource already exists",
	ErrCodeInternal:             "internal error",
	ErrCodeCodec:                "payload codec error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
