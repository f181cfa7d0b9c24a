package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransportError is the interface for all structured errors raised by the
// message transport system. It extends the standard error interface with the
// code and category needed to tell caller errors from delivery failures.
type TransportError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category for retry/handling decisions.
	Category() ErrorCategory

	// Retryable returns true if the operation may succeed on retry.
	Retryable() bool

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of TransportError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool // nil means use default based on category
	timestamp time.Time
	agent     string // AID name, if applicable
	address   string // transport address, if applicable
}

var (
	_ TransportError   = (*Error)(nil)
	_ json.Marshaler   = (*Error)(nil)
	_ json.Unmarshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Retryable returns whether this error is retryable.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// Agent returns the AID name the error refers to, if set.
func (e *Error) Agent() string {
	return e.agent
}

// Address returns the transport address the error refers to, if set.
func (e *Error) Address() string {
	return e.address
}

type errorJSON struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Cause     string            `json:"cause,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Retryable bool              `json:"retryable"`
	Timestamp string            `json:"timestamp,omitempty"`
	Agent     string            `json:"agent,omitempty"`
	Address   string            `json:"address,omitempty"`
}

// MarshalJSON implements json.Marshaler. Remote transports use it to
// return delivery failures to the sending platform.
func (e *Error) MarshalJSON() ([]byte, error) {
	j := errorJSON{
		Code:      e.code,
		Category:  e.category,
		Message:   e.message,
		Metadata:  e.metadata,
		Retryable: e.Retryable(),
		Agent:     e.agent,
		Address:   e.address,
	}
	if e.cause != nil {
		j.Cause = e.cause.Error()
	}
	if !e.timestamp.IsZero() {
		j.Timestamp = e.timestamp.Format(time.RFC3339Nano)
	}
	return json.Marshal(j)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Error) UnmarshalJSON(data []byte) error {
	var j errorJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	e.code = j.Code
	e.category = j.Category
	e.message = j.Message
	e.metadata = j.Metadata
	e.agent = j.Agent
	e.address = j.Address
	r := j.Retryable
	e.retryable = &r
	if j.Cause != "" {
		e.cause = fmt.Errorf("%s", j.Cause)
	}
	if j.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, j.Timestamp); err == nil {
			e.timestamp = t
		}
	}
	return nil
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category.
func WithCategory(cat ErrorCategory) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAgent sets the AID name the error refers to.
func WithAgent(name string) Option {
	return func(e *Error) {
		e.agent = name
	}
}

// WithAddress sets the transport address the error refers to.
func WithAddress(address string) Option {
	return func(e *Error) {
		e.address = address
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// UnsupportedScheme creates an error for a scheme with no installed handler.
func UnsupportedScheme(scheme string, opts ...Option) *Error {
	opts = append([]Option{WithMetadata("scheme", scheme)}, opts...)
	return New(ErrCodeUnsupportedScheme, fmt.Sprintf("unsupported scheme %q", scheme), opts...)
}

// DuplicateScheme creates an error for a second handler on the same scheme.
func DuplicateScheme(scheme string) *Error {
	return New(ErrCodeDuplicateScheme, fmt.Sprintf("scheme %q already has a handler", scheme),
		WithMetadata("scheme", scheme))
}

// BroadcastUnsupported creates an error for a message without receiver.
func BroadcastUnsupported() *Error {
	return New(ErrCodeBroadcastUnsupported, "message has no receiver and broadcast is not supported")
}

// InvalidReceiver creates an error for a receiver of the wrong shape.
func InvalidReceiver(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidReceiver, message, opts...)
}

// InvalidAddress creates an error for an address that cannot be parsed.
func InvalidAddress(address string, opts ...Option) *Error {
	opts = append([]Option{WithAddress(address)}, opts...)
	return New(ErrCodeInvalidAddress, fmt.Sprintf("invalid address %q", address), opts...)
}

// NotSent creates a delivery failure for a receiver whose addresses were all
// tried without success.
func NotSent(agent string, opts ...Option) *Error {
	opts = append([]Option{WithAgent(agent)}, opts...)
	return New(ErrCodeNotSent, fmt.Sprintf("message not sent to %s", agent), opts...)
}

// UnknownReceiver creates the transport-local failure a handler returns when
// it has no binding for the receiver.
func UnknownReceiver(agent, scheme string, opts ...Option) *Error {
	opts = append([]Option{WithAgent(agent), WithMetadata("scheme", scheme)}, opts...)
	return New(ErrCodeUnknownReceiver, fmt.Sprintf("%s is unknown to %s handler", agent, scheme), opts...)
}

// UnknownParser creates an error for a payload parser lookup miss.
func UnknownParser(name string) *Error {
	return New(ErrCodeUnknownParser, fmt.Sprintf("no payload parser registered for %q", name),
		WithMetadata("parser", name))
}

// NoMailbox creates an error for a receive on an agent without mailbox.
func NoMailbox(agent string) *Error {
	return New(ErrCodeNoMailbox, fmt.Sprintf("agent %s has no mailbox", agent), WithAgent(agent))
}

// InvalidInput creates an invalid input error.
func InvalidInput(message string, opts ...Option) *Error {
	return New(ErrCodeInvalidInput, message, opts...)
}

// Internal creates an internal error.
func Internal(message string, opts ...Option) *Error {
	return New(ErrCodeInternal, message, opts...)
}
