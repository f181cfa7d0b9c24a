package bus

import (
	"context"
	"strings"

	"github.com/vinayprograms/aclmts/errors"
)

// Sentinel errors. They carry codes so callers outside the package can
// classify them with errors.Is(err, code).
var (
	ErrClosed         = errors.New(errors.ErrCodeUnavailable, "bus closed")
	ErrTimeout        = errors.New(errors.ErrCodeTimeout, "request timeout")
	ErrNoResponders   = errors.New(errors.ErrCodeUnavailable, "no responders")
	ErrInvalidSubject = errors.New(errors.ErrCodeInvalidInput, "invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is the reply subject for request/reply pattern.
	// Empty for regular pub/sub messages.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	// All subscribers receive all messages.
	Subscribe(subject string) (Subscription, error)

	// QueueSubscribe creates a queue subscription.
	// Messages are load-balanced across queue members.
	QueueSubscribe(subject, queue string) (Subscription, error)

	// Request sends a request and waits for a single reply until ctx ends.
	// Returns ErrNoResponders when nobody is subscribed and ErrTimeout when
	// ctx expires first.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks that subject is non-empty, has no whitespace and
// no empty tokens. Subscriptions may use the "*" (one token) and ">" (the
// rest, last token only) wildcards.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	toks := strings.Split(subject, ".")
	for i, tok := range toks {
		if tok == "" || (tok == ">" && i != len(toks)-1) {
			return ErrInvalidSubject
		}
	}
	return nil
}

// validateLiteral is ValidateSubject for publishing: no wildcards.
func validateLiteral(subject string) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether the literal subject matches pattern.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, p := range pt {
		switch {
		case p == ">":
			return len(st) > i
		case i >= len(st):
			return false
		case p != "*" && p != st[i]:
			return false
		}
	}
	return len(pt) == len(st)
}

// SubjectToken makes s usable as one subject token: separators, wildcards
// and whitespace become underscores.
func SubjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}
