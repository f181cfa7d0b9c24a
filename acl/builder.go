package acl

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/aclmts/logging"
)

// Builder helps construct messages with a fluent API.
//
// A performative is mandatory. Calling the same setter twice keeps the last
// value. Build logs a warning when no protocol is set, or when a protocol is
// set without conversation id or reply-by.
type Builder struct {
	msg    *Message
	logger *logging.Logger
}

// NewBuilder creates a message builder.
func NewBuilder() *Builder {
	return &Builder{
		msg:    &Message{},
		logger: logging.Discard(),
	}
}

// NewReply starts a reply to m: the receiver is m's reply-to (or sender),
// the conversation id is kept, and in-reply-to echoes m's reply-with.
func NewReply(m *Message) *Builder {
	b := NewBuilder()
	switch {
	case m.ReplyTo != nil:
		b.Receiver(*m.ReplyTo)
	case m.Sender != nil:
		b.Receiver(*m.Sender)
	}
	b.msg.Language = m.Language
	b.msg.Ontology = m.Ontology
	b.msg.Protocol = m.Protocol
	b.msg.ConversationID = m.ConversationID
	b.msg.InReplyTo = m.ReplyWith
	return b
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// WithLogger sets the logger used for build warnings.
func (b *Builder) WithLogger(l *logging.Logger) *Builder {
	if l != nil {
		b.logger = l.WithComponent("acl.builder")
	}
	return b
}

// Performative sets the communicative act.
func (b *Builder) Performative(p Performative) *Builder {
	b.msg.Performative = p
	return b
}

// Sender sets the sender.
func (b *Builder) Sender(aid AID) *Builder {
	s := aid.Clone()
	b.msg.Sender = &s
	return b
}

// Receiver addresses the message to a single agent.
func (b *Builder) Receiver(aid AID) *Builder {
	b.msg.Receiver = To(aid.Clone())
	return b
}

// Receivers addresses the message to several agents.
func (b *Builder) Receivers(aids ...AID) *Builder {
	b.msg.Receiver = ToAll(aids...)
	return b
}

// ReplyTo sets the agent replies should go to.
func (b *Builder) ReplyTo(aid AID) *Builder {
	r := aid.Clone()
	b.msg.ReplyTo = &r
	return b
}

// Content sets the payload.
func (b *Builder) Content(v any) *Builder {
	b.msg.Content = v
	return b
}

// Language sets the content language.
func (b *Builder) Language(s string) *Builder {
	b.msg.Language = s
	return b
}

// Encoding sets the content encoding.
func (b *Builder) Encoding(s string) *Builder {
	b.msg.Encoding = s
	return b
}

// Ontology sets the content ontology.
func (b *Builder) Ontology(s string) *Builder {
	b.msg.Ontology = s
	return b
}

// Protocol sets the interaction protocol.
func (b *Builder) Protocol(s string) *Builder {
	b.msg.Protocol = s
	return b
}

// ConversationID sets the conversation identifier.
func (b *Builder) ConversationID(s string) *Builder {
	b.msg.ConversationID = s
	return b
}

// ReplyWith sets the expression the receiver should echo in in-reply-to.
func (b *Builder) ReplyWith(s string) *Builder {
	b.msg.ReplyWith = s
	return b
}

// InReplyTo sets the reply-with expression this message answers.
func (b *Builder) InReplyTo(s string) *Builder {
	b.msg.InReplyTo = s
	return b
}

// ReplyBy sets the latest time a reply is expected.
func (b *Builder) ReplyBy(t time.Time) *Builder {
	b.msg.ReplyBy = t
	return b
}

// Custom adds a user-defined parameter. The key is prefixed with "X-" when
// missing.
func (b *Builder) Custom(key string, value any) *Builder {
	if !strings.HasPrefix(key, "X-") {
		key = "X-" + key
	}
	if b.msg.Custom == nil {
		b.msg.Custom = make(map[string]any)
	}
	b.msg.Custom[key] = value
	return b
}

// Build validates and returns the message. The builder must not be reused.
func (b *Builder) Build() (*Message, error) {
	if b.msg.Performative == "" {
		return nil, fmt.Errorf("performative must be set")
	}
	if !b.msg.Performative.Valid() {
		return nil, fmt.Errorf("unknown performative %q", b.msg.Performative)
	}
	b.checkProtocol()
	return b.msg, nil
}

func (b *Builder) checkProtocol() {
	if b.msg.Protocol == "" {
		b.logger.Warn("no protocol set on message")
		return
	}
	if b.msg.ConversationID == "" {
		b.logger.Warn("protocol set without conversation id", map[string]interface{}{
			"protocol": b.msg.Protocol,
		})
	}
	if b.msg.ReplyBy.IsZero() {
		b.logger.Warn("protocol set without reply-by", map[string]interface{}{
			"protocol": b.msg.Protocol,
		})
	}
}
