package acl

import (
	"fmt"
	"time"
)

// ReceiverKind tags the shape of a message receiver.
type ReceiverKind int

const (
	// NoReceiver means the message is addressed to nobody (broadcast).
	NoReceiver ReceiverKind = iota
	// SingleReceiver means the message goes to exactly one AID.
	SingleReceiver
	// MultipleReceivers means the message fans out to a collection of AIDs.
	MultipleReceivers
)

func (k ReceiverKind) String() string {
	switch k {
	case NoReceiver:
		return "none"
	case SingleReceiver:
		return "single"
	case MultipleReceivers:
		return "multiple"
	default:
		return fmt.Sprintf("ReceiverKind(%d)", int(k))
	}
}

// Receiver is the receiver field of a message: absent, one AID, or a
// collection of AIDs. The zero value is the absent receiver.
type Receiver struct {
	kind ReceiverKind
	aids []AID
}

// To returns a receiver addressing a single agent.
func To(aid AID) Receiver {
	return Receiver{kind: SingleReceiver, aids: []AID{aid}}
}

// ToAll returns a receiver addressing every given agent, in order.
func ToAll(aids ...AID) Receiver {
	return Receiver{kind: MultipleReceivers, aids: append([]AID(nil), aids...)}
}

// Kind returns the receiver shape.
func (r Receiver) Kind() ReceiverKind {
	return r.kind
}

// IsZero reports whether the receiver is absent.
func (r Receiver) IsZero() bool {
	return r.kind == NoReceiver
}

// Single returns the receiver AID when the kind is SingleReceiver.
func (r Receiver) Single() (AID, bool) {
	if r.kind != SingleReceiver || len(r.aids) != 1 {
		return AID{}, false
	}
	return r.aids[0], true
}

// AIDs returns a copy of every AID in the receiver.
func (r Receiver) AIDs() []AID {
	out := make([]AID, len(r.aids))
	for i, a := range r.aids {
		out[i] = a.Clone()
	}
	return out
}

// Contains reports whether aid is one of the receivers.
func (r Receiver) Contains(aid AID) bool {
	for _, a := range r.aids {
		if a.Equal(aid) {
			return true
		}
	}
	return false
}

func (r Receiver) clone() Receiver {
	if r.aids == nil {
		return Receiver{kind: r.kind}
	}
	return Receiver{kind: r.kind, aids: r.AIDs()}
}

// Message is an ACL message.
//
// Once handed to the transport system a message must not be mutated by the
// caller: multicast sends clone it per receiver.
type Message struct {
	Performative   Performative
	Sender         *AID
	Receiver       Receiver
	ReplyTo        *AID
	Content        any
	Language       string
	Encoding       string
	Ontology       string
	Protocol       string
	ConversationID string
	ReplyWith      string
	InReplyTo      string
	ReplyBy        time.Time

	// Custom holds user-defined parameters; keys start with "X-".
	Custom map[string]any
}

// Clone returns a deep copy of m. Content and custom values are copied
// recursively so no mutable state is shared with the original.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.Sender != nil {
		s := m.Sender.Clone()
		c.Sender = &s
	}
	if m.ReplyTo != nil {
		r := m.ReplyTo.Clone()
		c.ReplyTo = &r
	}
	c.Receiver = m.Receiver.clone()
	c.Content = deepCopy(m.Content)
	if m.Custom != nil {
		c.Custom = make(map[string]any, len(m.Custom))
		for k, v := range m.Custom {
			c.Custom[k] = deepCopy(v)
		}
	}
	return &c
}

// WithReceiver returns a deep copy of m narrowed to a single receiver.
func (m *Message) WithReceiver(aid AID) *Message {
	c := m.Clone()
	c.Receiver = To(aid.Clone())
	return c
}

func (m *Message) String() string {
	sender := "<none>"
	if m.Sender != nil {
		sender = m.Sender.Name()
	}
	names := make([]string, 0, len(m.Receiver.aids))
	for _, a := range m.Receiver.aids {
		names = append(names, a.Name())
	}
	return fmt.Sprintf("(%s :sender %s :receiver %v :conversation-id %q)",
		m.Performative, sender, names, m.ConversationID)
}
