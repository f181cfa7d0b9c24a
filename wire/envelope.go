// Package wire defines the byte format that remote transfer handlers use to
// move ACL messages between platforms.
//
// A message travels as a JSON Envelope. The message content is serialized
// separately by a payload parser, named in the envelope, so the receiving
// side can decode it without prior agreement on the format. Delivery
// outcomes travel back as an Ack.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/payload"
)

// AID is the wire form of an agent identifier.
type AID struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses,omitempty"`
	Resolvers []AID    `json:"resolvers,omitempty"`
}

// Envelope carries one message.
type Envelope struct {
	ID             string    `json:"id"`
	Performative   string    `json:"performative"`
	Sender         *AID      `json:"sender,omitempty"`
	Receivers      []AID     `json:"receivers,omitempty"`
	Multicast      bool      `json:"multicast,omitempty"`
	ReplyTo        *AID      `json:"reply_to,omitempty"`
	Format         string    `json:"format"`
	Content        []byte    `json:"content,omitempty"`
	Custom         []byte    `json:"custom,omitempty"`
	Language       string    `json:"language,omitempty"`
	Encoding       string    `json:"encoding,omitempty"`
	Ontology       string    `json:"ontology,omitempty"`
	Protocol       string    `json:"protocol,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	ReplyWith      string    `json:"reply_with,omitempty"`
	InReplyTo      string    `json:"in_reply_to,omitempty"`
	ReplyBy        time.Time `json:"reply_by,omitempty"`

	// Trace carries the sender's trace context (W3C traceparent headers).
	Trace map[string]string `json:"trace,omitempty"`
}

// Ack reports the outcome of delivering an envelope. Error is nil on success.
type Ack struct {
	ID    string        `json:"id"`
	Error *errors.Error `json:"error,omitempty"`
}

// Codec converts messages to envelopes and back.
type Codec struct {
	format   string
	registry *payload.Registry
}

// NewCodec creates a codec that serializes content with the named format.
// A nil registry means the process-wide default.
func NewCodec(format string, reg *payload.Registry) (*Codec, error) {
	if reg == nil {
		reg = payload.Default()
	}
	if _, err := reg.Lookup(format); err != nil {
		return nil, err
	}
	return &Codec{format: format, registry: reg}, nil
}

// Format returns the content format used for encoding.
func (c *Codec) Format() string {
	return c.format
}

// Encode serializes m. Each call stamps a fresh envelope id.
func (c *Codec) Encode(m *acl.Message) ([]byte, error) {
	env, err := c.Envelope(m)
	if err != nil {
		return nil, err
	}
	return Marshal(env)
}

// Marshal serializes an envelope.
func Marshal(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "marshal envelope")
	}
	return b, nil
}

// Envelope builds the envelope for m without marshaling it.
func (c *Codec) Envelope(m *acl.Message) (*Envelope, error) {
	if m == nil {
		return nil, errors.InvalidInput("nil message")
	}
	parser, err := c.registry.Lookup(c.format)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		ID:             uuid.NewString(),
		Performative:   string(m.Performative),
		Multicast:      m.Receiver.Kind() == acl.MultipleReceivers,
		Format:         c.format,
		Language:       m.Language,
		Encoding:       m.Encoding,
		Ontology:       m.Ontology,
		Protocol:       m.Protocol,
		ConversationID: m.ConversationID,
		ReplyWith:      m.ReplyWith,
		InReplyTo:      m.InReplyTo,
		ReplyBy:        m.ReplyBy,
	}
	if m.Sender != nil {
		a := fromAID(*m.Sender)
		env.Sender = &a
	}
	if m.ReplyTo != nil {
		a := fromAID(*m.ReplyTo)
		env.ReplyTo = &a
	}
	for _, r := range m.Receiver.AIDs() {
		env.Receivers = append(env.Receivers, fromAID(r))
	}

	if m.Content != nil {
		env.Content, err = parser.Dump(m.Content, m.Encoding)
		if err != nil {
			return nil, errors.Wrap(err, "encode content")
		}
	}
	if len(m.Custom) > 0 {
		custom := make(map[string]any, len(m.Custom))
		for k, v := range m.Custom {
			custom[k] = v
		}
		env.Custom, err = parser.Dump(custom, "")
		if err != nil {
			return nil, errors.Wrap(err, "encode custom parameters")
		}
	}
	return env, nil
}

// Decode parses an envelope and rebuilds the message. The content parser is
// the one the envelope names, looked up in the codec's registry.
func (c *Codec) Decode(data []byte) (*acl.Message, *Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "unmarshal envelope")
	}
	m, err := c.Message(&env)
	if err != nil {
		return nil, nil, err
	}
	return m, &env, nil
}

// Message rebuilds the message carried by env.
func (c *Codec) Message(env *Envelope) (*acl.Message, error) {
	perf, err := acl.ParsePerformative(env.Performative)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "decode performative")
	}

	m := &acl.Message{
		Performative:   perf,
		Language:       env.Language,
		Encoding:       env.Encoding,
		Ontology:       env.Ontology,
		Protocol:       env.Protocol,
		ConversationID: env.ConversationID,
		ReplyWith:      env.ReplyWith,
		InReplyTo:      env.InReplyTo,
		ReplyBy:        env.ReplyBy,
	}
	if env.Sender != nil {
		a, err := toAID(*env.Sender)
		if err != nil {
			return nil, err
		}
		m.Sender = &a
	}
	if env.ReplyTo != nil {
		a, err := toAID(*env.ReplyTo)
		if err != nil {
			return nil, err
		}
		m.ReplyTo = &a
	}

	receivers := make([]acl.AID, 0, len(env.Receivers))
	for _, r := range env.Receivers {
		a, err := toAID(r)
		if err != nil {
			return nil, err
		}
		receivers = append(receivers, a)
	}
	switch {
	case env.Multicast:
		m.Receiver = acl.ToAll(receivers...)
	case len(receivers) == 1:
		m.Receiver = acl.To(receivers[0])
	}

	if len(env.Content) == 0 && len(env.Custom) == 0 {
		return m, nil
	}
	parser, err := c.registry.Lookup(env.Format)
	if err != nil {
		return nil, err
	}
	if len(env.Content) > 0 {
		if m.Content, err = parser.Load(env.Content, env.Encoding); err != nil {
			return nil, errors.Wrap(err, "decode content")
		}
	}
	if len(env.Custom) > 0 {
		v, err := parser.Load(env.Custom, "")
		if err != nil {
			return nil, errors.Wrap(err, "decode custom parameters")
		}
		custom, ok := v.(map[string]any)
		if !ok {
			return nil, errors.New(errors.ErrCodeCodec, "custom parameters are not a table")
		}
		m.Custom = custom
	}
	return m, nil
}

// EncodeAck serializes an ack for envelope id. A nil err means delivered.
func EncodeAck(id string, err error) ([]byte, error) {
	ack := Ack{ID: id}
	if err != nil {
		if te := errors.AsTransportError(err); te != nil {
			ack.Error = te
		} else {
			ack.Error = errors.Wrap(err, "delivery failed")
		}
	}
	b, mErr := json.Marshal(ack)
	if mErr != nil {
		return nil, errors.WrapWithCode(mErr, errors.ErrCodeCodec, "marshal ack")
	}
	return b, nil
}

// DecodeAck parses an ack and returns the remote delivery error, if any.
func DecodeAck(data []byte) (*Ack, error) {
	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "unmarshal ack")
	}
	return &ack, nil
}

func fromAID(a acl.AID) AID {
	w := AID{Name: a.Name(), Addresses: append([]string(nil), a.Addresses...)}
	for _, r := range a.Resolvers {
		w.Resolvers = append(w.Resolvers, fromAID(r))
	}
	return w
}

func toAID(w AID) (acl.AID, error) {
	a, err := acl.NewAID(w.Name, w.Addresses...)
	if err != nil {
		return acl.AID{}, errors.WrapWithCode(err, errors.ErrCodeCodec, "decode agent identifier")
	}
	for _, r := range w.Resolvers {
		ra, err := toAID(r)
		if err != nil {
			return acl.AID{}, err
		}
		a.Resolvers = append(a.Resolvers, ra)
	}
	return a, nil
}
