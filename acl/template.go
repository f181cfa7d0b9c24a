package acl

import (
	"reflect"
	"strings"
)

// Template is a predicate used to pull matching messages out of a mailbox.
// Apply must be pure: no side effects, same answer for the same message.
type Template interface {
	Apply(m *Message) bool
}

// TemplateFunc adapts a function to Template.
type TemplateFunc func(m *Message) bool

// Apply implements Template.
func (f TemplateFunc) Apply(m *Message) bool {
	return f(m)
}

type allTemplate struct{}

func (allTemplate) Apply(*Message) bool { return true }

// All matches every message.
func All() Template {
	return allTemplate{}
}

type andTemplate []Template

func (t andTemplate) Apply(m *Message) bool {
	for _, f := range t {
		if !f.Apply(m) {
			return false
		}
	}
	return true
}

// And matches messages accepted by every operand.
func And(a, b Template, more ...Template) Template {
	return append(andTemplate{a, b}, more...)
}

type orTemplate []Template

func (t orTemplate) Apply(m *Message) bool {
	for _, f := range t {
		if f.Apply(m) {
			return true
		}
	}
	return false
}

// Or matches messages accepted by at least one operand.
func Or(a, b Template, more ...Template) Template {
	return append(orTemplate{a, b}, more...)
}

// Not inverts a template.
func Not(t Template) Template {
	return TemplateFunc(func(m *Message) bool {
		return !t.Apply(m)
	})
}

// ByPerformative matches the performative field.
func ByPerformative(p Performative) Template {
	return TemplateFunc(func(m *Message) bool { return m.Performative == p })
}

// BySender matches the sender field by agent name.
func BySender(aid AID) Template {
	return TemplateFunc(func(m *Message) bool {
		return m.Sender != nil && m.Sender.Equal(aid)
	})
}

// ByReplyTo matches the reply-to field by agent name.
func ByReplyTo(aid AID) Template {
	return TemplateFunc(func(m *Message) bool {
		return m.ReplyTo != nil && m.ReplyTo.Equal(aid)
	})
}

// ByReceiver matches messages whose receivers include aid.
func ByReceiver(aid AID) Template {
	return TemplateFunc(func(m *Message) bool { return m.Receiver.Contains(aid) })
}

// ByConversationID matches the conversation-id field.
func ByConversationID(id string) Template {
	return TemplateFunc(func(m *Message) bool { return m.ConversationID == id })
}

// ByEncoding matches the encoding field.
func ByEncoding(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.Encoding == s })
}

// ByInReplyTo matches the in-reply-to field.
func ByInReplyTo(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.InReplyTo == s })
}

// ByLanguage matches the language field.
func ByLanguage(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.Language == s })
}

// ByOntology matches the ontology field.
func ByOntology(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.Ontology == s })
}

// ByProtocol matches the protocol field.
func ByProtocol(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.Protocol == s })
}

// ByReplyWith matches the reply-with field.
func ByReplyWith(s string) Template {
	return TemplateFunc(func(m *Message) bool { return m.ReplyWith == s })
}

// ByCustom matches a user-defined parameter. The key is prefixed with "X-"
// like Builder.Custom does.
func ByCustom(key string, value any) Template {
	if !strings.HasPrefix(key, "X-") {
		key = "X-" + key
	}
	return TemplateFunc(func(m *Message) bool {
		v, ok := m.Custom[key]
		return ok && reflect.DeepEqual(v, value)
	})
}
