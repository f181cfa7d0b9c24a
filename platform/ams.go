package platform

import (
	"context"
	"fmt"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/directory"
	"github.com/vinayprograms/aclmts/errors"
)

// AMS conversation constants.
const (
	AMSService  = "fipa-ams"
	AMSOntology = "fipa-agent-management"
	AMSProtocol = "fipa-request"
)

// AMS actions, carried in the "action" field of a request's content.
const (
	ActionSearch  = "search"
	ActionResolve = "resolve"
)

// serveAMS answers directory requests sent to the AMS agent until its
// mailbox goes away or ctx ends.
func (p *Platform) serveAMS(ctx context.Context, ams acl.AID) error {
	tmpl := acl.ByPerformative(acl.Request)
	for {
		msg, err := p.mts.Receive(ctx, ams, tmpl)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errors.ErrCodeNoMailbox) {
				return nil
			}
			return err
		}

		reply := p.answerAMS(ams, msg)
		if reply == nil {
			continue
		}
		if err := p.Send(ctx, reply); err != nil {
			p.logger.Warn("ams_reply_failed", map[string]interface{}{
				"conversation_id": msg.ConversationID,
				"error":           err.Error(),
			})
		}
	}
}

// answerAMS builds the reply to one request, or nil when nobody can be
// answered.
func (p *Platform) answerAMS(ams acl.AID, msg *acl.Message) *acl.Message {
	if msg.Sender == nil && msg.ReplyTo == nil {
		p.logger.Debug("ams_request_dropped", map[string]interface{}{"reason": "no sender"})
		return nil
	}

	reply := acl.NewReply(msg).Sender(ams).Ontology(AMSOntology).Protocol(AMSProtocol)

	req, ok := msg.Content.(map[string]any)
	if !ok {
		return build(reply.Performative(acl.NotUnderstood).Content("content must be an object with an action"))
	}

	action, _ := req["action"].(string)
	switch action {
	case ActionSearch:
		filter := &directory.Filter{}
		filter.Service, _ = req["service"].(string)
		filter.Platform, _ = req["platform"].(string)
		if s, ok := req["state"].(string); ok {
			filter.State = directory.State(s)
		}
		entries, err := p.dir.List(filter)
		if err != nil {
			return build(reply.Performative(acl.Failure).Content(err.Error()))
		}
		results := make([]any, len(entries))
		for i, d := range entries {
			results[i] = describeContent(d)
		}
		return build(reply.Performative(acl.Inform).Content(results))

	case ActionResolve:
		name, _ := req["name"].(string)
		d, err := p.dir.Get(name)
		if err != nil {
			return build(reply.Performative(acl.Failure).Content(err.Error()))
		}
		return build(reply.Performative(acl.Inform).Content(describeContent(*d)))

	default:
		return build(reply.Performative(acl.NotUnderstood).Content(fmt.Sprintf("unknown action %q", action)))
	}
}

func build(b *acl.Builder) *acl.Message {
	msg, err := b.Build()
	if err != nil {
		return nil
	}
	return msg
}

// describeContent renders a description with plain JSON-compatible values
// so every payload format can carry it.
func describeContent(d directory.Description) map[string]any {
	addresses := make([]any, len(d.Addresses))
	for i, a := range d.Addresses {
		addresses[i] = a
	}
	services := make([]any, len(d.Services))
	for i, s := range d.Services {
		services[i] = s
	}
	return map[string]any{
		"name":      d.Name,
		"state":     string(d.State),
		"addresses": addresses,
		"services":  services,
	}
}
