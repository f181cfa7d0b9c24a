// Package acl defines the agent communication data model: agent
// identifiers, ACL messages and the templates used to select them.
//
// # Agent Identifiers
//
// An AID names an agent as short_name@hap_name and lists, in priority
// order, the scheme-qualified addresses it can be reached on:
//
//	aid := acl.MustAID("pong@platform1", "memory://platform1/pong")
//
// # Messages
//
// Messages are assembled with a Builder. The performative is mandatory:
//
//	msg, err := acl.NewBuilder().
//	    Performative(acl.Request).
//	    Sender(ping).
//	    Receiver(pong).
//	    ConversationID(acl.NewConversationID()).
//	    Content("ping").
//	    Build()
//
// A receiver is absent, a single AID (To) or a collection (ToAll). Clone
// returns a deep copy sharing no mutable state with the original; the
// transport system clones once per receiver when fanning out.
//
// # Templates
//
// Templates are pure predicates combined with And, Or and Not:
//
//	tmpl := acl.And(acl.ByPerformative(acl.Inform), acl.ByConversationID(id))
package acl
