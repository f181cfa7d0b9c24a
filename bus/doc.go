// Package bus carries ACL envelopes between platforms over a message bus.
//
// # Overview
//
// The MessageBus interface offers pub/sub, queue groups and request/reply
// with channel-based subscriptions. Two implementations exist:
//
//   - NATSBus: a NATS connection, used between processes and hosts
//   - MemoryBus: in-process channels, used in tests and single-process platforms
//
// # Transfer handler
//
// Handler plugs a MessageBus into the transport system as the "nats" scheme.
// Every bound agent gets an inbox subject:
//
//	acl.<hap>.<short>
//
// Sending is a request: the envelope goes to the inbox and the receiving
// platform replies with an ack once the message is in the mailbox. No
// responders maps to UNKNOWN_RECEIVER, a missing ack to TIMEOUT; both let
// the transport system fall through to the receiver's next address.
//
//	b, _ := bus.NewNATSBus(bus.DefaultNATSConfig())
//	codec, _ := wire.NewCodec("json", nil)
//	h := bus.NewHandler(b, codec, bus.DefaultHandlerConfig())
//	t.InstallHandler(h)
//
// Inbox subscriptions join a queue group named after the agent, so replicas
// binding the same agent share its inbox and each message lands once.
package bus
