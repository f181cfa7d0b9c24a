// Package mts is the message transport system: it moves ACL messages between
// agents identified by name.
//
// Transports plug in as Handlers, one per address scheme. An agent becomes
// reachable by asking the MTS for an address on a scheme; the handler binds
// the address to the agent's mailbox. Sending walks the receiver's addresses
// in order until a handler accepts the message.
//
// Basic usage:
//
//	t := mts.New()
//	t.InstallHandler(mts.NewMemoryHandler())
//
//	alice := acl.MustAID("alice@platform1")
//	addr, _ := t.AddAddress("memory", alice)
//	alice.Addresses = append(alice.Addresses, addr)
//
//	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(alice).Content("hi").Build()
//	t.Send(ctx, msg)
//
//	got, _ := t.Receive(ctx, alice, acl.ByPerformative(acl.Inform))
//
// # Errors
//
// Caller errors (UNSUPPORTED_SCHEME, DUPLICATE_SCHEME, INVALID_RECEIVER,
// BROADCAST_UNSUPPORTED) are permanent. NOT_SENT means every address of the
// receiver was tried and none accepted the message; it is transient and the
// MTS never retries it. Multicast failures come back as *FanOutError.
package mts
