// Package platform assembles an agent platform from configuration.
//
// A Platform owns the message transport system with one transfer handler
// per configured scheme (memory, nats, ws), the agent directory, and a
// phased shutdown. Its life cycle is INITIALIZED -> RUNNING -> STOPPED:
// handlers can be installed only before Start, agents can be created only
// while running.
//
//	p, err := platform.New(cfg)
//	if err != nil { ... }
//	if err := p.Start(); err != nil { ... }
//	defer p.Stop(context.Background())
//
//	alice, _ := p.Agents().Create("alice")
//	bob, _ := p.Agents().Create("bob", "echo")
//	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(bob.AID()).Content("hi").Build()
//	alice.Send(ctx, msg)
//	got, _ := bob.Receive(ctx, nil)
//
// Every agent gets one address per installed scheme, in install order, and
// a directory entry. Receivers named without addresses are resolved through
// the directory, so agents on other platforms sharing a NATS directory can
// be reached by name alone.
//
// Start creates the AMS agent, ams@<platform>. It answers REQUEST messages
// whose content is {"action": "search", "service"?, "platform"?, "state"?}
// or {"action": "resolve", "name": ...} with an INFORM carrying directory
// descriptions, FAILURE on lookup errors, and NOT-UNDERSTOOD otherwise.
//
// With a bus and a heartbeat interval, platforms announce themselves on the
// bus; when a peer falls silent its agents are marked suspended in the
// directory and reactivated once it is heard from again.
package platform
