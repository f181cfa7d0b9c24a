package platform

import (
	"context"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/directory"
)

// Facade is one agent's view of its platform.
type Facade struct {
	p   *Platform
	aid acl.AID
}

func newFacade(p *Platform, aid acl.AID) *Facade {
	return &Facade{p: p, aid: aid.Clone()}
}

// AID returns a copy of the agent's identifier, addresses included.
func (f *Facade) AID() acl.AID {
	return f.aid.Clone()
}

// Platform returns the hosting platform's name.
func (f *Facade) Platform() string {
	return f.p.name
}

// Send sends msg, stamping this agent as sender when msg has none.
// Receivers without addresses are looked up in the directory.
func (f *Facade) Send(ctx context.Context, msg *acl.Message) error {
	if msg != nil && msg.Sender == nil {
		msg = msg.Clone()
		sender := f.AID()
		msg.Sender = &sender
	}
	return f.p.Send(ctx, msg)
}

// Receive waits for the first message matching tmpl (all when nil).
func (f *Facade) Receive(ctx context.Context, tmpl acl.Template) (*acl.Message, error) {
	return f.p.mts.Receive(ctx, f.aid, tmpl)
}

// ReceiveNowait returns the first queued message matching tmpl, if any.
func (f *Facade) ReceiveNowait(tmpl acl.Template) (*acl.Message, bool, error) {
	return f.p.mts.ReceiveNowait(f.aid, tmpl)
}

// State returns the agent's life-cycle state.
func (f *Facade) State() (directory.State, error) {
	return f.p.agents.State(f.aid)
}

func (f *Facade) Suspend() error {
	return f.p.agents.Suspend(f.aid)
}

func (f *Facade) Wait() error {
	return f.p.agents.Wait(f.aid)
}

// Quit removes the agent from the platform; its mailbox and pending
// messages go with it.
func (f *Facade) Quit() error {
	return f.p.agents.Remove(f.aid)
}
