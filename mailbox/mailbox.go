// Package mailbox provides the per-agent inbound message queue.
//
// A Mailbox is unbounded and safe for concurrent use. Put never blocks.
// Get blocks until a message matching the template is present, scanning
// messages in arrival order and removing the first match. GetNowait performs
// the same scan without waiting.
package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/vinayprograms/aclmts/acl"
)

// ErrClosed is returned by Get when the mailbox is closed while waiting.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO of messages with selective retrieval.
type Mailbox struct {
	mu       sync.Mutex
	messages []*acl.Message
	// changed is closed and replaced on every Put so that all waiters wake
	// and rescan with their own template.
	changed chan struct{}
	closed  bool
}

// New creates an empty mailbox.
func New() *Mailbox {
	return &Mailbox{changed: make(chan struct{})}
}

// Put appends msg and wakes every blocked reader. Messages put after Close
// are dropped.
func (mb *Mailbox) Put(msg *acl.Message) {
	if msg == nil {
		return
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.messages = append(mb.messages, msg)
	close(mb.changed)
	mb.changed = make(chan struct{})
}

// Get removes and returns the first message matching tmpl, waiting for one
// to arrive if none is queued. A nil template matches everything.
// Returns ctx.Err() if ctx ends first, or ErrClosed if the mailbox closes.
func (mb *Mailbox) Get(ctx context.Context, tmpl acl.Template) (*acl.Message, error) {
	if tmpl == nil {
		tmpl = acl.All()
	}

	for {
		mb.mu.Lock()
		if msg, ok := mb.take(tmpl); ok {
			mb.mu.Unlock()
			return msg, nil
		}
		if mb.closed {
			mb.mu.Unlock()
			return nil, ErrClosed
		}
		// Subscribe under the same lock as the failed scan so a Put in
		// between cannot be missed.
		wait := mb.changed
		mb.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// GetNowait removes and returns the first message matching tmpl. The
// boolean is false when nothing matches. A nil template matches everything.
func (mb *Mailbox) GetNowait(tmpl acl.Template) (*acl.Message, bool) {
	if tmpl == nil {
		tmpl = acl.All()
	}

	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.take(tmpl)
}

// take removes the first match. Must be called with mu held.
func (mb *Mailbox) take(tmpl acl.Template) (*acl.Message, bool) {
	for i, msg := range mb.messages {
		if tmpl.Apply(msg) {
			copy(mb.messages[i:], mb.messages[i+1:])
			mb.messages[len(mb.messages)-1] = nil
			mb.messages = mb.messages[:len(mb.messages)-1]
			return msg, true
		}
	}
	return nil, false
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.messages)
}

// Close drops pending messages and releases blocked readers with ErrClosed.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	mb.messages = nil
	close(mb.changed)
}
