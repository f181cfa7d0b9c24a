package mts

import (
	"context"
	"sync"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/mailbox"
)

// MemoryScheme is the scheme of the in-process handler.
const MemoryScheme = "memory"

// MemoryHandler delivers messages to mailboxes held in this process.
// It never serializes; the message pointer handed to Send is put into the
// receiver's mailbox as is.
type MemoryHandler struct {
	mu        sync.RWMutex
	mailboxes map[string]*mailbox.Mailbox // keyed by AID name
}

// NewMemoryHandler creates an empty in-process handler.
func NewMemoryHandler() *MemoryHandler {
	return &MemoryHandler{mailboxes: make(map[string]*mailbox.Mailbox)}
}

func (h *MemoryHandler) Scheme() string {
	return MemoryScheme
}

// CreateAddress binds aid to mb and returns "memory://<hap>/<short>".
// Repeated calls return the same address.
func (h *MemoryHandler) CreateAddress(aid acl.AID, mb *mailbox.Mailbox) (string, error) {
	if aid.IsZero() {
		return "", errors.InvalidInput("cannot bind an empty agent identifier")
	}
	if mb == nil {
		return "", errors.InvalidInput("nil mailbox")
	}

	h.mu.Lock()
	h.mailboxes[aid.Name()] = mb
	h.mu.Unlock()

	return FormatAddress(MemoryScheme, aid.HapName(), aid.ShortName()), nil
}

// DeleteAddress unbinds aid. Unbound agents fail with UNKNOWN_RECEIVER.
func (h *MemoryHandler) DeleteAddress(aid acl.AID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.mailboxes[aid.Name()]; !ok {
		return errors.UnknownReceiver(aid.Name(), MemoryScheme)
	}
	delete(h.mailboxes, aid.Name())
	return nil
}

// Send puts msg into the receiver's mailbox. The receiver must be a single
// AID bound on this handler.
func (h *MemoryHandler) Send(_ context.Context, msg *acl.Message, address string) error {
	aid, ok := msg.Receiver.Single()
	if !ok {
		return errors.InvalidReceiver("memory handler requires a single receiver", errors.WithAddress(address))
	}

	h.mu.RLock()
	mb, ok := h.mailboxes[aid.Name()]
	h.mu.RUnlock()

	if !ok {
		return errors.UnknownReceiver(aid.Name(), MemoryScheme, errors.WithAddress(address))
	}
	mb.Put(msg)
	return nil
}

// Bound reports whether aid currently has a binding.
func (h *MemoryHandler) Bound(aid acl.AID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.mailboxes[aid.Name()]
	return ok
}
