package bus

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mts"
	"github.com/vinayprograms/aclmts/wire"
)

func newTestHandler(t *testing.T, b MessageBus) *Handler {
	t.Helper()
	codec, err := wire.NewCodec("json", nil)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	cfg := DefaultHandlerConfig()
	cfg.RequestTimeout = time.Second
	return NewHandler(b, codec, cfg, WithHandlerLogger(logging.Discard()))
}

func newBusMTS(t *testing.T, b MessageBus, platform string) (*mts.MTS, *Handler) {
	t.Helper()
	h := newTestHandler(t, b)
	m := mts.New(mts.WithLogger(logging.Discard()), mts.WithPlatform(platform))
	if err := m.InstallHandler(h); err != nil {
		t.Fatalf("InstallHandler: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, h
}

func TestHandler_Subject(t *testing.T) {
	h := newTestHandler(t, NewMemoryBus(DefaultConfig()))
	if got := h.Subject("plat.example", "bob"); got != "acl.plat_example.bob" {
		t.Errorf("Subject = %q", got)
	}
	if h.Scheme() != "nats" {
		t.Errorf("Scheme = %q", h.Scheme())
	}
}

func TestHandler_RoundTripBetweenPlatforms(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	left, _ := newBusMTS(t, b, "p1")
	right, _ := newBusMTS(t, b, "p2")

	alice := acl.MustAID("alice@p1")
	addr, err := left.AddAddress("nats", alice)
	if err != nil {
		t.Fatalf("AddAddress alice: %v", err)
	}
	alice.Addresses = []string{addr}

	bobAddr, err := right.AddAddress("nats", acl.MustAID("bob@p2"))
	if err != nil {
		t.Fatalf("AddAddress bob: %v", err)
	}
	if bobAddr != "nats://p2/bob" {
		t.Errorf("address = %q", bobAddr)
	}
	bob := acl.MustAID("bob@p2", bobAddr)

	msg, err := acl.NewBuilder().
		Performative(acl.Request).
		Sender(alice).
		Receiver(bob).
		Content(map[string]any{"ping": float64(1)}).
		ConversationID("c-1").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := left.Send(ctx, msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := right.Receive(ctx, bob, acl.ByConversationID("c-1"))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Performative != acl.Request {
		t.Errorf("performative = %s", got.Performative)
	}
	if got.Sender == nil || got.Sender.Name() != "alice@p1" {
		t.Errorf("sender = %v", got.Sender)
	}
	if content, ok := got.Content.(map[string]any); !ok || content["ping"] != float64(1) {
		t.Errorf("content = %#v", got.Content)
	}

	// And back, addressed through the sender's AID.
	reply, err := acl.NewReply(got).Performative(acl.Inform).Sender(bob).Content("pong").Build()
	if err != nil {
		t.Fatalf("reply Build: %v", err)
	}
	if err := right.Send(ctx, reply); err != nil {
		t.Fatalf("reply Send: %v", err)
	}
	back, err := left.Receive(ctx, alice, acl.ByPerformative(acl.Inform))
	if err != nil {
		t.Fatalf("reply Receive: %v", err)
	}
	if back.Content != "pong" {
		t.Errorf("reply content = %#v", back.Content)
	}
}

func TestHandler_UnknownReceiver(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()
	h := newTestHandler(t, b)

	carol := acl.MustAID("carol@p2", "nats://p2/carol")
	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(carol).Build()

	err := h.Send(context.Background(), msg, "nats://p2/carol")
	if !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Fatalf("err = %v, want UNKNOWN_RECEIVER", err)
	}
}

func TestHandler_SchemeMismatch(t *testing.T) {
	h := newTestHandler(t, NewMemoryBus(DefaultConfig()))
	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(acl.MustAID("bob@p2")).Build()

	if err := h.Send(context.Background(), msg, "ws://p2/bob"); !errors.Is(err, errors.ErrCodeUnsupportedScheme) {
		t.Errorf("err = %v, want UNSUPPORTED_SCHEME", err)
	}
	if err := h.Send(context.Background(), msg, "not-an-address"); !errors.Is(err, errors.ErrCodeInvalidAddress) {
		t.Errorf("err = %v, want INVALID_ADDRESS", err)
	}
}

func TestHandler_AckCarriesRejection(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	m, h := newBusMTS(t, b, "p2")
	bob := acl.MustAID("bob@p2")
	addr, err := m.AddAddress("nats", bob)
	if err != nil {
		t.Fatalf("AddAddress: %v", err)
	}

	// Addressed to bob's inbox but naming someone else.
	eve := acl.MustAID("eve@p2")
	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(eve).Build()

	err = h.Send(context.Background(), msg, addr)
	if !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Fatalf("err = %v, want UNKNOWN_RECEIVER from ack", err)
	}
	if _, ok, _ := m.ReceiveNowait(bob, acl.All()); ok {
		t.Error("rejected message reached the mailbox")
	}
}

func TestHandler_DeleteAddress(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	m, h := newBusMTS(t, b, "p2")
	bob := acl.MustAID("bob@p2")
	addr, err := m.AddAddress("nats", bob)
	if err != nil {
		t.Fatalf("AddAddress: %v", err)
	}

	// Rebinding with the same mailbox keeps the subscription.
	mb, _ := m.Mailbox(bob)
	if again, err := h.CreateAddress(bob, mb); err != nil || again != addr {
		t.Fatalf("CreateAddress again = %q, %v", again, err)
	}

	if err := m.RemoveAddress("nats", bob); err != nil {
		t.Fatalf("RemoveAddress: %v", err)
	}
	if err := h.DeleteAddress(bob); !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Errorf("second DeleteAddress err = %v", err)
	}

	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(bob).Build()
	if err := h.Send(context.Background(), msg, addr); !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Errorf("send after delete err = %v, want UNKNOWN_RECEIVER", err)
	}
}

func TestHandler_Timeout(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	// Someone holds the inbox but never acks.
	sub, _ := b.Subscribe("acl.p2.bob")
	defer sub.Unsubscribe()

	codec, _ := wire.NewCodec("json", nil)
	h := NewHandler(b, codec, HandlerConfig{RequestTimeout: 50 * time.Millisecond},
		WithHandlerLogger(logging.Discard()))

	msg, _ := acl.NewBuilder().Performative(acl.Inform).Receiver(acl.MustAID("bob@p2")).Build()
	err := h.Send(context.Background(), msg, "nats://p2/bob")
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
	if !errors.IsTransient(err) {
		t.Error("timeout should be transient")
	}
}

func TestHandler_InvalidCreate(t *testing.T) {
	h := newTestHandler(t, NewMemoryBus(DefaultConfig()))
	if _, err := h.CreateAddress(acl.AID{}, nil); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}
