package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mailbox"
	"github.com/vinayprograms/aclmts/mts"
	"github.com/vinayprograms/aclmts/wire"
)

// servedHandler mounts a WSHandler on an httptest server whose address is
// the handler's public host.
func servedHandler(t *testing.T, cfg WSConfig) (*WSHandler, *httptest.Server) {
	t.Helper()
	codec, err := wire.NewCodec("json", nil)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	mux := http.NewServeMux()
	server := httptest.NewUnstartedServer(mux)
	server.Start()
	t.Cleanup(server.Close)

	cfg.PublicHost = strings.TrimPrefix(server.URL, "http://")
	h := NewWSHandler(codec, cfg, WithWSLogger(logging.Discard()))
	mux.Handle(h.Path(), h)
	t.Cleanup(func() { h.Close() })
	return h, server
}

func testWSConfig() WSConfig {
	cfg := DefaultWSConfig()
	cfg.RequestTimeout = 2 * time.Second
	cfg.DialTimeout = time.Second
	return cfg
}

func inform(t *testing.T, to acl.AID, content any) *acl.Message {
	t.Helper()
	msg, err := acl.NewBuilder().Performative(acl.Inform).Receiver(to).Content(content).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return msg
}

func TestWSHandler_Address(t *testing.T) {
	codec, _ := wire.NewCodec("json", nil)
	cfg := DefaultWSConfig()
	cfg.PublicHost = "plat.example:7070"
	h := NewWSHandler(codec, cfg, WithWSLogger(logging.Discard()))
	defer h.Close()

	addr, err := h.CreateAddress(acl.MustAID("bob@p2"), mailbox.New())
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}
	if addr != "ws://plat.example:7070/bob" {
		t.Errorf("address = %q", addr)
	}
	if h.Scheme() != "ws" || h.Path() != "/acl" {
		t.Errorf("scheme=%q path=%q", h.Scheme(), h.Path())
	}

	if _, err := h.CreateAddress(acl.AID{}, mailbox.New()); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("zero AID err = %v", err)
	}
	if err := h.DeleteAddress(acl.MustAID("ghost@p2")); !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Errorf("DeleteAddress unbound err = %v", err)
	}
}

func TestWSHandler_Deliver(t *testing.T) {
	receiver, _ := servedHandler(t, testWSConfig())
	sender, _ := servedHandler(t, testWSConfig())

	bob := acl.MustAID("bob@p2")
	mb := mailbox.New()
	addr, err := receiver.CreateAddress(bob, mb)
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := sender.Send(ctx, inform(t, bob, float64(i)), addr); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	// Acked means already in the mailbox.
	if mb.Len() != 3 {
		t.Fatalf("mailbox len = %d, want 3", mb.Len())
	}
	got, ok := mb.GetNowait(acl.All())
	if !ok || got.Content != float64(0) {
		t.Errorf("first message = %v", got)
	}
}

func TestWSHandler_UnknownReceiver(t *testing.T) {
	receiver, _ := servedHandler(t, testWSConfig())
	sender, _ := servedHandler(t, testWSConfig())

	addr := mts.FormatAddress("ws", receiver.config.PublicHost, "carol")
	err := sender.Send(context.Background(), inform(t, acl.MustAID("carol@p2"), "hi"), addr)
	if !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Fatalf("err = %v, want UNKNOWN_RECEIVER", err)
	}

	// Deleted bindings reject too.
	bob := acl.MustAID("bob@p2")
	bobAddr, _ := receiver.CreateAddress(bob, mailbox.New())
	if err := receiver.DeleteAddress(bob); err != nil {
		t.Fatalf("DeleteAddress: %v", err)
	}
	if err := sender.Send(context.Background(), inform(t, bob, "hi"), bobAddr); !errors.Is(err, errors.ErrCodeUnknownReceiver) {
		t.Errorf("after delete err = %v, want UNKNOWN_RECEIVER", err)
	}
}

func TestWSHandler_Unreachable(t *testing.T) {
	sender, _ := servedHandler(t, testWSConfig())

	// Nothing listens here once the server is closed.
	dead := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(dead.URL, "http://")
	dead.Close()

	err := sender.Send(context.Background(), inform(t, acl.MustAID("bob@p2"), "hi"), "ws://"+host+"/bob")
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Fatalf("err = %v, want UNAVAILABLE", err)
	}
	if !errors.IsTransient(err) {
		t.Error("unreachable peer should be transient")
	}
}

// stalledPeer accepts TCP connections and never answers the handshake.
func stalledPeer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		var held []net.Conn
		defer func() {
			for _, c := range held {
				c.Close()
			}
		}()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			held = append(held, c)
		}
	}()
	return ln.Addr().String()
}

func TestWSHandler_StalledPeerDoesNotBlockOthers(t *testing.T) {
	cfg := testWSConfig()
	cfg.DialTimeout = 3 * time.Second
	cfg.RequestTimeout = 5 * time.Second
	sender, _ := servedHandler(t, cfg)
	receiver, _ := servedHandler(t, testWSConfig())

	bob := acl.MustAID("bob@p2")
	mb := mailbox.New()
	addr, err := receiver.CreateAddress(bob, mb)
	if err != nil {
		t.Fatalf("CreateAddress: %v", err)
	}

	stalled := "ws://" + stalledPeer(t) + "/carol"
	stuck := make(chan error, 1)
	go func() {
		stuck <- sender.Send(context.Background(), inform(t, acl.MustAID("carol@p3"), "hi"), stalled)
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := sender.Send(context.Background(), inform(t, bob, "hi"), addr); err != nil {
		t.Fatalf("Send to healthy peer: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("healthy send took %v behind a stalled dial", elapsed)
	}
	if mb.Len() != 1 {
		t.Errorf("mailbox len = %d, want 1", mb.Len())
	}

	// A caller sharing the stalled dial leaves when its own context ends.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start = time.Now()
	if err := sender.Send(ctx, inform(t, acl.MustAID("carol@p3"), "again"), stalled); err == nil {
		t.Error("send to stalled peer succeeded")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("canceled caller waited %v", elapsed)
	}

	select {
	case err := <-stuck:
		if !errors.Is(err, errors.ErrCodeUnavailable) {
			t.Errorf("stalled send err = %v, want UNAVAILABLE", err)
		}
	case <-time.After(cfg.DialTimeout + 2*time.Second):
		t.Fatal("stalled send outlived the dial timeout")
	}
}

func TestWSHandler_WrongScheme(t *testing.T) {
	sender, _ := servedHandler(t, testWSConfig())
	msg := inform(t, acl.MustAID("bob@p2"), "hi")

	if err := sender.Send(context.Background(), msg, "nats://p2/bob"); !errors.Is(err, errors.ErrCodeUnsupportedScheme) {
		t.Errorf("err = %v, want UNSUPPORTED_SCHEME", err)
	}
}

func TestWSHandler_NoAck(t *testing.T) {
	// A peer that accepts the connection and swallows every frame.
	upgrader := newUpgrader()
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer silent.Close()

	cfg := testWSConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	sender, _ := servedHandler(t, cfg)

	host := strings.TrimPrefix(silent.URL, "http://")
	err := sender.Send(context.Background(), inform(t, acl.MustAID("bob@p2"), "hi"), "ws://"+host+"/bob")
	if !errors.Is(err, errors.ErrCodeTimeout) {
		t.Fatalf("err = %v, want TIMEOUT", err)
	}
}

func TestWSHandler_ThroughMTS(t *testing.T) {
	left, _ := servedHandler(t, testWSConfig())
	right, _ := servedHandler(t, testWSConfig())

	p1 := mts.New(mts.WithLogger(logging.Discard()))
	p2 := mts.New(mts.WithLogger(logging.Discard()))
	defer p1.Close()
	defer p2.Close()
	if err := p1.InstallHandler(left); err != nil {
		t.Fatal(err)
	}
	if err := p2.InstallHandler(right); err != nil {
		t.Fatal(err)
	}

	bobAddr, err := p2.AddAddress("ws", acl.MustAID("bob@p2"))
	if err != nil {
		t.Fatalf("AddAddress: %v", err)
	}
	bob := acl.MustAID("bob@p2", "ws://127.0.0.1:1/bob", bobAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// First address is dead; the second one delivers.
	if err := p1.Send(ctx, inform(t, bob, "over the wire")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := p2.Receive(ctx, bob, acl.ByPerformative(acl.Inform))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Content != "over the wire" {
		t.Errorf("content = %#v", got.Content)
	}
}

func TestWSHandler_Close(t *testing.T) {
	receiver, server := servedHandler(t, testWSConfig())
	sender, _ := servedHandler(t, testWSConfig())

	bob := acl.MustAID("bob@p2")
	addr, _ := receiver.CreateAddress(bob, mailbox.New())
	if err := sender.Send(context.Background(), inform(t, bob, "hi"), addr); err != nil {
		t.Fatalf("Send: %v", err)
	}

	receiver.Close()
	if err := receiver.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	resp, err := http.Get(server.URL + "/acl")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}

	// The cached connection died; the next send redials and is refused.
	err = sender.Send(context.Background(), inform(t, bob, "hi"), addr)
	if !errors.Is(err, errors.ErrCodeUnavailable) {
		t.Errorf("send to closed peer err = %v, want UNAVAILABLE", err)
	}
}
