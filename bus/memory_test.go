package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"foo", false},
		{"acl.platform1.alice", false},
		{"_INBOX.3f1c", false},
		{"", true},
		{"acl..alice", true},
		{"acl.alice.", true},
		{"has space", true},
		{"heartbeat.*", false},
		{"acl.>", false},
		{"acl.>.x", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern, subject string
		want             bool
	}{
		{"acl.p1.alice", "acl.p1.alice", true},
		{"acl.p1.alice", "acl.p1.bob", false},
		{"heartbeat.*", "heartbeat.p1", true},
		{"heartbeat.*", "heartbeat.p1.extra", false},
		{"heartbeat.*", "heartbeat", false},
		{"acl.>", "acl.p1.alice", true},
		{"acl.>", "acl", false},
		{"*.p1.*", "acl.p1.alice", true},
	}
	for _, tt := range tests {
		if got := MatchSubject(tt.pattern, tt.subject); got != tt.want {
			t.Errorf("MatchSubject(%q, %q) = %v, want %v", tt.pattern, tt.subject, got, tt.want)
		}
	}
}

func TestSubjectToken(t *testing.T) {
	tests := map[string]string{
		"alice":         "alice",
		"alice@plat.io": "alice@plat_io",
		"a*b>c d":       "a_b_c_d",
	}
	for in, want := range tests {
		if got := SubjectToken(in); got != want {
			t.Errorf("SubjectToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMemoryBus_PublishInvalidSubject(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	if err := bus.Publish("", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
	if err := bus.Publish("heartbeat.*", []byte("hello")); err != ErrInvalidSubject {
		t.Errorf("wildcard publish: expected ErrInvalidSubject, got %v", err)
	}
	if err := bus.Publish("nobody.listens", []byte("hello")); err != nil {
		t.Errorf("Publish without subscribers: %v", err)
	}
}

// --- Integration Tests ---

func TestMemoryBus_Subscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub1, _ := bus.Subscribe("test")
	sub2, _ := bus.Subscribe("test")
	defer sub1.Unsubscribe()
	defer sub2.Unsubscribe()

	bus.Publish("test", []byte("hello"))

	for i, sub := range []Subscription{sub1, sub2} {
		select {
		case msg := <-sub.Messages():
			if string(msg.Data) != "hello" || msg.Subject != "test" {
				t.Errorf("sub%d got %q on %q", i+1, msg.Data, msg.Subject)
			}
		case <-time.After(time.Second):
			t.Errorf("sub%d: timeout", i+1)
		}
	}
}

func TestMemoryBus_Wildcards(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	all, _ := bus.Subscribe("heartbeat.*")
	defer all.Unsubscribe()
	one, _ := bus.Subscribe("heartbeat.p2")
	defer one.Unsubscribe()

	bus.Publish("heartbeat.p1", []byte("1"))
	bus.Publish("heartbeat.p2", []byte("2"))

	for _, want := range []string{"heartbeat.p1", "heartbeat.p2"} {
		select {
		case m := <-all.Messages():
			if m.Subject != want {
				t.Errorf("wildcard got %q, want %q", m.Subject, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("wildcard: timeout waiting for %s", want)
		}
	}
	select {
	case m := <-one.Messages():
		if m.Subject != "heartbeat.p2" {
			t.Errorf("literal got %q", m.Subject)
		}
	case <-time.After(time.Second):
		t.Fatal("literal: timeout")
	}
	select {
	case m := <-one.Messages():
		t.Errorf("literal subscription got extra %q", m.Subject)
	default:
	}
}

func TestMemoryBus_QueueSubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, _ := bus.QueueSubscribe("test", "workers")
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for i := 0; i < 9; i++ {
		bus.Publish("test", []byte("msg"))
	}

	var received [3]int32
	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(idx int, s Subscription) {
			defer wg.Done()
			timeout := time.After(100 * time.Millisecond)
			for {
				select {
				case <-s.Messages():
					atomic.AddInt32(&received[idx], 1)
				case <-timeout:
					return
				}
			}
		}(i, sub)
	}
	wg.Wait()

	// Round-robin spreads the messages evenly.
	for i, n := range received {
		if n != 3 {
			t.Errorf("worker %d received %d, want 3 (distribution: %v)", i, n, received)
		}
	}

	if _, err := bus.QueueSubscribe("test", ""); err != ErrInvalidSubject {
		t.Errorf("empty queue err = %v", err)
	}
}

func TestMemoryBus_Request(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("service")
	go func() {
		for msg := range sub.Messages() {
			if msg.Reply != "" {
				bus.Publish(msg.Reply, []byte("pong"))
			}
		}
	}()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Distinct inboxes per request.
	for i := 0; i < 3; i++ {
		reply, err := bus.Request(ctx, "service", []byte("ping"))
		if err != nil {
			t.Fatalf("Request error: %v", err)
		}
		if string(reply.Data) != "pong" {
			t.Errorf("reply = %q, want %q", reply.Data, "pong")
		}
	}
}

func TestMemoryBus_RequestNoResponders(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	_, err := bus.Request(context.Background(), "service", []byte("ping"))
	if err != ErrNoResponders {
		t.Errorf("expected ErrNoResponders, got %v", err)
	}
}

func TestMemoryBus_RequestTimeout(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	// Subscriber that never answers.
	sub, _ := bus.Subscribe("service")
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := bus.Request(ctx, "service", []byte("ping")); err != ErrTimeout {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if _, err := bus.Request(ctx2, "service", []byte("ping")); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// --- Failure Tests ---

func TestMemoryBus_AfterClose(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	sub, _ := bus.Subscribe("test")
	bus.Close()

	if _, ok := <-sub.Messages(); ok {
		t.Error("expected channel to be closed")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe after Close: %v", err)
	}
	if err := bus.Publish("test", []byte("hello")); err != ErrClosed {
		t.Errorf("Publish: expected ErrClosed, got %v", err)
	}
	if _, err := bus.Subscribe("test"); err != ErrClosed {
		t.Errorf("Subscribe: expected ErrClosed, got %v", err)
	}
	if _, err := bus.Request(context.Background(), "test", nil); err != ErrClosed {
		t.Errorf("Request: expected ErrClosed, got %v", err)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("test")
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Unsubscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe error: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("expected channel to be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	bus.Publish("test", []byte("late"))
}

func TestMemoryBus_BufferFull(t *testing.T) {
	bus := NewMemoryBus(Config{BufferSize: 1})
	defer bus.Close()

	sub, _ := bus.Subscribe("test")

	bus.Publish("test", []byte("1"))
	bus.Publish("test", []byte("2")) // Should be dropped

	select {
	case msg := <-sub.Messages():
		if string(msg.Data) != "1" {
			t.Errorf("expected first message, got %q", msg.Data)
		}
	default:
		t.Error("expected at least one message")
	}

	select {
	case <-sub.Messages():
		t.Error("unexpected second message")
	default:
	}
}

// --- Performance Tests ---

func BenchmarkMemoryBus_Request(b *testing.B) {
	bus := NewMemoryBus(DefaultConfig())
	defer bus.Close()

	sub, _ := bus.Subscribe("service")
	go func() {
		for msg := range sub.Messages() {
			if msg.Reply != "" {
				bus.Publish(msg.Reply, []byte("pong"))
			}
		}
	}()

	data := []byte("ping")
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		bus.Request(ctx, "service", data)
	}
}
