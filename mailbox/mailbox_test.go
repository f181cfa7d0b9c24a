package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/aclmts/acl"
)

func msg(p acl.Performative, content string) *acl.Message {
	return &acl.Message{Performative: p, Content: content}
}

// --- Unit Tests ---

func TestMailbox_GetNowaitEmpty(t *testing.T) {
	mb := New()
	if m, ok := mb.GetNowait(acl.All()); ok || m != nil {
		t.Errorf("GetNowait on empty mailbox = %v, %v", m, ok)
	}
}

func TestMailbox_FIFO(t *testing.T) {
	mb := New()
	for _, c := range []string{"1", "2", "3"} {
		mb.Put(msg(acl.Inform, c))
	}

	for _, want := range []string{"1", "2", "3"} {
		m, ok := mb.GetNowait(nil)
		if !ok {
			t.Fatalf("GetNowait: no message, want %s", want)
		}
		if m.Content != want {
			t.Errorf("content = %v, want %s", m.Content, want)
		}
	}
	if mb.Len() != 0 {
		t.Errorf("Len() = %d, want 0", mb.Len())
	}
}

func TestMailbox_TemplateSelectivity(t *testing.T) {
	orders := [][]*acl.Message{
		{msg(acl.Inform, "m1"), msg(acl.Request, "m2")},
		{msg(acl.Request, "m2"), msg(acl.Inform, "m1")},
	}

	for _, order := range orders {
		mb := New()
		for _, m := range order {
			mb.Put(m)
		}

		got, ok := mb.GetNowait(acl.ByPerformative(acl.Inform))
		if !ok || got.Content != "m1" {
			t.Fatalf("GetNowait(inform) = %v, %v", got, ok)
		}
		if mb.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", mb.Len())
		}
		rest, ok := mb.GetNowait(acl.All())
		if !ok || rest.Content != "m2" {
			t.Errorf("GetNowait(all) = %v, %v", rest, ok)
		}
	}
}

func TestMailbox_NoMatchLeavesMessages(t *testing.T) {
	mb := New()
	mb.Put(msg(acl.Request, "x"))

	if _, ok := mb.GetNowait(acl.ByPerformative(acl.Inform)); ok {
		t.Error("GetNowait matched a non-matching message")
	}
	if mb.Len() != 1 {
		t.Errorf("Len() = %d, want 1", mb.Len())
	}
}

func TestMailbox_FirstMatchWins(t *testing.T) {
	mb := New()
	mb.Put(msg(acl.Request, "r"))
	mb.Put(msg(acl.Inform, "first"))
	mb.Put(msg(acl.Inform, "second"))

	got, _ := mb.GetNowait(acl.ByPerformative(acl.Inform))
	if got.Content != "first" {
		t.Errorf("content = %v, want first", got.Content)
	}
}

func TestMailbox_PutNil(t *testing.T) {
	mb := New()
	mb.Put(nil)
	if mb.Len() != 0 {
		t.Error("nil message should be ignored")
	}
}

// --- Blocking Tests ---

func TestMailbox_GetImmediate(t *testing.T) {
	mb := New()
	mb.Put(msg(acl.Inform, "x"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := mb.Get(ctx, acl.All())
	if err != nil || m.Content != "x" {
		t.Errorf("Get = %v, %v", m, err)
	}
}

func TestMailbox_GetBlocksUntilPut(t *testing.T) {
	mb := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *acl.Message, 1)
	go func() {
		m, err := mb.Get(ctx, acl.ByPerformative(acl.Inform))
		if err != nil {
			t.Errorf("Get error: %v", err)
		}
		done <- m
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Put(msg(acl.Request, "ignored"))

	select {
	case <-done:
		t.Fatal("Get returned on a non-matching message")
	case <-time.After(20 * time.Millisecond):
	}

	mb.Put(msg(acl.Inform, "wanted"))

	select {
	case m := <-done:
		if m.Content != "wanted" {
			t.Errorf("content = %v, want wanted", m.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Get")
	}

	if mb.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (non-matching message stays)", mb.Len())
	}
}

func TestMailbox_WakeAllWaiters(t *testing.T) {
	mb := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	results := make(chan string, 2)
	for _, p := range []acl.Performative{acl.Inform, acl.Request} {
		go func(p acl.Performative) {
			m, err := mb.Get(ctx, acl.ByPerformative(p))
			if err != nil {
				results <- "error"
				return
			}
			results <- m.Content.(string)
		}(p)
	}

	time.Sleep(20 * time.Millisecond)
	mb.Put(msg(acl.Request, "req"))
	mb.Put(msg(acl.Inform, "inf"))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			got[r] = true
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for waiters")
		}
	}
	if !got["req"] || !got["inf"] {
		t.Errorf("results = %v", got)
	}
}

func TestMailbox_GetContextCancel(t *testing.T) {
	mb := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := mb.Get(ctx, acl.All())
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}

	// A later message is still available to the next reader.
	mb.Put(msg(acl.Inform, "late"))
	if _, ok := mb.GetNowait(nil); !ok {
		t.Error("message lost after canceled Get")
	}
}

func TestMailbox_CloseReleasesWaiters(t *testing.T) {
	mb := New()
	errCh := make(chan error, 1)
	go func() {
		_, err := mb.Get(context.Background(), acl.All())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	mb.Close()
	mb.Close()

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Errorf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Close")
	}

	mb.Put(msg(acl.Inform, "dropped"))
	if mb.Len() != 0 {
		t.Error("Put after Close should drop the message")
	}
}

// --- Concurrency Tests ---

func TestMailbox_NoDoubleDelivery(t *testing.T) {
	mb := New()
	const n = 500
	const readers = 8

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var received atomic.Int32
	seen := sync.Map{}
	var wg sync.WaitGroup

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for received.Load() < n {
				m, ok := mb.GetNowait(acl.All())
				if !ok {
					select {
					case <-ctx.Done():
						return
					default:
						time.Sleep(time.Microsecond)
						continue
					}
				}
				if _, dup := seen.LoadOrStore(m, true); dup {
					t.Errorf("message delivered twice: %v", m.Content)
				}
				received.Add(1)
			}
		}()
	}

	for i := 0; i < n; i++ {
		mb.Put(msg(acl.Inform, "x"))
	}

	wg.Wait()
	if received.Load() != n {
		t.Errorf("received %d, want %d", received.Load(), n)
	}
}

func TestMailbox_NoLostWakeup(t *testing.T) {
	for i := 0; i < 200; i++ {
		mb := New()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)

		done := make(chan error, 1)
		go func() {
			_, err := mb.Get(ctx, acl.All())
			done <- err
		}()
		mb.Put(msg(acl.Inform, "x"))

		if err := <-done; err != nil {
			cancel()
			t.Fatalf("iteration %d: Get error: %v", i, err)
		}
		cancel()
	}
}
