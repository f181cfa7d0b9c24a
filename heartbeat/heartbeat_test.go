package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/aclmts/bus"
	"github.com/vinayprograms/aclmts/errors"
)

// --- Unit Tests ---

func TestConfig_Validate(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"sender valid", (&SenderConfig{Bus: b, Platform: "p1"}).Validate(), false},
		{"sender missing bus", (&SenderConfig{Platform: "p1"}).Validate(), true},
		{"sender missing platform", (&SenderConfig{Bus: b}).Validate(), true},
		{"monitor valid", (&MonitorConfig{Bus: b}).Validate(), false},
		{"monitor missing bus", (&MonitorConfig{}).Validate(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if (tt.err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", tt.err, tt.wantErr)
			}
			if tt.err != nil && !errors.Is(tt.err, errors.ErrCodeInvalidConfig) {
				t.Errorf("code = %v, want INVALID_CONFIG", tt.err)
			}
		})
	}
}

func TestUnmarshal(t *testing.T) {
	hb := &Heartbeat{Platform: "p2", Timestamp: time.Now(), State: "running", Agents: 3, Schemes: []string{"nats"}}
	data, _ := hb.Marshal()
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Platform != "p2" || got.Agents != 3 || len(got.Schemes) != 1 {
		t.Errorf("got %+v", got)
	}

	for _, bad := range []string{"not json", `{"agents":1}`} {
		if _, err := Unmarshal([]byte(bad)); !errors.Is(err, errors.ErrCodeCodec) {
			t.Errorf("Unmarshal(%q) err = %v, want CODEC", bad, err)
		}
	}
}

// --- Integration Tests ---

func TestSender_Publishes(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe(Subject("p1"))
	defer sub.Unsubscribe()

	sender, err := NewSender(SenderConfig{Bus: b, Platform: "p1", Interval: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}
	sender.SetState("running")
	sender.SetAgents(2)
	sender.SetSchemes([]string{"memory", "nats"})
	sender.SetMetadata("version", "1")

	if err := sender.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sender.Start(context.Background()); !errors.Is(err, errors.ErrCodeInvalidState) {
		t.Errorf("second Start err = %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			hb, err := Unmarshal(msg.Data)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if hb.Platform != "p1" || hb.State != "running" || hb.Agents != 2 || hb.Metadata["version"] != "1" {
				t.Errorf("heartbeat = %+v", hb)
			}
		case <-time.After(time.Second):
			t.Fatalf("heartbeat %d not received", i)
		}
	}

	if err := sender.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := sender.Stop(); !errors.Is(err, errors.ErrCodeInvalidState) {
		t.Errorf("second Stop err = %v", err)
	}
}

func TestSender_NegativeAgents(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	sender, _ := NewSender(SenderConfig{Bus: b, Platform: "p1"}, nil)
	sender.SetAgents(-4)
	if got := sender.Current().Agents; got != 0 {
		t.Errorf("Agents = %d, want 0", got)
	}
}

func TestMonitor_DeadAndAlive(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	monitor, err := NewMonitor(MonitorConfig{
		Bus:           b,
		Self:          "p1",
		Timeout:       60 * time.Millisecond,
		CheckInterval: 10 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}

	var mu sync.Mutex
	var alive []string
	dead := make(chan string, 4)
	monitor.OnAlive(func(hb *Heartbeat) {
		mu.Lock()
		alive = append(alive, hb.Platform)
		mu.Unlock()
	})
	monitor.OnDead(func(platform string) { dead <- platform })

	if err := monitor.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer monitor.Stop()

	// Our own heartbeats never count.
	self, _ := NewSender(SenderConfig{Bus: b, Platform: "p1", Interval: 10 * time.Millisecond}, nil)
	self.Start(context.Background())
	defer self.Stop()

	peer, _ := NewSender(SenderConfig{Bus: b, Platform: "p2", Interval: 10 * time.Millisecond}, nil)
	peer.Start(context.Background())

	deadline := time.After(time.Second)
	for !monitor.IsAlive("p2") {
		select {
		case <-deadline:
			t.Fatal("p2 never seen")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if monitor.IsAlive("p1") || monitor.Last("p1") != nil {
		t.Error("own platform tracked")
	}

	peer.Stop()
	select {
	case p := <-dead:
		if p != "p2" {
			t.Errorf("dead = %q", p)
		}
	case <-time.After(time.Second):
		t.Fatal("p2 never reported dead")
	}

	// Reported once only.
	select {
	case p := <-dead:
		t.Errorf("second dead report for %q", p)
	case <-time.After(100 * time.Millisecond):
	}

	// Back again.
	monitor.Receive(&Heartbeat{Platform: "p2", Timestamp: time.Now()})

	mu.Lock()
	defer mu.Unlock()
	if len(alive) != 2 || alive[0] != "p2" || alive[1] != "p2" {
		t.Errorf("alive callbacks = %v, want first sighting and revival", alive)
	}
}

func TestMonitor_StartStop(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	monitor, _ := NewMonitor(MonitorConfig{Bus: b}, nil)
	if err := monitor.Stop(); !errors.Is(err, errors.ErrCodeInvalidState) {
		t.Errorf("Stop before Start err = %v", err)
	}
	if err := monitor.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := monitor.Start(); !errors.Is(err, errors.ErrCodeInvalidState) {
		t.Errorf("second Start err = %v", err)
	}
	if err := monitor.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
