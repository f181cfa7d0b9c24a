package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/aclmts/bus"
	"github.com/vinayprograms/aclmts/logging"
)

// Monitor tracks peer platforms' heartbeats and reports platforms that go
// silent and platforms that come back.
type Monitor struct {
	bus           bus.MessageBus
	self          string
	timeout       time.Duration
	checkInterval time.Duration
	logger        *logging.Logger

	mu       sync.RWMutex
	lastSeen map[string]*Heartbeat
	received map[string]time.Time // local receive time, immune to peer clock skew
	reported map[string]bool      // platforms already reported dead
	deadCBs  []func(platform string)
	aliveCBs []func(hb *Heartbeat)

	running atomic.Bool
	sub     bus.Subscription
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a heartbeat monitor. A nil logger discards output.
func NewMonitor(cfg MonitorConfig, logger *logging.Logger) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultMonitorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaults.CheckInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Monitor{
		bus:           cfg.Bus,
		self:          cfg.Self,
		timeout:       cfg.Timeout,
		checkInterval: cfg.CheckInterval,
		logger:        logger,
		lastSeen:      make(map[string]*Heartbeat),
		received:      make(map[string]time.Time),
		reported:      make(map[string]bool),
	}, nil
}

// OnDead registers a callback run once each time a platform is presumed
// dead. Callbacks must be idempotent.
func (m *Monitor) OnDead(callback func(platform string)) {
	m.mu.Lock()
	m.deadCBs = append(m.deadCBs, callback)
	m.mu.Unlock()
}

// OnAlive registers a callback run for a platform's first heartbeat and
// for its first heartbeat after being reported dead.
func (m *Monitor) OnAlive(callback func(hb *Heartbeat)) {
	m.mu.Lock()
	m.aliveCBs = append(m.aliveCBs, callback)
	m.mu.Unlock()
}

// Start subscribes to heartbeats and begins checking for dead platforms.
func (m *Monitor) Start() error {
	if m.running.Swap(true) {
		return errAlreadyStarted()
	}

	sub, err := m.bus.Subscribe(SubjectAll)
	if err != nil {
		m.running.Store(false)
		return err
	}
	m.sub = sub
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run()
	return nil
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case msg, ok := <-m.sub.Messages():
			if !ok {
				return
			}
			m.process(msg.Data)
		case <-ticker.C:
			m.CheckDead()
		}
	}
}

func (m *Monitor) process(data []byte) {
	hb, err := Unmarshal(data)
	if err != nil {
		m.logger.Debug("heartbeat_ignored", map[string]interface{}{"error": err.Error()})
		return
	}
	m.Receive(hb)
}

// Receive records hb as if it arrived on the bus.
func (m *Monitor) Receive(hb *Heartbeat) {
	if hb.Platform == m.self {
		return
	}

	m.mu.Lock()
	_, known := m.lastSeen[hb.Platform]
	revived := m.reported[hb.Platform]
	m.lastSeen[hb.Platform] = hb
	m.received[hb.Platform] = time.Now()
	delete(m.reported, hb.Platform)
	callbacks := append(([]func(*Heartbeat))(nil), m.aliveCBs...)
	m.mu.Unlock()

	if known && !revived {
		return
	}
	m.logger.Info("platform_alive", map[string]interface{}{
		"platform": hb.Platform,
		"agents":   hb.Agents,
	})
	for _, cb := range callbacks {
		cb(hb)
	}
}

// CheckDead reports platforms silent for longer than the timeout.
func (m *Monitor) CheckDead() {
	now := time.Now()
	var dead []string

	m.mu.Lock()
	for platform, at := range m.received {
		if now.Sub(at) > m.timeout && !m.reported[platform] {
			m.reported[platform] = true
			dead = append(dead, platform)
		}
	}
	callbacks := append(([]func(string))(nil), m.deadCBs...)
	m.mu.Unlock()

	for _, platform := range dead {
		m.logger.Warn("platform_dead", map[string]interface{}{"platform": platform})
		for _, cb := range callbacks {
			cb(platform)
		}
	}
}

// IsAlive reports whether platform was heard from within the timeout.
func (m *Monitor) IsAlive(platform string) bool {
	m.mu.RLock()
	at, ok := m.received[platform]
	m.mu.RUnlock()
	return ok && time.Since(at) <= m.timeout
}

// Last returns the last heartbeat from platform, if any.
func (m *Monitor) Last(platform string) *Heartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen[platform]
}

// Stop stops monitoring.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return errNotStarted()
	}
	m.sub.Unsubscribe()
	close(m.stopCh)
	<-m.doneCh
	return nil
}
