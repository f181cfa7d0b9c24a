package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/aclmts/bus"
	"github.com/vinayprograms/aclmts/logging"
)

// Sender publishes periodic heartbeats for one platform.
type Sender struct {
	bus      bus.MessageBus
	platform string
	interval time.Duration
	logger   *logging.Logger

	mu       sync.RWMutex
	state    string
	agents   int
	schemes  []string
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender. A nil logger discards output.
func NewSender(cfg SenderConfig, logger *logging.Logger) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSenderConfig().Interval
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Sender{
		bus:      cfg.Bus,
		platform: cfg.Platform,
		interval: cfg.Interval,
		logger:   logger,
		metadata: make(map[string]string),
	}, nil
}

// Start begins sending heartbeats, the first one immediately.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return errAlreadyStarted()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.beat()
		}
	}
}

func (s *Sender) beat() {
	hb := s.Current()
	data, err := hb.Marshal()
	if err == nil {
		err = s.bus.Publish(Subject(hb.Platform), data)
	}
	if err != nil {
		s.logger.Warn("heartbeat_failed", map[string]interface{}{"error": err.Error()})
	}
}

// Current returns the heartbeat the sender would publish now.
func (s *Sender) Current() *Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hb := &Heartbeat{
		Platform:  s.platform,
		Timestamp: time.Now(),
		State:     s.state,
		Agents:    s.agents,
		Schemes:   append([]string(nil), s.schemes...),
	}
	if len(s.metadata) > 0 {
		hb.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			hb.Metadata[k] = v
		}
	}
	return hb
}

// SetState updates the platform state carried by heartbeats.
func (s *Sender) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// SetAgents updates the hosted agent count.
func (s *Sender) SetAgents(n int) {
	s.mu.Lock()
	if n < 0 {
		n = 0
	}
	s.agents = n
	s.mu.Unlock()
}

// SetSchemes updates the announced schemes.
func (s *Sender) SetSchemes(schemes []string) {
	s.mu.Lock()
	s.schemes = append([]string(nil), schemes...)
	s.mu.Unlock()
}

// SetMetadata updates a metadata field.
func (s *Sender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Stop stops sending heartbeats.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return errNotStarted()
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}
