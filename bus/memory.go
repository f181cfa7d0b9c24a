package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-process MessageBus. It follows NATS subject rules,
// "*" and ">" wildcards included, so a platform behaves the same on it as
// on a server; tests and single-process deployments use it.
type MemoryBus struct {
	config Config

	mu      sync.Mutex
	subs    []*memorySub      // registration order
	cursors map[string]int    // "<pattern> <queue>" -> next member
	replies map[string]chan *Message
	closed  bool
}

var _ MessageBus = (*MemoryBus)(nil)

type memorySub struct {
	bus     *MemoryBus
	pattern string
	queue   string
	ch      chan *Message
	closed  bool // guarded by bus.mu
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		config:  cfg,
		cursors: make(map[string]int),
		replies: make(map[string]chan *Message),
	}
}

// Publish hands data to every matching subscriber and one member of each
// matching queue group. A publish on a pending request's inbox completes
// that request instead.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := validateLiteral(subject); err != nil {
		return err
	}
	msg := &Message{Subject: subject, Data: data}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if ch, ok := b.replies[subject]; ok {
		delete(b.replies, subject)
		ch <- msg // buffered, single use
		return nil
	}
	b.deliverLocked(msg)
	return nil
}

// deliverLocked returns how many subscriptions took msg.
func (b *MemoryBus) deliverLocked(msg *Message) int {
	n := 0
	var order []string
	groups := make(map[string][]*memorySub)
	for _, s := range b.subs {
		if !MatchSubject(s.pattern, msg.Subject) {
			continue
		}
		if s.queue == "" {
			if s.offer(msg) {
				n++
			}
			continue
		}
		key := s.pattern + " " + s.queue
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], s)
	}

	// Round-robin within each group, skipping members whose buffer is full.
	for _, key := range order {
		members := groups[key]
		start := b.cursors[key]
		for i := range members {
			idx := (start + i) % len(members)
			if members[idx].offer(msg) {
				b.cursors[key] = idx + 1
				n++
				break
			}
		}
	}
	return n
}

// offer never blocks; a full buffer drops msg. Callers hold bus.mu.
func (s *memorySub) offer(msg *Message) bool {
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *MemoryBus) subscribe(pattern, queue string) (Subscription, error) {
	if err := ValidateSubject(pattern); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &memorySub{
		bus:     b,
		pattern: pattern,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
	}
	b.subs = append(b.subs, s)
	return s, nil
}

// Request publishes on subject with a fresh inbox as reply subject and
// waits for the first publish on that inbox.
func (b *MemoryBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := validateLiteral(subject); err != nil {
		return nil, err
	}

	inbox := "_INBOX." + uuid.NewString()
	replyCh := make(chan *Message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.replies[inbox] = replyCh
	taken := b.deliverLocked(&Message{Subject: subject, Data: data, Reply: inbox})
	if taken == 0 {
		delete(b.replies, inbox)
	}
	b.mu.Unlock()

	if taken == 0 {
		return nil, ErrNoResponders
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.replies, inbox)
		b.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Close ends every subscription. Pending requests run into their context.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	b.subs = nil
	return nil
}

func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe closes the channel under the bus lock, so delivery never
// sends on a closed channel.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	for i, other := range b.subs {
		if other == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	return nil
}
