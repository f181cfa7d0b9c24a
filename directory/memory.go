package directory

import (
	"sync"
	"time"
)

// MemoryDirectory is an in-process Directory for single-platform
// deployments and tests.
type MemoryDirectory struct {
	mu       sync.RWMutex
	agents   map[string]Description
	watchers []chan Event
	closed   bool
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{agents: make(map[string]Description)}
}

func (r *MemoryDirectory) Register(d Description) error {
	if err := Validate(d); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed()
	}

	d = clone(d)
	d.LastSeen = time.Now()

	_, exists := r.agents[d.Name]
	r.agents[d.Name] = d

	eventType := EventAdded
	if exists {
		eventType = EventUpdated
	}
	r.notify(Event{Type: eventType, Agent: clone(d)})
	return nil
}

func (r *MemoryDirectory) Deregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errClosed()
	}

	d, ok := r.agents[name]
	if !ok {
		return errNotFound(name)
	}
	delete(r.agents, name)
	r.notify(Event{Type: EventRemoved, Agent: d})
	return nil
}

func (r *MemoryDirectory) Get(name string) (*Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errClosed()
	}

	d, ok := r.agents[name]
	if !ok {
		return nil, errNotFound(name)
	}
	d = clone(d)
	return &d, nil
}

func (r *MemoryDirectory) List(filter *Filter) ([]Description, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errClosed()
	}

	result := make([]Description, 0, len(r.agents))
	for _, d := range r.agents {
		if filter.Matches(d) {
			result = append(result, clone(d))
		}
	}
	sortByName(result)
	return result, nil
}

func (r *MemoryDirectory) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed()
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

func (r *MemoryDirectory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	r.closed = true
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notify must be called with mu held. Slow watchers miss events.
func (r *MemoryDirectory) notify(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
		}
	}
}

func clone(d Description) Description {
	d.Addresses = append([]string(nil), d.Addresses...)
	d.Services = append([]string(nil), d.Services...)
	if d.Metadata != nil {
		m := make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			m[k] = v
		}
		d.Metadata = m
	}
	return d
}
