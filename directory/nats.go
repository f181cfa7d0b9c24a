package directory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vinayprograms/aclmts/errors"
)

// NATSDirectory implements Directory on a JetStream key-value bucket, so
// platforms sharing a NATS cluster see one another's agents.
type NATSDirectory struct {
	conn   *nats.Conn
	kv     jetstream.KeyValue
	config NATSConfig

	mu       sync.RWMutex
	watchers []chan Event
	closed   bool
	cancel   context.CancelFunc
}

// NATSConfig configures the NATS directory.
type NATSConfig struct {
	// Bucket is the KV bucket name. Default: "ams-directory"
	Bucket string

	// TTL expires entries not re-registered in time. Zero keeps them.
	TTL time.Duration

	// Replicas for the KV store (1-5). Default: 1
	Replicas int

	// OpTimeout bounds each KV call. Default: 5s
	OpTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Bucket:    "ams-directory",
		Replicas:  1,
		OpTimeout: 5 * time.Second,
	}
}

// NewNATSDirectory opens (creating if needed) the bucket on conn.
func NewNATSDirectory(conn *nats.Conn, cfg NATSConfig) (*NATSDirectory, error) {
	if conn == nil {
		return nil, errors.InvalidInput("nil NATS connection")
	}
	defaults := DefaultNATSConfig()
	if cfg.Bucket == "" {
		cfg.Bucket = defaults.Bucket
	}
	if cfg.Replicas < 1 {
		cfg.Replicas = defaults.Replicas
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaults.OpTimeout
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "create jetstream context")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()

	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Replicas: cfg.Replicas,
		TTL:      cfg.TTL,
	})
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "create kv bucket "+cfg.Bucket)
	}

	watchCtx, stop := context.WithCancel(context.Background())
	r := &NATSDirectory{
		conn:   conn,
		kv:     kv,
		config: cfg,
		cancel: stop,
	}
	go r.watchKV(watchCtx)
	return r, nil
}

// key maps an agent name onto the KV key alphabet; '@' is not allowed.
func key(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func nameOf(k string) string {
	b, err := base64.RawURLEncoding.DecodeString(k)
	if err != nil {
		return k
	}
	return string(b)
}

func (r *NATSDirectory) op() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.config.OpTimeout)
}

func (r *NATSDirectory) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *NATSDirectory) Register(d Description) error {
	if err := Validate(d); err != nil {
		return err
	}
	if r.isClosed() {
		return errClosed()
	}

	d.LastSeen = time.Now()
	data, err := json.Marshal(d)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeCodec, "marshal description")
	}

	ctx, cancel := r.op()
	defer cancel()
	if _, err := r.kv.Put(ctx, key(d.Name), data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "put "+d.Name, errors.WithAgent(d.Name))
	}
	return nil
}

func (r *NATSDirectory) Deregister(name string) error {
	if r.isClosed() {
		return errClosed()
	}

	ctx, cancel := r.op()
	defer cancel()

	if _, err := r.kv.Get(ctx, key(name)); err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return errNotFound(name)
		}
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "get "+name, errors.WithAgent(name))
	}
	if err := r.kv.Delete(ctx, key(name)); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "delete "+name, errors.WithAgent(name))
	}
	return nil
}

func (r *NATSDirectory) Get(name string) (*Description, error) {
	if r.isClosed() {
		return nil, errClosed()
	}

	ctx, cancel := r.op()
	defer cancel()

	entry, err := r.kv.Get(ctx, key(name))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errNotFound(name)
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "get "+name, errors.WithAgent(name))
	}

	var d Description
	if err := json.Unmarshal(entry.Value(), &d); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeCodec, "decode "+name, errors.WithAgent(name))
	}
	return &d, nil
}

func (r *NATSDirectory) List(filter *Filter) ([]Description, error) {
	if r.isClosed() {
		return nil, errClosed()
	}

	ctx, cancel := r.op()
	defer cancel()

	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return []Description{}, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "list keys")
	}

	result := make([]Description, 0, len(keys))
	for _, k := range keys {
		entry, err := r.kv.Get(ctx, k)
		if err != nil {
			continue // deleted meanwhile
		}
		var d Description
		if err := json.Unmarshal(entry.Value(), &d); err != nil {
			continue
		}
		if filter.Matches(d) {
			result = append(result, d)
		}
	}
	sortByName(result)
	return result, nil
}

func (r *NATSDirectory) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errClosed()
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

func (r *NATSDirectory) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	r.closed = true
	r.cancel()
	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// watchKV turns bucket updates into events. The initial replay seeds the
// set of known names without emitting; a nil entry marks its end.
func (r *NATSDirectory) watchKV(ctx context.Context) {
	watcher, err := r.kv.WatchAll(ctx)
	if err != nil {
		return
	}
	defer watcher.Stop()

	known := make(map[string]bool)
	replaying := true

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				replaying = false
				continue
			}

			event, ok := toEvent(entry, known)
			if !ok || replaying {
				continue
			}

			r.mu.RLock()
			if r.closed {
				r.mu.RUnlock()
				return
			}
			for _, ch := range r.watchers {
				select {
				case ch <- event:
				default:
				}
			}
			r.mu.RUnlock()
		}
	}
}

// toEvent classifies entry and updates known.
func toEvent(entry jetstream.KeyValueEntry, known map[string]bool) (Event, bool) {
	name := nameOf(entry.Key())
	switch entry.Operation() {
	case jetstream.KeyValuePut:
		var d Description
		if err := json.Unmarshal(entry.Value(), &d); err != nil {
			return Event{}, false
		}
		eventType := EventUpdated
		if !known[name] {
			eventType = EventAdded
			known[name] = true
		}
		return Event{Type: eventType, Agent: d}, true
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		delete(known, name)
		return Event{Type: EventRemoved, Agent: Description{Name: name}}, true
	}
	return Event{}, false
}

// Conn returns the underlying NATS connection.
func (r *NATSDirectory) Conn() *nats.Conn {
	return r.conn
}
