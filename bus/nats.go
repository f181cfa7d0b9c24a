package bus

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
)

// NATSBus is a MessageBus over one NATS connection. The connection is
// also what the directory's JetStream key-value bucket runs on.
type NATSBus struct {
	conn   *nats.Conn
	config NATSConfig
}

var _ MessageBus = (*NATSBus)(nil)

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	Config

	// URL of the server, "nats://localhost:4222" when empty.
	URL string

	// Name identifies the client in server monitoring.
	Name string

	Token    string
	User     string
	Password string

	ReconnectWait time.Duration

	// MaxReconnects; -1 retries forever.
	MaxReconnects int

	ConnectTimeout time.Duration

	// Logger receives disconnect and reconnect events. Nil discards them.
	Logger *logging.Logger
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Config:         DefaultConfig(),
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewNATSBus connects to cfg.URL. A failed dial is UNAVAILABLE.
func NewNATSBus(cfg NATSConfig) (*NATSBus, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	conn, err := nats.Connect(cfg.URL, natsOptions(cfg)...)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "connect to "+cfg.URL)
	}
	return &NATSBus{conn: conn, config: cfg}, nil
}

// NewNATSBusFromConn wraps a connection the caller already holds.
func NewNATSBusFromConn(conn *nats.Conn, cfg NATSConfig) *NATSBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &NATSBus{conn: conn, config: cfg}
}

func natsOptions(cfg NATSConfig) []nats.Option {
	logger := cfg.Logger
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(c *nats.Conn, err error) {
			fields := map[string]interface{}{"url": cfg.URL}
			if err != nil {
				fields["error"] = err.Error()
			}
			logger.Warn("nats_disconnected", fields)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", map[string]interface{}{"url": c.ConnectedUrl()})
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	return opts
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := validateLiteral(subject); err != nil {
		return err
	}
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "publish "+subject)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string) (Subscription, error) {
	return b.subscribe(subject, "")
}

func (b *NATSBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	return b.subscribe(subject, queue)
}

func (b *NATSBus) subscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	s := &natsSubscription{ch: make(chan *Message, b.config.BufferSize)}
	var err error
	if queue == "" {
		s.sub, err = b.conn.Subscribe(subject, s.forward)
	} else {
		s.sub, err = b.conn.QueueSubscribe(subject, queue, s.forward)
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "subscribe "+subject)
	}
	return s, nil
}

// Request maps the client's failures onto the package sentinels so the
// transfer handler can tell "nobody bound" from "nobody answered".
func (b *NATSBus) Request(ctx context.Context, subject string, data []byte) (*Message, error) {
	if err := validateLiteral(subject); err != nil {
		return nil, err
	}
	if b.conn.IsClosed() {
		return nil, ErrClosed
	}

	reply, err := b.conn.RequestWithContext(ctx, subject, data)
	switch {
	case err == nil:
		return &Message{Subject: reply.Subject, Data: reply.Data, Reply: reply.Reply}, nil
	case stderrors.Is(err, nats.ErrNoResponders):
		return nil, ErrNoResponders
	case stderrors.Is(err, nats.ErrTimeout), stderrors.Is(err, context.DeadlineExceeded):
		return nil, ErrTimeout
	case stderrors.Is(err, nats.ErrConnectionClosed):
		return nil, ErrClosed
	}
	return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "request "+subject)
}

// Close drains nothing: in-flight deliveries have already been acked or
// will time out on the sending side.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}

// Conn exposes the connection for JetStream.
func (b *NATSBus) Conn() *nats.Conn {
	return b.conn
}

type natsSubscription struct {
	sub *nats.Subscription
	ch  chan *Message

	// mu orders callbacks against Unsubscribe closing ch.
	mu     sync.Mutex
	closed bool
}

// forward copies a NATS message onto the channel, dropping it when full.
func (s *natsSubscription) forward(m *nats.Msg) {
	msg := &Message{Subject: m.Subject, Data: m.Data, Reply: m.Reply}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
	}
}

func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

func (s *natsSubscription) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.sub.Unsubscribe()
	close(s.ch)
	return err
}
