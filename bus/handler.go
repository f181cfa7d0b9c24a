package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mailbox"
	"github.com/vinayprograms/aclmts/mts"
	"github.com/vinayprograms/aclmts/telemetry"
	"github.com/vinayprograms/aclmts/wire"
)

// DefaultScheme is the address scheme served by the bus handler.
const DefaultScheme = "nats"

// HandlerConfig configures a bus transfer handler.
type HandlerConfig struct {
	// Scheme of the addresses this handler creates. Default: "nats".
	Scheme string

	// SubjectPrefix is prepended to every inbox subject. Default: "acl".
	SubjectPrefix string

	// RequestTimeout bounds each delivery round trip. Zero leaves the
	// caller's context as the only bound.
	RequestTimeout time.Duration
}

// DefaultHandlerConfig returns configuration with sensible defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		Scheme:         DefaultScheme,
		SubjectPrefix:  "acl",
		RequestTimeout: 5 * time.Second,
	}
}

// Handler is a message transfer handler that moves envelopes over a
// MessageBus with request/reply. Each bound agent gets an inbox subject
// "<prefix>.<hap>.<short>"; the receiving side acks every envelope so the
// sender learns whether the message reached a mailbox.
type Handler struct {
	bus    MessageBus
	codec  *wire.Codec
	config HandlerConfig
	logger *logging.Logger
	tracer *telemetry.Tracer

	mu       sync.Mutex
	bindings map[string]*binding // AID name -> binding
}

type binding struct {
	aid  acl.AID
	mb   *mailbox.Mailbox
	sub  Subscription
	done chan struct{}
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler's logger.
func WithHandlerLogger(l *logging.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithHandlerTracer sets the tracer used for inbound spans.
func WithHandlerTracer(t *telemetry.Tracer) HandlerOption {
	return func(h *Handler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// NewHandler creates a bus-backed handler.
func NewHandler(b MessageBus, codec *wire.Codec, cfg HandlerConfig, opts ...HandlerOption) *Handler {
	defaults := DefaultHandlerConfig()
	if cfg.Scheme == "" {
		cfg.Scheme = defaults.Scheme
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}

	h := &Handler{
		bus:      b,
		codec:    codec,
		config:   cfg,
		logger:   logging.New().WithComponent("bus-handler"),
		tracer:   telemetry.GetTracer(),
		bindings: make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Scheme() string {
	return h.config.Scheme
}

// Subject returns the inbox subject for an agent.
func (h *Handler) Subject(hap, short string) string {
	return h.config.SubjectPrefix + "." + SubjectToken(hap) + "." + SubjectToken(short)
}

// CreateAddress subscribes to the agent's inbox subject. Repeated calls with
// the same mailbox keep the existing subscription.
func (h *Handler) CreateAddress(aid acl.AID, mb *mailbox.Mailbox) (string, error) {
	if aid.IsZero() || mb == nil {
		return "", errors.InvalidInput("bus handler needs an agent identifier and a mailbox")
	}
	address := mts.FormatAddress(h.config.Scheme, aid.HapName(), aid.ShortName())

	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.bindings[aid.Name()]; ok {
		if b.mb == mb {
			return address, nil
		}
		h.unbind(b)
	}

	// Queue group per agent: replicas binding the same agent share its
	// inbox and each message is delivered once.
	sub, err := h.bus.QueueSubscribe(h.Subject(aid.HapName(), aid.ShortName()), SubjectToken(aid.Name()))
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrCodeUnavailable,
			fmt.Sprintf("subscribe inbox for %s", aid.Name()), errors.WithAgent(aid.Name()))
	}

	b := &binding{aid: aid.Clone(), mb: mb, sub: sub, done: make(chan struct{})}
	h.bindings[aid.Name()] = b
	go h.serve(b)

	return address, nil
}

// DeleteAddress unsubscribes the agent's inbox.
func (h *Handler) DeleteAddress(aid acl.AID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.bindings[aid.Name()]
	if !ok {
		return errors.UnknownReceiver(aid.Name(), h.config.Scheme)
	}
	h.unbind(b)
	return nil
}

// unbind stops b's subscription and waits for its loop. Must be called with
// mu held.
func (h *Handler) unbind(b *binding) {
	delete(h.bindings, b.aid.Name())
	if err := b.sub.Unsubscribe(); err != nil {
		h.logger.Warn("unsubscribe_failed", map[string]interface{}{
			"agent": b.aid.Name(),
			"error": err.Error(),
		})
	}
	<-b.done
}

// Send publishes msg to the inbox behind address and waits for the ack.
func (h *Handler) Send(ctx context.Context, msg *acl.Message, address string) error {
	addr, err := mts.ParseAddress(address)
	if err != nil {
		return err
	}
	if addr.Scheme != h.config.Scheme {
		return errors.UnsupportedScheme(addr.Scheme, errors.WithAddress(address))
	}
	receiver := addr.Path
	if r, ok := msg.Receiver.Single(); ok {
		receiver = r.Name()
	}

	env, err := h.codec.Envelope(msg)
	if err != nil {
		return err
	}
	carrier := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, carrier)
	if len(carrier) > 0 {
		env.Trace = carrier
	}
	data, err := wire.Marshal(env)
	if err != nil {
		return err
	}

	if h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	reply, err := h.bus.Request(ctx, h.Subject(addr.Host, addr.Path), data)
	switch err {
	case nil:
	case ErrNoResponders:
		return errors.UnknownReceiver(receiver, h.config.Scheme, errors.WithAddress(address))
	case ErrTimeout:
		return errors.New(errors.ErrCodeTimeout, fmt.Sprintf("no ack from %s", address),
			errors.WithAgent(receiver), errors.WithAddress(address))
	case ErrClosed:
		return errors.New(errors.ErrCodeUnavailable, "bus closed", errors.WithAddress(address))
	default:
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), fmt.Sprintf("send to %s", address))
		}
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable, fmt.Sprintf("send to %s", address))
	}

	ack, err := wire.DecodeAck(reply.Data)
	if err != nil {
		return err
	}
	if ack.Error != nil {
		return ack.Error
	}
	return nil
}

// serve delivers inbound envelopes for one binding until its subscription
// closes.
func (h *Handler) serve(b *binding) {
	defer close(b.done)

	for m := range b.sub.Messages() {
		id, err := h.deliver(b, m.Data)
		if err != nil {
			h.logger.Warn("inbound_rejected", map[string]interface{}{
				"agent": b.aid.Name(),
				"error": err.Error(),
			})
		}
		if m.Reply == "" {
			continue
		}
		ack, aerr := wire.EncodeAck(id, err)
		if aerr != nil {
			continue
		}
		if perr := h.bus.Publish(m.Reply, ack); perr != nil {
			h.logger.Debug("ack_failed", map[string]interface{}{
				"agent": b.aid.Name(),
				"error": perr.Error(),
			})
		}
	}
}

func (h *Handler) deliver(b *binding, data []byte) (string, error) {
	msg, env, err := h.codec.Decode(data)
	if err != nil {
		return "", err
	}

	ctx := telemetry.ExtractContext(context.Background(), telemetry.MapCarrier(env.Trace))
	_, span := h.tracer.StartSpan(ctx, "bus.inbound")
	defer span.End()

	if !msg.Receiver.Contains(b.aid) {
		return env.ID, errors.UnknownReceiver(receiverNames(msg), h.config.Scheme)
	}
	b.mb.Put(msg)
	return env.ID, nil
}

// Close unsubscribes every inbox. The bus itself is left open.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, b := range h.bindings {
		h.unbind(b)
	}
	return nil
}

func receiverNames(msg *acl.Message) string {
	aids := msg.Receiver.AIDs()
	if len(aids) == 1 {
		return aids[0].Name()
	}
	return fmt.Sprint(len(aids), " receivers")
}
