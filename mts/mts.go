package mts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mailbox"
	"github.com/vinayprograms/aclmts/telemetry"
)

// MTS routes messages between agents over the installed transfer handlers
// and owns the agents' mailboxes.
type MTS struct {
	// mu guards handlers, order, mailboxes and bound.
	mu        sync.RWMutex
	handlers  map[string]Handler
	order     []string
	mailboxes map[string]*mailbox.Mailbox       // AID name -> mailbox
	bound     map[string]map[string]struct{} // AID name -> schemes with an address

	// addrMu serializes AddAddress/RemoveAddress so handler calls, which may
	// do I/O, run outside mu.
	addrMu sync.Mutex

	platform string
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	exporter telemetry.Exporter
}

// Option configures an MTS.
type Option func(*MTS)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *MTS) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTracer sets the tracer used for send and receive spans.
func WithTracer(tr *telemetry.Tracer) Option {
	return func(t *MTS) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithExporter sets the exporter receiving one record per delivery attempt.
func WithExporter(e telemetry.Exporter) Option {
	return func(t *MTS) {
		if e != nil {
			t.exporter = e
		}
	}
}

// WithPlatform names the platform in exported delivery records.
func WithPlatform(name string) Option {
	return func(t *MTS) {
		t.platform = name
	}
}

// New creates an MTS with no handlers installed.
func New(opts ...Option) *MTS {
	t := &MTS{
		handlers:  make(map[string]Handler),
		mailboxes: make(map[string]*mailbox.Mailbox),
		bound:     make(map[string]map[string]struct{}),
		logger:    logging.New().WithComponent("mts"),
		tracer:    telemetry.GetTracer(),
		exporter:  telemetry.NewNoopExporter(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InstallHandler registers h for its scheme. A scheme can have only one
// handler; a second install fails and leaves the first in place.
func (t *MTS) InstallHandler(h Handler) error {
	if h == nil {
		return errors.InvalidInput("nil handler")
	}
	scheme := h.Scheme()
	if scheme == "" {
		return errors.InvalidInput("handler has an empty scheme")
	}

	t.mu.Lock()
	if _, exists := t.handlers[scheme]; exists {
		t.mu.Unlock()
		return errors.DuplicateScheme(scheme)
	}
	t.handlers[scheme] = h
	t.order = append(t.order, scheme)
	t.mu.Unlock()

	t.logger.HandlerInstalled(scheme)
	return nil
}

// Handler returns the handler installed for scheme.
func (t *MTS) Handler(scheme string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[scheme]
	return h, ok
}

// Schemes returns the installed schemes in install order.
func (t *MTS) Schemes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// AddAddress asks the scheme's handler for a new address for aid, creating
// the agent's mailbox on first use. The caller appends the returned address
// to the AID.
func (t *MTS) AddAddress(scheme string, aid acl.AID) (string, error) {
	h, ok := t.Handler(scheme)
	if !ok {
		return "", errors.UnsupportedScheme(scheme, errors.WithAgent(aid.Name()))
	}
	if aid.IsZero() {
		return "", errors.InvalidInput("cannot add an address for an empty agent identifier")
	}

	t.addrMu.Lock()
	defer t.addrMu.Unlock()

	t.mu.Lock()
	mb, existed := t.mailboxes[aid.Name()]
	if !existed {
		mb = mailbox.New()
		t.mailboxes[aid.Name()] = mb
	}
	t.mu.Unlock()

	address, err := h.CreateAddress(aid, mb)
	if err != nil {
		if !existed {
			t.mu.Lock()
			delete(t.mailboxes, aid.Name())
			t.mu.Unlock()
		}
		return "", errors.Wrap(err, fmt.Sprintf("create %s address for %s", scheme, aid.Name()))
	}

	t.mu.Lock()
	schemes := t.bound[aid.Name()]
	if schemes == nil {
		schemes = make(map[string]struct{})
		t.bound[aid.Name()] = schemes
	}
	schemes[scheme] = struct{}{}
	t.mu.Unlock()

	t.logger.AddressCreated(aid.Name(), address)
	return address, nil
}

// RemoveAddress releases aid's address on scheme. When the agent has no
// address left on any scheme its mailbox is closed and dropped, along with
// any pending messages.
func (t *MTS) RemoveAddress(scheme string, aid acl.AID) error {
	h, ok := t.Handler(scheme)
	if !ok {
		return errors.UnsupportedScheme(scheme, errors.WithAgent(aid.Name()))
	}

	t.addrMu.Lock()
	defer t.addrMu.Unlock()

	if err := h.DeleteAddress(aid); err != nil {
		return errors.Wrap(err, fmt.Sprintf("delete %s address for %s", scheme, aid.Name()))
	}

	var drop *mailbox.Mailbox
	t.mu.Lock()
	if schemes := t.bound[aid.Name()]; schemes != nil {
		delete(schemes, scheme)
		if len(schemes) == 0 {
			delete(t.bound, aid.Name())
			drop = t.mailboxes[aid.Name()]
			delete(t.mailboxes, aid.Name())
		}
	}
	t.mu.Unlock()

	if drop != nil {
		drop.Close()
	}
	t.logger.AddressRemoved(aid.Name(), scheme)
	return nil
}

// Mailbox returns the mailbox of aid, if it has one.
func (t *MTS) Mailbox(aid acl.AID) (*mailbox.Mailbox, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mb, ok := t.mailboxes[aid.Name()]
	return mb, ok
}

// Send routes msg to its receiver.
//
// A single receiver is tried address by address, in order, until a handler
// accepts the message; failures along the way are logged. A receiver set is
// fanned out as one deep copy per receiver, each sent independently; if any
// receiver is not reached the result is a *FanOutError listing every
// outcome. A message without receiver fails with BROADCAST_UNSUPPORTED.
func (t *MTS) Send(ctx context.Context, msg *acl.Message) (err error) {
	if msg == nil {
		return errors.InvalidInput("nil message")
	}

	ctx, span := t.tracer.StartSendSpan(ctx, sendSpanOptions(msg))
	defer func() { t.tracer.EndSendSpan(span, err) }()

	switch msg.Receiver.Kind() {
	case acl.NoReceiver:
		return errors.BroadcastUnsupported()

	case acl.SingleReceiver:
		aid, _ := msg.Receiver.Single()
		return t.sendOne(ctx, msg, aid)

	case acl.MultipleReceivers:
		aids, verr := distinctReceivers(msg.Receiver.AIDs())
		if verr != nil {
			return verr
		}
		outcomes := make(map[string]error, len(aids))
		failed := false
		for _, aid := range aids {
			sendErr := t.sendOne(ctx, msg.WithReceiver(aid), aid)
			outcomes[aid.Name()] = sendErr
			if sendErr != nil {
				failed = true
				t.logger.FanOutFailed(aid.Name(), sendErr)
			}
		}
		if failed {
			return newFanOutError(outcomes)
		}
		return nil

	default:
		return errors.InvalidReceiver(fmt.Sprintf("unsupported receiver kind %v", msg.Receiver.Kind()))
	}
}

// distinctReceivers checks every AID of a receiver set before anything is
// sent and drops repeated names; the first occurrence keeps its addresses.
func distinctReceivers(aids []acl.AID) ([]acl.AID, error) {
	if len(aids) == 0 {
		return nil, errors.InvalidReceiver("receiver set is empty")
	}
	seen := make(map[string]bool, len(aids))
	out := aids[:0]
	for i, aid := range aids {
		if aid.IsZero() {
			return nil, errors.InvalidReceiver(fmt.Sprintf("receiver %d of the set has no name", i))
		}
		if seen[aid.Name()] {
			continue
		}
		seen[aid.Name()] = true
		out = append(out, aid)
	}
	return out, nil
}

// sendOne tries each of aid's addresses in order.
func (t *MTS) sendOne(ctx context.Context, msg *acl.Message, aid acl.AID) error {
	if aid.IsZero() {
		return errors.InvalidReceiver("receiver has no name")
	}

	var lastErr error
	for _, address := range aid.Addresses {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("send to %s", aid.Name()), errors.WithAgent(aid.Name()))
		}

		scheme, err := SchemeOf(address)
		if err != nil {
			t.logger.DeliveryFailed(aid.Name(), address, "", err)
			lastErr = err
			continue
		}
		h, ok := t.Handler(scheme)
		if !ok {
			lastErr = errors.UnsupportedScheme(scheme, errors.WithAddress(address))
			t.logger.DeliveryFailed(aid.Name(), address, scheme, lastErr)
			continue
		}

		start := time.Now()
		dctx, dspan := t.tracer.StartDeliverySpan(ctx, scheme, address)
		err = h.Send(dctx, msg, address)
		t.tracer.EndDeliverySpan(dspan, err)
		t.record(msg, aid, scheme, address, time.Since(start), err)

		if err != nil {
			t.logger.DeliveryFailed(aid.Name(), address, scheme, err)
			lastErr = err
			continue
		}
		t.logger.MessageDelivered(aid.Name(), address, time.Since(start))
		return nil
	}

	opts := []errors.Option{}
	if lastErr != nil {
		opts = append(opts, errors.WithCause(lastErr))
	}
	return errors.NotSent(aid.Name(), opts...)
}

func (t *MTS) record(msg *acl.Message, aid acl.AID, scheme, address string, latency time.Duration, err error) {
	d := telemetry.Delivery{
		Platform:       t.platform,
		Performative:   string(msg.Performative),
		Receiver:       aid.Name(),
		Address:        address,
		Scheme:         scheme,
		ConversationID: msg.ConversationID,
		Outcome:        telemetry.OutcomeDelivered,
		Latency:        latency,
	}
	if msg.Sender != nil {
		d.Sender = msg.Sender.Name()
	}
	if err != nil {
		d.Outcome = telemetry.OutcomeFailed
		d.Error = err.Error()
	}
	t.exporter.LogDelivery(d)
}

// Receive removes and returns the first message in aid's mailbox matching
// tmpl, waiting until one arrives or ctx ends. A nil template matches
// everything. The agent must hold at least one address.
func (t *MTS) Receive(ctx context.Context, aid acl.AID, tmpl acl.Template) (msg *acl.Message, err error) {
	mb, ok := t.Mailbox(aid)
	if !ok {
		return nil, errors.NoMailbox(aid.Name())
	}

	ctx, span := t.tracer.StartReceiveSpan(ctx, aid.Name())
	defer func() {
		perf := ""
		if msg != nil {
			perf = string(msg.Performative)
		}
		t.tracer.EndReceiveSpan(span, perf, err)
	}()

	msg, err = mb.Get(ctx, tmpl)
	switch {
	case err == nil:
		return msg, nil
	case err == mailbox.ErrClosed:
		return nil, errors.NoMailbox(aid.Name())
	default:
		return nil, errors.Wrap(err, fmt.Sprintf("receive for %s", aid.Name()), errors.WithAgent(aid.Name()))
	}
}

// ReceiveNowait is Receive without waiting. The boolean is false when no
// queued message matches.
func (t *MTS) ReceiveNowait(aid acl.AID, tmpl acl.Template) (*acl.Message, bool, error) {
	mb, ok := t.Mailbox(aid)
	if !ok {
		return nil, false, errors.NoMailbox(aid.Name())
	}
	msg, found := mb.GetNowait(tmpl)
	return msg, found, nil
}

// Close closes every handler that holds resources. Mailboxes are left to
// their owners.
func (t *MTS) Close() error {
	t.mu.RLock()
	var closers []Closer
	for _, scheme := range t.order {
		if c, ok := t.handlers[scheme].(Closer); ok {
			closers = append(closers, c)
		}
	}
	t.mu.RUnlock()

	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sendSpanOptions(msg *acl.Message) telemetry.SendSpanOptions {
	opts := telemetry.SendSpanOptions{
		Performative:   string(msg.Performative),
		ConversationID: msg.ConversationID,
	}
	if msg.Sender != nil {
		opts.Sender = msg.Sender.Name()
	}
	for _, aid := range msg.Receiver.AIDs() {
		opts.Receivers = append(opts.Receivers, aid.Name())
	}
	if s, ok := msg.Content.(string); ok {
		opts.Content = s
	}
	return opts
}
