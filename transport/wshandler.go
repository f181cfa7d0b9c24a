package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mailbox"
	"github.com/vinayprograms/aclmts/mts"
	"github.com/vinayprograms/aclmts/telemetry"
	"github.com/vinayprograms/aclmts/wire"
)

// WSScheme is the address scheme served by WSHandler.
const WSScheme = "ws"

// WSConfig configures a WebSocket transfer handler.
type WSConfig struct {
	// PublicHost is the host:port peers dial; it becomes the address host.
	PublicHost string

	// Path is the HTTP path the handler is mounted on. Default: "/acl".
	Path string

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration

	// RequestTimeout bounds each delivery round trip. Zero leaves the
	// caller's context as the only bound.
	RequestTimeout time.Duration

	Link LinkConfig
}

// DefaultWSConfig returns configuration with sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		PublicHost:     "localhost:7070",
		Path:           "/acl",
		DialTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Link:           DefaultLinkConfig(),
	}
}

// WSHandler is a message transfer handler for "ws://<host>/<agent>"
// addresses. It is both sides of the link: an http.Handler accepting
// peers' connections and a client dialing peers on Send. Each delivery is
// an "acl.deliver" JSON-RPC call answered with a wire ack.
type WSHandler struct {
	codec    *wire.Codec
	config   WSConfig
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	upgrader *websocket.Upgrader
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	bindings map[string]*mailbox.Mailbox // AID name -> mailbox

	dials     singleflight.Group
	clientsMu sync.Mutex
	clients   map[string]*client // endpoint URL -> connection
	conns     map[*WSLink]struct{}
	closed    bool
}

// WSOption configures a WSHandler.
type WSOption func(*WSHandler)

// WithWSLogger sets the handler's logger.
func WithWSLogger(l *logging.Logger) WSOption {
	return func(h *WSHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithWSTracer sets the tracer used for inbound spans.
func WithWSTracer(t *telemetry.Tracer) WSOption {
	return func(h *WSHandler) {
		if t != nil {
			h.tracer = t
		}
	}
}

// NewWSHandler creates a WebSocket transfer handler.
func NewWSHandler(codec *wire.Codec, cfg WSConfig, opts ...WSOption) *WSHandler {
	defaults := DefaultWSConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = defaults.PublicHost
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &WSHandler{
		codec:    codec,
		config:   cfg,
		logger:   logging.New().WithComponent("ws-handler"),
		tracer:   telemetry.GetTracer(),
		upgrader: newUpgrader(),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.DialTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		ctx:      ctx,
		cancel:   cancel,
		bindings: make(map[string]*mailbox.Mailbox),
		clients:  make(map[string]*client),
		conns:    make(map[*WSLink]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *WSHandler) Scheme() string {
	return WSScheme
}

// Path returns the HTTP path to mount the handler on.
func (h *WSHandler) Path() string {
	return h.config.Path
}

// CreateAddress binds the agent to mb and returns ws://<public host>/<short>.
func (h *WSHandler) CreateAddress(aid acl.AID, mb *mailbox.Mailbox) (string, error) {
	if aid.IsZero() || mb == nil {
		return "", errors.InvalidInput("ws handler needs an agent identifier and a mailbox")
	}

	h.mu.Lock()
	h.bindings[aid.Name()] = mb
	h.mu.Unlock()

	return mts.FormatAddress(WSScheme, h.config.PublicHost, aid.ShortName()), nil
}

// DeleteAddress unbinds the agent.
func (h *WSHandler) DeleteAddress(aid acl.AID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.bindings[aid.Name()]; !ok {
		return errors.UnknownReceiver(aid.Name(), WSScheme)
	}
	delete(h.bindings, aid.Name())
	return nil
}

// Send delivers msg to the platform behind address and waits for its ack.
func (h *WSHandler) Send(ctx context.Context, msg *acl.Message, address string) error {
	addr, err := mts.ParseAddress(address)
	if err != nil {
		return err
	}
	if addr.Scheme != WSScheme {
		return errors.UnsupportedScheme(addr.Scheme, errors.WithAddress(address))
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
	params, err := wire.Marshal(env)
	if err != nil {
		return err
	}

	if h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	endpoint := "ws://" + addr.Host + h.config.Path
	c, err := h.client(ctx, endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), fmt.Sprintf("dial %s", endpoint), errors.WithAddress(address))
		}
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable,
			fmt.Sprintf("dial %s", endpoint), errors.WithAddress(address))
	}

	r, err := c.call(ctx, MethodDeliver, params)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), fmt.Sprintf("no ack from %s", address), errors.WithAddress(address))
		}
		h.dropClient(endpoint, c)
		return errors.WrapWithCode(err, errors.ErrCodeUnavailable,
			fmt.Sprintf("send to %s", address), errors.WithAddress(address))
	}
	if r.Error != nil {
		return errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("peer rejected call: %s", r.Error.Message), errors.WithAddress(address))
	}

	ack, err := wire.DecodeAck(r.Result)
	if err != nil {
		return err
	}
	if ack.Error != nil {
		return ack.Error
	}
	return nil
}

// client returns a live connection to endpoint, dialing when needed.
// Concurrent callers for one endpoint share a single dial, which runs
// without clientsMu so other peers stay reachable meanwhile.
func (h *WSHandler) client(ctx context.Context, endpoint string) (*client, error) {
	if c, err := h.cachedClient(endpoint); c != nil || err != nil {
		return c, err
	}

	ch := h.dials.DoChan(endpoint, func() (interface{}, error) {
		if c, err := h.cachedClient(endpoint); c != nil || err != nil {
			return c, err
		}
		// Bound by the handler, not the first caller: later callers
		// share this dial.
		c, err := dial(h.ctx, h.dialer, endpoint, h.config.Link.WriteTimeout)
		if err != nil {
			return nil, err
		}

		h.clientsMu.Lock()
		if h.closed {
			h.clientsMu.Unlock()
			c.close()
			return nil, ErrClosed
		}
		h.clients[endpoint] = c
		h.clientsMu.Unlock()

		h.logger.Debug("peer_connected", map[string]interface{}{"endpoint": endpoint})
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// cachedClient returns the live connection to endpoint, if any.
func (h *WSHandler) cachedClient(endpoint string) (*client, error) {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if c, ok := h.clients[endpoint]; ok && c.alive() {
		return c, nil
	}
	return nil, nil
}

func (h *WSHandler) dropClient(endpoint string, c *client) {
	h.clientsMu.Lock()
	if h.clients[endpoint] == c {
		delete(h.clients, endpoint)
	}
	h.clientsMu.Unlock()
	c.close()
}

// ServeHTTP accepts a peer platform's connection and serves its deliveries
// until either side closes.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.clientsMu.Lock()
	closed := h.closed
	h.clientsMu.Unlock()
	if closed {
		http.Error(w, "handler closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade_failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	t := NewWSLink(conn, h.config.Link)
	if !h.track(t) {
		t.Close()
		return
	}
	defer h.untrack(t)

	served := make(chan struct{})
	go func() {
		defer close(served)
		for f := range t.Frames() {
			h.handleFrame(t, f)
		}
	}()

	t.Run(h.ctx)
	<-served
}

func (h *WSHandler) track(t *WSLink) bool {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.closed {
		return false
	}
	h.conns[t] = struct{}{}
	return true
}

func (h *WSHandler) untrack(t *WSLink) {
	h.clientsMu.Lock()
	delete(h.conns, t)
	h.clientsMu.Unlock()
}

// handleFrame serves one inbound frame. Calls get an ack; notices are
// delivered without one.
func (h *WSHandler) handleFrame(l *WSLink, f *Frame) {
	switch {
	case f.Call != nil:
		if f.Call.Method != MethodDeliver {
			l.Send(ErrorFrame(f.Call.ID, MethodNotFound, "Method not found", f.Call.Method))
			return
		}
		id, derr := h.deliver(f.Call.Params)
		ack, err := wire.EncodeAck(id, derr)
		if err != nil {
			l.Send(ErrorFrame(f.Call.ID, InternalError, "Internal error", err.Error()))
			return
		}
		l.Send(ReplyFrame(f.Call.ID, json.RawMessage(ack)))

	case f.Notice != nil && f.Notice.Method == MethodDeliver:
		h.deliver(f.Notice.Params)
	}
}

// deliver decodes one envelope and puts it into the bound mailbox.
func (h *WSHandler) deliver(params json.RawMessage) (string, error) {
	msg, env, err := h.codec.Decode(params)
	if err != nil {
		h.logger.Warn("inbound_rejected", map[string]interface{}{"error": err.Error()})
		return "", err
	}

	ctx := telemetry.ExtractContext(context.Background(), telemetry.MapCarrier(env.Trace))
	_, span := h.tracer.StartSpan(ctx, "ws.inbound")
	defer span.End()

	receiver, ok := msg.Receiver.Single()
	if !ok {
		return env.ID, errors.InvalidReceiver("ws delivery needs exactly one receiver")
	}

	h.mu.RLock()
	mb, ok := h.bindings[receiver.Name()]
	h.mu.RUnlock()
	if !ok {
		h.logger.Warn("inbound_rejected", map[string]interface{}{
			"receiver": receiver.Name(),
			"error":    "not bound",
		})
		return env.ID, errors.UnknownReceiver(receiver.Name(), WSScheme)
	}

	mb.Put(msg)
	return env.ID, nil
}

// Close drops every peer connection and unbinds all agents. Mount points
// stay registered but refuse new connections.
func (h *WSHandler) Close() error {
	h.clientsMu.Lock()
	if h.closed {
		h.clientsMu.Unlock()
		return nil
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]*client)
	conns := make([]*WSLink, 0, len(h.conns))
	for t := range h.conns {
		conns = append(conns, t)
	}
	h.clientsMu.Unlock()

	h.cancel()
	for _, c := range clients {
		c.close()
	}
	for _, t := range conns {
		t.Close()
	}

	h.mu.Lock()
	h.bindings = make(map[string]*mailbox.Mailbox)
	h.mu.Unlock()
	return nil
}
