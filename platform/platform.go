package platform

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/aclmts/acl"
	"github.com/vinayprograms/aclmts/bus"
	"github.com/vinayprograms/aclmts/config"
	"github.com/vinayprograms/aclmts/directory"
	"github.com/vinayprograms/aclmts/errors"
	"github.com/vinayprograms/aclmts/heartbeat"
	"github.com/vinayprograms/aclmts/logging"
	"github.com/vinayprograms/aclmts/mts"
	"github.com/vinayprograms/aclmts/shutdown"
	"github.com/vinayprograms/aclmts/telemetry"
	"github.com/vinayprograms/aclmts/transport"
	"github.com/vinayprograms/aclmts/wire"
)

// State is the platform life-cycle state.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AMSName is the short name of the agent management service.
const AMSName = "ams"

// Platform hosts agents: it owns the MTS and its handlers, the directory,
// the agent manager and the shutdown sequence.
type Platform struct {
	name   string
	cfg    *config.Config
	logger *logging.Logger

	mts      *mts.MTS
	codec    *wire.Codec
	dir      directory.Directory
	agents   *AgentManager
	coord    *shutdown.Coordinator
	exporter telemetry.Exporter
	provider *telemetry.Provider
	tracer   *telemetry.Tracer

	msgBus  bus.MessageBus
	ownsBus bool
	natsBus *bus.NATSBus

	ws       *transport.WSHandler
	server   *http.Server
	listener net.Listener

	sender  *heartbeat.Sender
	monitor *heartbeat.Monitor

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context

	shutdownTimeout time.Duration

	mu    sync.RWMutex
	state State
	ams   acl.AID
}

// Option configures a Platform.
type Option func(*Platform)

// WithLogger sets the root logger; components derive from it.
func WithLogger(l *logging.Logger) Option {
	return func(p *Platform) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithBus carries the nats scheme and heartbeats over b instead of dialing
// the configured NATS server. The caller keeps ownership of b.
func WithBus(b bus.MessageBus) Option {
	return func(p *Platform) {
		p.msgBus = b
	}
}

// WithDirectory replaces the directory the platform would build.
func WithDirectory(d directory.Directory) Option {
	return func(p *Platform) {
		p.dir = d
	}
}

// WithExporter replaces the configured delivery exporter.
func WithExporter(e telemetry.Exporter) Option {
	return func(p *Platform) {
		p.exporter = e
	}
}

// WithShutdownTimeout bounds Run's shutdown. Default: 30 seconds
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.shutdownTimeout = d
		}
	}
}

// New builds a platform from cfg: one handler per configured scheme, in
// order, plus the directory and telemetry. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*Platform, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Platform{
		name:            cfg.Platform.Name,
		cfg:             cfg,
		shutdownTimeout: shutdown.DefaultConfig().Timeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		root := logging.New()
		root.SetLevel(cfg.LogLevel())
		p.logger = root.WithComponent("platform")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	ok := false
	defer func() {
		if !ok {
			p.abort()
		}
	}()

	if err := p.setupTelemetry(); err != nil {
		return nil, err
	}

	codec, err := wire.NewCodec(cfg.Payload.Format, nil)
	if err != nil {
		return nil, err
	}
	p.codec = codec

	p.mts = mts.New(
		mts.WithLogger(p.logger.WithComponent("mts")),
		mts.WithPlatform(p.name),
		mts.WithTracer(p.tracer),
		mts.WithExporter(p.exporter),
	)

	for _, scheme := range cfg.Platform.Schemes {
		h, err := p.buildHandler(scheme)
		if err != nil {
			return nil, err
		}
		if err := p.InstallHandler(h); err != nil {
			return nil, err
		}
	}

	if err := p.setupDirectory(); err != nil {
		return nil, err
	}
	if err := p.setupHeartbeat(); err != nil {
		return nil, err
	}

	p.agents = newAgentManager(p)
	p.coord = shutdown.NewCoordinator(shutdown.Config{Timeout: p.shutdownTimeout}, p.logger.WithComponent("shutdown"))
	p.registerShutdown()

	ok = true
	return p, nil
}

func (p *Platform) setupTelemetry() error {
	if p.exporter == nil {
		e, err := telemetry.NewExporter(p.cfg.Telemetry.Protocol, p.cfg.Telemetry.Endpoint)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "telemetry exporter")
		}
		p.exporter = e
	}

	p.tracer = telemetry.GetTracer()
	if p.cfg.Telemetry.OTLPEndpoint == "" {
		return nil
	}
	provider, err := telemetry.InitProvider(p.ctx, telemetry.ProviderConfig{
		ServiceName: "mtsd",
		Platform:    p.name,
		Endpoint:    p.cfg.Telemetry.OTLPEndpoint,
		Protocol:    p.cfg.Telemetry.OTLPProtocol,
		Insecure:    true,
		Debug:       p.cfg.Telemetry.Debug,
		SampleRatio: p.cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "tracing provider")
	}
	p.provider = provider
	p.tracer = provider.Tracer()
	return nil
}

func (p *Platform) buildHandler(scheme string) (mts.Handler, error) {
	switch scheme {
	case config.SchemeMemory:
		return mts.NewMemoryHandler(), nil

	case config.SchemeNATS:
		b, err := p.connectBus()
		if err != nil {
			return nil, err
		}
		return bus.NewHandler(b, p.codec, bus.HandlerConfig{
			Scheme:         config.SchemeNATS,
			SubjectPrefix:  p.cfg.NATS.SubjectPrefix,
			RequestTimeout: p.cfg.NATS.RequestTimeout,
		},
			bus.WithHandlerLogger(p.logger.WithComponent("nats-handler")),
			bus.WithHandlerTracer(p.tracer),
		), nil

	case config.SchemeWS:
		return p.buildWS()

	default:
		return nil, errors.UnsupportedScheme(scheme)
	}
}

// connectBus returns the message bus, connecting to NATS on first use.
func (p *Platform) connectBus() (bus.MessageBus, error) {
	if p.msgBus != nil {
		return p.msgBus, nil
	}
	cfg := bus.DefaultNATSConfig()
	cfg.URL = p.cfg.NATS.URL
	cfg.Name = "mtsd-" + p.name
	cfg.Logger = p.logger.WithComponent("nats")
	nb, err := bus.NewNATSBus(cfg)
	if err != nil {
		return nil, err
	}
	p.natsBus = nb
	p.msgBus = nb
	p.ownsBus = true
	return nb, nil
}

// buildWS binds the listener up front so an address with port 0 resolves
// to the real port before any agent address is minted.
func (p *Platform) buildWS() (mts.Handler, error) {
	ln, err := net.Listen("tcp", p.cfg.WS.Listen)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeUnavailable, "listen on "+p.cfg.WS.Listen)
	}
	p.listener = ln

	wsCfg := transport.DefaultWSConfig()
	wsCfg.PublicHost = publicHost(p.cfg.WS.PublicHost, ln.Addr())
	wsCfg.Path = p.cfg.WS.Path
	if p.cfg.WS.RequestTimeout > 0 {
		wsCfg.RequestTimeout = p.cfg.WS.RequestTimeout
	}
	p.ws = transport.NewWSHandler(p.codec, wsCfg,
		transport.WithWSLogger(p.logger.WithComponent("ws-handler")),
		transport.WithWSTracer(p.tracer),
	)

	mux := http.NewServeMux()
	mux.Handle(p.ws.Path(), p.ws)
	p.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return p.ws, nil
}

// publicHost fills in the listener's port when the configured one is 0.
func publicHost(configured string, addr net.Addr) string {
	host, port, err := net.SplitHostPort(configured)
	if err != nil || port != "0" {
		return configured
	}
	_, realPort, err := net.SplitHostPort(addr.String())
	if err != nil {
		return configured
	}
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, realPort)
}

func (p *Platform) setupDirectory() error {
	if p.dir != nil {
		return nil
	}
	if p.natsBus == nil {
		p.dir = directory.NewMemoryDirectory()
		return nil
	}
	cfg := directory.DefaultNATSConfig()
	cfg.Bucket = p.cfg.NATS.DirectoryBucket
	d, err := directory.NewNATSDirectory(p.natsBus.Conn(), cfg)
	if err != nil {
		return err
	}
	p.dir = d
	return nil
}

func (p *Platform) setupHeartbeat() error {
	if p.msgBus == nil || p.cfg.NATS.Heartbeat <= 0 {
		return nil
	}
	logger := p.logger.WithComponent("heartbeat")

	sender, err := heartbeat.NewSender(heartbeat.SenderConfig{
		Bus:      p.msgBus,
		Platform: p.name,
		Interval: p.cfg.NATS.Heartbeat,
	}, logger)
	if err != nil {
		return err
	}
	monitor, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Bus:           p.msgBus,
		Self:          p.name,
		Timeout:       3 * p.cfg.NATS.Heartbeat,
		CheckInterval: p.cfg.NATS.Heartbeat,
	}, logger)
	if err != nil {
		return err
	}
	monitor.OnDead(p.suspendPlatform)
	monitor.OnAlive(func(hb *heartbeat.Heartbeat) { p.resumePlatform(hb.Platform) })

	p.sender = sender
	p.monitor = monitor
	return nil
}

// abort releases what a failed New acquired.
func (p *Platform) abort() {
	p.cancel()
	if p.mts != nil {
		p.mts.Close()
	}
	if p.listener != nil {
		p.listener.Close()
	}
	if p.dir != nil {
		p.dir.Close()
	}
	if p.ownsBus && p.msgBus != nil {
		p.msgBus.Close()
	}
	if p.provider != nil {
		p.provider.Shutdown(context.Background())
	}
}

func (p *Platform) registerShutdown() {
	c := p.coord

	c.RegisterFunc("background", shutdown.PhaseListeners, func(context.Context) error {
		p.cancel()
		return nil
	})
	if p.server != nil {
		c.RegisterFunc("ws-listener", shutdown.PhaseListeners, func(ctx context.Context) error {
			p.mu.RLock()
			started := p.state != StateInitialized
			p.mu.RUnlock()
			if !started {
				return p.listener.Close()
			}
			return p.server.Shutdown(ctx)
		})
	}
	if p.sender != nil {
		c.RegisterFunc("heartbeat", shutdown.PhaseListeners, func(context.Context) error {
			p.sender.Stop()
			p.monitor.Stop()
			return nil
		})
	}

	c.RegisterFunc("agents", shutdown.PhaseAgents, func(context.Context) error {
		return p.agents.removeAll()
	})
	c.RegisterFunc("mts", shutdown.PhaseHandlers, func(context.Context) error {
		return p.mts.Close()
	})
	c.RegisterFunc("directory", shutdown.PhaseDirectory, func(context.Context) error {
		return p.dir.Close()
	})
	if p.ownsBus {
		c.RegisterFunc("bus", shutdown.PhaseConnections, func(context.Context) error {
			return p.msgBus.Close()
		})
	}
	c.RegisterFunc("telemetry", shutdown.PhaseTelemetry, func(ctx context.Context) error {
		err := p.exporter.Close()
		if p.provider != nil {
			if perr := p.provider.Shutdown(ctx); err == nil {
				err = perr
			}
		}
		return err
	})
}

// InstallHandler adds a transfer handler. Handlers can only be installed
// before the platform starts.
func (p *Platform) InstallHandler(h mts.Handler) error {
	p.mu.RLock()
	state := p.state
	p.mu.RUnlock()
	if state != StateInitialized {
		return errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("cannot install a handler on a %s platform", state))
	}
	return p.mts.InstallHandler(h)
}

// Start creates the AMS agent and starts the listener, heartbeats and
// background watchers. The platform is RUNNING afterwards.
func (p *Platform) Start() error {
	p.mu.Lock()
	if p.state != StateInitialized {
		state := p.state
		p.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidState, fmt.Sprintf("cannot start a %s platform", state))
	}
	p.mu.Unlock()

	ams, err := p.agents.create(AMSName, []string{AMSService})
	if err != nil {
		return errors.Wrap(err, "create the AMS agent")
	}

	p.group, p.gctx = errgroup.WithContext(p.ctx)

	if p.server != nil {
		p.group.Go(func() error {
			err := p.server.Serve(p.listener)
			if err == http.ErrServerClosed {
				return nil
			}
			return errors.WrapWithCode(err, errors.ErrCodeUnavailable, "ws listener")
		})
	}

	events, err := p.dir.Watch()
	if err != nil {
		return err
	}
	p.group.Go(func() error {
		p.logDirectory(events)
		return nil
	})
	p.group.Go(func() error {
		return p.serveAMS(p.gctx, ams.AID())
	})

	if p.sender != nil {
		p.sender.SetSchemes(p.mts.Schemes())
		p.sender.SetState(StateRunning.String())
		p.sender.SetAgents(p.agents.Len())
		if err := p.sender.Start(p.ctx); err != nil {
			return err
		}
		if err := p.monitor.Start(); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.state = StateRunning
	p.ams = ams.AID()
	p.mu.Unlock()

	p.logger.Info("platform_started", map[string]interface{}{
		"platform": p.name,
		"schemes":  p.mts.Schemes(),
	})
	return nil
}

// Stop removes every agent and releases handlers, directory and telemetry
// in that order, bounded by ctx. Only the first call does work.
func (p *Platform) Stop(ctx context.Context) error {
	err := p.coord.Shutdown(ctx)

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	if p.group != nil {
		if gerr := p.group.Wait(); err == nil {
			err = gerr
		}
	}
	return err
}

// Run starts the platform and blocks until ctx ends or a background task
// fails, then stops it.
func (p *Platform) Run(ctx context.Context) error {
	if err := p.Start(); err != nil {
		p.Stop(context.Background())
		return err
	}

	select {
	case <-ctx.Done():
	case <-p.gctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), p.shutdownTimeout)
	defer cancel()
	return p.Stop(stopCtx)
}

func (p *Platform) logDirectory(events <-chan directory.Event) {
	logger := p.logger.WithComponent("directory")
	for ev := range events {
		logger.Debug("directory_event", map[string]interface{}{
			"type":  string(ev.Type),
			"agent": ev.Agent.Name,
			"state": string(ev.Agent.State),
		})
	}
}

// Send routes msg through the MTS after filling in addresses of receivers
// that carry none from the directory.
func (p *Platform) Send(ctx context.Context, msg *acl.Message) error {
	if msg == nil {
		return errors.InvalidInput("nil message")
	}
	return p.mts.Send(ctx, p.resolveReceivers(msg))
}

func (p *Platform) resolveReceivers(msg *acl.Message) *acl.Message {
	aids := msg.Receiver.AIDs()
	missing := false
	for _, aid := range aids {
		if len(aid.Addresses) == 0 {
			missing = true
			break
		}
	}
	if !missing {
		return msg
	}

	resolved := make([]acl.AID, len(aids))
	for i, aid := range aids {
		resolved[i] = aid
		if len(aid.Addresses) > 0 {
			continue
		}
		if found, err := directory.Resolve(p.dir, aid.Name()); err == nil {
			resolved[i] = found
		}
	}

	c := msg.Clone()
	if msg.Receiver.Kind() == acl.SingleReceiver {
		c.Receiver = acl.To(resolved[0])
	} else {
		c.Receiver = acl.ToAll(resolved...)
	}
	return c
}

// suspendPlatform marks a silent peer's active agents suspended.
func (p *Platform) suspendPlatform(hap string) {
	p.setPlatformState(hap, directory.StateActive, directory.StateSuspended)
}

// resumePlatform reactivates a peer's suspended agents.
func (p *Platform) resumePlatform(hap string) {
	p.setPlatformState(hap, directory.StateSuspended, directory.StateActive)
}

func (p *Platform) setPlatformState(hap string, from, to directory.State) {
	entries, err := p.dir.List(&directory.Filter{Platform: hap, State: from})
	if err != nil {
		p.logger.Warn("directory_list_failed", map[string]interface{}{"platform": hap, "error": err.Error()})
		return
	}
	for _, d := range entries {
		d.State = to
		if err := p.dir.Register(d); err != nil {
			p.logger.Warn("directory_update_failed", map[string]interface{}{"agent": d.Name, "error": err.Error()})
		}
	}
	if len(entries) > 0 {
		p.logger.Info("peer_agents_updated", map[string]interface{}{
			"platform": hap,
			"state":    string(to),
			"agents":   len(entries),
		})
	}
}

// Name returns the platform name.
func (p *Platform) Name() string {
	return p.name
}

// State returns the life-cycle state.
func (p *Platform) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Schemes returns the installed schemes in install order.
func (p *Platform) Schemes() []string {
	return p.mts.Schemes()
}

// AMS returns the AMS agent's identifier; zero before Start.
func (p *Platform) AMS() acl.AID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ams.Clone()
}

// Agents returns the agent manager.
func (p *Platform) Agents() *AgentManager {
	return p.agents
}

// MTS returns the message transport system.
func (p *Platform) MTS() *mts.MTS {
	return p.mts
}

// Directory returns the agent directory.
func (p *Platform) Directory() directory.Directory {
	return p.dir
}

// Addr returns the WebSocket listener address, or nil without the ws
// scheme.
func (p *Platform) Addr() net.Addr {
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}
