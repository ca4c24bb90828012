// Package router implements the core orchestrator that ties the
// catalogue, cache, forwarding rules, client sessions, the upstream
// session and the peer-discovery engine together, per spec §5.
package router

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/access"
	"github.com/aerowinx/frankenrouter/cache"
	"github.com/aerowinx/frankenrouter/frdp"
	"github.com/aerowinx/frankenrouter/internal/panics"
	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/session"
	"github.com/aerowinx/frankenrouter/trafficlog"
	"github.com/aerowinx/frankenrouter/upstream"
)

// DefaultWelcomeWait is spec §4.3 step 6's "wait up to T (default 2s)".
const DefaultWelcomeWait = 2 * time.Second

// Identity is the [identity] section of config, per spec §6.
type Identity struct {
	Simulator  string
	RouterName string
	StopMinded bool
}

// Options configures a new Router. All the collaborating components are
// constructed by the caller (cmd/run.go) and handed in, so Router itself
// stays a pure orchestrator with no config-file knowledge.
type Options struct {
	Log         *zap.Logger
	Catalog     *protocol.Catalog
	Cache       *cache.Store
	Identity    Identity
	AccessRules []*access.Rule
	Filters     rules.Filters
	Upstreams   []upstream.Target
	TrafficLog  *trafficlog.Logger
	WelcomeWait time.Duration
	WarnBytes   int64
	HardCap     int64
	// Checks are the compiled [[check]] connection sanity rules (spec §6).
	Checks []CheckRule
	// UpstreamDial overrides how the upstream session dials its target;
	// nil uses a real net.Dialer. Exposed for tests.
	UpstreamDial func(ctx context.Context, address string) (net.Conn, error)
	// Panics governs what happens if a programmer invariant the router
	// relies on is ever violated. The zero value logs and continues.
	Panics panics.Policy
}

// Router is the single core orchestrator. Every mutation of the cache,
// the filter flags and each client's session state happens on the run
// loop goroutine started by Run — spec §5's "shared-resource policy".
// The exceptions are AcceptClient, which registers a new client on the
// caller's goroutine, and the blocklist and upstream target, which are
// guarded by their own mutexes.
// External readers (HTTP handlers) either read lock-free snapshots
// (session.Registry.Snapshot) or, for state genuinely owned by the core
// loop, submit a closure via runSync and block until it has executed.
type Router struct {
	log      *zap.Logger
	cat      *protocol.Catalog
	store    *cache.Store
	identity Identity

	registry     *session.Registry
	upstreamPool *upstream.Pool
	frdp         *frdp.Engine
	trafficLog   *trafficlog.Logger

	welcomeWait time.Duration
	warnBytes   int64
	hardCap     int64

	events chan func()

	accessMu    sync.Mutex
	baseRules   []*access.Rule
	blocklist   []blocklistRule
	accessList  atomic.Value // *access.List

	filtersMu sync.Mutex
	filters   rules.Filters

	upstreamMu   sync.Mutex
	upstreamWasLive bool
	upstreamTarget  upstream.Target

	panics panics.Policy

	checks []CheckRule

	writeTimes  writeTimeRecorder
	filterCounts filterCounters

	startedAt time.Time
}

type blocklistRule struct {
	DisplayName string
	MatchIPv4   string
	Reason      string
}

// New constructs a Router. Call Run to start it.
func New(opts Options) (*Router, error) {
	r := &Router{
		log:          opts.Log,
		cat:          opts.Catalog,
		store:        opts.Cache,
		identity:     opts.Identity,
		registry:     session.NewRegistry(),
		trafficLog:   opts.TrafficLog,
		welcomeWait:  opts.WelcomeWait,
		warnBytes:    opts.WarnBytes,
		hardCap:      opts.HardCap,
		events:       make(chan func(), 4096),
		baseRules:    opts.AccessRules,
		filters:      opts.Filters,
		panics:       opts.Panics,
		checks:       opts.Checks,
		startedAt:    time.Now(),
	}
	if r.welcomeWait <= 0 {
		r.welcomeWait = DefaultWelcomeWait
	}
	if r.panics.Log == nil {
		r.panics.Log = r.log
	}
	if len(opts.Upstreams) > 0 {
		r.upstreamTarget = opts.Upstreams[0]
	}

	if err := r.rebuildAccessList(); err != nil {
		return nil, err
	}

	r.upstreamPool = upstream.NewPool(upstream.Options{
		Log: r.log.Named("upstream"),
		OnInbound: func(msg protocol.Message) {
			r.events <- func() { r.handleUpstreamMessage(msg) }
		},
		OnState: func(state upstream.State) {
			r.events <- func() { r.handleUpstreamStateChange(state) }
		},
		Dial:    opts.UpstreamDial,
		OnWrite: r.writeTimes.record,
	}, opts.Upstreams)

	routerIdentity := fmt.Sprintf("%s:%s", opts.Identity.RouterName, opts.Identity.Simulator)
	r.frdp = frdp.NewEngine(frdp.DeriveRouterUUID(routerIdentity), frdp.EngineOptions{
		Log:           r.log.Named("frdp"),
		RouterName:    opts.Identity.RouterName,
		SimulatorName: opts.Identity.Simulator,
		Sink:          r,
		FilterFlags:   func() map[string]bool { f := r.currentFilters(); return map[string]bool{"elevation": f.Elevation, "traffic": f.Traffic, "flight_controls": f.FlightControls} },
		Connections:   func() []string { return r.displayNames() },
		OnPeerConfirmed: func(peerKey string) {
			r.events <- func() { r.markPeerRouter(peerKey) }
		},
	})

	return r, nil
}

// Run drives the core event loop, the upstream pool and the FRDP engine
// until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	go r.upstreamPool.Run(ctx)
	go r.frdp.Run(ctx)
	r.runLoop(ctx)

	// Closing every client connection here, rather than leaving it to the
	// listener, is what lets router.Listener.Listen's per-accept
	// WaitGroup actually drain: session.Client.Start blocks on its read
	// loop until the connection is closed out from under it.
	if err := r.registry.CloseAll(); err != nil {
		r.log.Warn("error closing clients during shutdown", zap.Error(err))
	}
}

func (r *Router) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-r.events:
			fn()
		}
	}
}

// runSync submits fn to the core loop and blocks until it has run,
// giving external readers (HTTP handlers) a serialized view of core
// state without their own locking.
func (r *Router) runSync(fn func()) {
	done := make(chan struct{})
	r.events <- func() {
		fn()
		close(done)
	}
	<-done
}

// AcceptClient wraps an accepted connection in a session.Client and
// registers it. The caller (router/listener.go) is responsible for
// calling Start on the returned client, mirroring transport/tcp.go's
// TCPListener.addConn/tcpConn.Start split so the listener's own
// WaitGroup can track when the connection's loops actually finish.
func (r *Router) AcceptClient(conn net.Conn) *session.Client {
	id := r.registry.NextID()
	if _, exists := r.registry.Get(id); exists {
		r.panics.Invariant(false, "registry.NextID returned an id already in the registry", zap.Int64("id", id))
	}
	c := session.NewClient(id, session.Options{
		Conn:         conn,
		Log:          r.log.Named("client"),
		WarnBytes:    r.warnBytes,
		HardCapBytes: r.hardCap,
		OnInbound: func(c *session.Client, msg protocol.Message) {
			r.events <- func() { r.handleClientMessage(c, msg) }
		},
		OnClosed: func(c *session.Client) {
			r.events <- func() { r.handleClientClosed(c) }
		},
		OnWrite: r.writeTimes.record,
	})
	r.registry.Add(c)
	return c
}

func remoteIP(c *session.Client) net.IP {
	host, _, err := net.SplitHostPort(c.Remote.String())
	if err != nil {
		return net.ParseIP(c.Remote.String())
	}
	return net.ParseIP(host)
}

func (r *Router) handleClientMessage(c *session.Client, msg protocol.Message) {
	if r.trafficLog != nil {
		r.trafficLog.Log(trafficlog.Entry{When: time.Now(), SessionID: c.ID, Peer: c.Remote.String(), Direction: trafficlog.DirectionIn, Line: msg.Line()})
	}

	if protocol.IsFRDPLine(msg) {
		r.handleClientFRDP(c, msg.(*protocol.KeyValueMessage))
		return
	}

	if c.State() == session.StateConnected {
		if !r.finalizeAccess(c) {
			return
		}
	}
	if c.State() == session.StateBlocked || c.State() == session.StateClosed {
		return
	}

	r.observeIdentity(c, msg)

	sender := r.clientView(c)
	decision := rules.Decide(msg, rules.Context{
		Source:  rules.SourceClient,
		Sender:  sender,
		Cat:     r.cat,
		Filters: r.currentFilters(),
		Now:     time.Now(),
	})

	r.applyDecision(decision, msg, c)
}

func (r *Router) handleClientFRDP(c *session.Client, kv *protocol.KeyValueMessage) {
	fm, err := protocol.ParseFRDP(kv.Value)
	if err != nil {
		return
	}
	switch fm.Type {
	case protocol.FRDPAuth:
		c.AuthPassword = fm.Payload
		c.AuthPasswordSeen = true
		if c.State() == session.StateConnected {
			r.finalizeAccess(c)
		}
		return
	case protocol.FRDPIdent:
		c.IsPeerRouter = true
		if sim, router, uid, err := protocol.ParseIdent(fm.Payload); err == nil {
			c.FRDPUUID = uid
			c.DisplayName = fmt.Sprintf("%s:%s", router, sim)
		}
		r.evaluateChecks()
	}
	r.frdp.Handle(peerKey(c.ID), fm)
}

func (r *Router) observeIdentity(c *session.Client, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.KeyValueMessage:
		if m.Key != "name" {
			return
		}
		if rules.IsFrankenrouterPeer(m.Value) {
			c.IsPeerRouter = true
		}
		id, name := splitNamePayload(m.Value)
		c.ClientProvidedID = id
		c.ClientProvidedDisplayName = name
		c.DisplayName = rules.CleanDisplayName(name)
		r.evaluateChecks()
	case *protocol.SignalMessage:
		if m.Name == "bang" {
			c.LastBang = time.Now()
		}
		if m.Name == "nolong" {
			c.Nolong = !c.Nolong
		}
	}
}

func splitNamePayload(value string) (id, name string) {
	for i := 0; i < len(value); i++ {
		if value[i] == ':' {
			return value[:i], value[i+1:]
		}
	}
	return "", value
}

func (r *Router) clientView(c *session.Client) *rules.ClientView {
	return &rules.ClientView{
		ID:                 c.ID,
		DisplayName:        c.DisplayName,
		IsPeerRouter:       c.IsPeerRouter,
		Nolong:             c.Nolong,
		WaitingForStart:    c.WaitingForStart,
		ConnectedAt:        c.ConnectedAt,
		LastBang:           c.LastBang,
		AccessObserverOnly: c.AccessLevel == access.LevelObserver,
	}
}

// finalizeAccess evaluates access control the first time a client is
// seen to send a substantive line, honoring an FRDP AUTH sent ahead of
// it (spec §4.6: "sent that password via FRDP AUTH before the welcome
// begins"). Returns false if the client was blocked (and closed).
func (r *Router) finalizeAccess(c *session.Client) bool {
	level, _ := r.currentAccessList().Evaluate(remoteIP(c), c.AuthPassword, c.AuthPasswordSeen)
	c.AccessLevel = level
	if level == access.LevelBlocked {
		c.SetState(session.StateBlocked)
		c.Write(protocol.FormatUnauthorized)
		blocked := c
		time.AfterFunc(500*time.Millisecond, func() { _ = blocked.Close() })
		return false
	}
	c.SetState(session.StateAccepted)
	r.beginWelcome(c)
	r.evaluateChecks()
	return true
}

func (r *Router) handleClientClosed(c *session.Client) {
	r.registry.Remove(c.ID)
	r.evaluateChecks()
}

// markPeerRouter flags the client identified by peerKey as a peer
// router, spec §4.5's second path to peer status: a solicited PING
// answered by a matching PONG.
func (r *Router) markPeerRouter(peerKey string) {
	id, ok := clientIDFromPeerKey(peerKey)
	if !ok {
		return
	}
	if c, ok := r.registry.Get(id); ok {
		c.IsPeerRouter = true
	}
}

func peerKey(id int64) string {
	return "client:" + strconv.FormatInt(id, 10)
}

func (r *Router) displayNames() []string {
	names := make([]string, 0)
	for _, c := range r.registry.Snapshot() {
		names = append(names, c.DisplayName)
	}
	return names
}
