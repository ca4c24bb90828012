// Package frdp implements the peer-discovery engine carried inside the
// main protocol's addon= lines, per spec §4.5.
package frdp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/protocol"
)

const (
	// DefaultPingInterval is spec §4.5's "sent at a regular interval
	// (default 5s)".
	DefaultPingInterval = 5 * time.Second
	// DefaultRouterInfoInterval is spec §4.5's "periodic broadcast
	// (default every 10s)".
	DefaultRouterInfoInterval = 10 * time.Second
)

// RouterInfoRecord is one entry of the map[UUID]ROUTERINFO table spec §6
// exposes via GET /api/routerinfo.
type RouterInfoRecord struct {
	Payload  map[string]interface{}
	Received time.Time
}

// Sink is how the engine reaches peer connections; the router core
// implements it in terms of session.Registry and the upstream session.
type Sink interface {
	// WriteToPeer sends line to exactly the peer identified by peerKey.
	WriteToPeer(peerKey string, line string)
	// BroadcastToPeers sends line to every known peer connection except
	// the one identified by exclude (pass "" to exclude none).
	BroadcastToPeers(line string, exclude string)
}

// EngineOptions configures a new Engine.
type EngineOptions struct {
	Log                *zap.Logger
	RouterName         string
	SimulatorName      string
	PingInterval       time.Duration
	RouterInfoInterval time.Duration
	Sink               Sink
	// FilterFlags reports the router's current outbound filter state,
	// embedded in outgoing ROUTERINFO payloads.
	FilterFlags func() map[string]bool
	// Connections reports display names of currently connected clients,
	// embedded in outgoing ROUTERINFO payloads.
	Connections func() []string
	// OnClientInfo is invoked for a one-hop CLIENTINFO payload, e.g. to
	// set a display name from a window-title sniffer.
	OnClientInfo func(payload map[string]interface{})
	// OnPeerConfirmed is invoked every time a PONG from peerKey matches
	// the nonce of a PING this engine sent, spec §4.5's second way a connection
	// becomes a peer ("a PONG is received in response to a solicited
	// PING").
	OnPeerConfirmed func(peerKey string)
}

// Engine runs the ping/pong RTT loop and the periodic ROUTERINFO
// broadcast, and processes inbound FRDP messages from peers. The
// dual-ticker structure generalizes the ctx.Done()-select loop idiom
// used throughout transport/tcp.go to two independent periods.
type Engine struct {
	log        *zap.Logger
	routerUUID uuid.UUID
	routerName string
	simName    string
	startedAt  time.Time

	pingInterval       time.Duration
	routerInfoInterval time.Duration

	sink            Sink
	filterFlags     func() map[string]bool
	connections     func() []string
	onClientInfo    func(payload map[string]interface{})
	onPeerConfirmed func(peerKey string)

	nonceCounter int64

	mu           sync.Mutex
	outstanding  map[string]time.Time
	rtts         map[string]time.Duration
	routerInfos  map[string]RouterInfoRecord
	sharedInfos  map[string]RouterInfoRecord
}

// DeriveRouterUUID computes a stable per-identity UUID from name, a
// name-based SHA-1 UUID in the OID namespace, so restarts keep the same
// identity in peers' ROUTERINFO tables. The router passes
// "<router name>:<simulator name>"; neither the host nor the listen port
// is part of the UUID.
func DeriveRouterUUID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// NewEngine returns an Engine identified by routerUUID.
func NewEngine(routerUUID uuid.UUID, opts EngineOptions) *Engine {
	ping := opts.PingInterval
	if ping <= 0 {
		ping = DefaultPingInterval
	}
	info := opts.RouterInfoInterval
	if info <= 0 {
		info = DefaultRouterInfoInterval
	}
	return &Engine{
		log:                opts.Log,
		routerUUID:         routerUUID,
		routerName:         opts.RouterName,
		simName:            opts.SimulatorName,
		startedAt:          time.Now(),
		pingInterval:       ping,
		routerInfoInterval: info,
		sink:               opts.Sink,
		filterFlags:        opts.FilterFlags,
		connections:        opts.Connections,
		onClientInfo:       opts.OnClientInfo,
		onPeerConfirmed:    opts.OnPeerConfirmed,
		outstanding:        map[string]time.Time{},
		rtts:               map[string]time.Duration{},
		routerInfos:        map[string]RouterInfoRecord{},
		sharedInfos:        map[string]RouterInfoRecord{},
	}
}

// UUID returns this router's own identity.
func (e *Engine) UUID() uuid.UUID {
	return e.routerUUID
}

// Run drives the ping and router-info tickers until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	pingTicker := time.NewTicker(e.pingInterval)
	defer pingTicker.Stop()
	infoTicker := time.NewTicker(e.routerInfoInterval)
	defer infoTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			e.broadcastPing()
		case <-infoTicker.C:
			e.broadcastRouterInfo()
		}
	}
}

func (e *Engine) nextNonce() string {
	n := atomic.AddInt64(&e.nonceCounter, 1)
	return fmt.Sprintf("%s-%d", e.routerUUID.String()[:8], n)
}

func (e *Engine) broadcastPing() {
	if e.sink == nil {
		return
	}
	nonce := e.nextNonce()
	e.mu.Lock()
	e.outstanding[nonce] = time.Now()
	e.mu.Unlock()

	line := protocol.FormatFRDP(protocol.NewPing(nonce)).Line()
	e.sink.BroadcastToPeers(line, "")
}

func (e *Engine) broadcastRouterInfo() {
	if e.sink == nil {
		return
	}
	payload := e.buildRouterInfoPayload()
	data, err := json.Marshal(payload)
	if err != nil {
		e.log.Warn("failed to marshal router-info payload", zap.Error(err))
		return
	}
	fm := &protocol.FRDPMessage{Version: protocol.FRDPVersion, Type: protocol.FRDPRouterInfo, Payload: string(data)}
	e.sink.BroadcastToPeers(protocol.FormatFRDP(fm).Line(), "")
}

func (e *Engine) buildRouterInfoPayload() map[string]interface{} {
	flags := map[string]bool{}
	if e.filterFlags != nil {
		flags = e.filterFlags()
	}
	conns := []string{}
	if e.connections != nil {
		conns = e.connections()
	}
	return map[string]interface{}{
		"router_name":    e.routerName,
		"simulator_name": e.simName,
		"uuid":           e.routerUUID.String(),
		"uptime_seconds": int(time.Since(e.startedAt).Seconds()),
		"filters":        flags,
		"connections":    conns,
	}
}

// Handle processes one inbound FRDP message received from peerKey.
func (e *Engine) Handle(peerKey string, fm *protocol.FRDPMessage) {
	switch fm.Type {
	case protocol.FRDPPing:
		e.handlePing(peerKey, fm)
	case protocol.FRDPPong:
		e.handlePong(peerKey, fm)
	case protocol.FRDPRouterInfo:
		e.handleRouterInfo(peerKey, fm)
	case protocol.FRDPClientInfo:
		e.handleClientInfo(fm)
	case protocol.FRDPSharedInfo:
		e.handleSharedInfo(peerKey, fm)
	case protocol.FRDPIdent, protocol.FRDPAuth:
		// Identity and auth are handled by the router itself (spec
		// §4.3/§4.6); the engine ignores them.
	}
}

func (e *Engine) handlePing(peerKey string, fm *protocol.FRDPMessage) {
	id, err := protocol.ParsePingID(fm.Payload)
	if err != nil || e.sink == nil {
		return
	}
	e.sink.WriteToPeer(peerKey, protocol.FormatFRDP(protocol.NewPong(id)).Line())
}

func (e *Engine) handlePong(peerKey string, fm *protocol.FRDPMessage) {
	id, err := protocol.ParsePingID(fm.Payload)
	if err != nil {
		return
	}
	e.mu.Lock()
	sentAt, ok := e.outstanding[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	e.rtts[peerKey] = time.Since(sentAt)
	e.mu.Unlock()

	if e.onPeerConfirmed != nil {
		e.onPeerConfirmed(peerKey)
	}
}

func (e *Engine) handleRouterInfo(peerKey string, fm *protocol.FRDPMessage) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(fm.Payload), &payload); err != nil {
		e.log.Debug("discarding malformed ROUTERINFO", zap.Error(err))
		return
	}
	uid, _ := payload["uuid"].(string)
	if uid == "" || uid == e.routerUUID.String() {
		return
	}

	e.mu.Lock()
	e.routerInfos[uid] = RouterInfoRecord{Payload: payload, Received: time.Now()}
	e.mu.Unlock()

	if e.sink != nil {
		e.sink.BroadcastToPeers(protocol.FormatFRDP(fm).Line(), peerKey)
	}
}

func (e *Engine) handleClientInfo(fm *protocol.FRDPMessage) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(fm.Payload), &payload); err != nil {
		e.log.Debug("discarding malformed CLIENTINFO", zap.Error(err))
		return
	}
	if e.onClientInfo != nil {
		e.onClientInfo(payload)
	}
	// One-hop only: spec §4.5, "terminated by the first router that sees
	// it" — never forwarded.
}

func (e *Engine) handleSharedInfo(peerKey string, fm *protocol.FRDPMessage) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(fm.Payload), &payload); err != nil {
		e.log.Debug("discarding malformed SHAREDINFO", zap.Error(err))
		return
	}
	uid, _ := payload["uuid"].(string)
	if uid == "" {
		uid = peerKey
	}

	e.mu.Lock()
	e.sharedInfos[uid] = RouterInfoRecord{Payload: payload, Received: time.Now()}
	e.mu.Unlock()

	if e.sink != nil {
		e.sink.BroadcastToPeers(protocol.FormatFRDP(fm).Line(), peerKey)
	}
}

// RouterInfos returns a snapshot of every known peer's latest
// ROUTERINFO, keyed by UUID, for GET /api/routerinfo.
func (e *Engine) RouterInfos() map[string]RouterInfoRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]RouterInfoRecord, len(e.routerInfos))
	for k, v := range e.routerInfos {
		out[k] = v
	}
	return out
}

// SharedInfos returns a snapshot of every known SHAREDINFO record, for
// GET /api/sharedinfo.
func (e *Engine) SharedInfos() map[string]RouterInfoRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]RouterInfoRecord, len(e.sharedInfos))
	for k, v := range e.sharedInfos {
		out[k] = v
	}
	return out
}

// RTT returns the last measured round-trip time to peerKey.
func (e *Engine) RTT(peerKey string) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.rtts[peerKey]
	return d, ok
}
