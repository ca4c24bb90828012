package router

import (
	"regexp"
	"time"

	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/session"
	"github.com/aerowinx/frankenrouter/trafficlog"
	"github.com/aerowinx/frankenrouter/upstream"
)

var psxSoundsName = regexp.MustCompile(`(?i)PSX Sound`)

func (r *Router) handleUpstreamMessage(msg protocol.Message) {
	if r.trafficLog != nil {
		r.trafficLog.Log(trafficlog.Entry{When: time.Now(), Peer: "upstream", Direction: trafficlog.DirectionIn, Line: msg.Line()})
	}

	// A bare "unauthorized" from the upstream host means our AUTH was
	// rejected (spec §7). Force a reconnect instead of broadcasting the
	// word to every downstream client.
	if sig, ok := msg.(*protocol.SignalMessage); ok && sig.Name == protocol.FormatUnauthorized {
		r.log.Warn("upstream rejected our credentials, disconnecting")
		r.upstreamPool.Disconnect()
		return
	}

	if protocol.IsFRDPLine(msg) {
		if kv, ok := msg.(*protocol.KeyValueMessage); ok {
			if fm, err := protocol.ParseFRDP(kv.Value); err == nil {
				r.frdp.Handle("upstream", fm)
			}
		}
		return
	}

	decision := rules.Decide(msg, rules.Context{
		Source:  rules.SourceUpstream,
		Sender:  r.psxSoundsView(),
		Cat:     r.cat,
		Filters: r.currentFilters(),
		Now:     time.Now(),
	})
	r.applyDecision(decision, msg, nil)
}

// psxSoundsView finds the connected client whose cleaned display name
// matches "PSX Sounds", so decideUpstreamKeyValue's gear-pin filter can
// consult its LastBang. Returns nil if no such client is connected.
func (r *Router) psxSoundsView() *rules.ClientView {
	for _, c := range r.registry.Snapshot() {
		if psxSoundsName.MatchString(c.DisplayName) {
			return r.clientView(c)
		}
	}
	return nil
}

// handleUpstreamStateChange fans out load1 once to every ready client the
// moment the upstream drops out of LIVE having previously reached it, per spec
// §4.4 ("LIVE -> EOF/error -> DISCONNECTED (fan out load1 to all
// clients)"). It also re-sends any client demand= entries once LIVE is
// (re)reached, per §4.4's switchover semantics.
func (r *Router) handleUpstreamStateChange(state upstream.State) {
	r.upstreamMu.Lock()
	wasLive := r.upstreamWasLive
	r.upstreamWasLive = state == upstream.StateLive
	r.upstreamMu.Unlock()

	switch {
	case state == upstream.StateLive:
		r.resendDemands()
	case wasLive && state != upstream.StateLive:
		r.registry.Broadcast("load1", func(c *session.Client) bool { return c.State() == session.StateReady })
	}
}

func (r *Router) resendDemands() {
	sess := r.upstreamPool.Session()
	for _, c := range r.registry.Snapshot() {
		for keyword := range c.Demanded {
			sess.Write("demand=" + keyword)
		}
	}
}

