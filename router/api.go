package router

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aerowinx/frankenrouter/httpapi"
	"github.com/aerowinx/frankenrouter/session"
	"github.com/aerowinx/frankenrouter/upstream"
)

// The methods in this file implement httpapi.Core against Router's
// internal state. Reads that only need session.Registry go straight to
// its lock-free snapshot. SetFilter and VPilotPrint go through runSync so
// they observe a single consistent point in the core loop's timeline; the
// blocklist is guarded by accessMu and the upstream target by upstreamMu.

func (r *Router) Stats() httpapi.Stats {
	clients := r.registry.Snapshot()
	depths := make(map[string]int, len(clients))
	var linesIn, linesOut int64
	for _, c := range clients {
		lines, _ := c.QueueDepth()
		depths[strconv.FormatInt(c.ID, 10)] = lines
		linesIn += atomic.LoadInt64(&c.LinesIn)
		linesOut += atomic.LoadInt64(&c.LinesOut)
	}
	upIn, upOut := r.upstreamPool.Session().LineCounts()
	linesIn += upIn
	linesOut += upOut

	var inRate, outRate float64
	if elapsed := time.Since(r.startedAt).Seconds(); elapsed > 0 {
		inRate = float64(linesIn) / elapsed
		outRate = float64(linesOut) / elapsed
	}

	elevation, traffic, flightControls := r.filterCounts.snapshot()

	return httpapi.Stats{
		ClientCount:    len(clients),
		UpstreamState:  r.upstreamPool.Session().State().String(),
		QueueDepths:    depths,
		WriteTimeStats: r.writeTimes.snapshot(),
		MessageRates:   httpapi.MessageRates{InboundPerSecond: inRate, OutboundPerSecond: outRate},

		FilteredElevation:      elevation,
		FilteredTraffic:        traffic,
		FilteredFlightControls: flightControls,
	}
}

func (r *Router) Clients() []httpapi.ClientSummary {
	clients := r.registry.Snapshot()
	out := make([]httpapi.ClientSummary, 0, len(clients))
	for _, c := range clients {
		host, port := splitHostPort(c)
		out = append(out, httpapi.ClientSummary{
			ID:                        c.ID,
			IP:                        host,
			Port:                      port,
			DisplayName:               c.DisplayName,
			MessagesSent:              c.LinesOut,
			MessagesReceived:          c.LinesIn,
			ClientProvidedID:          c.ClientProvidedID,
			ClientProvidedDisplayName: c.ClientProvidedDisplayName,
		})
	}
	return out
}

func splitHostPort(c *session.Client) (string, int) {
	host, portStr, err := net.SplitHostPort(c.Remote.String())
	if err != nil {
		return c.Remote.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (r *Router) Disconnect(clientID int64) bool {
	c, ok := r.registry.Get(clientID)
	if !ok {
		return false
	}
	_ = c.Close()
	return true
}

func (r *Router) RouterInfos() map[string]httpapi.RouterInfoView {
	out := map[string]httpapi.RouterInfoView{}
	for uid, rec := range r.frdp.RouterInfos() {
		out[uid] = httpapi.RouterInfoView{Payload: rec.Payload, Received: rec.Received}
	}
	return out
}

func (r *Router) SharedInfos() map[string]httpapi.RouterInfoView {
	out := map[string]httpapi.RouterInfoView{}
	for uid, rec := range r.frdp.SharedInfos() {
		out[uid] = httpapi.RouterInfoView{Payload: rec.Payload, Received: rec.Received}
	}
	return out
}

func (r *Router) Upstream() httpapi.UpstreamView {
	r.upstreamMu.Lock()
	target := r.upstreamTarget
	r.upstreamMu.Unlock()

	host, portStr, err := net.SplitHostPort(target.Address)
	port := 0
	if err == nil {
		port, _ = strconv.Atoi(portStr)
	} else {
		host = target.Address
	}
	return httpapi.UpstreamView{Host: host, Port: port, State: r.upstreamPool.Session().State().String()}
}

func (r *Router) SetUpstream(req httpapi.SetUpstreamRequest) error {
	target := upstream.Target{
		Address:  fmt.Sprintf("%s:%d", req.Host, req.Port),
		Password: req.Password,
	}
	r.upstreamMu.Lock()
	r.upstreamTarget = target
	r.upstreamMu.Unlock()
	r.upstreamPool.SetTarget(target)
	return nil
}

func (r *Router) SetFilter(name string, enabled bool) error {
	var err error
	r.runSync(func() { err = r.setFilter(name, enabled) })
	return err
}

func (r *Router) Blocklist() []httpapi.BlocklistEntry {
	r.accessMu.Lock()
	defer r.accessMu.Unlock()
	out := make([]httpapi.BlocklistEntry, 0, len(r.blocklist))
	for _, b := range r.blocklist {
		out = append(out, httpapi.BlocklistEntry{DisplayName: b.DisplayName, MatchIPv4: b.MatchIPv4, Reason: b.Reason})
	}
	return out
}

func (r *Router) AddBlock(entry httpapi.BlocklistEntry) error {
	r.accessMu.Lock()
	r.blocklist = append(r.blocklist, blocklistRule{DisplayName: entry.DisplayName, MatchIPv4: entry.MatchIPv4, Reason: entry.Reason})
	r.accessMu.Unlock()
	return r.rebuildAccessList()
}

func (r *Router) RemoveBlock(displayName string) error {
	r.accessMu.Lock()
	found := false
	filtered := r.blocklist[:0]
	for _, b := range r.blocklist {
		if b.DisplayName == displayName {
			found = true
			continue
		}
		filtered = append(filtered, b)
	}
	r.blocklist = filtered
	r.accessMu.Unlock()
	if !found {
		return fmt.Errorf("router: no blocklist entry named %q", displayName)
	}
	return r.rebuildAccessList()
}

// VPilotPrint broadcasts an operator-composed message to every client in
// the Ready state as a "print" keyword line, the closest published PSX
// keyword to a free-text operator announcement. Clients still in their
// welcome do not receive it, and it is not buffered for them.
func (r *Router) VPilotPrint(message string) error {
	r.runSync(func() {
		r.registry.Broadcast("print="+message, func(c *session.Client) bool {
			return c.State() == session.StateReady
		})
	})
	return nil
}
