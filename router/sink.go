package router

import (
	"strconv"
	"strings"

	"github.com/aerowinx/frankenrouter/session"
)

// WriteToPeer and BroadcastToPeers implement frdp.Sink, letting the
// peer-discovery engine address a single connection or every known peer
// without importing package session or upstream itself.

func (r *Router) WriteToPeer(peer string, line string) {
	if peer == "upstream" {
		r.upstreamPool.Session().Write(line)
		return
	}
	id, ok := clientIDFromPeerKey(peer)
	if !ok {
		return
	}
	if c, ok := r.registry.Get(id); ok {
		c.Write(line)
	}
}

func (r *Router) BroadcastToPeers(line string, exclude string) {
	excludeID, hasExclude := clientIDFromPeerKey(exclude)
	r.registry.Broadcast(line, func(c *session.Client) bool {
		if !c.IsPeerRouter {
			return false
		}
		if hasExclude && c.ID == excludeID {
			return false
		}
		return true
	})
	if exclude != "upstream" {
		r.upstreamPool.Session().Write(line)
	}
}

func clientIDFromPeerKey(peer string) (int64, bool) {
	const prefix = "client:"
	if !strings.HasPrefix(peer, prefix) {
		return 0, false
	}
	id, err := strconv.ParseInt(peer[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
