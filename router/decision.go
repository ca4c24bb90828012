package router

import (
	"time"

	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/session"
)

// applyDecision executes a rules.Decision produced for msg, sent by
// sender (nil for upstream-originated messages).
func (r *Router) applyDecision(d rules.Decision, msg protocol.Message, sender *session.Client) {
	switch d.Action {
	case rules.ActionDrop, rules.ActionFilter:
		if d.Action == rules.ActionFilter {
			r.filterCounts.record(d.Code)
		}
		if d.UpdateCache {
			if kv, ok := msg.(*protocol.KeyValueMessage); ok {
				_ = r.store.Put(kv.Key, kv.Value)
			}
		}
		return

	case rules.ActionDisconnect:
		if sender != nil {
			_ = sender.Close()
		}
		return

	case rules.ActionBangReply:
		r.replyBang(sender)
		return

	case rules.ActionExit:
		if sender != nil {
			sender.Write("exit")
			c := sender
			time.AfterFunc(500*time.Millisecond, func() { _ = c.Close() })
		}
		return

	case rules.ActionUpstreamOnly:
		if d.Code == rules.CodeDemand && sender != nil {
			if kv, ok := msg.(*protocol.KeyValueMessage); ok {
				sender.Demanded[kv.Value] = true
			}
		}
		r.upstreamPool.Session().Write(msg.Line())
		return

	case rules.ActionNormal:
		line := msg.Line()
		if d.Rewrite != nil {
			line = d.Rewrite.Line()
		}
		if d.UpdateCache {
			if kv, ok := msg.(*protocol.KeyValueMessage); ok {
				_ = r.store.Put(kv.Key, kv.Value)
			}
		}
		keyword := ""
		if kv, ok := msg.(*protocol.KeyValueMessage); ok {
			keyword = kv.Key
		}
		r.deliver(line, d.Destinations, sender, keyword)

		if d.Code == rules.CodePureStart {
			if kv, ok := msg.(*protocol.KeyValueMessage); ok {
				for _, c := range r.registry.Snapshot() {
					if c.WaitingForStart {
						c.WelcomeKeywordsSent[kv.Key] = true
					}
				}
			}
		}
	}
}

func (r *Router) deliver(line string, dests []rules.Destination, sender *session.Client, keyword string) {
	for _, dest := range dests {
		switch dest {
		case rules.DestUpstream:
			r.upstreamPool.Session().Write(line)

		case rules.DestOtherClients:
			for _, c := range r.registry.Snapshot() {
				if sender != nil && c.ID == sender.ID {
					continue
				}
				if keyword != "" && c.Nolong && r.cat.IsNolong(keyword) {
					continue
				}
				r.deliverToClient(c, line)
			}

		case rules.DestPeerRoutersOnly:
			r.registry.Broadcast(line, func(c *session.Client) bool {
				return c.IsPeerRouter && (sender == nil || c.ID != sender.ID)
			})

		case rules.DestWaitingClients:
			r.registry.Broadcast(line, func(c *session.Client) bool {
				return c.WaitingForStart
			})

		case rules.DestSender:
			if sender != nil {
				sender.Write(line)
			}
		}
	}
}

// deliverToClient honors spec §4.3's pending_messages invariant: a
// client that has not yet finished its welcome sequence gets ordinary
// traffic buffered instead of interleaved with the welcome, and replayed
// once welcome_sent flips true.
func (r *Router) deliverToClient(c *session.Client, line string) {
	if c.State() == session.StateWelcoming && !c.WelcomeSent {
		c.AppendPending(line)
		return
	}
	if c.State() != session.StateReady {
		return
	}
	c.Write(line)
}

// replyBang answers a "bang" signal with the full cache dump, one
// keyword=value line per cached entry in catalogue order, per spec §4.2
// rule 4.
func (r *Router) replyBang(sender *session.Client) {
	if sender == nil {
		return
	}
	for _, entry := range r.store.Snapshot() {
		sender.Write(entry.Keyword + "=" + entry.Value)
	}
}
