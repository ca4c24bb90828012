package router

import (
	"fmt"
	"time"

	"github.com/aerowinx/frankenrouter/protocol"
	"github.com/aerowinx/frankenrouter/rules"
	"github.com/aerowinx/frankenrouter/session"
)

// beginWelcome runs spec §4.3's welcome sequence steps 1-6, then arms a
// timer for the wait-for-START-keywords step; finishWelcomeWait resumes
// with steps 7-11 when the timer fires.
func (r *Router) beginWelcome(c *session.Client) {
	c.SetState(session.StateWelcoming)

	c.Write(fmt.Sprintf("id=%d", c.ID))
	if v, ok := r.store.Get("version"); ok {
		r.sendWelcome(c, "version", v)
	}
	if v, ok := r.store.Get("layout"); ok {
		r.sendWelcome(c, "layout", v)
	}
	for _, entry := range r.store.Snapshot() {
		if rules.IsLexiconKeyword(entry.Keyword) {
			r.sendWelcome(c, entry.Keyword, entry.Value)
		}
	}
	c.Write("load1")

	c.WaitingForStart = true
	r.upstreamPool.Session().Write("start")

	time.AfterFunc(r.welcomeWait, func() {
		r.events <- func() { r.finishWelcomeWait(c) }
	})
}

func (r *Router) sendWelcome(c *session.Client, keyword, value string) {
	c.Write(keyword + "=" + value)
	c.WelcomeKeywordsSent[keyword] = true
}

// finishWelcomeWait implements steps 7-11: stop waiting, replay the rest
// of the cache in catalogue order, send the trailing load markers and the
// cached metar, then flip welcome_sent and drain anything queued while
// welcoming.
func (r *Router) finishWelcomeWait(c *session.Client) {
	if c.State() != session.StateWelcoming {
		return
	}
	c.WaitingForStart = false

	for _, entry := range r.store.Snapshot() {
		if c.WelcomeKeywordsSent[entry.Keyword] {
			continue
		}
		mode := r.cat.ModeOf(entry.Keyword)
		if mode == protocol.ModeDelta && !r.cat.IsAlsoECON(entry.Keyword) {
			continue
		}
		r.sendWelcome(c, entry.Keyword, entry.Value)
	}

	c.Write("load2")
	c.Write("load3")
	if v, ok := r.store.Get("metar"); ok {
		c.Write("metar=" + v)
	}

	c.WelcomeSent = true
	c.SetState(session.StateReady)
	for _, pending := range c.DrainPending() {
		c.Write(pending)
	}
}
