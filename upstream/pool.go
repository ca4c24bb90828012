package upstream

import (
	"context"
	"sync"
	"time"
)

// Pool fails over across multiple configured upstream targets. It owns a
// single Session and round-robins the target list, moving to the next
// target immediately on failure and only backing off once a full lap of
// the list has failed to reach Live.
type Pool struct {
	session *Session

	mu      sync.Mutex
	targets []Target
	idx     int
}

// NewPool returns a Pool that dials targets in order, sharing one
// Session (and therefore one set of OnInbound/OnState callbacks) across
// every target.
func NewPool(opts Options, targets []Target) *Pool {
	return &Pool{
		session: NewSession(opts),
		targets: targets,
	}
}

// Session returns the underlying Session, for callers that need to
// Write to whichever target is currently Live.
func (p *Pool) Session() *Session {
	return p.session
}

// SetTarget replaces the pool's target list with a single new target and
// forces the current connection closed, so the reconnect loop picks up
// the new target on its next dial attempt (spec §4.4's "switchover:
// atomically replace target, close current connection").
func (p *Pool) SetTarget(t Target) {
	p.mu.Lock()
	p.targets = []Target{t}
	p.idx = 0
	p.mu.Unlock()
	p.session.forceDisconnect()
}

// Disconnect forces the current connection closed without changing the
// target list, so the reconnect loop retries the same target after its
// backoff, per spec §4.4 ("looping back to DISCONNECTED on any
// read/write error").
func (p *Pool) Disconnect() {
	p.session.forceDisconnect()
}

func (p *Pool) nextTarget() (Target, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.targets) == 0 {
		return Target{}, false
	}
	target := p.targets[p.idx]
	p.idx = (p.idx + 1) % len(p.targets)
	return target, true
}

func (p *Pool) targetCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.targets)
}

// Run services targets until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	if p.targetCount() == 0 {
		return
	}

	backoff := minBackoff
	failuresThisLap := 0

	for {
		if ctx.Err() != nil {
			return
		}

		target, ok := p.nextTarget()
		if !ok {
			return
		}

		live := p.session.runOnce(ctx, target)
		if live {
			backoff = minBackoff
			failuresThisLap = 0
			p.mu.Lock()
			if n := len(p.targets); n > 0 {
				p.idx = (p.idx + n - 1) % n
			}
			p.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		failuresThisLap++
		if failuresThisLap < p.targetCount() {
			continue
		}
		failuresThisLap = 0

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
