// Package upstream implements the router's single outbound connection to
// the upstream PSX host, per spec §4.4.
package upstream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/protocol"
)

// State is the upstream session's position in the spec §4.4 state
// machine: DISCONNECTED -> CONNECTING -> AUTHING -> LIVE, looping back
// to DISCONNECTED on any read/write error.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthing
	StateLive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthing:
		return "authing"
	case StateLive:
		return "live"
	default:
		return "unknown"
	}
}

// Target is one configured upstream endpoint, corresponding to a
// [[upstream]] table in config, per spec §6.
type Target struct {
	Address  string
	Password string
}

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

// Session owns the single outbound connection to one upstream target at
// a time, dialing, authenticating (if a password is configured) and
// reconnecting with exponential backoff on failure. Structurally this
// generalizes client/conn.go's Conn: a dial-then-read-loop shape driven
// by a cancellable context, minus the request/response correlation
// machinery a fire-and-forget line protocol has no use for.
type Session struct {
	log       *zap.Logger
	onInbound func(msg protocol.Message)
	onState   func(State)
	onWrite   func(time.Duration)

	// dial is overridable in tests; defaults to net.Dialer.DialContext.
	dial func(ctx context.Context, address string) (net.Conn, error)

	mu    sync.Mutex
	state State
	conn  net.Conn

	outMu    sync.Mutex
	outCond  *sync.Cond
	outQueue []string
	closed   bool

	LinesIn, LinesOut int64
}

// Options configures a new Session.
type Options struct {
	Log       *zap.Logger
	OnInbound func(msg protocol.Message)
	OnState   func(State)
	Dial      func(ctx context.Context, address string) (net.Conn, error)
	// OnWrite, if set, is called with the wall-clock duration of every
	// completed protocol.WriteLine to the upstream host, for the operator
	// API's write-time statistics (spec §6).
	OnWrite func(time.Duration)
}

// NewSession returns an idle Session; call Run to start dialing.
func NewSession(opts Options) *Session {
	s := &Session{
		log:       opts.Log,
		onInbound: opts.OnInbound,
		onState:   opts.OnState,
		onWrite:   opts.OnWrite,
		dial:      opts.Dial,
	}
	if s.dial == nil {
		var d net.Dialer
		s.dial = func(ctx context.Context, address string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", address)
		}
	}
	s.outCond = sync.NewCond(&s.outMu)
	return s
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(state)
	}
}

// Run dials target and services it until ctx is cancelled, reconnecting
// with exponential backoff (1s doubling to a 30s ceiling, reset once a
// connection reaches Live) between attempts. Run blocks until ctx is
// done.
func (s *Session) Run(ctx context.Context, target Target) {
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		live := s.runOnce(ctx, target)
		if live {
			backoff = minBackoff
		}

		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return
		}

		s.log.Warn("upstream disconnected, retrying", zap.String("target", target.Address), zap.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce dials, authenticates and services target once. It returns
// whether the session reached Live before disconnecting, which resets
// the caller's backoff.
func (s *Session) runOnce(ctx context.Context, target Target) (reachedLive bool) {
	s.setState(StateConnecting)

	conn, err := s.dial(ctx, target.Address)
	if err != nil {
		s.log.Warn("upstream dial failed", zap.String("target", target.Address), zap.Error(err))
		return false
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.outMu.Lock()
	s.closed = false
	s.outQueue = nil
	s.outMu.Unlock()

	s.setState(StateAuthing)
	if target.Password != "" {
		auth := protocol.FormatFRDP(protocol.NewAuth(target.Password))
		if err := protocol.WriteLine(conn, auth.Line()); err != nil {
			s.log.Warn("upstream auth write failed", zap.Error(err))
			_ = conn.Close()
			return false
		}
	}

	// AUTHING doesn't flip to LIVE until the upstream's first line
	// arrives — its welcome burst, or (with a password configured) the
	// AUTH acknowledgement that precedes it. Until then Write drops
	// anything queued for it, per spec §4.4's state diagram.
	var liveOnce sync.Once
	onFirstLine := func() {
		liveOnce.Do(func() {
			s.setState(StateLive)
			reachedLive = true
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(connCtx, conn, onFirstLine)
		cancel()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(conn)
	}()

	<-connCtx.Done()
	s.stopWriteLoop()
	_ = conn.Close()
	wg.Wait()

	return reachedLive
}

func (s *Session) readLoop(ctx context.Context, conn net.Conn, onFirstLine func()) {
	log := s.log.Named("readLoop")
	r := bufio.NewReaderSize(conn, protocol.MaxLineLength+4096)

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := protocol.ReadLine(r)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug("upstream read loop ending", zap.Error(err))
			}
			return
		}

		atomic.AddInt64(&s.LinesIn, 1)

		if first {
			first = false
			if onFirstLine != nil {
				onFirstLine()
			}
		}

		msg := protocol.Parse(line)
		if msg == nil {
			continue
		}
		if s.onInbound != nil {
			s.onInbound(msg)
		}
	}
}

func (s *Session) writeLoop(conn net.Conn) {
	log := s.log.Named("writeLoop")
	for {
		line, ok := s.dequeue()
		if !ok {
			return
		}
		start := time.Now()
		err := protocol.WriteLine(conn, line)
		if s.onWrite != nil {
			s.onWrite(time.Since(start))
		}
		if err != nil {
			log.Debug("upstream write loop ending", zap.Error(err))
			s.stopWriteLoop()
			return
		}
		atomic.AddInt64(&s.LinesOut, 1)
	}
}

// LineCounts returns the total lines read from and written to the
// upstream host across the session's lifetime.
func (s *Session) LineCounts() (in, out int64) {
	return atomic.LoadInt64(&s.LinesIn), atomic.LoadInt64(&s.LinesOut)
}

func (s *Session) dequeue() (string, bool) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	for len(s.outQueue) == 0 && !s.closed {
		s.outCond.Wait()
	}
	if len(s.outQueue) == 0 {
		return "", false
	}
	line := s.outQueue[0]
	s.outQueue = s.outQueue[1:]
	return line, true
}

func (s *Session) stopWriteLoop() {
	s.outMu.Lock()
	s.closed = true
	s.outCond.Broadcast()
	s.outMu.Unlock()
}

// forceDisconnect closes the current connection, if any, causing runOnce
// to return so the caller's reconnect loop can dial the next target.
func (s *Session) forceDisconnect() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Write enqueues line for delivery to the upstream, if currently Live.
// Lines sent in any other state are dropped, per spec §4.4 ("messages
// addressed to the upstream while it is down are dropped, not queued").
func (s *Session) Write(line string) {
	if s.State() != StateLive {
		return
	}
	s.outMu.Lock()
	if s.closed {
		s.outMu.Unlock()
		return
	}
	s.outQueue = append(s.outQueue, line)
	s.outCond.Signal()
	s.outMu.Unlock()
}
