// Package session implements per-downstream-client connection state, per
// spec §3 ("Client session") and §4.3 (the state machine).
package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aerowinx/frankenrouter/access"
	"github.com/aerowinx/frankenrouter/protocol"
)

// State is a client session's position in the spec §4.3 state machine.
type State int

const (
	StateConnected State = iota
	StateAccepted
	StateBlocked
	StateWelcoming
	StateReady
	StateClosed
)

// InboundHandler is invoked once per parsed line from the client, on the
// client's own reader goroutine. The router core is the only consumer;
// this is the "reader task -> router core" suspension point of spec §5.
type InboundHandler func(c *Client, msg protocol.Message)

// Options configures a new Client.
type Options struct {
	Conn        net.Conn
	Log         *zap.Logger
	OnInbound   InboundHandler
	OnClosed    func(c *Client)
	WarnBytes   int64 // high-water mark, spec §5 default 1MB
	HardCapBytes int64 // 0 disables the hard cap
	// OnWrite, if set, is called with the wall-clock duration of every
	// completed protocol.WriteLine, for the operator API's write-time
	// statistics (spec §6).
	OnWrite func(time.Duration)
}

// Client is one accepted downstream connection. Structurally this
// generalizes transport/tcp.go's TCPConn: a context-cancellable
// reader/writer goroutine pair joined by an outbound queue, with
// the same isRunning()-style idiom. Unlike the teacher, the outbound
// queue is an unbounded, mutex+cond-guarded slice rather than a fixed
// Go channel, because spec §5 requires a slow client's queue to never
// block delivery to any other client or to the router core.
type Client struct {
	ID     int64
	Remote net.Addr

	conn net.Conn
	ctx  context.Context
	cancel context.CancelFunc
	loopWaiter sync.WaitGroup

	log *zap.Logger
	onInbound InboundHandler
	onClosed  func(c *Client)
	onWrite   func(time.Duration)

	outMu     sync.Mutex
	outCond   *sync.Cond
	outQueue  []string
	outBytes  int64
	warnBytes int64
	hardCap   int64
	highWater bool
	closed    bool

	stateMu sync.Mutex
	state   State

	AccessLevel Level

	// Session flags and metadata, per spec §3.
	Nolong                    bool
	IsPeerRouter              bool
	WaitingForStart           bool
	WelcomeSent               bool
	WelcomeKeywordsSent       map[string]bool
	PendingMessages           []string
	Demanded                  map[string]bool
	ClientProvidedID          string
	ClientProvidedDisplayName string
	DisplayName               string
	ConnectedAt               time.Time
	LastBang                  time.Time
	AuthPassword              string
	AuthPasswordSeen          bool

	// Peer-router-only fields, per spec §3.
	FRDPUUID       string
	FRDPVersion    string
	LastPong       time.Time
	FRDPRoundTrips []time.Duration

	LinesIn, LinesOut, BytesIn, BytesOut int64
}

// Level is an alias of access.Level, so session code can name the access
// level without spelling out the access package.
type Level = access.Level

// NewClient creates a Client wrapping an already-accepted connection. The
// caller is responsible for calling Start once the client has been
// registered.
func NewClient(id int64, opts Options) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	warn := opts.WarnBytes
	if warn <= 0 {
		warn = 1 << 20 // spec §5 default: warn at 1MB buffered
	}

	c := &Client{
		ID:                  id,
		Remote:              opts.Conn.RemoteAddr(),
		conn:                opts.Conn,
		ctx:                 ctx,
		cancel:              cancel,
		log:                 opts.Log,
		onInbound:           opts.OnInbound,
		onClosed:            opts.OnClosed,
		onWrite:             opts.OnWrite,
		warnBytes:           warn,
		hardCap:             opts.HardCapBytes,
		state:               StateConnected,
		WelcomeKeywordsSent: map[string]bool{},
		Demanded:            map[string]bool{},
		ConnectedAt:         time.Now(),
	}
	c.outCond = sync.NewCond(&c.outMu)
	return c
}

// State returns the client's current state.
func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// SetState transitions the client to state. Per spec §9 ("explicit
// result type returned by the session reader" replacing exception-driven
// control flow), transitions are unconditional here; the router core is
// the sole caller and is trusted to only request valid transitions per
// the §4.3 diagram.
func (c *Client) SetState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

// Start launches the reader and writer goroutines and blocks until both
// exit, mirroring transport/tcp.go's TCPConn.Start.
func (c *Client) Start() {
	c.loopWaiter.Add(2)
	go c.readLoop()
	go c.writeLoop()
	c.loopWaiter.Wait()
}

func (c *Client) readLoop() {
	defer c.loopWaiter.Done()
	log := c.log.Named("readLoop")

	defer func() {
		if tc, ok := c.conn.(*net.TCPConn); ok {
			_ = tc.CloseRead()
		}
		c.Close()
	}()

	r := newLineReader(c.conn)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		line, err := readLine(r)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug("read loop ending", zap.Error(err))
			}
			return
		}

		atomic.AddInt64(&c.LinesIn, 1)
		atomic.AddInt64(&c.BytesIn, int64(len(line)))

		msg := protocol.Parse(line)
		if msg == nil {
			continue
		}
		if c.onInbound != nil {
			c.onInbound(c, msg)
		}
	}
}

func (c *Client) writeLoop() {
	defer c.loopWaiter.Done()
	log := c.log.Named("writeLoop")

	defer func() {
		if tc, ok := c.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
	}()

	for {
		line, ok := c.dequeue()
		if !ok {
			return
		}

		start := time.Now()
		err := protocol.WriteLine(c.conn, line)
		if c.onWrite != nil {
			c.onWrite(time.Since(start))
		}
		if err != nil {
			log.Debug("write loop ending", zap.Error(err))
			c.Close()
			return
		}

		atomic.AddInt64(&c.LinesOut, 1)
		atomic.AddInt64(&c.BytesOut, int64(len(line)))
	}
}

func (c *Client) dequeue() (string, bool) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	for len(c.outQueue) == 0 && !c.closed {
		c.outCond.Wait()
	}
	if len(c.outQueue) == 0 {
		return "", false
	}

	line := c.outQueue[0]
	c.outQueue = c.outQueue[1:]
	c.outBytes -= int64(len(line))
	if c.outBytes < c.warnBytes {
		c.highWater = false
	}
	return line, true
}

// Write enqueues line for delivery. It never blocks: per spec §5's
// backpressure policy, a slow client's queue only ever grows (and warns
// via HighWater) unless a hard cap is configured, in which case the
// offending client is dropped instead of stalling anyone else.
func (c *Client) Write(line string) {
	c.outMu.Lock()

	if c.closed {
		c.outMu.Unlock()
		return
	}

	if c.hardCap > 0 && c.outBytes+int64(len(line)) > c.hardCap {
		c.outMu.Unlock()
		c.log.Warn("client outbound queue exceeded hard cap, disconnecting",
			zap.Int64("id", c.ID), zap.Int64("hardCapBytes", c.hardCap))
		c.Close()
		return
	}

	c.outQueue = append(c.outQueue, line)
	c.outBytes += int64(len(line))
	if c.outBytes > c.warnBytes {
		c.highWater = true
	}
	c.outCond.Signal()
	c.outMu.Unlock()
}

// QueueDepth returns the number of buffered outbound lines and bytes.
func (c *Client) QueueDepth() (lines int, bytes int64) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return len(c.outQueue), c.outBytes
}

// HighWater reports whether the outbound queue is currently above the
// warn threshold.
func (c *Client) HighWater() bool {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.highWater
}

// AppendPending buffers a line for later delivery, per spec §4.3's
// pending_messages invariant (messages arriving before welcome_sent).
func (c *Client) AppendPending(line string) {
	c.stateMu.Lock()
	c.PendingMessages = append(c.PendingMessages, line)
	c.stateMu.Unlock()
}

// DrainPending returns and clears the buffered pending messages.
func (c *Client) DrainPending() []string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	pending := c.PendingMessages
	c.PendingMessages = nil
	return pending
}

// isRunning mirrors the teacher's select-on-done-channel idiom
// (transport/tcp.go's TCPConn.isRunning), used here to decide whether
// Close has already been requested.
func (c *Client) isRunning() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

// Close idempotently tears the session down: cancels the reader, wakes
// the writer so it exits, and closes the socket. Any still-queued
// outbound messages are discarded (spec §5, "Cancellation").
func (c *Client) Close() error {
	if !c.isRunning() {
		return nil
	}
	c.cancel()

	c.outMu.Lock()
	c.closed = true
	c.outQueue = nil
	c.outCond.Broadcast()
	c.outMu.Unlock()

	c.SetState(StateClosed)

	err := c.conn.Close()

	if c.onClosed != nil {
		c.onClosed(c)
	}

	return err
}
