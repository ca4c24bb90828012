// Package trafficlog implements the router's optional wire-level traffic
// log, per spec §4.8.
package trafficlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Direction distinguishes an inbound line from an outbound one.
type Direction string

const (
	DirectionIn  Direction = "<"
	DirectionOut Direction = ">"
)

// timestampLayout renders a fixed-width microsecond timestamp, unlike
// time.RFC3339Nano's variable-width fractional seconds.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// Entry is one logged line, timestamped as it enters the log's queue,
// not as it's eventually written.
type Entry struct {
	When      time.Time
	SessionID int64
	Peer      string
	Direction Direction
	Line      string
}

const queueDepth = 4096

// Logger owns the single file handle written by the traffic log and the
// goroutine draining Entry values into it. This directly generalizes
// transport/tcp.go's per-connection writeQueue chan []byte (buffer 127)
// from "one queue per connection, write to a socket" to "one queue for
// the whole process, write to a file".
type Logger struct {
	log       *zap.Logger
	path      string
	maxBytes  int64
	entries   chan Entry
	done      chan struct{}
	closeOnce sync.Once
	dropped   int64

	mu          sync.Mutex
	file        *os.File
	writer      *bufio.Writer
	writtenSize int64
}

// Options configures a new Logger.
type Options struct {
	Log *zap.Logger
	// Path is the traffic-log file path. An empty Path disables the
	// logger: Log becomes a no-op.
	Path string
	// MaxBytes triggers rotation once the current file exceeds it. Zero
	// disables rotation.
	MaxBytes int64
}

// New opens (creating if necessary) the traffic log at opts.Path and
// starts its writer goroutine. If opts.Path is empty, the returned
// Logger discards every entry.
func New(opts Options) (*Logger, error) {
	l := &Logger{
		log:      opts.Log,
		path:     opts.Path,
		maxBytes: opts.MaxBytes,
		entries:  make(chan Entry, queueDepth),
		done:     make(chan struct{}),
	}

	if opts.Path == "" {
		close(l.done)
		return l, nil
	}

	if err := l.openFile(); err != nil {
		return nil, err
	}

	go l.run()
	return l, nil
}

func (l *Logger) openFile() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("trafficlog: open %s: %w", l.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("trafficlog: stat %s: %w", l.path, err)
	}

	l.mu.Lock()
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.writtenSize = info.Size()
	l.mu.Unlock()
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for entry := range l.entries {
		l.writeEntry(entry)
	}
	l.mu.Lock()
	if l.writer != nil {
		_ = l.writer.Flush()
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	l.mu.Unlock()
}

func (l *Logger) writeEntry(entry Entry) {
	line := fmt.Sprintf("%s %d %s %s %s\n",
		entry.When.UTC().Format(timestampLayout),
		entry.SessionID,
		entry.Peer,
		entry.Direction,
		entry.Line,
	)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer == nil {
		return
	}
	n, err := l.writer.WriteString(line)
	if err != nil {
		l.log.Warn("traffic log write failed", zap.Error(err))
		return
	}
	l.writtenSize += int64(n)

	if l.maxBytes > 0 && l.writtenSize >= l.maxBytes {
		l.rotateLocked()
	}
}

// rotateLocked renames the current file aside with a timestamp suffix
// and reopens path fresh. Caller must hold l.mu.
func (l *Logger) rotateLocked() {
	_ = l.writer.Flush()
	_ = l.file.Close()

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		l.log.Warn("traffic log rotation rename failed", zap.Error(err))
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.log.Error("traffic log reopen after rotation failed", zap.Error(err))
		l.file = nil
		l.writer = nil
		return
	}
	l.file = f
	l.writer = bufio.NewWriter(f)
	l.writtenSize = 0
}

// Log enqueues entry for writing. It never blocks the caller: once the
// queue is full, the entry is dropped and counted (spec §5, "do not let
// one slow consumer stall the router core").
func (l *Logger) Log(entry Entry) {
	select {
	case l.entries <- entry:
	default:
		dropped := atomic.AddInt64(&l.dropped, 1)
		l.log.Warn("traffic log queue full, dropping entry", zap.Int64("session_id", entry.SessionID), zap.Int64("dropped", dropped))
	}
}

// Close stops accepting new entries and waits for the writer goroutine
// to flush and close the file.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.entries)
	})
	<-l.done
}
