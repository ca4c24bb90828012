// Package cache implements the router's in-memory variable cache: the
// latest value seen for every keyword the upstream (or a client) has
// published, keyed for fast catalogue-order snapshotting on welcome.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aerowinx/frankenrouter/protocol"
)

// ErrPureDelta is returned by Put when asked to cache a pure-DELTA
// keyword, which spec §3 forbids outright ("cache NEVER holds a
// pure-DELTA keyword").
var ErrPureDelta = errors.New("cache: refusing to cache a pure-DELTA keyword")

// Update is pushed to every subscriber returned by ListenToUpdates.
type Update struct {
	Keyword string
	Value   string
}

// Entry mirrors spec §3's variable cache entry.
type Entry struct {
	Keyword string
	Value   string
	// Updated is a monotonic per-keyword sequence number, not a wall
	// clock: spec only requires "monotonic per keyword", and a sequence
	// number is race-free without touching the system clock on every
	// write, unlike the original Python implementation's
	// time.perf_counter() timestamps.
	Updated uint64
}

// Store is the variable cache. It is safe for concurrent use, though per
// spec §5 the router core is meant to be its only writer; readers (status
// display, HTTP handlers) call Snapshot/Get directly.
type Store struct {
	cat *protocol.Catalog

	mu     sync.Mutex
	blob   []byte
	seq    map[string]uint64
	nextSeq uint64

	updateChans []chan *Update
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewStore builds an empty cache bound to cat for mode lookups and
// catalogue-order snapshotting.
func NewStore(cat *protocol.Catalog) *Store {
	return &Store{
		cat:    cat,
		blob:   []byte("{}"),
		seq:    map[string]uint64{},
		stop:   make(chan struct{}),
	}
}

// Put stores value for keyword, per spec §4.1's cache_put contract. It
// refuses pure-DELTA keywords (mode == ModeDelta and not additionally
// ECON) rather than relying on every call site to check first.
func (s *Store) Put(keyword, value string) error {
	if s.cat.ModeOf(keyword) == protocol.ModeDelta && !s.cat.IsAlsoECON(keyword) {
		return fmt.Errorf("%w: %s", ErrPureDelta, keyword)
	}

	s.mu.Lock()

	var err error
	s.blob, err = sjson.SetBytes(s.blob, keyword+".value", value)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.nextSeq++
	s.seq[keyword] = s.nextSeq
	s.blob, err = sjson.SetBytes(s.blob, keyword+".updated", s.nextSeq)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	subs := s.subscribersLocked()
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- &Update{Keyword: keyword, Value: value}:
		default:
			// A slow subscriber (status ticker, disk snapshotter) never
			// blocks the core routing goroutine's cache write.
		}
	}

	return nil
}

// Get returns the cached value for keyword, per spec §4.1's cache_get
// contract.
func (s *Store) Get(keyword string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := gjson.GetBytes(s.blob, keyword+".value")
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// Snapshot returns every cached entry whose keyword is in the catalogue,
// in catalogue-declared order, per spec §4.1's cache_snapshot_for_welcome
// contract and §8's "bang reply" boundary test. Cached keywords that the
// catalogue does not list are left out.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, keyword := range s.cat.KeywordOrder() {
		res := gjson.GetBytes(s.blob, keyword+".value")
		if !res.Exists() {
			continue
		}
		out = append(out, Entry{
			Keyword: keyword,
			Value:   res.String(),
			Updated: s.seq[keyword],
		})
	}
	return out
}

// ListenToUpdates returns a new channel that receives every subsequent
// Put, mirroring storage.Store.ListenToUpdates from the teacher.
func (s *Store) ListenToUpdates() <-chan *Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Update, 255)
	if !s.isRunningLocked() {
		close(ch)
		return ch
	}
	s.updateChans = append(s.updateChans, ch)
	return ch
}

// Backup serializes the cache to bytes for optional disk persistence
// (spec §6, "Persisted state").
func (s *Store) Backup() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.blob))
	copy(out, s.blob)
	return out, nil
}

// Restore replaces the cache contents from a prior Backup.
func (s *Store) Restore(values []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blob = values
	return nil
}

// Close stops accepting new subscribers and closes existing update
// channels.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.updateChans {
		close(ch)
	}
	s.updateChans = nil
	return nil
}

func (s *Store) subscribersLocked() []chan *Update {
	if !s.isRunningLocked() {
		return nil
	}
	out := make([]chan *Update, len(s.updateChans))
	copy(out, s.updateChans)
	return out
}

func (s *Store) isRunningLocked() bool {
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}
