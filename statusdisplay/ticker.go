// Package statusdisplay renders the router's live operator console, per
// spec §4.7.
package statusdisplay

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aerowinx/frankenrouter/cache"
)

// ClientRow is one row of the status table.
type ClientRow struct {
	ID          int64
	DisplayName string
	QueueDepth  int
	HighWater   bool
}

// Snapshot is everything the display needs to render one frame.
type Snapshot struct {
	UpstreamState string
	Clients       []ClientRow
}

// SnapshotFunc produces the current Snapshot; the router core supplies
// this as a lock-free snapshot accessor (spec §5's "shared-resource
// policy").
type SnapshotFunc func() Snapshot

// Display prints a periodically refreshed status table to an io.Writer,
// and separately reacts to cache updates as they happen. Grounded on the
// teacher's cache.Store.ListenToUpdates subscriber pattern
// (storage/inmemory_store.go's Set, generalized).
type Display struct {
	out      io.Writer
	snapshot SnapshotFunc
	interval time.Duration
	store    *cache.Store
	updates  <-chan *cache.Update
}

// Options configures a new Display.
type Options struct {
	Out      io.Writer
	Snapshot SnapshotFunc
	Interval time.Duration
	// Store, if set, is used to log the most recent cache updates
	// between table refreshes.
	Store *cache.Store
}

// New returns a Display that has not yet started rendering.
func New(opts Options) *Display {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}
	d := &Display{
		out:      opts.Out,
		snapshot: opts.Snapshot,
		interval: interval,
		store:    opts.Store,
	}
	if opts.Store != nil {
		d.updates = opts.Store.ListenToUpdates()
	}
	return d
}

// Run renders a table every interval, and a compact update line whenever
// the cache changes, until ctx is cancelled.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	updates := d.updates

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.renderTable()
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			fmt.Fprintf(d.out, "%s  %-12s = %s\n", time.Now().Format("15:04:05"), u.Keyword, u.Value)
		}
	}
}

func (d *Display) renderTable() {
	if d.snapshot == nil {
		return
	}
	snap := d.snapshot()

	rows := make([]ClientRow, len(snap.Clients))
	copy(rows, snap.Clients)
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	fmt.Fprintf(d.out, "--- upstream: %s --- clients: %d ---\n", snap.UpstreamState, len(rows))
	for _, r := range rows {
		warn := ""
		if r.HighWater {
			warn = " [HIGH WATER]"
		}
		fmt.Fprintf(d.out, "  #%-4d %-24s queue=%-6d%s\n", r.ID, r.DisplayName, r.QueueDepth, warn)
	}
}
