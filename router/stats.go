package router

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aerowinx/frankenrouter/httpapi"
	"github.com/aerowinx/frankenrouter/rules"
)

// writeTimeSamples caps how many recent per-write latencies
// writeTimeRecorder keeps, bounding both memory and the cost of the
// sort snapshot performs.
const writeTimeSamples = 512

// writeTimeRecorder is a bounded ring buffer of observed write
// latencies, feeding GET /api/stats's write-time statistics (spec §6).
type writeTimeRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func (w *writeTimeRecorder) record(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.samples == nil {
		w.samples = make([]time.Duration, writeTimeSamples)
	}
	w.samples[w.next] = d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.filled = true
	}
}

func (w *writeTimeRecorder) snapshot() httpapi.WriteTimeStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.next
	if w.filled {
		n = len(w.samples)
	}
	if n == 0 {
		return httpapi.WriteTimeStats{}
	}

	sorted := make([]time.Duration, n)
	copy(sorted, w.samples[:n])
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	mean := float64(sum) / float64(n)

	var variance float64
	for _, d := range sorted {
		diff := float64(d) - mean
		variance += diff * diff
	}
	variance /= float64(n)

	return httpapi.WriteTimeStats{
		MaxMicros:    sorted[n-1].Microseconds(),
		MedianMicros: sorted[n/2].Microseconds(),
		MeanMicros:   mean / float64(time.Microsecond),
		StdDevMicros: math.Sqrt(variance) / float64(time.Microsecond),
	}
}

// filterCounters tallies keywords dropped by each of the elevation/
// traffic/flight-control filters, per spec §4.2 rule 3's "Filtered
// keyword: dropped; counted".
type filterCounters struct {
	elevation      int64
	traffic        int64
	flightControls int64
}

func (f *filterCounters) record(code rules.Code) {
	switch code {
	case rules.CodeFilteredElev:
		atomic.AddInt64(&f.elevation, 1)
	case rules.CodeFilteredTraffic:
		atomic.AddInt64(&f.traffic, 1)
	case rules.CodeFilteredAxis:
		atomic.AddInt64(&f.flightControls, 1)
	}
}

func (f *filterCounters) snapshot() (elevation, traffic, flightControls int64) {
	return atomic.LoadInt64(&f.elevation), atomic.LoadInt64(&f.traffic), atomic.LoadInt64(&f.flightControls)
}
