package detection

import (
	"sync"
	"time"
)

// RateTracker estimates packets per second for each source over a trailing window.
// Timestamps for one source are expected in arrival order; an out-of-order
// timestamp is kept and may delay pruning until a newer one arrives.
type RateTracker struct {
	mu      sync.Mutex
	window  time.Duration
	windows map[string][]time.Time
}

func NewRateTracker(window time.Duration) *RateTracker {
	if window <= 0 {
		window = time.Second
	}
	return &RateTracker{
		window:  window,
		windows: make(map[string][]time.Time),
	}
}

// Add records one event for src and evicts entries older than the window
func (r *RateTracker) Add(src string, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := append(r.windows[src], ts)
	drop := 0
	for drop < len(q) && ts.Sub(q[drop]) > r.window {
		drop++
	}
	if drop > 0 {
		q = append(q[:0], q[drop:]...)
	}
	r.windows[src] = q
}

// PPS returns the current rate for src, 0 when nothing was seen
func (r *RateTracker) PPS(src string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.windows[src]
	if len(q) == 0 {
		return 0
	}
	return float64(len(q)) / r.window.Seconds()
}

// Forget drops windows whose newest entry is older than cutoff and
// returns how many sources were removed.
func (r *RateTracker) Forget(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for src, q := range r.windows {
		if len(q) == 0 || q[len(q)-1].Before(cutoff) {
			delete(r.windows, src)
			removed++
		}
	}
	return removed
}

// Sources returns the number of tracked sources
func (r *RateTracker) Sources() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}
