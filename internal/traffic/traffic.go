// Package traffic keeps sliding windows of fetch and ingestion outcomes for
// the health endpoint.
package traffic

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Outcome classifies one recorded event.
type Outcome int

const (
	// OutcomeRemote is a fetch served from a successful provider call.
	OutcomeRemote Outcome = iota
	// OutcomeDegraded is a fetch that fell back to stale cache or the default snapshot.
	OutcomeDegraded
	// OutcomeDenied is an event rejected by the ingestion rate limiter.
	OutcomeDenied
	numOutcomes
)

// DefaultMaxAge bounds how long outcomes are retained.
const DefaultMaxAge = 5 * time.Minute

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	maxAge time.Duration
	times  [numOutcomes][]time.Time
}

// NewTracker creates a Tracker. A nil clock uses the real clock; a zero
// maxAge uses DefaultMaxAge.
func NewTracker(clock clockwork.Clock, maxAge time.Duration) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Tracker{clock: clock, maxAge: maxAge}
}

// Record appends one outcome at the current time. Safe on a nil Tracker.
func (t *Tracker) Record(o Outcome) {
	if t == nil || o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if t == nil || o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countInWindow(t.times[o], t.clock.Now().Add(-window))
}

// DegradedRate returns (degraded, total) fetches within the window.
// Denials are excluded.
func (t *Tracker) DegradedRate(window time.Duration) (degraded, total int) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock.Now().Add(-window)
	degraded = countInWindow(t.times[OutcomeDegraded], cutoff)
	return degraded, degraded + countInWindow(t.times[OutcomeRemote], cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.times {
		t.times[i] = nil
	}
}

// countInWindow counts timestamps that are not before the cutoff time.
func countInWindow(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.maxAge)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
