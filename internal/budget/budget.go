// Package budget tracks the wall-clock budget of one lifecycle event.
//
// A Budget captures its start from a clockwork.Clock once; every later check
// measures elapsed time against that start, so a real clock uses the monotonic
// reading carried by time.Time and is immune to wall-clock jumps mid-event.
package budget

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Budget is a cooperative deadline. It never cancels anything on its own;
// callers check it before optional steps.
type Budget struct {
	clock clockwork.Clock
	start time.Time
	total time.Duration
}

// New starts a budget of total duration now.
func New(clock clockwork.Clock, total time.Duration) *Budget {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Budget{clock: clock, start: clock.Now(), total: total}
}

// Elapsed returns time spent since the budget started.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Since(b.start)
}

// Remaining returns the unspent budget, never negative.
func (b *Budget) Remaining() time.Duration {
	r := b.total - b.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// HasRemaining reports whether at least need is left.
func (b *Budget) HasRemaining(need time.Duration) bool {
	return b.Remaining() >= need
}

// Total returns the configured budget.
func (b *Budget) Total() time.Duration {
	return b.total
}

// Context derives a context that is cancelled after the remaining budget minus
// reserve has passed. A non-positive window yields an already expired context.
func (b *Budget) Context(parent context.Context, reserve time.Duration) (context.Context, context.CancelFunc) {
	window := b.Remaining() - reserve
	if window < 0 {
		window = 0
	}
	return context.WithTimeout(parent, window)
}
