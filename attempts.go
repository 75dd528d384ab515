package tokenguard

import (
	"sync"
	"time"
)

// Attempt tracker defaults
const (
	// DefaultMaxAttempts is the number of in-window failures tolerated
	// before an identifier is blocked.
	DefaultMaxAttempts = 5
	// DefaultAttemptWindow is the sliding window over which failures
	// accumulate before being forgiven.
	DefaultAttemptWindow = 30 * time.Minute
)

type attemptRecord struct {
	count         uint
	lastAttemptAt time.Time
}

// AttemptTracker counts failures per identifier over a sliding window and
// signals when the block threshold is crossed. The window slides by touch:
// every failure refreshes the expiry, so a burst inside the window trips
// the threshold while a slow trickle is forgiven once the window closes.
//
// The blocking decision is stateless given the stored record; no separate
// block state is persisted. All methods are non-blocking and safe for
// concurrent use.
type AttemptTracker struct {
	mu      sync.Mutex
	records map[string]*attemptRecord
	max     uint
	window  time.Duration
	clock   Clock
}

// AttemptOption configures an AttemptTracker.
type AttemptOption func(*AttemptTracker)

// WithMaxAttempts sets the failure threshold. Default: 5.
func WithMaxAttempts(n int) AttemptOption {
	return func(t *AttemptTracker) {
		if n > 0 {
			t.max = uint(n)
		}
	}
}

// WithAttemptWindow sets the sliding window. Default: 30 minutes.
func WithAttemptWindow(d time.Duration) AttemptOption {
	return func(t *AttemptTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithAttemptClock sets the time source. Default: the wall clock.
func WithAttemptClock(clock Clock) AttemptOption {
	return func(t *AttemptTracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// NewAttemptTracker creates an empty attempt table.
func NewAttemptTracker(opts ...AttemptOption) *AttemptTracker {
	t := &AttemptTracker{
		records: make(map[string]*attemptRecord),
		max:     DefaultMaxAttempts,
		window:  DefaultAttemptWindow,
		clock:   RealClock{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure notes one failure for the identifier and reports whether it
// should now be blocked. A record still inside the window is incremented
// and its expiry refreshed; a missing or expired record is replaced with a
// fresh count of one, which never blocks. The threshold must be exceeded,
// not merely reached: with the default limit of 5, the sixth in-window
// failure is the first to return true.
func (t *AttemptTracker) RecordFailure(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if rec, exists := t.records[identifier]; exists && now.Sub(rec.lastAttemptAt) < t.window {
		rec.count++
		rec.lastAttemptAt = now
		return rec.count > t.max
	}
	t.records[identifier] = &attemptRecord{count: 1, lastAttemptAt: now}
	return false
}

// Blocked reports whether the identifier is currently over the failure
// threshold, without recording anything. Used to short-circuit entry for
// identifiers already blocked so the peek itself does not inflate the
// counter or slide the window.
func (t *AttemptTracker) Blocked(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[identifier]
	if !exists {
		return false
	}
	return t.clock.Now().Sub(rec.lastAttemptAt) < t.window && rec.count > t.max
}

// RetryAfter returns how long until a blocked identifier's window closes,
// or zero if the identifier is not currently blocked.
func (t *AttemptTracker) RetryAfter(identifier string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[identifier]
	if !exists || rec.count <= t.max {
		return 0
	}
	remaining := rec.lastAttemptAt.Add(t.window).Sub(t.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset removes any record for the identifier and returns whether one
// existed. Exposed for collaborators after a verified-legitimate recovery;
// the guard itself never calls it.
func (t *AttemptTracker) Reset(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.records[identifier]
	delete(t.records, identifier)
	return existed
}

// SweepExpired removes records whose last attempt fell out of the window
// and returns the number removed.
func (t *AttemptTracker) SweepExpired() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := 0
	for identifier, rec := range t.records {
		if now.Sub(rec.lastAttemptAt) >= t.window {
			delete(t.records, identifier)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored records, expired-but-unswept included.
func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// MaxAttempts returns the configured failure threshold.
func (t *AttemptTracker) MaxAttempts() int {
	return int(t.max)
}

// Window returns the configured sliding window.
func (t *AttemptTracker) Window() time.Duration {
	return t.window
}
