package tokenguard

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// Sweep cadence defaults
const (
	DefaultLockSweepInterval    = time.Minute
	DefaultAttemptSweepInterval = 10 * time.Minute
)

// Sweeper periodically removes expired locks and attempt records. Expiry is
// already enforced lazily on access; sweeping only reclaims memory, so a
// missed tick is harmless. Each table sweeps on its own ticker and holds the
// table lock for a single pass at most.
type Sweeper struct {
	guard           *Guard
	lockInterval    time.Duration
	attemptInterval time.Duration
	logger          pslog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     sync.WaitGroup
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithLockSweepInterval sets the lock sweep cadence. Default: 1 minute.
func WithLockSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.lockInterval = d
		}
	}
}

// WithAttemptSweepInterval sets the attempt sweep cadence.
// Default: 10 minutes.
func WithAttemptSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.attemptInterval = d
		}
	}
}

// WithSweepLogger sets the logger for sweep results.
func WithSweepLogger(logger pslog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a sweeper for the guard's tables. Call Start to begin
// sweeping and Stop to halt it.
func NewSweeper(guard *Guard, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		guard:           guard,
		lockInterval:    DefaultLockSweepInterval,
		attemptInterval: DefaultAttemptSweepInterval,
		logger:          pslog.NoopLogger(),
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches one sweep loop per table. It must be called at most once;
// the loops exit when ctx is canceled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.done.Add(2)
	go s.loop(ctx, s.lockInterval, "locks", s.guard.locks.SweepExpired)
	go s.loop(ctx, s.attemptInterval, "attempts", s.guard.attempts.SweepExpired)
}

// Stop halts the sweep loops and waits for them to exit. Safe to call more
// than once and without a prior Start.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.done.Wait()
}

func (s *Sweeper) loop(ctx context.Context, every time.Duration, table string, sweep func() int) {
	defer s.done.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := sweep()
			s.guard.metrics.SweepRemoved(table, removed)
			if removed > 0 {
				s.logger.Debug("swept expired entries", "table", table, "removed", removed)
			}
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		}
	}
}
