package tokenguard

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSweeper_RemovesExpiredEntries(t *testing.T) {
	clock := testClock()
	guard := New(WithClock(clock))

	guard.Acquire("wallet-1", OperationValidation)
	guard.Acquire("wallet-2", OperationIssuance)
	guard.RecordFailure("wallet-1")

	// Everything is now past both the lock TTL and the attempt window.
	clock.Advance(time.Hour)

	sweeper := NewSweeper(guard,
		WithLockSweepInterval(5*time.Millisecond),
		WithAttemptSweepInterval(5*time.Millisecond),
	)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return guard.Locks().Len() == 0 && guard.Attempts().Len() == 0
	})
}

func TestSweeper_LeavesLiveEntriesAlone(t *testing.T) {
	clock := testClock()
	guard := New(WithClock(clock))

	guard.Acquire("stale", OperationValidation)
	clock.Advance(DefaultLockTTL)
	guard.Acquire("fresh", OperationValidation)

	sweeper := NewSweeper(guard, WithLockSweepInterval(5*time.Millisecond))
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	waitFor(t, 2*time.Second, func() bool {
		return guard.Locks().Len() == 1
	})
	if _, ok := guard.Locks().Get("fresh", OperationValidation); !ok {
		t.Error("live lock should survive sweeping")
	}
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	sweeper := NewSweeper(New(), WithLockSweepInterval(time.Millisecond))
	sweeper.Start(context.Background())
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sweeper := NewSweeper(New(), WithLockSweepInterval(time.Millisecond))
	sweeper.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
