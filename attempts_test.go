package tokenguard

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAttemptTracker_ThresholdBoundary(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(WithAttemptClock(clock), WithMaxAttempts(5))

	// Exactly MAX_ATTEMPTS in-window failures never block.
	for i := 1; i <= 5; i++ {
		if attempts.RecordFailure("wallet-1") {
			t.Errorf("failure %d should not block yet", i)
		}
		clock.Advance(time.Second)
	}

	// The (MAX_ATTEMPTS+1)th failure inside the window is the first to block.
	if !attempts.RecordFailure("wallet-1") {
		t.Error("sixth in-window failure should block")
	}
	if !attempts.RecordFailure("wallet-1") {
		t.Error("further failures should keep blocking")
	}
}

func TestAttemptTracker_WindowExpiryResetsCounter(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(WithAttemptClock(clock), WithAttemptWindow(30*time.Minute))

	for i := 0; i < 6; i++ {
		attempts.RecordFailure("wallet-1")
	}
	if !attempts.Blocked("wallet-1") {
		t.Fatal("identifier should be blocked after six failures")
	}

	// Once the window elapses the record is treated as absent: the next
	// failure starts a fresh count of one and does not block.
	clock.Advance(30 * time.Minute)
	if attempts.Blocked("wallet-1") {
		t.Error("block should lapse with the window")
	}
	if attempts.RecordFailure("wallet-1") {
		t.Error("failure after the window should reset the counter, not block")
	}
}

func TestAttemptTracker_SlidingWindowByTouch(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(
		WithAttemptClock(clock),
		WithAttemptWindow(10*time.Minute),
		WithMaxAttempts(3),
	)

	// Each failure lands just inside the window of the previous one, so the
	// count keeps accumulating even though the first failure is long past.
	for i := 1; i <= 3; i++ {
		if attempts.RecordFailure("wallet-1") {
			t.Errorf("failure %d should not block", i)
		}
		clock.Advance(9 * time.Minute)
	}
	if !attempts.RecordFailure("wallet-1") {
		t.Error("fourth touch-chained failure should block")
	}
}

func TestAttemptTracker_BlockedPeekDoesNotTouch(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(WithAttemptClock(clock), WithAttemptWindow(10*time.Minute))

	attempts.RecordFailure("wallet-1")
	clock.Advance(9 * time.Minute)

	// Peeking must not refresh lastAttemptAt: after one more minute the
	// record falls out of the window despite the peek.
	if attempts.Blocked("wallet-1") {
		t.Error("one failure should not block")
	}
	clock.Advance(time.Minute)
	if attempts.SweepExpired() != 1 {
		t.Error("record should have expired on schedule after the peek")
	}
}

func TestAttemptTracker_RetryAfter(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(WithAttemptClock(clock), WithAttemptWindow(30*time.Minute))

	if attempts.RetryAfter("wallet-1") != 0 {
		t.Error("unknown identifier should have no retry-after")
	}
	for i := 0; i < 6; i++ {
		attempts.RecordFailure("wallet-1")
	}
	if got := attempts.RetryAfter("wallet-1"); got != 30*time.Minute {
		t.Errorf("retry-after = %s, want %s", got, 30*time.Minute)
	}
	clock.Advance(10 * time.Minute)
	if got := attempts.RetryAfter("wallet-1"); got != 20*time.Minute {
		t.Errorf("retry-after after 10m = %s, want %s", got, 20*time.Minute)
	}
}

func TestAttemptTracker_Reset(t *testing.T) {
	attempts := NewAttemptTracker(WithAttemptClock(testClock()))

	if attempts.Reset("wallet-1") {
		t.Error("reset without a record should report false")
	}
	for i := 0; i < 6; i++ {
		attempts.RecordFailure("wallet-1")
	}
	if !attempts.Reset("wallet-1") {
		t.Error("reset with a record should report true")
	}
	if attempts.Blocked("wallet-1") {
		t.Error("reset should clear the block")
	}
	if attempts.RecordFailure("wallet-1") {
		t.Error("first failure after reset should not block")
	}
}

func TestAttemptTracker_SweepExpired(t *testing.T) {
	clock := testClock()
	attempts := NewAttemptTracker(WithAttemptClock(clock), WithAttemptWindow(30*time.Minute))

	attempts.RecordFailure("stale")
	clock.Advance(20 * time.Minute)
	attempts.RecordFailure("fresh")
	clock.Advance(10 * time.Minute)

	// "stale" is exactly at the window boundary, "fresh" has 20m left.
	if removed := attempts.SweepExpired(); removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if attempts.Len() != 1 {
		t.Errorf("expected 1 record to survive, got %d", attempts.Len())
	}
}

func TestAttemptTracker_ConcurrentRecording(t *testing.T) {
	attempts := NewAttemptTracker(WithMaxAttempts(5))

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	blocked := 0

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if attempts.RecordFailure("contested") {
				mu.Lock()
				blocked++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	// 32 failures against a threshold of 5: the first five report false,
	// the remaining 27 report true, with no lost updates.
	if blocked != callers-5 {
		t.Errorf("expected %d blocking results, got %d", callers-5, blocked)
	}
}

func TestAttemptTracker_IdentifiersAreIndependent(t *testing.T) {
	attempts := NewAttemptTracker(WithAttemptClock(testClock()))

	for i := 0; i < 6; i++ {
		attempts.RecordFailure("wallet-1")
	}
	if attempts.Blocked("wallet-2") {
		t.Error("blocking wallet-1 must not affect wallet-2")
	}
	for i := 0; i < 8; i++ {
		attempts.RecordFailure(fmt.Sprintf("wallet-%d", i+10))
	}
	if !attempts.Blocked("wallet-1") {
		t.Error("wallet-1 should remain blocked")
	}
}
