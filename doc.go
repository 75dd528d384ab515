// Package tokenguard guards state-mutating wallet operations against abuse:
// double-submission races, brute-force retries, and economically suspicious
// token payloads (spoofed names, oversized supplies, stale timestamps).
//
// # Overview
//
// The guard is built from three independent, composable components, each a
// self-contained piece of process-wide state with its own expiry policy:
//
//   - LockManager grants a short-lived exclusivity token per
//     (identity, operation kind) pair so two operations for the same identity
//     never run concurrently.
//   - AttemptTracker counts failures per identifier over a sliding window and
//     signals when the block threshold is crossed.
//   - Validator runs stateless advisory checks over a proposed token payload
//     and attaches warnings without blocking the request.
//
// Guard composes the three: an incoming operation is short-circuited if its
// identifier is over the failure threshold, validated, then granted the lock.
// Outcomes are reported back on the returned Operation: Fail releases the
// lock and records a failure, Succeed marks the lock validated and leaves it
// to expire naturally as a cool-down.
//
// # Usage
//
// Basic usage with defaults (in-memory state, no event persistence):
//
//	guard := tokenguard.New()
//	defer guard.Close()
//
//	op, err := guard.Begin(ctx, tokenguard.OperationRequest{
//	    Identity: "evm:0x742d35Cc6634C0532925a3b844Bc454e4438f44e",
//	    Kind:     tokenguard.OperationIssuance,
//	    Payload:  &payload,
//	})
//	if err != nil {
//	    return err // contention or throttled
//	}
//	for _, w := range op.Warnings {
//	    // advisory only, relay or ignore
//	}
//	if issueErr := issue(ctx, payload); issueErr != nil {
//	    op.Fail()
//	    return issueErr
//	}
//	op.Succeed()
//
// Custom limits and an event sink:
//
//	guard := tokenguard.New(
//	    tokenguard.WithLockManager(tokenguard.NewLockManager(
//	        tokenguard.WithLockTTL(5*time.Minute),
//	    )),
//	    tokenguard.WithEventSink(sink),
//	)
//
// All state is in-memory and lost on process restart, which is acceptable
// given the short TTLs involved. Expired entries are superseded lazily and
// removed in bulk by a Sweeper.
//
// The guard performs no on-chain verification and no cryptographic signature
// checks. It gates application-level concurrency and heuristic fraud signals
// only.
package tokenguard
