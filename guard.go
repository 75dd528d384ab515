package tokenguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// MetricsHooks receives counters for guard decisions. Implementations must
// be safe for concurrent use. The metrics subpackage provides a Prometheus
// implementation.
type MetricsHooks interface {
	OperationBegun(kind OperationKind)
	OperationBlocked(kind OperationKind, code string)
	OperationSettled(kind OperationKind, outcome string, elapsed time.Duration)
	WarningObserved(kind WarningKind)
	CheckFailed(check string)
	SweepRemoved(table string, removed int)
}

type nopMetrics struct{}

func (nopMetrics) OperationBegun(OperationKind)                         {}
func (nopMetrics) OperationBlocked(OperationKind, string)               {}
func (nopMetrics) OperationSettled(OperationKind, string, time.Duration) {}
func (nopMetrics) WarningObserved(WarningKind)                          {}
func (nopMetrics) CheckFailed(string)                                   {}
func (nopMetrics) SweepRemoved(string, int)                             {}

// Guard composes the lock manager, attempt tracker, and validation pipeline
// into a single entry point for guarding operations. The three components
// share no state with each other; Guard owns the composition and the event
// reporting around it.
//
// Construct one Guard at process start and tear it down with Close at
// shutdown. All methods are safe for concurrent use.
type Guard struct {
	locks      *LockManager
	attempts   *AttemptTracker
	validator  *Validator
	sink       EventSink
	clock      Clock
	logger     pslog.Logger
	metrics    MetricsHooks
	normalizer IdentityNormalizer
}

type guardConfig struct {
	locks      *LockManager
	attempts   *AttemptTracker
	validator  *Validator
	sink       EventSink
	clock      Clock
	logger     pslog.Logger
	metrics    MetricsHooks
	normalizer IdentityNormalizer
}

// Option configures a Guard.
type Option func(*guardConfig)

// WithLockManager sets a pre-built lock manager.
func WithLockManager(locks *LockManager) Option {
	return func(c *guardConfig) {
		c.locks = locks
	}
}

// WithAttemptTracker sets a pre-built attempt tracker.
func WithAttemptTracker(attempts *AttemptTracker) Option {
	return func(c *guardConfig) {
		c.attempts = attempts
	}
}

// WithValidator sets a pre-built validation pipeline.
func WithValidator(validator *Validator) Option {
	return func(c *guardConfig) {
		c.validator = validator
	}
}

// WithEventSink sets the sink receiving audit events. Default: discard.
func WithEventSink(sink EventSink) Option {
	return func(c *guardConfig) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithClock sets the time source. Components built by New inherit it;
// components supplied via With*Manager options keep their own.
func WithClock(clock Clock) Option {
	return func(c *guardConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the guard logger. Default: discard.
func WithLogger(logger pslog.Logger) Option {
	return func(c *guardConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics hooks. Default: no-op.
func WithMetrics(metrics MetricsHooks) Option {
	return func(c *guardConfig) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// WithIdentityNormalizer sets the identity canonicalizer used by Begin.
// Default: trim whitespace only.
func WithIdentityNormalizer(normalizer IdentityNormalizer) Option {
	return func(c *guardConfig) {
		if normalizer != nil {
			c.normalizer = normalizer
		}
	}
}

// New creates a Guard. Components not supplied via options are built with
// defaults sharing the guard's clock and logger.
func New(opts ...Option) *Guard {
	cfg := &guardConfig{
		sink:       NopSink(),
		clock:      RealClock{},
		logger:     pslog.NoopLogger(),
		metrics:    nopMetrics{},
		normalizer: passthroughNormalizer{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.locks == nil {
		cfg.locks = NewLockManager(WithLockClock(cfg.clock))
	}
	if cfg.attempts == nil {
		cfg.attempts = NewAttemptTracker(WithAttemptClock(cfg.clock))
	}
	if cfg.validator == nil {
		cfg.validator = NewValidator(
			WithValidationClock(cfg.clock),
			WithValidationLogger(cfg.logger),
		)
	}
	return &Guard{
		locks:      cfg.locks,
		attempts:   cfg.attempts,
		validator:  cfg.validator,
		sink:       cfg.sink,
		clock:      cfg.clock,
		logger:     cfg.logger,
		metrics:    cfg.metrics,
		normalizer: cfg.normalizer,
	}
}

// Close releases guard-owned resources. The in-memory tables need no
// teardown; Close exists so embedders can defer a single call and so future
// backends have a hook.
func (g *Guard) Close() error {
	return nil
}

// Locks returns the underlying lock manager.
func (g *Guard) Locks() *LockManager { return g.locks }

// Attempts returns the underlying attempt tracker.
func (g *Guard) Attempts() *AttemptTracker { return g.attempts }

// Validator returns the underlying validation pipeline.
func (g *Guard) Validator() *Validator { return g.validator }

// NormalizeIdentity applies the configured identity normalizer.
func (g *Guard) NormalizeIdentity(identity string) (string, error) {
	return g.normalizer.Normalize(identity)
}

// ==================== Guarded operation flow ====================

// OperationRequest describes one operation attempt to be guarded.
type OperationRequest struct {
	// Identity is the external actor the operation is attributed to.
	Identity string
	// Kind scopes the lock. Must be a supported operation kind.
	Kind OperationKind
	// Payload, when present, runs through the validation pipeline. A nil
	// payload skips validation, e.g. for plain transaction guarding.
	Payload *AssetPayload
	// FailureKey keys the attempt tracker. Defaults to the normalized
	// identity; callers may combine network origin and identity for
	// stronger binding.
	FailureKey string
}

// Operation is a granted, in-flight guarded operation. Exactly one of
// Succeed, Fail, or Abandon should be called when the operation finishes;
// later calls are no-ops.
type Operation struct {
	ID         string
	Identity   string
	Kind       OperationKind
	FailureKey string
	// Warnings are the advisory findings from the validation pipeline.
	Warnings []Warning
	// ExpiresAt is when the held lock lapses on its own.
	ExpiresAt time.Time

	guard   *Guard
	beganAt time.Time

	mu      sync.Mutex
	settled bool
}

// Begin guards one operation attempt: it short-circuits identifiers already
// over the failure threshold, runs the validation pipeline, and acquires
// the (identity, kind) lock. On success the returned Operation carries any
// advisory warnings and must be settled via Succeed, Fail, or Abandon.
//
// Contention and throttle blocks come back as *GuardError with distinct
// codes; see IsContention and IsThrottled.
func (g *Guard) Begin(ctx context.Context, req OperationRequest) (*Operation, error) {
	if !req.Kind.Valid() {
		return nil, NewGuardError(ErrCodeInvalidPayload,
			fmt.Sprintf("unknown operation kind %q", req.Kind), nil)
	}
	identity, err := g.normalizer.Normalize(req.Identity)
	if err != nil {
		return nil, NewGuardError(ErrCodeInvalidPayload,
			fmt.Sprintf("invalid identity: %v", err),
			map[string]interface{}{"identity": req.Identity})
	}
	if identity == "" {
		return nil, NewGuardError(ErrCodeInvalidPayload, "identity is required", nil)
	}
	failureKey := req.FailureKey
	if failureKey == "" {
		failureKey = identity
	}

	if g.attempts.Blocked(failureKey) {
		retryAfter := g.attempts.RetryAfter(failureKey)
		g.emit(ctx, Event{
			Kind:     EventRateLimitExceeded,
			Message:  "operation rejected, identifier over the failure threshold",
			Identity: identity,
			Metadata: map[string]interface{}{
				"failureKey":        failureKey,
				"kind":              string(req.Kind),
				"retryAfterSeconds": int64(retryAfter / time.Second),
			},
		})
		g.metrics.OperationBlocked(req.Kind, ErrCodeThrottled)
		return nil, ErrThrottled(failureKey, retryAfter)
	}

	var warnings []Warning
	if req.Payload != nil {
		report := g.validator.Validate(ctx, *req.Payload)
		for _, w := range report.Warnings {
			g.emit(ctx, Event{
				Kind:     eventKindForWarning(w.Kind),
				Message:  w.Message,
				Identity: identity,
				Metadata: w.Detail,
			})
			g.metrics.WarningObserved(w.Kind)
		}
		for _, f := range report.Failures {
			g.emit(ctx, Event{
				Kind:     EventInternalError,
				Message:  fmt.Sprintf("validation check %s failed: %s", f.Check, f.Err),
				Identity: identity,
				Metadata: map[string]interface{}{"check": f.Check},
			})
			g.metrics.CheckFailed(f.Check)
		}
		warnings = report.Warnings
	}

	if !g.locks.Acquire(identity, req.Kind) {
		g.emit(ctx, Event{
			Kind:     EventConcurrentOperation,
			Message:  fmt.Sprintf("%s operation already in progress", req.Kind),
			Identity: identity,
			Metadata: map[string]interface{}{"kind": string(req.Kind)},
		})
		g.metrics.OperationBlocked(req.Kind, ErrCodeContention)
		return nil, ErrContention(identity, req.Kind)
	}
	g.metrics.OperationBegun(req.Kind)

	lock, _ := g.locks.Get(identity, req.Kind)
	return &Operation{
		ID:         uuid.NewString(),
		Identity:   identity,
		Kind:       req.Kind,
		FailureKey: failureKey,
		Warnings:   warnings,
		ExpiresAt:  lock.ExpiresAt,
		guard:      g,
		beganAt:    g.clock.Now(),
	}, nil
}

// Succeed marks the lock validated and leaves it to expire naturally as a
// cool-down. The failure counter is untouched; clearing it is an explicit
// collaborator decision via Reset.
func (op *Operation) Succeed() {
	op.settle("succeeded", func(g *Guard) {
		g.locks.MarkValidated(op.Identity, op.Kind)
	})
}

// Fail releases the lock immediately and records a failure against the
// operation's failure key. If this failure crosses the block threshold, a
// RATE_LIMIT_EXCEEDED event is emitted; the block itself is enforced on the
// next Begin.
func (op *Operation) Fail() {
	op.settle("failed", func(g *Guard) {
		g.locks.Release(op.Identity, op.Kind)
		if g.attempts.RecordFailure(op.FailureKey) {
			g.emit(context.Background(), Event{
				Kind:     EventRateLimitExceeded,
				Message:  "failure threshold crossed, identifier blocked",
				Identity: op.Identity,
				Metadata: map[string]interface{}{
					"failureKey": op.FailureKey,
					"kind":       string(op.Kind),
				},
			})
		}
	})
}

// Abandon records an abandoned request. Equivalent to Fail: an aborted
// request is treated as a failed one for lock-release purposes.
func (op *Operation) Abandon() {
	op.Fail()
}

// Settled reports whether an outcome has been recorded.
func (op *Operation) Settled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.settled
}

func (op *Operation) settle(outcome string, apply func(*Guard)) {
	op.mu.Lock()
	if op.settled {
		op.mu.Unlock()
		return
	}
	op.settled = true
	op.mu.Unlock()

	apply(op.guard)
	op.guard.metrics.OperationSettled(op.Kind, outcome, op.guard.clock.Now().Sub(op.beganAt))
}

// ==================== Direct component surface ====================

// Acquire grants the (identity, kind) lock directly, bypassing validation
// and the throttle short-circuit. Most callers want Begin; the direct
// surface exists for collaborators composing the components by hand.
// Identities are used as-is, see NormalizeIdentity.
func (g *Guard) Acquire(identity string, kind OperationKind) bool {
	return g.locks.Acquire(identity, kind)
}

// Release removes the (identity, kind) lock, reporting whether one existed.
func (g *Guard) Release(identity string, kind OperationKind) bool {
	return g.locks.Release(identity, kind)
}

// MarkValidated flips the validated flag on the (identity, kind) lock.
func (g *Guard) MarkValidated(identity string, kind OperationKind) bool {
	return g.locks.MarkValidated(identity, kind)
}

// RecordFailure notes a failure and reports whether the identifier should
// now be blocked.
func (g *Guard) RecordFailure(identifier string) bool {
	return g.attempts.RecordFailure(identifier)
}

// Reset clears the failure record for an identifier.
func (g *Guard) Reset(identifier string) bool {
	return g.attempts.Reset(identifier)
}

// ThrottleBlocked reports whether the identifier is currently blocked.
func (g *Guard) ThrottleBlocked(identifier string) bool {
	return g.attempts.Blocked(identifier)
}

// Validate runs the validation pipeline over a payload.
func (g *Guard) Validate(ctx context.Context, payload AssetPayload) ValidationReport {
	return g.validator.Validate(ctx, payload)
}

// RecordEvent forwards an event to the guard's sink with the usual
// fire-and-forget guarantees, stamping ID and time if unset.
func (g *Guard) RecordEvent(ctx context.Context, event Event) {
	g.emit(ctx, event)
}

// emit hands an event to the sink. Sink errors and panics are logged and
// swallowed: recording must never block or fail the guarded operation.
func (g *Guard) emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = g.clock.Now()
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("event sink panicked", "kind", string(event.Kind), "panic", fmt.Sprint(r))
		}
	}()
	if err := g.sink.RecordEvent(ctx, event); err != nil {
		g.logger.Warn("event sink failed", "kind", string(event.Kind), "error", err)
	}
}

func eventKindForWarning(kind WarningKind) EventKind {
	switch kind {
	case WarningSpoofing:
		return EventSpoofingSuspected
	case WarningSupply:
		return EventSupplyAnomaly
	case WarningTimestamp:
		return EventTimestampAnomaly
	default:
		return EventInternalError
	}
}
