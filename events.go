package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pkt.systems/pslog"
)

// EventKind classifies audit events emitted by the guard.
type EventKind string

// Event kinds
const (
	EventRateLimitExceeded   EventKind = "RATE_LIMIT_EXCEEDED"
	EventConcurrentOperation EventKind = "CONCURRENT_OPERATION"
	EventSpoofingSuspected   EventKind = "SPOOFING_SUSPECTED"
	EventSupplyAnomaly       EventKind = "SUPPLY_ANOMALY"
	EventTimestampAnomaly    EventKind = "TIMESTAMP_ANOMALY"
	EventInternalError       EventKind = "INTERNAL_ERROR"
)

// Event is a single audit record describing a warning, block, or internal
// error surfaced while guarding an operation.
type Event struct {
	ID       string                 `json:"id"`
	Kind     EventKind              `json:"kind"`
	Message  string                 `json:"message"`
	Identity string                 `json:"identity,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	At       time.Time              `json:"at"`
}

// EventSink consumes guard events. Recording is fire-and-forget from the
// guard's point of view: a sink error is logged and swallowed, it never
// blocks or fails the guarded operation.
type EventSink interface {
	RecordEvent(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(ctx context.Context, event Event) error

// RecordEvent calls f.
func (f SinkFunc) RecordEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// NopSink returns a sink that discards every event.
func NopSink() EventSink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) RecordEvent(context.Context, Event) error { return nil }

// MultiSink fans every event out to all sinks. Later sinks still receive
// the event when earlier ones fail; errors are joined.
func MultiSink(sinks ...EventSink) EventSink {
	return multiSink(sinks)
}

type multiSink []EventSink

func (m multiSink) RecordEvent(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoggerSink records every event to logger at info level.
func LoggerSink(logger pslog.Logger) EventSink {
	return SinkFunc(func(_ context.Context, event Event) error {
		logger.Info("guard event",
			"kind", string(event.Kind),
			"identity", event.Identity,
			"message", event.Message,
		)
		return nil
	})
}

// ==================== Async delivery ====================

// AsyncSink decouples event recording from the request path. Events are
// buffered and delivered by a single background goroutine; when the buffer
// is full new events are dropped rather than blocking the caller. A panic
// or error in the wrapped sink is contained and logged.
type AsyncSink struct {
	sink    EventSink
	logger  pslog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	events chan Event
	done   chan struct{}
}

// AsyncOption configures an AsyncSink.
type AsyncOption func(*AsyncSink)

// WithAsyncBuffer sets the event buffer size. Default: 1024.
func WithAsyncBuffer(n int) AsyncOption {
	return func(s *AsyncSink) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// WithAsyncTimeout bounds a single delivery to the wrapped sink.
// Default: 5 seconds.
func WithAsyncTimeout(d time.Duration) AsyncOption {
	return func(s *AsyncSink) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithAsyncLogger sets the logger for dropped and failed deliveries.
func WithAsyncLogger(logger pslog.Logger) AsyncOption {
	return func(s *AsyncSink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewAsyncSink wraps sink with buffered asynchronous delivery. Call Close
// to drain the buffer and stop the delivery goroutine.
func NewAsyncSink(sink EventSink, opts ...AsyncOption) *AsyncSink {
	s := &AsyncSink{
		sink:    sink,
		logger:  pslog.NoopLogger(),
		timeout: 5 * time.Second,
		events:  make(chan Event, 1024),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// RecordEvent enqueues the event without blocking. It returns nil even when
// the event is dropped: async recording never propagates failure back into
// the request path.
func (s *AsyncSink) RecordEvent(_ context.Context, event Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.events <- event:
	default:
		s.logger.Debug("event buffer full, dropping event", "kind", string(event.Kind))
	}
	return nil
}

// Close drains buffered events and stops the delivery goroutine. It is safe
// to call more than once.
func (s *AsyncSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for event := range s.events {
		s.deliver(event)
	}
}

func (s *AsyncSink) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event sink panicked", "kind", string(event.Kind), "panic", fmt.Sprint(r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.sink.RecordEvent(ctx, event); err != nil {
		s.logger.Warn("event sink failed", "kind", string(event.Kind), "error", err)
	}
}

var _ EventSink = (*AsyncSink)(nil)
var _ EventSink = (SinkFunc)(nil)
var _ EventSink = (multiSink)(nil)
