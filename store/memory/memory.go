// Package memory provides an in-process AuditStore backed by a bounded
// ring of events. Suited to tests and single-node deployments that only
// need recent history.
package memory

import (
	"context"
	"sync"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

// DefaultCapacity bounds the ring when no capacity option is given.
const DefaultCapacity = 10000

// Store keeps the most recent events in memory, evicting the oldest once
// capacity is reached.
type Store struct {
	mu       sync.RWMutex
	events   []tokenguard.Event
	capacity int
}

var _ store.AuditStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds the number of retained events. Default: 10000.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordEvent appends the event, evicting the oldest entry at capacity.
func (s *Store) RecordEvent(_ context.Context, event tokenguard.Event) error {
	if event.ID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) >= s.capacity {
		copy(s.events, s.events[1:])
		s.events = s.events[:len(s.events)-1]
	}
	s.events = append(s.events, cloneEvent(event))
	return nil
}

// ListEvents returns matching events, most recent first.
func (s *Store) ListEvents(_ context.Context, filter store.EventFilter) ([]tokenguard.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tokenguard.Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if matches(s.events[i], filter) {
			out = append(out, cloneEvent(s.events[i]))
		}
	}
	return out, nil
}

// GetEvent returns the retained event with the given id.
func (s *Store) GetEvent(_ context.Context, id string) (tokenguard.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].ID == id {
			return cloneEvent(s.events[i]), nil
		}
	}
	return tokenguard.Event{}, store.ErrNotFound
}

// CountEvents returns the number of matching retained events.
func (s *Store) CountEvents(_ context.Context, filter store.EventFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, event := range s.events {
		if matches(event, filter) {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func matches(event tokenguard.Event, filter store.EventFilter) bool {
	if filter.Identity != "" && event.Identity != filter.Identity {
		return false
	}
	if filter.Kind != "" && event.Kind != filter.Kind {
		return false
	}
	if !filter.Since.IsZero() && event.At.Before(filter.Since) {
		return false
	}
	return true
}

// cloneEvent copies the event with its metadata map so callers and the ring
// never share mutable state.
func cloneEvent(event tokenguard.Event) tokenguard.Event {
	if event.Metadata == nil {
		return event
	}
	metadata := make(map[string]interface{}, len(event.Metadata))
	for k, v := range event.Metadata {
		metadata[k] = v
	}
	event.Metadata = metadata
	return event
}
