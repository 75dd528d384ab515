// Package store defines the persistence contract for guard audit events and
// shared errors for its backends. The memory, postgres, and clickhouse
// subpackages provide implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tokenguard/tokenguard"
)

// Common store errors
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateKey indicates a record with the same id already exists.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrInvalidInput indicates the record or filter cannot be stored or
	// evaluated as given.
	ErrInvalidInput = errors.New("store: invalid input")
)

// EventFilter narrows event queries. Zero values mean "any".
type EventFilter struct {
	// Identity selects events attributed to one identity.
	Identity string
	// Kind selects one event kind.
	Kind tokenguard.EventKind
	// Since selects events recorded at or after this instant.
	Since time.Time
	// Limit caps the number of returned events; zero means backend default.
	Limit int
}

// AuditStore persists guard events for later review. RecordEvent satisfies
// tokenguard.EventSink, so a store can be handed to the guard directly
// (usually wrapped in a tokenguard.AsyncSink to keep writes off the request
// path). Implementations must be safe for concurrent use.
type AuditStore interface {
	RecordEvent(ctx context.Context, event tokenguard.Event) error
	// ListEvents returns matching events, most recent first.
	ListEvents(ctx context.Context, filter EventFilter) ([]tokenguard.Event, error)
	// CountEvents returns the number of matching events, ignoring Limit.
	CountEvents(ctx context.Context, filter EventFilter) (int64, error)
	Close() error
}

// DefaultListLimit caps ListEvents results when the filter leaves Limit zero.
const DefaultListLimit = 100
