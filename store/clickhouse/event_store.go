package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

// Store persists guard events in a MergeTree table. MergeTree does not
// enforce uniqueness, so duplicate ids are deduplicated at query time by
// collaborators if they replay deliveries.
type Store struct {
	conn *Conn
}

var _ store.AuditStore = (*Store)(nil)

// New connects to ClickHouse and wraps the connection in a Store.
func New(ctx context.Context, dsn string) (*Store, error) {
	conn, err := NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{conn: conn}, nil
}

// NewWithConn wraps an existing connection.
func NewWithConn(conn *Conn) *Store {
	return &Store{conn: conn}
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS guard_events (
	id       String,
	kind     LowCardinality(String),
	message  String,
	identity String,
	metadata String,
	at       DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (at, id)
`

// EnsureSchema creates the guard_events table if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure clickhouse schema: %w", err)
	}
	return nil
}

const insertEventsSQL = `INSERT INTO guard_events (id, kind, message, identity, metadata, at)`

// RecordEvent inserts one event. Prefer the BatchRecorder on hot paths.
func (s *Store) RecordEvent(ctx context.Context, event tokenguard.Event) error {
	return s.RecordEvents(ctx, []tokenguard.Event{event})
}

// RecordEvents inserts a batch of events in one round trip.
func (s *Store) RecordEvents(ctx context.Context, events []tokenguard.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, insertEventsSQL)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, event := range events {
		if event.ID == "" {
			return fmt.Errorf("%w: event id is required", store.ErrInvalidInput)
		}
		metadata, err := encodeMetadata(event.Metadata)
		if err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		if err := batch.Append(
			event.ID, string(event.Kind), event.Message, event.Identity, metadata, event.At,
		); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetEvent returns the event with the given id, or store.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (tokenguard.Event, error) {
	query := `
		SELECT id, kind, message, identity, metadata, at
		FROM guard_events
		WHERE id = ?
		LIMIT 1
	`
	rows, err := s.conn.Query(ctx, query, id)
	if err != nil {
		return tokenguard.Event{}, fmt.Errorf("get event: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return tokenguard.Event{}, fmt.Errorf("get event: %w", err)
		}
		return tokenguard.Event{}, fmt.Errorf("%w: event %s", store.ErrNotFound, id)
	}
	return scanEvent(rows)
}

// ListEvents returns matching events, most recent first.
func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]tokenguard.Event, error) {
	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, kind, message, identity, metadata, at
		FROM guard_events%s
		ORDER BY at DESC
		LIMIT ?
	`, where)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []tokenguard.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// CountEvents returns the number of matching events, ignoring Limit.
func (s *Store) CountEvents(ctx context.Context, filter store.EventFilter) (int64, error) {
	where, args := buildFilter(filter)
	var count uint64
	err := s.conn.QueryRow(ctx, "SELECT count() FROM guard_events"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return int64(count), nil
}

func buildFilter(filter store.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Identity != "" {
		conds = append(conds, "identity = ?")
		args = append(args, filter.Identity)
	}
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "at >= ?")
		args = append(args, filter.Since)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(rows driver.Rows) (tokenguard.Event, error) {
	var event tokenguard.Event
	var kind, metadata string
	if err := rows.Scan(&event.ID, &kind, &event.Message, &event.Identity, &metadata, &event.At); err != nil {
		return tokenguard.Event{}, fmt.Errorf("scan event row: %w", err)
	}
	event.Kind = tokenguard.EventKind(kind)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
			return tokenguard.Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return event, nil
}

// encodeMetadata renders metadata as a JSON string column value; nil maps to
// the empty string.
func encodeMetadata(metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		return "", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
