package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tokenguard/tokenguard"
	"github.com/tokenguard/tokenguard/store"
)

var _ store.AuditStore = (*Store)(nil)

const insertEventSQL = `
INSERT INTO guard_events (id, kind, message, identity, metadata, at)
VALUES ($1, $2, $3, $4, $5, $6)
`

// RecordEvent inserts one event. Replayed ids map to store.ErrDuplicateKey
// so async deliveries can be retried without double-recording.
func (s *Store) RecordEvent(ctx context.Context, event tokenguard.Event) error {
	if event.ID == "" {
		return fmt.Errorf("%w: event id is required", store.ErrInvalidInput)
	}
	metadata, err := encodeMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}

	_, err = s.pool.Exec(ctx, insertEventSQL,
		event.ID, string(event.Kind), event.Message, event.Identity, metadata, event.At)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: event %s", store.ErrDuplicateKey, event.ID)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

const selectEventSQL = `
SELECT id, kind, message, identity, metadata, at FROM guard_events WHERE id = $1
`

// GetEvent returns the event with the given id, or store.ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (tokenguard.Event, error) {
	row := s.pool.QueryRow(ctx, selectEventSQL, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tokenguard.Event{}, fmt.Errorf("%w: event %s", store.ErrNotFound, id)
	}
	if err != nil {
		return tokenguard.Event{}, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListEvents returns matching events, most recent first.
func (s *Store) ListEvents(ctx context.Context, filter store.EventFilter) ([]tokenguard.Event, error) {
	where, args := buildFilter(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT id, kind, message, identity, metadata, at FROM guard_events%s ORDER BY at DESC LIMIT $%d`,
		where, len(args))
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []tokenguard.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// CountEvents returns the number of matching events, ignoring Limit.
func (s *Store) CountEvents(ctx context.Context, filter store.EventFilter) (int64, error) {
	where, args := buildFilter(filter)
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT count(*) FROM guard_events"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}

// buildFilter renders the WHERE clause and its positional args.
func buildFilter(filter store.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if filter.Identity != "" {
		args = append(args, filter.Identity)
		conds = append(conds, fmt.Sprintf("identity = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conds = append(conds, fmt.Sprintf("at >= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(row pgx.Row) (tokenguard.Event, error) {
	var event tokenguard.Event
	var kind string
	var metadata []byte
	if err := row.Scan(&event.ID, &kind, &event.Message, &event.Identity, &metadata, &event.At); err != nil {
		return tokenguard.Event{}, err
	}
	event.Kind = tokenguard.EventKind(kind)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
			return tokenguard.Event{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return event, nil
}

// encodeMetadata renders the metadata map as JSONB input; nil stays NULL.
func encodeMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return nil, nil
	}
	return json.Marshal(metadata)
}
