// Package postgres provides an AuditStore backed by PostgreSQL, for
// deployments that need durable, queryable guard history.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists guard events in a guard_events table behind a pgx
// connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and verifies the connection. The DSN is a
// standard postgres URL or key/value string.
func New(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations and diagnostics.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS guard_events (
	id       TEXT PRIMARY KEY,
	kind     TEXT NOT NULL,
	message  TEXT NOT NULL,
	identity TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	at       TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS guard_events_identity_at_idx ON guard_events (identity, at DESC);
CREATE INDEX IF NOT EXISTS guard_events_kind_at_idx ON guard_events (kind, at DESC);
CREATE INDEX IF NOT EXISTS guard_events_at_idx ON guard_events (at DESC);
`

// EnsureSchema creates the guard_events table and its indexes if absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", err)
	}
	return nil
}
