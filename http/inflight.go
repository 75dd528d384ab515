package http

import (
	"sync"
	"time"

	"github.com/tokenguard/tokenguard"
)

// inflightTable tracks operations begun over HTTP so a later request can
// settle them by id. Entries lapse exactly when the underlying lock does:
// settling after lock expiry could release a lock some other request has
// since acquired, so expired entries become unknown ids instead.
type inflightTable struct {
	clock tokenguard.Clock

	mu  sync.Mutex
	ops map[string]inflightEntry
}

type inflightEntry struct {
	op        *tokenguard.Operation
	expiresAt time.Time
}

func newInflightTable(clock tokenguard.Clock) *inflightTable {
	return &inflightTable{
		clock: clock,
		ops:   make(map[string]inflightEntry),
	}
}

func (t *inflightTable) register(op *tokenguard.Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()
	t.ops[op.ID] = inflightEntry{op: op, expiresAt: op.ExpiresAt}
}

func (t *inflightTable) get(id string) (*tokenguard.Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purgeLocked()
	entry, ok := t.ops[id]
	if !ok {
		return nil, false
	}
	return entry.op, true
}

// purgeLocked drops lapsed entries; the caller holds t.mu. The table is
// bounded by the lock TTL, so opportunistic purging on access suffices.
func (t *inflightTable) purgeLocked() {
	now := t.clock.Now()
	for id, entry := range t.ops {
		if !now.Before(entry.expiresAt) {
			delete(t.ops, id)
		}
	}
}
