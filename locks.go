package tokenguard

import (
	"sync"
	"time"
)

// DefaultLockTTL bounds worst-case lock starvation if a release is never
// issued, e.g. a process crash mid-operation.
const DefaultLockTTL = 2 * time.Minute

// lockKey scopes a lock to one identity and one operation kind.
type lockKey struct {
	identity string
	kind     OperationKind
}

type lockEntry struct {
	acquiredAt time.Time
	expiresAt  time.Time
	validated  bool
}

// Lock is a read-only snapshot of a held exclusivity token.
type Lock struct {
	Identity   string        `json:"identity"`
	Kind       OperationKind `json:"kind"`
	AcquiredAt time.Time     `json:"acquiredAt"`
	ExpiresAt  time.Time     `json:"expiresAt"`
	Validated  bool          `json:"validated"`
}

// LockManager grants short-lived exclusivity tokens per (identity, kind)
// pair so two operations for the same identity never run concurrently.
// At most one live lock exists per key at any instant; an expired lock is
// superseded lazily on the next Acquire and removed in bulk by SweepExpired.
//
// All methods are non-blocking and safe for concurrent use.
type LockManager struct {
	mu    sync.Mutex
	locks map[lockKey]*lockEntry
	ttl   time.Duration
	clock Clock
}

// LockOption configures a LockManager.
type LockOption func(*LockManager)

// WithLockTTL sets the lock lifetime. Default: 2 minutes.
func WithLockTTL(ttl time.Duration) LockOption {
	return func(m *LockManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithLockClock sets the time source. Default: the wall clock.
func WithLockClock(clock Clock) LockOption {
	return func(m *LockManager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewLockManager creates an empty lock table.
func NewLockManager(opts ...LockOption) *LockManager {
	m := &LockManager{
		locks: make(map[lockKey]*lockEntry),
		ttl:   DefaultLockTTL,
		clock: RealClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire installs a new lock for (identity, kind) and returns true iff no
// unexpired lock exists for the key. An expired lock still sitting in the
// table is silently superseded, identical to acquiring an empty key. On
// contention the table is left untouched and Acquire returns false.
func (m *LockManager) Acquire(identity string, kind OperationKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	key := lockKey{identity: identity, kind: kind}
	if entry, exists := m.locks[key]; exists && now.Before(entry.expiresAt) {
		return false
	}
	m.locks[key] = &lockEntry{
		acquiredAt: now,
		expiresAt:  now.Add(m.ttl),
	}
	return true
}

// Release unconditionally removes any lock for the key and returns whether
// one existed. Called on operation failure; a successful operation keeps
// its lock as a cool-down instead (see MarkValidated).
func (m *LockManager) Release(identity string, kind OperationKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey{identity: identity, kind: kind}
	_, existed := m.locks[key]
	delete(m.locks, key)
	return existed
}

// MarkValidated flips the validated flag on an existing lock without
// extending its TTL and returns whether a lock existed. The lock is left to
// expire naturally, which keeps a cool-down window after a successful
// operation rather than immediately permitting a new concurrent one.
func (m *LockManager) MarkValidated(identity string, kind OperationKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[lockKey{identity: identity, kind: kind}]
	if !exists {
		return false
	}
	entry.validated = true
	return true
}

// Get returns a snapshot of the stored lock for the key, if any. The entry
// may already be expired but not yet swept.
func (m *LockManager) Get(identity string, kind OperationKind) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[lockKey{identity: identity, kind: kind}]
	if !exists {
		return Lock{}, false
	}
	return Lock{
		Identity:   identity,
		Kind:       kind,
		AcquiredAt: entry.acquiredAt,
		ExpiresAt:  entry.expiresAt,
		Validated:  entry.validated,
	}, true
}

// Snapshot returns a copy of every stored lock, expired entries included.
func (m *LockManager) Snapshot() []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()

	locks := make([]Lock, 0, len(m.locks))
	for key, entry := range m.locks {
		locks = append(locks, Lock{
			Identity:   key.identity,
			Kind:       key.kind,
			AcquiredAt: entry.acquiredAt,
			ExpiresAt:  entry.expiresAt,
			Validated:  entry.validated,
		})
	}
	return locks
}

// SweepExpired removes every lock whose expiry has passed and returns the
// number removed. Expired entries carry no obligations, so sweeping is safe
// to run concurrently with live acquire/release traffic.
func (m *LockManager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, entry := range m.locks {
		if !now.Before(entry.expiresAt) {
			delete(m.locks, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored locks, expired-but-unswept included.
func (m *LockManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// TTL returns the configured lock lifetime.
func (m *LockManager) TTL() time.Duration {
	return m.ttl
}
