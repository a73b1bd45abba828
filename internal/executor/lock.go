package executor

import (
	"sync"
	"time"

	"mindmaptrader/internal/domain"
)

// DistLock is a pluggable cross-process lock. A real deployment backs
// this with the same store used for PositionStore/PriceCache; the
// in-memory implementation below is for tests and single-node runs
// (spec §9 Design Note: in-process guard + cross-process lock both
// needed).
type DistLock interface {
	// Acquire attempts to take the lock for token with the given TTL.
	// Returns false if already held and not expired.
	Acquire(token domain.TokenId, ttl time.Duration) bool
	// Release drops the lock unconditionally.
	Release(token domain.TokenId)
}

// InMemoryLock is a DistLock backed by a map+mutex, sufficient for a
// single-node engine or tests.
type InMemoryLock struct {
	mu      sync.Mutex
	holders map[domain.TokenId]time.Time
}

// NewInMemoryLock creates an empty InMemoryLock.
func NewInMemoryLock() *InMemoryLock {
	return &InMemoryLock{holders: make(map[domain.TokenId]time.Time)}
}

func (l *InMemoryLock) Acquire(token domain.TokenId, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if expiresAt, ok := l.holders[token]; ok && time.Now().Before(expiresAt) {
		return false
	}
	l.holders[token] = time.Now().Add(ttl)
	return true
}

func (l *InMemoryLock) Release(token domain.TokenId) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holders, token)
}

var _ DistLock = (*InMemoryLock)(nil)
