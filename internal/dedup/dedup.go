// Package dedup records which (owner, job) pairs have already produced a match.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Pair identifies one owner/job notification.
type Pair struct {
	OwnerID string
	JobID   string
}

// Cache is the notification marker store.
type Cache interface {
	HasBeenNotified(ctx context.Context, ownerID, jobID string) (bool, error)
	MarkNotified(ctx context.Context, pairs ...Pair) error
}

// Memory is an in-process Cache with TTL. It backs single-node setups and
// tests; markers are lost on restart.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	markers map[Pair]time.Time
}

// NewMemory creates an in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, markers: make(map[Pair]time.Time)}
}

// SetClock overrides the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// HasBeenNotified reports whether a live marker exists.
func (m *Memory) HasBeenNotified(_ context.Context, ownerID, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := Pair{OwnerID: ownerID, JobID: jobID}
	expires, ok := m.markers[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(expires) {
		delete(m.markers, key)
		return false, nil
	}
	return true, nil
}

// MarkNotified sets markers expiring after the TTL.
func (m *Memory) MarkNotified(_ context.Context, pairs ...Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := m.now().Add(m.ttl)
	for _, p := range pairs {
		m.markers[p] = expires
	}
	return nil
}
