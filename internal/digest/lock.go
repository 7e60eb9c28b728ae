package digest

import (
	"context"
	"sync"
	"time"
)

// Locker serializes digest runs across processes. Acquire returns
// ErrRunInProgress when another holder owns key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// localLock is the in-process guard taken before the distributed lock.
type localLock struct {
	mu      sync.Mutex
	running map[string]bool
}

func newLocalLock() *localLock {
	return &localLock{running: make(map[string]bool)}
}

func (l *localLock) tryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[key] {
		return false
	}
	l.running[key] = true
	return true
}

func (l *localLock) unlock(key string) {
	l.mu.Lock()
	delete(l.running, key)
	l.mu.Unlock()
}
