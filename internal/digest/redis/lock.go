// Package redis provides a Redis run-lock for digest runs.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/job-alerts/internal/digest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements digest.Locker with SET NX PX.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker creates a new Redis locker. Keys are stored under prefix.
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire takes the lock for ttl. The returned release is safe to call after
// the lock expired and was taken by another holder.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, digest.ErrRunInProgress
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err(); err != nil {
			slog.Warn("failed to release lock", "key", fullKey, "error", err)
		}
	}
	return release, nil
}
