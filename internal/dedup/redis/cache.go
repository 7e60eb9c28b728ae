// Package redis provides a Redis implementation of the dedup cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/job-alerts/internal/dedup"
	"github.com/redis/go-redis/v9"
)

// Cache stores markers at <prefix>notified:<owner>:<job>.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCache creates a new Redis-backed dedup cache.
func NewCache(client *redis.Client, prefix string, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

func (c *Cache) key(ownerID, jobID string) string {
	return c.prefix + "notified:" + ownerID + ":" + jobID
}

// HasBeenNotified reports whether a marker exists.
func (c *Cache) HasBeenNotified(ctx context.Context, ownerID, jobID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(ownerID, jobID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("check notified marker: %w", err)
	}
	return n > 0, nil
}

// MarkNotified sets markers with the configured TTL in one pipeline.
func (c *Cache) MarkNotified(ctx context.Context, pairs ...dedup.Pair) error {
	if len(pairs) == 0 {
		return nil
	}

	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pairs {
			pipe.Set(ctx, c.key(p.OwnerID, p.JobID), "1", c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set notified markers: %w", err)
	}
	return nil
}
