// Package redis provides Redis client connection utilities.
package redis

import (
	"context"
	"fmt"

	"github.com/bissquit/job-alerts/internal/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// Config contains Redis connection configuration.
type Config struct {
	URL             string
	PoolSize        int
	ConnectAttempts int
}

// Connect parses the URL and verifies connectivity with retry logic.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	err = retry.Do(ctx, "connect to redis", cfg.ConnectAttempts, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
