// Package retry provides bounded exponential backoff for startup connections.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// MaxBackoff caps the delay between attempts.
const MaxBackoff = 16 * time.Second

// Do calls fn up to attempts times, sleeping with exponential backoff between
// failures. what names the operation in logs.
func Do(ctx context.Context, what string, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			slog.Info(what+" succeeded", "attempts", attempt)
			return nil
		}

		if attempt < attempts {
			backoff := Backoff(attempt)
			slog.Warn(what+" failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"backoff", backoff,
				"error", lastErr,
			)
			if !Sleep(ctx, backoff) {
				return fmt.Errorf("%s cancelled: %w", what, ctx.Err())
			}
		}
	}

	return fmt.Errorf("%s after %d attempts: %w", what, attempts, lastErr)
}

// Backoff returns exponential backoff duration capped at MaxBackoff.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		return MaxBackoff
	}
	backoff := time.Duration(1<<(attempt-1)) * time.Second
	if backoff > MaxBackoff {
		backoff = MaxBackoff
	}
	return backoff
}

// Sleep waits for duration or context cancellation. Returns false if cancelled.
func Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
