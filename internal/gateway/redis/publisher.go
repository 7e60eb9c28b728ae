// Package redis provides a Redis Streams implementation of gateway.Publisher.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/job-alerts/internal/gateway"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Config configures the stream publisher.
type Config struct {
	StreamPrefix string
	MaxLen       int64
	// RateLimit is publishes per second; zero disables throttling.
	RateLimit float64
	RateBurst int
}

// Publisher appends payloads to the stream <StreamPrefix><routingKey>.
type Publisher struct {
	client  *redis.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewPublisher creates a new stream publisher.
func NewPublisher(client *redis.Client, cfg Config) *Publisher {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return &Publisher{client: client, cfg: cfg, limiter: limiter}
}

// Stream returns the stream name for routingKey.
func (p *Publisher) Stream(routingKey string) string {
	return p.cfg.StreamPrefix + routingKey
}

// Publish waits for the rate limiter and appends the payload to the stream.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload gateway.Payload) error {
	start := time.Now()
	defer func() {
		gateway.PublishDuration.WithLabelValues(routingKey).Observe(time.Since(start).Seconds())
	}()

	if err := payload.Validate(); err != nil {
		gateway.Published.WithLabelValues(routingKey, "invalid").Inc()
		return err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		gateway.Published.WithLabelValues(routingKey, "throttled").Inc()
		return fmt.Errorf("wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		gateway.Published.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("marshal payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.Stream(routingKey),
		Values: map[string]any{
			"type":         payload.Type,
			"recipient_id": payload.RecipientID,
			"payload":      string(body),
		},
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		gateway.Published.WithLabelValues(routingKey, "error").Inc()
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}

	gateway.Published.WithLabelValues(routingKey, "success").Inc()
	ctxlog.FromContext(ctx).Debug("notification published",
		"stream", args.Stream,
		"message_id", id,
		"recipient_id", payload.RecipientID,
	)
	return nil
}
