// Package config loads application configuration from defaults, an optional
// YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// EnvPrefix is the prefix of environment variables read by Load.
// Nested keys are separated by a double underscore: JOBALERTS_DATABASE__URL.
const EnvPrefix = "JOBALERTS_"

// Config is the root configuration.
type Config struct {
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Redis          RedisConfig          `koanf:"redis"`
	Log            LogConfig            `koanf:"log"`
	JWT            JWTConfig            `koanf:"jwt"`
	Feed           FeedConfig           `koanf:"feed"`
	Matching       MatchingConfig       `koanf:"matching"`
	Dedup          DedupConfig          `koanf:"dedup"`
	PendingMatches PendingMatchesConfig `koanf:"pending_matches"`
	Subscriptions  SubscriptionsConfig  `koanf:"subscriptions"`
	Digest         DigestConfig         `koanf:"digest"`
	Gateway        GatewayConfig        `koanf:"gateway"`
	Index          IndexConfig          `koanf:"index"`
}

// ServerConfig configures the ops/admin HTTP listeners.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// RedisConfig configures the Redis client.
type RedisConfig struct {
	URL             string        `koanf:"url"`
	KeyPrefix       string        `koanf:"key_prefix"`
	PoolSize        int           `koanf:"pool_size"`
	ConnectAttempts int           `koanf:"connect_attempts"`
	IndexTimeout    time.Duration `koanf:"index_timeout"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// JWTConfig configures admin token verification.
type JWTConfig struct {
	SecretKey string `koanf:"secret_key"`
	Issuer    string `koanf:"issuer"`
}

// FeedConfig configures the job change listener.
type FeedConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Consumer         string        `koanf:"consumer"`
	BatchSize        int           `koanf:"batch_size"`
	PollInterval     time.Duration `koanf:"poll_interval"`
	ReconnectBackoff time.Duration `koanf:"reconnect_backoff"`
}

// MatchingConfig holds the scorer heuristics.
type MatchingConfig struct {
	TitleWeight       int `koanf:"title_weight"`
	SkillWeight       int `koanf:"skill_weight"`
	DescriptionWeight int `koanf:"description_weight"`
	FilterWeight      int `koanf:"filter_weight"`
	CategoryWeight    int `koanf:"category_weight"`
	Threshold         int `koanf:"threshold"`
	DescriptionWords  int `koanf:"description_words"`
	MinKeywordLength  int `koanf:"min_keyword_length"`
}

// DedupConfig configures notification markers.
type DedupConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// PendingMatchesConfig configures pending match retention.
type PendingMatchesConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	PurgeSchedule string        `koanf:"purge_schedule"`
}

// SubscriptionsConfig holds subscription limits.
type SubscriptionsConfig struct {
	MaxActive int `koanf:"max_active"`
}

// DigestConfig configures digest scheduling and payloads.
type DigestConfig struct {
	Enabled          bool          `koanf:"enabled"`
	Timezone         string        `koanf:"timezone"`
	DailyHour        int           `koanf:"daily_hour"`
	WeeklyDay        int           `koanf:"weekly_day"`
	WeeklyHour       int           `koanf:"weekly_hour"`
	MaxJobs          int           `koanf:"max_jobs"`
	DailyRoutingKey  string        `koanf:"daily_routing_key"`
	WeeklyRoutingKey string        `koanf:"weekly_routing_key"`
	LockTTL          time.Duration `koanf:"lock_ttl"`
}

// GatewayConfig configures the outbound stream publisher.
type GatewayConfig struct {
	StreamPrefix string  `koanf:"stream_prefix"`
	MaxLen       int64   `koanf:"max_len"`
	RateLimit    float64 `koanf:"rate_limit"`
	RateBurst    int     `koanf:"rate_burst"`
}

// IndexConfig configures keyword index maintenance.
type IndexConfig struct {
	RebuildOnStart bool `koanf:"rebuild_on_start"`
}

// Default returns the configuration used when nothing overrides a key.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  60 * time.Second,
			ConnectAttempts: 5,
		},
		Redis: RedisConfig{
			URL:             "redis://localhost:6379/0",
			KeyPrefix:       "jobalerts:",
			PoolSize:        10,
			ConnectAttempts: 5,
			IndexTimeout:    500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			Issuer: "job-board",
		},
		Feed: FeedConfig{
			Enabled:          true,
			Consumer:         "job-alerts",
			BatchSize:        100,
			PollInterval:     30 * time.Second,
			ReconnectBackoff: 5 * time.Second,
		},
		Matching: MatchingConfig{
			TitleWeight:       20,
			SkillWeight:       15,
			DescriptionWeight: 5,
			FilterWeight:      30,
			CategoryWeight:    10,
			Threshold:         30,
			DescriptionWords:  50,
			MinKeywordLength:  3,
		},
		Dedup: DedupConfig{
			TTL: 7 * 24 * time.Hour,
		},
		PendingMatches: PendingMatchesConfig{
			TTL:           7 * 24 * time.Hour,
			PurgeSchedule: "@hourly",
		},
		Subscriptions: SubscriptionsConfig{
			MaxActive: 3,
		},
		Digest: DigestConfig{
			Enabled:          true,
			Timezone:         "Asia/Ho_Chi_Minh",
			DailyHour:        8,
			WeeklyDay:        int(time.Monday),
			WeeklyHour:       8,
			MaxJobs:          20,
			DailyRoutingKey:  "job.alert.daily",
			WeeklyRoutingKey: "job.alert.weekly",
			LockTTL:          30 * time.Minute,
		},
		Gateway: GatewayConfig{
			StreamPrefix: "notifications:",
			MaxLen:       100000,
			RateLimit:    200,
			RateBurst:    50,
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey maps JOBALERTS_DIGEST__DAILY_HOUR to digest.daily_hour.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required"))
	}
	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secret_key is required"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}

	if c.Feed.Consumer == "" {
		errs = append(errs, errors.New("feed.consumer is required"))
	}
	if c.Feed.BatchSize <= 0 {
		errs = append(errs, errors.New("feed.batch_size must be positive"))
	}
	if c.Feed.PollInterval <= 0 || c.Feed.ReconnectBackoff <= 0 {
		errs = append(errs, errors.New("feed intervals must be positive"))
	}

	if c.Matching.MinKeywordLength < 1 {
		errs = append(errs, errors.New("matching.min_keyword_length must be at least 1"))
	}
	if c.Matching.DescriptionWords < 0 {
		errs = append(errs, errors.New("matching.description_words must not be negative"))
	}

	if c.Dedup.TTL <= 0 {
		errs = append(errs, errors.New("dedup.ttl must be positive"))
	}
	if c.PendingMatches.TTL <= 0 {
		errs = append(errs, errors.New("pending_matches.ttl must be positive"))
	}
	if _, err := cron.ParseStandard(c.PendingMatches.PurgeSchedule); err != nil {
		errs = append(errs, fmt.Errorf("pending_matches.purge_schedule: %w", err))
	}
	if c.Subscriptions.MaxActive < 1 {
		errs = append(errs, errors.New("subscriptions.max_active must be at least 1"))
	}

	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("digest.timezone: %w", err))
	}
	if c.Digest.DailyHour < 0 || c.Digest.DailyHour > 23 || c.Digest.WeeklyHour < 0 || c.Digest.WeeklyHour > 23 {
		errs = append(errs, errors.New("digest hours must be within 0-23"))
	}
	if c.Digest.WeeklyDay < 0 || c.Digest.WeeklyDay > 6 {
		errs = append(errs, errors.New("digest.weekly_day must be within 0-6 (Sunday=0)"))
	}
	if c.Digest.MaxJobs < 1 {
		errs = append(errs, errors.New("digest.max_jobs must be at least 1"))
	}
	if c.Digest.DailyRoutingKey == "" || c.Digest.WeeklyRoutingKey == "" {
		errs = append(errs, errors.New("digest routing keys are required"))
	}
	if c.Digest.LockTTL <= 0 {
		errs = append(errs, errors.New("digest.lock_ttl must be positive"))
	}

	if c.Gateway.RateLimit <= 0 || c.Gateway.RateBurst < 1 {
		errs = append(errs, errors.New("gateway rate limit and burst must be positive"))
	}

	return errors.Join(errs...)
}
