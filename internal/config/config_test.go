package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Heuristics(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20, cfg.Matching.TitleWeight)
	assert.Equal(t, 15, cfg.Matching.SkillWeight)
	assert.Equal(t, 5, cfg.Matching.DescriptionWeight)
	assert.Equal(t, 30, cfg.Matching.FilterWeight)
	assert.Equal(t, 10, cfg.Matching.CategoryWeight)
	assert.Equal(t, 30, cfg.Matching.Threshold)
	assert.Equal(t, 3, cfg.Subscriptions.MaxActive)
	assert.Equal(t, 20, cfg.Digest.MaxJobs)
	assert.Equal(t, 7*24*time.Hour, cfg.Dedup.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.PendingMatches.TTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Redis.IndexTimeout)
	assert.Equal(t, 5*time.Second, cfg.Feed.ReconnectBackoff)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  url: postgres://file/db
jwt:
  secret_key: from-file
digest:
  daily_hour: 6
matching:
  threshold: 40
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("JOBALERTS_DIGEST__DAILY_HOUR", "9")
	t.Setenv("JOBALERTS_REDIS__KEY_PREFIX", "test:")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://file/db", cfg.Database.URL)
	assert.Equal(t, "from-file", cfg.JWT.SecretKey)
	assert.Equal(t, 9, cfg.Digest.DailyHour, "env overrides file")
	assert.Equal(t, "test:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 40, cfg.Matching.Threshold)
	assert.Equal(t, 15, cfg.Matching.SkillWeight, "untouched keys keep defaults")
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.url is required")
	assert.Contains(t, err.Error(), "jwt.secret_key is required")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/db"
		cfg.JWT.SecretKey = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad timezone", mutate: func(c *Config) { c.Digest.Timezone = "Mars/Olympus" }, wantErr: "digest.timezone"},
		{name: "bad hour", mutate: func(c *Config) { c.Digest.DailyHour = 24 }, wantErr: "digest hours"},
		{name: "bad weekday", mutate: func(c *Config) { c.Digest.WeeklyDay = 7 }, wantErr: "weekly_day"},
		{name: "bad purge schedule", mutate: func(c *Config) { c.PendingMatches.PurgeSchedule = "whenever" }, wantErr: "purge_schedule"},
		{name: "zero max active", mutate: func(c *Config) { c.Subscriptions.MaxActive = 0 }, wantErr: "max_active"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
