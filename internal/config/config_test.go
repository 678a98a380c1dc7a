package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "turbo"
	cfg.Redis.Addr = ""
	cfg.Engine.MaxConcurrent = 0
	cfg.Notify.TelegramToken = "token-without-chat"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "max_concurrent")
	assert.Contains(t, err.Error(), "telegram_token")
}

func TestValidateQuoteTimeoutVsInterval(t *testing.T) {
	cfg := Defaults()
	cfg.Engine.Interval = duration{2 * time.Second}
	cfg.Engine.QuoteTimeout = duration{5 * time.Second}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quote_timeout must be shorter")
}

func TestLoadTOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "engine"
log_level = "debug"

[engine]
interval = "30s"
max_concurrent = 4

[intake]
portfolio_name = "main"
strategy_name = "copy-trader"
base_order_size = 250.0

[redis]
addr = "redis.internal:6379"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("POLYEXIT_REDIS_ADDR", "override:6379")
	t.Setenv("POLYEXIT_ENGINE_QUOTE_TIMEOUT", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "engine", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Engine.Interval.Duration)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 250.0, cfg.Intake.BaseOrderSize)

	// Env wins over file.
	assert.Equal(t, "override:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Second, cfg.Engine.QuoteTimeout.Duration)

	// Untouched fields keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
}
