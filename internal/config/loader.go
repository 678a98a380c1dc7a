package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYEXIT_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is the
// empty string; the defaults plus environment are used instead. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYEXIT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYEXIT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYEXIT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYEXIT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYEXIT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYEXIT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYEXIT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYEXIT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYEXIT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYEXIT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYEXIT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYEXIT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYEXIT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYEXIT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYEXIT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYEXIT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYEXIT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYEXIT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYEXIT_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYEXIT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYEXIT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYEXIT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYEXIT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYEXIT_S3_FORCE_PATH_STYLE")

	// ── Engine ──
	setDuration(&cfg.Engine.Interval, "POLYEXIT_ENGINE_INTERVAL")
	setDuration(&cfg.Engine.QuoteTimeout, "POLYEXIT_ENGINE_QUOTE_TIMEOUT")
	setDuration(&cfg.Engine.QuoteMaxAge, "POLYEXIT_ENGINE_QUOTE_MAX_AGE")
	setInt(&cfg.Engine.MaxConcurrent, "POLYEXIT_ENGINE_MAX_CONCURRENT")
	setInt(&cfg.Engine.MissStreakWarn, "POLYEXIT_ENGINE_MISS_STREAK_WARN")
	setDuration(&cfg.Engine.LockTTL, "POLYEXIT_ENGINE_LOCK_TTL")
	setBool(&cfg.Engine.DistributedLocks, "POLYEXIT_ENGINE_DISTRIBUTED_LOCKS")

	// ── Intake ──
	setStr(&cfg.Intake.PortfolioName, "POLYEXIT_INTAKE_PORTFOLIO_NAME")
	setStr(&cfg.Intake.StrategyName, "POLYEXIT_INTAKE_STRATEGY_NAME")
	setStr(&cfg.Intake.Stream, "POLYEXIT_INTAKE_STREAM")
	setStr(&cfg.Intake.StartID, "POLYEXIT_INTAKE_START_ID")
	setFloat64(&cfg.Intake.BaseOrderSize, "POLYEXIT_INTAKE_BASE_ORDER_SIZE")
	setInt(&cfg.Intake.BatchSize, "POLYEXIT_INTAKE_BATCH_SIZE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYEXIT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "POLYEXIT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "POLYEXIT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYEXIT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYEXIT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "POLYEXIT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYEXIT_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYEXIT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYEXIT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYEXIT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYEXIT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYEXIT_MODE")
	setStr(&cfg.LogLevel, "POLYEXIT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
