// Package config defines the top-level configuration for the exit engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYEXIT_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Engine   EngineConfig   `toml:"engine"`
	Intake   IntakeConfig   `toml:"intake"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// EngineConfig holds evaluation loop parameters.
type EngineConfig struct {
	Interval       duration `toml:"interval"`
	QuoteTimeout   duration `toml:"quote_timeout"`
	QuoteMaxAge    duration `toml:"quote_max_age"`
	MaxConcurrent  int      `toml:"max_concurrent"`
	MissStreakWarn int      `toml:"miss_streak_warn"`
	LockTTL        duration `toml:"lock_ttl"`
	// DistributedLocks turns on Redis-backed per-position locks, for
	// deployments running more than one engine instance against the same
	// store.
	DistributedLocks bool `toml:"distributed_locks"`
}

// IntakeConfig holds signal intake parameters.
type IntakeConfig struct {
	PortfolioName string  `toml:"portfolio_name"`
	StrategyName  string  `toml:"strategy_name"`
	Stream        string  `toml:"stream"`
	StartID       string  `toml:"start_id"`
	BaseOrderSize float64 `toml:"base_order_size"`
	BatchSize     int     `toml:"batch_size"`
}

// ArchiveConfig holds cold-storage export parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "15s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "15s" or "5m".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with sensible local-development defaults.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polyexit",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyexit-data",
			ForcePathStyle: true,
		},
		Engine: EngineConfig{
			Interval:       duration{15 * time.Second},
			QuoteTimeout:   duration{3 * time.Second},
			QuoteMaxAge:    duration{2 * time.Minute},
			MaxConcurrent:  16,
			MissStreakWarn: 5,
			LockTTL:        duration{30 * time.Second},
		},
		Intake: IntakeConfig{
			PortfolioName: "default",
			StrategyName:  "default",
			Stream:        "signals:intake",
			StartID:       "$",
			BaseOrderSize: 100,
			BatchSize:     64,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"engine":  true, // evaluation loop + intake, no HTTP
	"monitor": true, // HTTP API + WebSocket only, no evaluation
	"archive": true, // one-shot cold-storage export
	"full":    true, // everything
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency and returns a
// combined error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, monitor, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Postgres.DSN == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty when dsn is unset")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port %d out of range", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty when dsn is unset")
		}
	}
	if c.Postgres.PoolMaxConns < c.Postgres.PoolMinConns {
		errs = append(errs, "postgres: pool_max_conns must be >= pool_min_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be positive")
	}
	if c.Engine.QuoteTimeout.Duration <= 0 {
		errs = append(errs, "engine: quote_timeout must be positive")
	}
	if c.Engine.QuoteTimeout.Duration >= c.Engine.Interval.Duration {
		errs = append(errs, "engine: quote_timeout must be shorter than interval")
	}
	if c.Engine.MaxConcurrent <= 0 {
		errs = append(errs, "engine: max_concurrent must be positive")
	}

	needsIntake := c.Mode == "engine" || c.Mode == "full"
	if needsIntake {
		if c.Intake.PortfolioName == "" {
			errs = append(errs, "intake: portfolio_name must not be empty for mode "+c.Mode)
		}
		if c.Intake.StrategyName == "" {
			errs = append(errs, "intake: strategy_name must not be empty for mode "+c.Mode)
		}
		if c.Intake.BaseOrderSize <= 0 {
			errs = append(errs, "intake: base_order_size must be positive")
		}
	}

	if c.Archive.Enabled || c.Mode == "archive" {
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
		}
	}

	// Telegram credentials come in pairs.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
