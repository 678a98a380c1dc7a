package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "polyexit/internal/blob/s3"
	"polyexit/internal/cache/redis"
	"polyexit/internal/config"
	"polyexit/internal/domain"
	"polyexit/internal/notify"
	"polyexit/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore  domain.PositionStore
	PortfolioStore domain.PortfolioStore
	StrategyStore  domain.StrategyStore
	StatsStore     domain.SourceStatsStore
	AuditStore     domain.AuditStore
	EventStore     domain.PositionEventStore
	Ledger         domain.Ledger

	// Caches
	Quotes      domain.QuoteProvider
	Bus         domain.EventBus
	LockManager domain.LockManager

	// Clients, for health probes.
	Postgres *postgres.Client
	Redis    *redis.Client

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Postgres = pgClient
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.PortfolioStore = postgres.NewPortfolioStore(pool)
	deps.StrategyStore = postgres.NewStrategyStore(pool)
	deps.StatsStore = postgres.NewSourceStatsStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.EventStore = postgres.NewPositionEventStore(pool)
	deps.Ledger = postgres.NewLedgerStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Engine.QuoteMaxAge.Duration)
	deps.Bus = redis.NewEventBus(redisClient)
	if cfg.Engine.DistributedLocks {
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- S3 (only for modes that archive) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.Archiver = s3blob.NewArchiver(writer, deps.PositionStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
