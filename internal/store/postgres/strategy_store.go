package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
)

// StrategyStore implements domain.StrategyStore using PostgreSQL. The full
// configuration is stored as JSONB; name and enabled are mirrored into
// columns for lookups.
type StrategyStore struct {
	pool *pgxpool.Pool
}

var _ domain.StrategyStore = (*StrategyStore)(nil)

// NewStrategyStore creates a StrategyStore backed by the given pool.
func NewStrategyStore(pool *pgxpool.Pool) *StrategyStore {
	return &StrategyStore{pool: pool}
}

// Upsert validates and saves a strategy configuration, replacing any existing
// config under the same ID. Invalid configurations are rejected before any
// write.
func (s *StrategyStore) Upsert(ctx context.Context, cfg domain.StrategyConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: encode strategy %q: %w", cfg.Name, err)
	}

	const query = `
		INSERT INTO strategies (id, name, config, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			config = EXCLUDED.config,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, cfg.ID, cfg.Name, raw, cfg.Enabled); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: strategy name %q: %w", cfg.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: upsert strategy %q: %w", cfg.Name, err)
	}
	return nil
}

// GetByID returns a strategy configuration by ID.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (domain.StrategyConfig, error) {
	return s.get(ctx, "id = $1", id)
}

// GetByName returns a strategy configuration by its unique name.
func (s *StrategyStore) GetByName(ctx context.Context, name string) (domain.StrategyConfig, error) {
	return s.get(ctx, "name = $1", name)
}

func (s *StrategyStore) get(ctx context.Context, cond, arg string) (domain.StrategyConfig, error) {
	query := `SELECT config, created_at, updated_at FROM strategies WHERE ` + cond

	var raw []byte
	var cfg domain.StrategyConfig
	err := s.pool.QueryRow(ctx, query, arg).Scan(&raw, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: strategy %s: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: get strategy %s: %w", arg, err)
	}
	created, updated := cfg.CreatedAt, cfg.UpdatedAt
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.StrategyConfig{}, fmt.Errorf("postgres: decode strategy %s: %w", arg, err)
	}
	cfg.CreatedAt, cfg.UpdatedAt = created, updated
	return cfg, nil
}

// List returns all strategy configurations ordered by name.
func (s *StrategyStore) List(ctx context.Context) ([]domain.StrategyConfig, error) {
	const query = `SELECT config, created_at, updated_at FROM strategies ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list strategies: %w", err)
	}
	defer rows.Close()

	var out []domain.StrategyConfig
	for rows.Next() {
		var raw []byte
		var cfg domain.StrategyConfig
		if err := rows.Scan(&raw, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan strategy: %w", err)
		}
		created, updated := cfg.CreatedAt, cfg.UpdatedAt
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("postgres: decode strategy: %w", err)
		}
		cfg.CreatedAt, cfg.UpdatedAt = created, updated
		out = append(out, cfg)
	}
	return out, rows.Err()
}
