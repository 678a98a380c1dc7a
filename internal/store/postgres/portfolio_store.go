package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
)

// PortfolioStore implements domain.PortfolioStore using PostgreSQL.
type PortfolioStore struct {
	pool *pgxpool.Pool
}

var _ domain.PortfolioStore = (*PortfolioStore)(nil)

// NewPortfolioStore creates a PortfolioStore backed by the given pool.
func NewPortfolioStore(pool *pgxpool.Pool) *PortfolioStore {
	return &PortfolioStore{pool: pool}
}

const portfolioSelectCols = `id, name, total_capital, available_capital, created_at, updated_at`

func scanPortfolio(row pgx.Row) (domain.Portfolio, error) {
	var p domain.Portfolio
	err := row.Scan(&p.ID, &p.Name, &p.TotalCapital, &p.AvailableCapital, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Create inserts a new portfolio.
func (s *PortfolioStore) Create(ctx context.Context, p domain.Portfolio) error {
	const query = `
		INSERT INTO portfolios (id, name, total_capital, available_capital)
		VALUES ($1, $2, $3, $4)`
	_, err := s.pool.Exec(ctx, query, p.ID, p.Name, p.TotalCapital, p.AvailableCapital)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: portfolio %q: %w", p.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: create portfolio %q: %w", p.Name, err)
	}
	return nil
}

// GetByID returns a portfolio by its ID.
func (s *PortfolioStore) GetByID(ctx context.Context, id string) (domain.Portfolio, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolios WHERE id = $1`
	p, err := scanPortfolio(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("postgres: portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %s: %w", id, err)
	}
	return p, nil
}

// GetByName returns a portfolio by its unique name.
func (s *PortfolioStore) GetByName(ctx context.Context, name string) (domain.Portfolio, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolios WHERE name = $1`
	p, err := scanPortfolio(s.pool.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("postgres: portfolio %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("postgres: get portfolio %q: %w", name, err)
	}
	return p, nil
}

// Deposit adds capital to both the total and available pools. A negative
// amount withdraws, bounded by the available pool.
func (s *PortfolioStore) Deposit(ctx context.Context, id string, amount float64) error {
	const query = `
		UPDATE portfolios
		SET total_capital = total_capital + $2,
			available_capital = available_capital + $2,
			updated_at = NOW()
		WHERE id = $1 AND available_capital + $2 >= 0`
	tag, err := s.pool.Exec(ctx, query, id, amount)
	if err != nil {
		return fmt.Errorf("postgres: deposit to portfolio %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if amount < 0 {
			return fmt.Errorf("postgres: withdraw %.2f from portfolio %s: %w", -amount, id, domain.ErrCapitalInsufficient)
		}
		return fmt.Errorf("postgres: portfolio %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// List returns all portfolios ordered by name.
func (s *PortfolioStore) List(ctx context.Context) ([]domain.Portfolio, error) {
	query := `SELECT ` + portfolioSelectCols + ` FROM portfolios ORDER BY name`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list portfolios: %w", err)
	}
	defer rows.Close()

	var out []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan portfolio: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
