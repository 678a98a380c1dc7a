package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, portfolio_id, strategy_id, source_id, market_id, token_id, side,
	entry_price, original_size, remaining_size, capital_allocated, peak_favorable_price,
	realized_pnl, unrealized_pnl, unrealized_pnl_pct, partial_exits_taken, params,
	status, event_seq, opened_at, last_evaluated_at, closed_at, exit_price, close_reason`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p           domain.Position
		side        string
		status      string
		taken       []byte
		params      []byte
		closeReason *string
	)
	err := row.Scan(
		&p.ID, &p.PortfolioID, &p.StrategyID, &p.SourceID, &p.MarketID, &p.TokenID, &side,
		&p.EntryPrice, &p.OriginalSize, &p.RemainingSize, &p.CapitalAllocated, &p.PeakFavorablePrice,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.UnrealizedPnLPct, &taken, &params,
		&status, &p.EventSeq, &p.OpenedAt, &p.LastEvaluatedAt, &p.ClosedAt, &p.ExitPrice, &closeReason,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	if closeReason != nil {
		r := domain.ExitReason(*closeReason)
		p.CloseReason = &r
	}
	if len(taken) > 0 {
		if err := json.Unmarshal(taken, &p.PartialExitsTaken); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: decode partial_exits_taken: %w", err)
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p.Params); err != nil {
			return domain.Position{}, fmt.Errorf("postgres: decode params: %w", err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func positionArgs(p domain.Position) ([]any, error) {
	taken, err := json.Marshal(p.PartialExitsTaken)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode partial_exits_taken: %w", err)
	}
	params, err := json.Marshal(p.Params)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode params: %w", err)
	}
	var closeReason *string
	if p.CloseReason != nil {
		s := string(*p.CloseReason)
		closeReason = &s
	}
	return []any{
		p.ID, p.PortfolioID, p.StrategyID, p.SourceID, p.MarketID, p.TokenID, string(p.Side),
		p.EntryPrice, p.OriginalSize, p.RemainingSize, p.CapitalAllocated, p.PeakFavorablePrice,
		p.RealizedPnL, p.UnrealizedPnL, p.UnrealizedPnLPct, taken, params,
		string(p.Status), p.EventSeq, p.OpenedAt, p.LastEvaluatedAt, p.ClosedAt, p.ExitPrice, closeReason,
	}, nil
}

// Create inserts a new position. Capital accounting goes through the ledger;
// this insert alone does not touch the portfolio.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (` + positionSelectCols + `, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW())`
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

const positionUpdateSet = `
		portfolio_id = $2, strategy_id = $3, source_id = $4, market_id = $5, token_id = $6, side = $7,
		entry_price = $8, original_size = $9, remaining_size = $10, capital_allocated = $11,
		peak_favorable_price = $12, realized_pnl = $13, unrealized_pnl = $14, unrealized_pnl_pct = $15,
		partial_exits_taken = $16, params = $17, status = $18, event_seq = $19,
		opened_at = $20, last_evaluated_at = $21, closed_at = $22, exit_price = $23, close_reason = $24,
		updated_at = NOW()`

// Update rewrites the full position row.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	const query = `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1`
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID returns a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all positions still evaluating, oldest first so long-lived
// positions are never starved by arrivals.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status != 'closed' ORDER BY opened_at ASC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	return out, nil
}

// ListBySource returns positions opened from the given signal source,
// newest first.
func (s *PositionStore) ListBySource(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, "source_id = $1", sourceID, opts)
}

// ListByStrategy returns positions governed by the given strategy, newest first.
func (s *PositionStore) ListByStrategy(ctx context.Context, strategyID string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, "strategy_id = $1", strategyID, opts)
}

// ListHistory returns all positions, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.list(ctx, "TRUE", nil, opts)
}

func (s *PositionStore) list(ctx context.Context, cond string, condArg any, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE ` + cond
	var args []any
	if condArg != nil {
		args = append(args, condArg)
	}
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return out, nil
}

// ListClosedBefore returns positions closed before the given cutoff, oldest
// first, for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE status = 'closed' AND closed_at < $1 ORDER BY closed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	out, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	return out, nil
}
