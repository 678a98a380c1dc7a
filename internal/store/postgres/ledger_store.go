package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
	"polyexit/internal/ledger"
)

// maxTxRetries bounds retries on serialization failures and deadlocks before
// surfacing ErrLedgerConflict to the caller.
const maxTxRetries = 3

// LedgerStore implements domain.Ledger. Every lifecycle change commits the
// position row, the portfolio capital adjustment, and the event outbox row in
// a single transaction.
type LedgerStore struct {
	pool *pgxpool.Pool
}

var _ domain.Ledger = (*LedgerStore)(nil)

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Open creates the position and debits its allocation from the portfolio's
// available pool atomically. The debit is conditional on sufficient funds, so
// concurrent opens can never overdraw the pool.
func (s *LedgerStore) Open(ctx context.Context, pos domain.Position) (domain.Position, error) {
	var out domain.Position
	err := s.withRetry(ctx, func(tx pgx.Tx) error {
		const debit = `
			UPDATE portfolios
			SET available_capital = available_capital - $2, updated_at = NOW()
			WHERE id = $1 AND available_capital >= $2`
		tag, err := tx.Exec(ctx, debit, pos.PortfolioID, pos.CapitalAllocated)
		if err != nil {
			return fmt.Errorf("postgres: debit portfolio %s: %w", pos.PortfolioID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM portfolios WHERE id = $1)", pos.PortfolioID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: check portfolio %s: %w", pos.PortfolioID, err)
			}
			if !exists {
				return fmt.Errorf("postgres: portfolio %s: %w", pos.PortfolioID, domain.ErrNotFound)
			}
			return fmt.Errorf("postgres: open position for %.2f: %w",
				pos.CapitalAllocated, domain.ErrCapitalInsufficient)
		}

		pos.EventSeq = 1
		args, err := positionArgs(pos)
		if err != nil {
			return err
		}
		const insert = `
			INSERT INTO positions (` + positionSelectCols + `, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
				$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NOW())`
		if _, err := tx.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("postgres: insert position %s: %w", pos.ID, err)
		}

		if err := insertEvent(ctx, tx, pos.ID, pos.EventSeq,
			domain.EventPositionOpened, ledger.OpenPayload(pos)); err != nil {
			return err
		}
		out = pos
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

// ApplyEvaluation commits the state change implied by eval. The position row
// is locked for the duration, the bookkeeping is delegated to ledger.Apply,
// and replays come back as no-ops with the current state.
func (s *LedgerStore) ApplyEvaluation(ctx context.Context, positionID string, eval domain.Evaluation) (domain.Position, error) {
	var out domain.Position
	err := s.withRetry(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1 FOR UPDATE`
		pos, err := scanPosition(tx.QueryRow(ctx, query, positionID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("postgres: position %s: %w", positionID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("postgres: lock position %s: %w", positionID, err)
		}

		change, err := ledger.Apply(pos, eval)
		if err != nil {
			return err
		}
		if !change.Applied {
			out = change.Position
			return nil
		}

		next := change.Position
		next.EventSeq = pos.EventSeq + 1

		args, err := positionArgs(next)
		if err != nil {
			return err
		}
		const update = `UPDATE positions SET` + positionUpdateSet + ` WHERE id = $1`
		if _, err := tx.Exec(ctx, update, args...); err != nil {
			return fmt.Errorf("postgres: update position %s: %w", positionID, err)
		}

		// Gate on size, not on the released amount: a no-side exit at twice
		// the entry price releases exactly zero while still realizing P&L.
		if change.ClosedSize > 0 {
			const credit = `
				UPDATE portfolios
				SET available_capital = available_capital + $2,
					total_capital = total_capital + $3,
					updated_at = NOW()
				WHERE id = $1`
			tag, err := tx.Exec(ctx, credit, next.PortfolioID, change.CapitalReleased, change.RealizedPnL)
			if err != nil {
				return fmt.Errorf("postgres: credit portfolio %s: %w", next.PortfolioID, err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("postgres: portfolio %s: %w", next.PortfolioID, domain.ErrNotFound)
			}
		}

		if err := insertEvent(ctx, tx, next.ID, next.EventSeq,
			change.Event, ledger.EventPayload(change, eval)); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, positionID string, seq uint64, typ domain.EventType, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("postgres: encode event payload: %w", err)
	}
	const query = `
		INSERT INTO position_events (id, position_id, seq, type, payload)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.Exec(ctx, query, uuid.NewString(), positionID, seq, string(typ), raw); err != nil {
		return fmt.Errorf("postgres: insert event %s/%d: %w", positionID, seq, err)
	}
	return nil
}

// withRetry runs fn in a transaction, retrying on serialization failures and
// deadlocks up to maxTxRetries before reporting ErrLedgerConflict.
func (s *LedgerStore) withRetry(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.inTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("postgres: transaction retries exhausted: %v: %w", lastErr, domain.ErrLedgerConflict)
}

func (s *LedgerStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}
