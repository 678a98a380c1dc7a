package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
)

// SourceStatsStore aggregates per-source performance over closed positions.
// Stats feed the entry filters; they are computed at open time, not cached,
// since opens are orders of magnitude rarer than evaluations.
type SourceStatsStore struct {
	pool *pgxpool.Pool
}

var _ domain.SourceStatsStore = (*SourceStatsStore)(nil)

// NewSourceStatsStore creates a SourceStatsStore backed by the given pool.
func NewSourceStatsStore(pool *pgxpool.Pool) *SourceStatsStore {
	return &SourceStatsStore{pool: pool}
}

// Stats aggregates the source's closed positions since the given instant.
// A source with no closed positions returns zero-valued stats, not an error.
func (s *SourceStatsStore) Stats(ctx context.Context, sourceID string, since time.Time) (domain.SourceStats, error) {
	const query = `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE realized_pnl > 0),
			COALESCE(SUM(realized_pnl) FILTER (WHERE realized_pnl > 0), 0),
			COALESCE(-SUM(realized_pnl) FILTER (WHERE realized_pnl < 0), 0)
		FROM positions
		WHERE source_id = $1 AND status = 'closed' AND closed_at >= $2`

	stats := domain.SourceStats{SourceID: sourceID}
	err := s.pool.QueryRow(ctx, query, sourceID, since).Scan(
		&stats.Trades, &stats.Wins, &stats.GrossProfit, &stats.GrossLoss,
	)
	if err != nil {
		return domain.SourceStats{}, fmt.Errorf("postgres: source stats %s: %w", sourceID, err)
	}

	if stats.Trades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.Trades)
	}
	if stats.GrossLoss > 0 {
		stats.ProfitFactor = stats.GrossProfit / stats.GrossLoss
	} else if stats.GrossProfit > 0 {
		// All wins: treat the factor as the gross profit itself rather
		// than dividing by zero.
		stats.ProfitFactor = stats.GrossProfit
	}
	return stats, nil
}
