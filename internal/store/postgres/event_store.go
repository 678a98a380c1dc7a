package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"polyexit/internal/domain"
)

// PositionEventStore implements the durable event outbox. Rows land here
// inside ledger transactions; the publisher drains them.
type PositionEventStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionEventStore = (*PositionEventStore)(nil)

// NewPositionEventStore creates a PositionEventStore backed by the given pool.
func NewPositionEventStore(pool *pgxpool.Pool) *PositionEventStore {
	return &PositionEventStore{pool: pool}
}

// ListUnpublished returns events not yet delivered to the bus, oldest first.
// The (position_id, seq) tiebreaker keeps one position's events in sequence
// order even when several share an emitted_at timestamp.
func (s *PositionEventStore) ListUnpublished(ctx context.Context, limit int) ([]domain.Event, error) {
	const query = `
		SELECT id, position_id, seq, type, payload, emitted_at
		FROM position_events WHERE NOT published
		ORDER BY emitted_at ASC, position_id ASC, seq ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unpublished events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var typ string
		var raw []byte
		if err := rows.Scan(&e.ID, &e.PositionID, &e.Seq, &typ, &raw, &e.EmittedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		e.Type = domain.EventType(typ)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Payload); err != nil {
				return nil, fmt.Errorf("postgres: decode event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkPublished flags the given events as delivered.
func (s *PositionEventStore) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE position_events SET published = TRUE WHERE id = ANY($1)`
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("postgres: mark events published: %w", err)
	}
	return nil
}
