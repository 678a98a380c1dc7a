package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionStore persists positions. Mutations that touch portfolio capital go
// through the Ledger instead; the Update here is for non-capital fields only
// (peak, unrealized P&L, evaluation stamps).
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Update(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListBySource(ctx context.Context, sourceID string, opts ListOpts) ([]Position, error)
	ListByStrategy(ctx context.Context, strategyID string, opts ListOpts) ([]Position, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
}

// PortfolioStore persists portfolios. Capital release/allocation happens
// inside the Ledger transaction; Deposit adjusts capital from outside the
// evaluation path.
type PortfolioStore interface {
	Create(ctx context.Context, p Portfolio) error
	GetByID(ctx context.Context, id string) (Portfolio, error)
	GetByName(ctx context.Context, name string) (Portfolio, error)
	Deposit(ctx context.Context, id string, amount float64) error
	List(ctx context.Context) ([]Portfolio, error)
}

// StrategyStore persists strategy configurations. Upsert implementations must
// reject configurations that fail StrategyConfig.Validate.
type StrategyStore interface {
	Upsert(ctx context.Context, cfg StrategyConfig) error
	GetByID(ctx context.Context, id string) (StrategyConfig, error)
	GetByName(ctx context.Context, name string) (StrategyConfig, error)
	List(ctx context.Context) ([]StrategyConfig, error)
}

// SourceStatsStore aggregates per-source performance over closed positions,
// for entry-filter checks at position-open time.
type SourceStatsStore interface {
	Stats(ctx context.Context, sourceID string, since time.Time) (SourceStats, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// PositionEventStore is the durable outbox for lifecycle events. Rows are
// written in the same transaction as the state change they describe; the
// publisher drains them to the bus and marks them published. Delivery is
// therefore at-least-once.
type PositionEventStore interface {
	// ListUnpublished returns undelivered events oldest first, with
	// (position ID, seq) breaking timestamp ties so one position's events
	// always come back in sequence order.
	ListUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string) error
}

// Ledger applies position lifecycle changes and the matching portfolio
// capital adjustment in one transaction: both commit or neither does.
//
// ApplyEvaluation is idempotent. Replaying an evaluation whose decision was
// already absorbed (a partial exit whose order is already taken, a full exit
// against a closed position) is a no-op returning the current position.
// Evaluations whose quote snapshot predates the position's LastEvaluatedAt
// are rejected with ErrStaleDecision.
type Ledger interface {
	// Open creates the position and debits its capital from the owning
	// portfolio's available pool atomically. Returns ErrCapitalInsufficient
	// when the pool cannot cover the allocation; no position is created.
	Open(ctx context.Context, pos Position) (Position, error)

	// ApplyEvaluation commits the state change implied by eval and returns
	// the updated position.
	ApplyEvaluation(ctx context.Context, positionID string, eval Evaluation) (Position, error)
}
