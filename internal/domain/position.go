package domain

import "time"

// Side is the market outcome a position holds. The quote stream prices the
// market's reference token, so a yes position profits as the price rises and
// a no position profits as it falls.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Direction returns +1 for positions that profit on a rising price and -1
// for positions that profit on a falling price.
func (s Side) Direction() float64 {
	if s == SideNo {
		return -1
	}
	return 1
}

// PositionStatus tracks a position through its lifecycle. PartiallyClosed is
// a transient annotation: the position keeps evaluating until remaining size
// reaches zero or a full-exit trigger fires.
type PositionStatus string

const (
	PositionStatusOpen            PositionStatus = "open"
	PositionStatusPartiallyClosed PositionStatus = "partially_closed"
	PositionStatusClosed          PositionStatus = "closed"
)

// ExitReason classifies why an exit decision fired.
type ExitReason string

const (
	ExitReasonStopLoss     ExitReason = "stop_loss"
	ExitReasonTakeProfit   ExitReason = "take_profit"
	ExitReasonTrailingStop ExitReason = "trailing_stop"
	ExitReasonPartialExit  ExitReason = "partial_exit"
	ExitReasonManual       ExitReason = "manual"
)

// Position is one open or historical capital allocation against a single
// market-side signal. It is mutated only by the ledger; the decision function
// reads it and stays pure.
type Position struct {
	ID          string
	PortfolioID string
	StrategyID  string
	SourceID    string
	MarketID    string
	TokenID     string
	Side        Side

	EntryPrice       float64
	OriginalSize     float64
	RemainingSize    float64
	CapitalAllocated float64 // cost basis of the remaining size

	// PeakFavorablePrice ratchets monotonically in the position's favorable
	// direction: it only ever rises for yes positions and only ever falls
	// for no positions.
	PeakFavorablePrice float64

	RealizedPnL      float64
	UnrealizedPnL    float64
	UnrealizedPnLPct float64

	// PartialExitsTaken holds the exit orders already executed, each at most
	// once per position.
	PartialExitsTaken []int

	Params ResolvedParams
	Status PositionStatus

	// EventSeq counts lifecycle events emitted for this position. It is
	// bumped inside the same transaction as the state change it describes,
	// so it survives restarts and lets consumers de-duplicate.
	EventSeq uint64

	OpenedAt        time.Time
	LastEvaluatedAt time.Time
	ClosedAt        *time.Time
	ExitPrice       *float64
	CloseReason     *ExitReason
}

// GainPct is the unrealized gain at price as a signed fraction of the entry
// price, normalized into the position's favorable frame.
func (p *Position) GainPct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return p.Side.Direction() * (price - p.EntryPrice) / p.EntryPrice
}

// PnLAt is the unrealized profit at price over the given size.
func (p *Position) PnLAt(price, size float64) float64 {
	return p.Side.Direction() * (price - p.EntryPrice) * size
}

// HasTakenExit reports whether the ladder step with the given exit order has
// already been executed.
func (p *Position) HasTakenExit(order int) bool {
	for _, o := range p.PartialExitsTaken {
		if o == order {
			return true
		}
	}
	return false
}

// Age is the position's age at the given instant.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

// MoreFavorable reports whether price improves on the current peak in the
// position's favorable direction.
func (p *Position) MoreFavorable(price float64) bool {
	if p.Side == SideNo {
		return price < p.PeakFavorablePrice
	}
	return price > p.PeakFavorablePrice
}
