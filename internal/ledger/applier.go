// Package ledger turns exit decisions into position and portfolio state
// transitions. The bookkeeping here is pure; the postgres ledger store wraps
// it in a transaction so the position row and the portfolio capital row
// commit together or not at all.
package ledger

import (
	"fmt"
	"time"

	"polyexit/internal/domain"
)

// Sizes below this are dust from fractional partial exits and count as fully
// closed.
const minRemainingSize = 1e-9

// Change is the full effect of applying one evaluation: the next position
// state plus the portfolio capital movement that must commit with it.
type Change struct {
	Position domain.Position

	// CapitalReleased flows back to the portfolio's available pool. It is
	// the closed size's cost basis plus the realized P&L on it, so over a
	// position's life the releases sum to the original allocation plus
	// total realized P&L.
	CapitalReleased float64
	RealizedPnL     float64
	ClosedSize      float64

	Event domain.EventType

	// Applied is false when the evaluation was absorbed before, making
	// this replay a no-op.
	Applied bool
}

// Apply computes the state transition implied by eval against pos. It never
// mutates pos.
//
// Replays are no-ops: a partial exit whose order is already taken, or any
// decision against a closed position, returns Applied=false with the current
// state. An evaluation whose quote predates the position's last evaluation is
// rejected with ErrStaleDecision.
func Apply(pos domain.Position, eval domain.Evaluation) (Change, error) {
	if pos.Status == domain.PositionStatusClosed {
		return Change{Position: pos}, nil
	}
	if !pos.LastEvaluatedAt.IsZero() && eval.QuoteAt.Before(pos.LastEvaluatedAt) {
		return Change{}, fmt.Errorf("ledger: quote at %s predates last evaluation at %s: %w",
			eval.QuoteAt.Format(time.RFC3339Nano), pos.LastEvaluatedAt.Format(time.RFC3339Nano),
			domain.ErrStaleDecision)
	}

	next := pos
	next.PartialExitsTaken = append([]int(nil), pos.PartialExitsTaken...)

	// The peak only ever ratchets in the favorable direction, whatever the
	// evaluation carries.
	if pos.MoreFavorable(eval.NewPeak) || pos.PeakFavorablePrice <= 0 {
		next.PeakFavorablePrice = eval.NewPeak
	}
	next.LastEvaluatedAt = eval.EvaluatedAt

	switch eval.Decision.Kind {
	case domain.DecisionHold:
		next.UnrealizedPnL = eval.UnrealizedPnL
		next.UnrealizedPnLPct = eval.UnrealizedPnLPct
		return Change{Position: next, Event: domain.EventPositionPriceUpdated, Applied: true}, nil

	case domain.DecisionPartialExit:
		if pos.HasTakenExit(eval.Decision.ExitOrder) {
			return Change{Position: pos}, nil
		}
		frac := eval.Decision.FractionOfRemaining
		if frac <= 0 || frac > 1 {
			return Change{}, fmt.Errorf("ledger: partial exit fraction %.4f out of range: %w",
				frac, domain.ErrInvalidConfig)
		}
		closedSize := pos.RemainingSize * frac
		realized := pos.PnLAt(eval.Price, closedSize)
		released := pos.EntryPrice*closedSize + realized

		next.RemainingSize = pos.RemainingSize - closedSize
		next.CapitalAllocated = pos.EntryPrice * next.RemainingSize
		next.RealizedPnL = pos.RealizedPnL + realized
		next.PartialExitsTaken = append(next.PartialExitsTaken, eval.Decision.ExitOrder)
		next.Status = domain.PositionStatusPartiallyClosed

		change := Change{
			CapitalReleased: released,
			RealizedPnL:     realized,
			ClosedSize:      closedSize,
			Event:           domain.EventPositionPartiallyClosed,
			Applied:         true,
		}
		if next.RemainingSize < minRemainingSize {
			closePosition(&next, eval, domain.ExitReasonPartialExit)
			change.Event = domain.EventPositionClosed
		} else {
			next.UnrealizedPnL = next.PnLAt(eval.Price, next.RemainingSize)
			next.UnrealizedPnLPct = next.GainPct(eval.Price)
		}
		change.Position = next
		return change, nil

	case domain.DecisionFullExit:
		closedSize := pos.RemainingSize
		realized := pos.PnLAt(eval.Price, closedSize)
		released := pos.EntryPrice*closedSize + realized

		next.RealizedPnL = pos.RealizedPnL + realized
		closePosition(&next, eval, eval.Decision.Reason)

		return Change{
			Position:        next,
			CapitalReleased: released,
			RealizedPnL:     realized,
			ClosedSize:      closedSize,
			Event:           domain.EventPositionClosed,
			Applied:         true,
		}, nil

	default:
		return Change{}, fmt.Errorf("ledger: unknown decision kind %q: %w",
			eval.Decision.Kind, domain.ErrInvalidConfig)
	}
}

func closePosition(p *domain.Position, eval domain.Evaluation, reason domain.ExitReason) {
	p.RemainingSize = 0
	p.CapitalAllocated = 0
	p.UnrealizedPnL = 0
	p.UnrealizedPnLPct = 0
	p.Status = domain.PositionStatusClosed
	closedAt := eval.EvaluatedAt
	p.ClosedAt = &closedAt
	price := eval.Price
	p.ExitPrice = &price
	r := reason
	p.CloseReason = &r
}
