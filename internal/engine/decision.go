// Package engine holds the exit decision function and the evaluation
// scheduler that drives it across all open positions.
package engine

import (
	"math"
	"time"

	"polyexit/internal/domain"
)

// Evaluate is the exit decision function. It is pure: it performs no I/O,
// never mutates the position, and never panics on degenerate market input.
// The ratcheted peak is returned inside the Evaluation for the ledger to
// commit.
//
// Triggers are checked in fixed priority order: stop-loss, take-profit,
// trailing stop, partial-exit ladder. Stop-loss and take-profit are absolute
// guarantees and override a ladder still in progress.
func Evaluate(pos domain.Position, params domain.ResolvedParams, quote domain.PriceQuote, now time.Time) domain.Evaluation {
	price := quote.BestExecutablePrice

	peak := pos.PeakFavorablePrice
	if peak <= 0 {
		peak = pos.EntryPrice
	}

	eval := domain.Evaluation{
		Decision:    domain.Decision{Kind: domain.DecisionHold},
		NewPeak:     peak,
		Price:       price,
		QuoteAt:     quote.ObservedAt,
		EvaluatedAt: now,
	}

	// A zero or crossed quote means no decision this tick, not a crash.
	if price <= 0 || pos.EntryPrice <= 0 || pos.RemainingSize <= 0 {
		return eval
	}

	// Step 1: ratchet the peak before any trigger looks at it.
	if (pos.Side == domain.SideYes && price > peak) || (pos.Side == domain.SideNo && price < peak) {
		eval.NewPeak = price
	}

	gain := pos.GainPct(price)
	eval.UnrealizedPnL = pos.PnLAt(price, pos.RemainingSize)
	eval.UnrealizedPnLPct = gain

	// Step 2: stop-loss.
	if lossReached(pos.Side, pos.EntryPrice, price, params.StopLossPct) {
		eval.Decision = domain.Decision{Kind: domain.DecisionFullExit, Reason: domain.ExitReasonStopLoss}
		return eval
	}

	// Step 3: take-profit.
	if gainReached(pos.Side, pos.EntryPrice, price, params.TakeProfitPct) {
		eval.Decision = domain.Decision{Kind: domain.DecisionFullExit, Reason: domain.ExitReasonTakeProfit}
		return eval
	}

	// Step 4: trailing stop, against the already-ratcheted peak.
	if dist, ok := effectiveTrailingPct(params, pos, price, pos.Age(now)); ok {
		trigger := trailingTrigger(pos.Side, eval.NewPeak, dist)
		if crossed(pos.Side, price, trigger) {
			eval.Decision = domain.Decision{Kind: domain.DecisionFullExit, Reason: domain.ExitReasonTrailingStop}
			return eval
		}
	}

	// Step 5: partial-exit ladder. One step per tick; a simultaneously
	// eligible later step fires on a following tick, keeping each order
	// exactly-once without dropping it.
	for _, step := range params.PartialExits {
		if pos.HasTakenExit(step.ExitOrder) {
			continue
		}
		if gainReached(pos.Side, pos.EntryPrice, price, step.ThresholdPct) {
			eval.Decision = domain.Decision{
				Kind:                domain.DecisionPartialExit,
				ExitOrder:           step.ExitOrder,
				FractionOfRemaining: step.ExitPctOfRemaining,
				Reason:              domain.ExitReasonPartialExit,
			}
			return eval
		}
		// Ladder thresholds ascend, so the first unmet one ends the scan.
		break
	}

	return eval
}

// gainReached reports whether the favorable move at price has reached the
// threshold fraction of entry. Thresholds are inclusive; comparing in price
// space keeps an exact boundary quote inclusive where the gain-space
// division would round just under it.
func gainReached(side domain.Side, entry, price, threshold float64) bool {
	if side == domain.SideNo {
		return price <= entry*(1-threshold)
	}
	return price >= entry*(1+threshold)
}

// lossReached is the unfavorable counterpart: true once the drawdown at
// price has reached the threshold fraction of entry, boundary inclusive.
func lossReached(side domain.Side, entry, price, threshold float64) bool {
	if side == domain.SideNo {
		return price >= entry*(1+threshold)
	}
	return price <= entry*(1-threshold)
}

// effectiveTrailingPct resolves the trailing distance for the current price
// and position age. Dynamic and time tightening compose by taking the tighter
// of the two; the result never exceeds the configured base distance.
func effectiveTrailingPct(params domain.ResolvedParams, pos domain.Position, price float64, age time.Duration) (float64, bool) {
	base := math.Inf(1)
	if params.TrailingStopPct != nil {
		base = *params.TrailingStopPct
	} else if params.DynamicTrailing.Enabled {
		base = params.DynamicTrailing.BasePct
	}

	dynResolved := base
	if params.DynamicTrailing.Enabled &&
		gainReached(pos.Side, pos.EntryPrice, price, params.DynamicTrailing.ThresholdPct) {
		dynResolved = math.Min(dynResolved, params.DynamicTrailing.TightPct)
	}

	timeResolved := math.Inf(1)
	if params.TimeTrailing.Enabled {
		tt := params.TimeTrailing
		hours := age.Hours()
		switch {
		case hours <= tt.StartHours:
			// No effect before the ramp starts.
		case hours >= tt.MaxHours:
			timeResolved = tt.TightPct
		default:
			from := dynResolved
			if math.IsInf(from, 1) {
				// Time trailing alone has no wider distance to ramp from.
				from = tt.TightPct
			}
			frac := (hours - tt.StartHours) / (tt.MaxHours - tt.StartHours)
			timeResolved = from + (tt.TightPct-from)*frac
		}
	}

	eff := math.Min(dynResolved, timeResolved)
	if math.IsInf(eff, 1) || eff <= 0 {
		return 0, false
	}
	return eff, true
}

// trailingTrigger retreats the peak by dist in the position's unfavorable
// direction.
func trailingTrigger(side domain.Side, peak, dist float64) float64 {
	if side == domain.SideNo {
		return peak * (1 + dist)
	}
	return peak * (1 - dist)
}

// crossed reports whether price has reached the trigger on the unfavorable
// side.
func crossed(side domain.Side, price, trigger float64) bool {
	if side == domain.SideNo {
		return price >= trigger
	}
	return price <= trigger
}
