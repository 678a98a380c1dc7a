package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyexit/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func basePosition() domain.Position {
	opened := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Position{
		ID:                 "pos-1",
		Side:               domain.SideYes,
		EntryPrice:         0.50,
		OriginalSize:       100,
		RemainingSize:      100,
		CapitalAllocated:   50,
		PeakFavorablePrice: 0.50,
		Status:             domain.PositionStatusOpen,
		OpenedAt:           opened,
	}
}

func baseParams() domain.ResolvedParams {
	return domain.ResolvedParams{
		TakeProfitPct:  0.20,
		StopLossPct:    0.10,
		SizeMultiplier: 1,
	}
}

func quoteAt(price float64, at time.Time) domain.PriceQuote {
	return domain.PriceQuote{TokenID: "tok-1", Side: domain.SideYes, BestExecutablePrice: price, ObservedAt: at}
}

func TestEvaluateTakeProfit(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	now := pos.OpenedAt.Add(time.Hour)

	// 0.60 on a 0.50 entry is exactly +20%.
	ev := Evaluate(pos, params, quoteAt(0.60, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTakeProfit, ev.Decision.Reason)
	assert.InDelta(t, 0.20, ev.UnrealizedPnLPct, 1e-9)
	assert.InDelta(t, 10.0, ev.UnrealizedPnL, 1e-9)

	ev = Evaluate(pos, params, quoteAt(0.599, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
}

func TestEvaluateStopLoss(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.45, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, ev.Decision.Reason)
	assert.InDelta(t, -0.10, ev.UnrealizedPnLPct, 1e-9)
}

func TestEvaluateExactThresholdQuotes(t *testing.T) {
	// Boundary quotes must fire even when the gain-space division rounds
	// just under the threshold ((0.60-0.50)/0.50 < 0.20 in floats).
	cases := []struct {
		name   string
		entry  float64
		tp, sl float64
		price  float64
		reason domain.ExitReason
	}{
		{"take profit at entry times 1.2", 0.50, 0.20, 0.10, 0.60, domain.ExitReasonTakeProfit},
		{"stop loss at entry times 0.9", 0.50, 0.20, 0.10, 0.45, domain.ExitReasonStopLoss},
		{"take profit on odd entry", 0.35, 0.20, 0.10, 0.42, domain.ExitReasonTakeProfit},
		{"stop loss on odd entry", 0.35, 0.20, 0.10, 0.315, domain.ExitReasonStopLoss},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pos := basePosition()
			pos.EntryPrice = tc.entry
			pos.PeakFavorablePrice = tc.entry
			params := baseParams()
			params.TakeProfitPct = tc.tp
			params.StopLossPct = tc.sl
			now := pos.OpenedAt.Add(time.Hour)

			ev := Evaluate(pos, params, quoteAt(tc.price, now), now)
			require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
			assert.Equal(t, tc.reason, ev.Decision.Reason)
		})
	}
}

func TestEvaluateLadderExactThreshold(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	params.TakeProfitPct = 0.60
	params.PartialExits = []domain.PartialExitStep{
		{ExitOrder: 1, ExitPctOfRemaining: 0.25, ThresholdPct: 0.12},
	}
	now := pos.OpenedAt.Add(time.Hour)

	// 0.56 on a 0.50 entry is exactly +12%.
	ev := Evaluate(pos, params, quoteAt(0.56, now), now)
	require.Equal(t, domain.DecisionPartialExit, ev.Decision.Kind)
	assert.Equal(t, 1, ev.Decision.ExitOrder)
}

func TestEvaluateNoSideDirection(t *testing.T) {
	pos := basePosition()
	pos.Side = domain.SideNo
	pos.EntryPrice = 0.60
	pos.PeakFavorablePrice = 0.60
	params := baseParams()
	now := pos.OpenedAt.Add(time.Hour)

	// A falling price is a gain for a no position.
	ev := Evaluate(pos, params, quoteAt(0.48, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTakeProfit, ev.Decision.Reason)

	// A rising price is a loss.
	ev = Evaluate(pos, params, quoteAt(0.66, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, ev.Decision.Reason)
}

func TestEvaluatePeakRatchet(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	params.TakeProfitPct = 0.50 // keep TP out of the way
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.58, now), now)
	assert.InDelta(t, 0.58, ev.NewPeak, 1e-9)

	// A retreat never lowers the peak.
	pos.PeakFavorablePrice = 0.58
	ev = Evaluate(pos, params, quoteAt(0.55, now), now)
	assert.InDelta(t, 0.58, ev.NewPeak, 1e-9)

	// No side ratchets downward only.
	pos = basePosition()
	pos.Side = domain.SideNo
	pos.PeakFavorablePrice = 0.50
	ev = Evaluate(pos, params, quoteAt(0.44, now), now)
	assert.InDelta(t, 0.44, ev.NewPeak, 1e-9)
	pos.PeakFavorablePrice = 0.44
	ev = Evaluate(pos, params, quoteAt(0.47, now), now)
	assert.InDelta(t, 0.44, ev.NewPeak, 1e-9)
}

func TestEvaluateStaticTrailing(t *testing.T) {
	pos := basePosition()
	pos.PeakFavorablePrice = 0.60
	params := baseParams()
	params.TakeProfitPct = 0.50
	params.TrailingStopPct = fptr(0.05)
	now := pos.OpenedAt.Add(time.Hour)

	// Trigger sits at 0.60 * 0.95 = 0.57.
	ev := Evaluate(pos, params, quoteAt(0.575, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	ev = Evaluate(pos, params, quoteAt(0.57, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)
}

func TestEvaluateTrailingChecksRatchetedPeak(t *testing.T) {
	// A new high and the trailing check happen on the same tick: the trigger
	// moves up with the fresh peak, so the new high itself never fires it.
	pos := basePosition()
	pos.PeakFavorablePrice = 0.55
	params := baseParams()
	params.TakeProfitPct = 0.80
	params.TrailingStopPct = fptr(0.05)
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.62, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
	assert.InDelta(t, 0.62, ev.NewPeak, 1e-9)
}

func TestEvaluateNoSideTrailing(t *testing.T) {
	pos := basePosition()
	pos.Side = domain.SideNo
	pos.EntryPrice = 0.60
	pos.PeakFavorablePrice = 0.50
	params := baseParams()
	params.TakeProfitPct = 0.50
	params.TrailingStopPct = fptr(0.04)
	now := pos.OpenedAt.Add(time.Hour)

	// Trigger sits above the peak for a no position: 0.50 * 1.04 = 0.52.
	ev := Evaluate(pos, params, quoteAt(0.515, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	ev = Evaluate(pos, params, quoteAt(0.52, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)
}

func TestEvaluateDynamicTrailingTightens(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	params.TakeProfitPct = 0.60
	params.DynamicTrailing = domain.DynamicTrailing{
		Enabled:      true,
		BasePct:      0.08,
		TightPct:     0.03,
		ThresholdPct: 0.15,
	}
	now := pos.OpenedAt.Add(time.Hour)

	// Below the gain threshold the base distance applies. Peak 0.56, quote
	// 0.53 is a 5.4% retreat: inside base, would breach tight.
	pos.PeakFavorablePrice = 0.56
	ev := Evaluate(pos, params, quoteAt(0.53, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	// Past the threshold the tight distance applies. Peak 0.60, quote 0.58
	// is +16% gain and a 3.3% retreat off the peak.
	pos.PeakFavorablePrice = 0.60
	ev = Evaluate(pos, params, quoteAt(0.58, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)
}

func TestEvaluateTimeTrailingInterpolates(t *testing.T) {
	pos := basePosition()
	pos.PeakFavorablePrice = 0.56
	params := baseParams()
	params.TakeProfitPct = 0.60
	params.TrailingStopPct = fptr(0.10)
	params.TimeTrailing = domain.TimeTrailing{
		Enabled:    true,
		StartHours: 4,
		MaxHours:   12,
		TightPct:   0.02,
	}

	// Before StartHours the static distance is untouched: a 5.4% retreat
	// off peak 0.56 holds under the 10% distance.
	now := pos.OpenedAt.Add(2 * time.Hour)
	ev := Evaluate(pos, params, quoteAt(0.53, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	// Halfway through the ramp the distance is (0.10+0.02)/2 = 6%, putting
	// the trigger at 0.56*0.94 = 0.5264. A quote just above it holds, one
	// below it fires.
	now = pos.OpenedAt.Add(8 * time.Hour)
	ev = Evaluate(pos, params, quoteAt(0.527, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
	ev = Evaluate(pos, params, quoteAt(0.526, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)

	// Past MaxHours the tight distance rules: a 1.8% retreat still holds,
	// a 2.2% retreat fires.
	now = pos.OpenedAt.Add(20 * time.Hour)
	ev = Evaluate(pos, params, quoteAt(0.550, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
	ev = Evaluate(pos, params, quoteAt(0.5475, now), now)
	assert.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
}

func TestEvaluateTimeTrailingNeverWidens(t *testing.T) {
	// When dynamic tightening already resolved below the time ramp, the
	// tighter of the two wins.
	pos := basePosition()
	pos.PeakFavorablePrice = 0.60
	params := baseParams()
	params.TakeProfitPct = 0.60
	params.DynamicTrailing = domain.DynamicTrailing{
		Enabled: true, BasePct: 0.10, TightPct: 0.02, ThresholdPct: 0.15,
	}
	params.TimeTrailing = domain.TimeTrailing{
		Enabled: true, StartHours: 4, MaxHours: 12, TightPct: 0.05,
	}
	now := pos.OpenedAt.Add(8 * time.Hour)

	// Gain at 0.585 is +17%, dynamic resolves to 2%; retreat is 2.5%.
	ev := Evaluate(pos, params, quoteAt(0.585, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)
}

func TestEvaluatePartialLadder(t *testing.T) {
	pos := basePosition()
	params := baseParams()
	params.TakeProfitPct = 0.60
	params.PartialExits = []domain.PartialExitStep{
		{ExitOrder: 1, ExitPctOfRemaining: 0.5, ThresholdPct: 0.10},
		{ExitOrder: 2, ExitPctOfRemaining: 0.5, ThresholdPct: 0.20},
	}
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.56, now), now)
	require.Equal(t, domain.DecisionPartialExit, ev.Decision.Kind)
	assert.Equal(t, 1, ev.Decision.ExitOrder)
	assert.InDelta(t, 0.5, ev.Decision.FractionOfRemaining, 1e-9)
	assert.Equal(t, domain.ExitReasonPartialExit, ev.Decision.Reason)

	// The same step never fires twice.
	pos.PartialExitsTaken = []int{1}
	ev = Evaluate(pos, params, quoteAt(0.56, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	// The next rung fires at its own threshold.
	ev = Evaluate(pos, params, quoteAt(0.61, now), now)
	require.Equal(t, domain.DecisionPartialExit, ev.Decision.Kind)
	assert.Equal(t, 2, ev.Decision.ExitOrder)
}

func TestEvaluateLadderOneStepPerTick(t *testing.T) {
	// A gap past several thresholds still fires only the lowest untaken
	// step; the rest follow on later ticks.
	pos := basePosition()
	params := baseParams()
	params.TakeProfitPct = 0.80
	params.PartialExits = []domain.PartialExitStep{
		{ExitOrder: 1, ExitPctOfRemaining: 0.25, ThresholdPct: 0.10},
		{ExitOrder: 2, ExitPctOfRemaining: 0.25, ThresholdPct: 0.20},
		{ExitOrder: 3, ExitPctOfRemaining: 0.50, ThresholdPct: 0.30},
	}
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.68, now), now)
	require.Equal(t, domain.DecisionPartialExit, ev.Decision.Kind)
	assert.Equal(t, 1, ev.Decision.ExitOrder)

	pos.PartialExitsTaken = []int{1}
	ev = Evaluate(pos, params, quoteAt(0.68, now), now)
	require.Equal(t, domain.DecisionPartialExit, ev.Decision.Kind)
	assert.Equal(t, 2, ev.Decision.ExitOrder)
}

func TestEvaluatePriorityOrder(t *testing.T) {
	// When stop-loss and a ladder step could both apply on a stale ladder
	// config, stop-loss wins outright.
	pos := basePosition()
	pos.PeakFavorablePrice = 0.62
	params := baseParams()
	params.TrailingStopPct = fptr(0.05)
	params.PartialExits = []domain.PartialExitStep{
		{ExitOrder: 1, ExitPctOfRemaining: 0.5, ThresholdPct: 0.05},
	}
	now := pos.OpenedAt.Add(time.Hour)

	// 0.44 is -12%: stop-loss beats the trailing breach.
	ev := Evaluate(pos, params, quoteAt(0.44, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonStopLoss, ev.Decision.Reason)

	// +8% gain with a trailing breach off peak 0.62: trailing beats the
	// eligible ladder step.
	ev = Evaluate(pos, params, quoteAt(0.54, now), now)
	require.Equal(t, domain.DecisionFullExit, ev.Decision.Kind)
	assert.Equal(t, domain.ExitReasonTrailingStop, ev.Decision.Reason)
}

func TestEvaluateDegenerateInputs(t *testing.T) {
	params := baseParams()
	now := basePosition().OpenedAt.Add(time.Hour)

	pos := basePosition()
	ev := Evaluate(pos, params, quoteAt(0, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
	assert.InDelta(t, pos.PeakFavorablePrice, ev.NewPeak, 1e-9)

	pos = basePosition()
	pos.EntryPrice = 0
	ev = Evaluate(pos, params, quoteAt(0.5, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)

	pos = basePosition()
	pos.RemainingSize = 0
	ev = Evaluate(pos, params, quoteAt(0.9, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
}

func TestEvaluateZeroPeakFallsBackToEntry(t *testing.T) {
	pos := basePosition()
	pos.PeakFavorablePrice = 0
	params := baseParams()
	params.TakeProfitPct = 0.50
	now := pos.OpenedAt.Add(time.Hour)

	ev := Evaluate(pos, params, quoteAt(0.52, now), now)
	assert.Equal(t, domain.DecisionHold, ev.Decision.Kind)
	assert.InDelta(t, 0.52, ev.NewPeak, 1e-9)
}
