package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyexit/internal/domain"
)

func openPosition() domain.Position {
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
		LastEvaluatedAt:    opened,
	}
}

func evalAt(decision domain.Decision, price, newPeak float64, at time.Time) domain.Evaluation {
	return domain.Evaluation{
		Decision:    decision,
		NewPeak:     newPeak,
		Price:       price,
		QuoteAt:     at,
		EvaluatedAt: at,
	}
}

func TestApplyHoldUpdatesSnapshot(t *testing.T) {
	pos := openPosition()
	at := pos.OpenedAt.Add(time.Minute)
	eval := evalAt(domain.Decision{Kind: domain.DecisionHold}, 0.55, 0.55, at)
	eval.UnrealizedPnL = 5
	eval.UnrealizedPnLPct = 0.10

	change, err := Apply(pos, eval)
	require.NoError(t, err)
	require.True(t, change.Applied)
	assert.Equal(t, domain.EventPositionPriceUpdated, change.Event)
	assert.Zero(t, change.CapitalReleased)
	assert.InDelta(t, 0.55, change.Position.PeakFavorablePrice, 1e-9)
	assert.InDelta(t, 5.0, change.Position.UnrealizedPnL, 1e-9)
	assert.Equal(t, at, change.Position.LastEvaluatedAt)
	assert.Equal(t, domain.PositionStatusOpen, change.Position.Status)

	// The input position is untouched.
	assert.InDelta(t, 0.50, pos.PeakFavorablePrice, 1e-9)
}

func TestApplyPeakNeverRegresses(t *testing.T) {
	pos := openPosition()
	pos.PeakFavorablePrice = 0.60
	at := pos.OpenedAt.Add(time.Minute)

	change, err := Apply(pos, evalAt(domain.Decision{Kind: domain.DecisionHold}, 0.55, 0.55, at))
	require.NoError(t, err)
	assert.InDelta(t, 0.60, change.Position.PeakFavorablePrice, 1e-9)
}

func TestApplyPartialExit(t *testing.T) {
	pos := openPosition()
	at := pos.OpenedAt.Add(time.Minute)
	eval := evalAt(domain.Decision{
		Kind:                domain.DecisionPartialExit,
		ExitOrder:           1,
		FractionOfRemaining: 0.5,
		Reason:              domain.ExitReasonPartialExit,
	}, 0.56, 0.56, at)

	change, err := Apply(pos, eval)
	require.NoError(t, err)
	require.True(t, change.Applied)
	assert.Equal(t, domain.EventPositionPartiallyClosed, change.Event)

	assert.InDelta(t, 50, change.ClosedSize, 1e-9)
	assert.InDelta(t, 3.0, change.RealizedPnL, 1e-9)      // (0.56-0.50)*50
	assert.InDelta(t, 28.0, change.CapitalReleased, 1e-9) // 0.50*50 + 3

	p := change.Position
	assert.InDelta(t, 50, p.RemainingSize, 1e-9)
	assert.InDelta(t, 25, p.CapitalAllocated, 1e-9)
	assert.InDelta(t, 3.0, p.RealizedPnL, 1e-9)
	assert.Equal(t, []int{1}, p.PartialExitsTaken)
	assert.Equal(t, domain.PositionStatusPartiallyClosed, p.Status)
	assert.InDelta(t, 3.0, p.UnrealizedPnL, 1e-9) // (0.56-0.50)*50 still open
}

func TestApplyPartialExitReplayNoOp(t *testing.T) {
	pos := openPosition()
	pos.PartialExitsTaken = []int{1}
	pos.RemainingSize = 50
	pos.Status = domain.PositionStatusPartiallyClosed
	at := pos.OpenedAt.Add(time.Minute)

	eval := evalAt(domain.Decision{
		Kind:                domain.DecisionPartialExit,
		ExitOrder:           1,
		FractionOfRemaining: 0.5,
	}, 0.56, 0.56, at)

	change, err := Apply(pos, eval)
	require.NoError(t, err)
	assert.False(t, change.Applied)
	assert.Zero(t, change.CapitalReleased)
	assert.InDelta(t, 50, change.Position.RemainingSize, 1e-9)
}

func TestApplyFullExit(t *testing.T) {
	pos := openPosition()
	at := pos.OpenedAt.Add(time.Minute)
	eval := evalAt(domain.Decision{
		Kind:   domain.DecisionFullExit,
		Reason: domain.ExitReasonTakeProfit,
	}, 0.60, 0.60, at)

	change, err := Apply(pos, eval)
	require.NoError(t, err)
	require.True(t, change.Applied)
	assert.Equal(t, domain.EventPositionClosed, change.Event)
	assert.InDelta(t, 100, change.ClosedSize, 1e-9)
	assert.InDelta(t, 10.0, change.RealizedPnL, 1e-9)
	assert.InDelta(t, 60.0, change.CapitalReleased, 1e-9)

	p := change.Position
	assert.Equal(t, domain.PositionStatusClosed, p.Status)
	assert.Zero(t, p.RemainingSize)
	assert.Zero(t, p.CapitalAllocated)
	require.NotNil(t, p.ClosedAt)
	assert.Equal(t, at, *p.ClosedAt)
	require.NotNil(t, p.ExitPrice)
	assert.InDelta(t, 0.60, *p.ExitPrice, 1e-9)
	require.NotNil(t, p.CloseReason)
	assert.Equal(t, domain.ExitReasonTakeProfit, *p.CloseReason)
}

func TestApplyFullExitOnClosedNoOp(t *testing.T) {
	pos := openPosition()
	pos.Status = domain.PositionStatusClosed
	pos.RemainingSize = 0
	at := pos.OpenedAt.Add(time.Minute)

	change, err := Apply(pos, evalAt(domain.Decision{
		Kind: domain.DecisionFullExit, Reason: domain.ExitReasonStopLoss,
	}, 0.40, 0.50, at))
	require.NoError(t, err)
	assert.False(t, change.Applied)
	assert.Zero(t, change.CapitalReleased)
}

func TestApplyStaleQuoteRejected(t *testing.T) {
	pos := openPosition()
	pos.LastEvaluatedAt = pos.OpenedAt.Add(10 * time.Minute)
	stale := pos.OpenedAt.Add(5 * time.Minute)

	_, err := Apply(pos, evalAt(domain.Decision{Kind: domain.DecisionHold}, 0.55, 0.55, stale))
	require.ErrorIs(t, err, domain.ErrStaleDecision)
}

func TestApplyNoSideRealizedPnL(t *testing.T) {
	pos := openPosition()
	pos.Side = domain.SideNo
	pos.EntryPrice = 0.60
	pos.CapitalAllocated = 60
	pos.PeakFavorablePrice = 0.60
	at := pos.OpenedAt.Add(time.Minute)

	// Price fell to 0.48: a 0.12 gain per unit for a no position.
	change, err := Apply(pos, evalAt(domain.Decision{
		Kind: domain.DecisionFullExit, Reason: domain.ExitReasonTakeProfit,
	}, 0.48, 0.48, at))
	require.NoError(t, err)
	assert.InDelta(t, 12.0, change.RealizedPnL, 1e-9)
	assert.InDelta(t, 72.0, change.CapitalReleased, 1e-9)
}

func TestApplyNoSideTotalLossReleasesNothing(t *testing.T) {
	// A no position stopped out at exactly twice the entry price loses its
	// whole cost basis: the release is zero while realized P&L is not, and
	// ClosedSize is the only reliable signal that capital moved.
	pos := openPosition()
	pos.Side = domain.SideNo
	pos.EntryPrice = 0.30
	pos.CapitalAllocated = 30
	pos.PeakFavorablePrice = 0.30
	at := pos.OpenedAt.Add(time.Minute)

	change, err := Apply(pos, evalAt(domain.Decision{
		Kind: domain.DecisionFullExit, Reason: domain.ExitReasonStopLoss,
	}, 0.60, 0.30, at))
	require.NoError(t, err)
	require.True(t, change.Applied)
	assert.InDelta(t, 100.0, change.ClosedSize, 1e-9)
	assert.InDelta(t, -30.0, change.RealizedPnL, 1e-9)
	assert.InDelta(t, 0.0, change.CapitalReleased, 1e-9)
	assert.Equal(t, domain.PositionStatusClosed, change.Position.Status)
}

func TestApplyCapitalConservation(t *testing.T) {
	// Over a ladder then a final trailing exit, released capital must sum to
	// the original allocation plus total realized P&L.
	pos := openPosition()
	at := pos.OpenedAt

	var released, realized float64
	prices := []struct {
		decision domain.Decision
		price    float64
	}{
		{domain.Decision{Kind: domain.DecisionPartialExit, ExitOrder: 1, FractionOfRemaining: 0.25}, 0.56},
		{domain.Decision{Kind: domain.DecisionPartialExit, ExitOrder: 2, FractionOfRemaining: 0.5}, 0.61},
		{domain.Decision{Kind: domain.DecisionFullExit, Reason: domain.ExitReasonTrailingStop}, 0.58},
	}
	for _, step := range prices {
		at = at.Add(time.Minute)
		change, err := Apply(pos, evalAt(step.decision, step.price, step.price, at))
		require.NoError(t, err)
		require.True(t, change.Applied)
		released += change.CapitalReleased
		realized += change.RealizedPnL
		pos = change.Position
	}

	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	assert.InDelta(t, realized, pos.RealizedPnL, 1e-9)
	assert.InDelta(t, 50+realized, released, 1e-9) // entry 0.50 * size 100
}

func TestApplyPartialToFullOnDust(t *testing.T) {
	pos := openPosition()
	at := pos.OpenedAt.Add(time.Minute)

	change, err := Apply(pos, evalAt(domain.Decision{
		Kind: domain.DecisionPartialExit, ExitOrder: 1, FractionOfRemaining: 1.0,
	}, 0.56, 0.56, at))
	require.NoError(t, err)
	assert.Equal(t, domain.EventPositionClosed, change.Event)
	assert.Equal(t, domain.PositionStatusClosed, change.Position.Status)
	require.NotNil(t, change.Position.CloseReason)
	assert.Equal(t, domain.ExitReasonPartialExit, *change.Position.CloseReason)
}

func TestApplyBadFraction(t *testing.T) {
	pos := openPosition()
	at := pos.OpenedAt.Add(time.Minute)

	_, err := Apply(pos, evalAt(domain.Decision{
		Kind: domain.DecisionPartialExit, ExitOrder: 1, FractionOfRemaining: 1.5,
	}, 0.56, 0.56, at))
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
