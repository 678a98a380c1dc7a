package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyexit/internal/domain"
)

type stubStrategies struct {
	domain.StrategyStore
	cfg domain.StrategyConfig
	err error
}

func (s *stubStrategies) GetByName(ctx context.Context, name string) (domain.StrategyConfig, error) {
	return s.cfg, s.err
}

type stubStats struct {
	stats domain.SourceStats
	since time.Time
}

func (s *stubStats) Stats(ctx context.Context, sourceID string, since time.Time) (domain.SourceStats, error) {
	s.since = since
	return s.stats, nil
}

type stubQuotes struct {
	quote domain.PriceQuote
	err   error
}

func (s *stubQuotes) Quote(ctx context.Context, tokenID string, side domain.Side) (domain.PriceQuote, error) {
	return s.quote, s.err
}

type stubLedger struct {
	mu      sync.Mutex
	opened  []domain.Position
	applied []domain.Evaluation
	openErr error
	pos     domain.Position
}

func (s *stubLedger) Open(ctx context.Context, pos domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return domain.Position{}, s.openErr
	}
	s.opened = append(s.opened, pos)
	return pos, nil
}

func (s *stubLedger) ApplyEvaluation(ctx context.Context, positionID string, eval domain.Evaluation) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, eval)
	out := s.pos
	out.ID = positionID
	return out, nil
}

type stubBus struct {
	domain.EventBus
	mu        sync.Mutex
	publishes []string
}

func (s *stubBus) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishes = append(s.publishes, channel)
	return nil
}

type stubAudit struct {
	mu     sync.Mutex
	events []string
}

func (s *stubAudit) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAudit) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *stubAudit) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}

type stubPositions struct {
	domain.PositionStore
	pos domain.Position
	err error
}

func (s *stubPositions) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return s.pos, s.err
}

type countingKicker struct{ n int }

func (k *countingKicker) Kick() { k.n++ }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func validStrategy() domain.StrategyConfig {
	return domain.StrategyConfig{
		ID:                   "strat-1",
		Name:                 "ladder",
		DefaultTakeProfitPct: 0.20,
		DefaultStopLossPct:   0.10,
		Enabled:              true,
		SourceOverrides: map[string]domain.SourceOverride{
			"src-strong": {SizeMultiplier: 2, TakeProfitPct: floatPtr(0.30)},
		},
	}
}

func testSignal() domain.Signal {
	return domain.Signal{
		ID:            "sig-1",
		SourceID:      "src-1",
		MarketID:      "mkt-1",
		TokenID:       "tok-1",
		Side:          domain.SideYes,
		Confidence:    0.8,
		PriceAtSignal: 0.52,
		CreatedAt:     time.Now().UTC(),
	}
}

func newTestService(t *testing.T, cfg domain.StrategyConfig, stats domain.SourceStats, quotes *stubQuotes, ledger *stubLedger) (*PositionService, *stubAudit, *countingKicker) {
	t.Helper()
	audit := &stubAudit{}
	kicker := &countingKicker{}
	svc := NewPositionService(
		PositionServiceConfig{StrategyName: "ladder", BaseOrderSize: 100},
		&stubPositions{},
		nil,
		&stubStrategies{cfg: cfg},
		&stubStats{stats: stats},
		quotes,
		ledger,
		&stubBus{},
		audit,
		kicker,
		quietLogger(),
	)
	return svc, audit, kicker
}

func TestOpenFromSignal(t *testing.T) {
	ledger := &stubLedger{}
	quotes := &stubQuotes{quote: domain.PriceQuote{
		TokenID: "tok-1", Side: domain.SideYes, BestExecutablePrice: 0.54, ObservedAt: time.Now(),
	}}
	svc, audit, kicker := newTestService(t, validStrategy(), domain.SourceStats{}, quotes, ledger)

	pos, err := svc.OpenFromSignal(context.Background(), "pf-1", testSignal())
	require.NoError(t, err)

	// Fresh quote wins over the signal's price snapshot.
	assert.InDelta(t, 0.54, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 100, pos.OriginalSize, 1e-9)
	assert.InDelta(t, 54, pos.CapitalAllocated, 1e-9)
	assert.InDelta(t, 0.54, pos.PeakFavorablePrice, 1e-9)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)
	assert.Equal(t, "strat-1", pos.StrategyID)

	// Exit parameters are frozen onto the position.
	assert.InDelta(t, 0.20, pos.Params.TakeProfitPct, 1e-9)
	assert.InDelta(t, 0.10, pos.Params.StopLossPct, 1e-9)

	require.Len(t, ledger.opened, 1)
	assert.Equal(t, []string{"position_opened"}, audit.events)
	assert.Equal(t, 1, kicker.n)
}

func TestOpenFromSignalAppliesSourceOverride(t *testing.T) {
	ledger := &stubLedger{}
	quotes := &stubQuotes{err: domain.ErrQuoteUnavailable}
	svc, _, _ := newTestService(t, validStrategy(), domain.SourceStats{}, quotes, ledger)

	sig := testSignal()
	sig.SourceID = "src-strong"
	pos, err := svc.OpenFromSignal(context.Background(), "pf-1", sig)
	require.NoError(t, err)

	// No quote: the signal's price backs the entry. Override doubles size
	// and swaps take-profit.
	assert.InDelta(t, 0.52, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 200, pos.OriginalSize, 1e-9)
	assert.InDelta(t, 0.30, pos.Params.TakeProfitPct, 1e-9)
}

func TestOpenFromSignalEntryFilters(t *testing.T) {
	cfg := validStrategy()
	cfg.EntryFilters = domain.EntryFilters{
		MinSourceWinRate: floatPtr(0.55),
		MinSourceTrades:  intPtr(10),
		LookbackDays:     14,
	}

	cases := []struct {
		name   string
		stats  domain.SourceStats
		wantOK bool
	}{
		{"too few trades", domain.SourceStats{Trades: 4, Wins: 4, WinRate: 1}, false},
		{"low win rate", domain.SourceStats{Trades: 20, Wins: 8, WinRate: 0.4}, false},
		{"passes", domain.SourceStats{Trades: 20, Wins: 14, WinRate: 0.7}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := &stubLedger{}
			quotes := &stubQuotes{quote: domain.PriceQuote{BestExecutablePrice: 0.5, ObservedAt: time.Now()}}
			svc, audit, _ := newTestService(t, cfg, tc.stats, quotes, ledger)

			_, err := svc.OpenFromSignal(context.Background(), "pf-1", testSignal())
			if tc.wantOK {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, domain.ErrSignalRejected)
			assert.Contains(t, audit.events, "signal_rejected")
			assert.Empty(t, ledger.opened)
		})
	}
}

func TestOpenFromSignalInsufficientCapital(t *testing.T) {
	ledger := &stubLedger{openErr: domain.ErrCapitalInsufficient}
	quotes := &stubQuotes{quote: domain.PriceQuote{BestExecutablePrice: 0.5, ObservedAt: time.Now()}}
	svc, audit, _ := newTestService(t, validStrategy(), domain.SourceStats{}, quotes, ledger)

	_, err := svc.OpenFromSignal(context.Background(), "pf-1", testSignal())
	require.ErrorIs(t, err, domain.ErrSignalRejected)
	assert.Contains(t, audit.events, "signal_rejected")
}

func TestOpenFromSignalDisabledStrategy(t *testing.T) {
	cfg := validStrategy()
	cfg.Enabled = false
	svc, _, _ := newTestService(t, cfg, domain.SourceStats{}, &stubQuotes{}, &stubLedger{})

	_, err := svc.OpenFromSignal(context.Background(), "pf-1", testSignal())
	require.ErrorIs(t, err, domain.ErrSignalRejected)
}

func TestCloseManual(t *testing.T) {
	open := domain.Position{
		ID:                 "pos-1",
		TokenID:            "tok-1",
		Side:               domain.SideYes,
		EntryPrice:         0.50,
		RemainingSize:      100,
		PeakFavorablePrice: 0.58,
		Status:             domain.PositionStatusOpen,
	}
	ledger := &stubLedger{pos: domain.Position{Status: domain.PositionStatusClosed, RealizedPnL: 5}}
	quotes := &stubQuotes{quote: domain.PriceQuote{
		TokenID: "tok-1", BestExecutablePrice: 0.55, ObservedAt: time.Now(),
	}}
	audit := &stubAudit{}
	svc := NewPositionService(
		PositionServiceConfig{StrategyName: "ladder", BaseOrderSize: 100},
		&stubPositions{pos: open}, nil, &stubStrategies{}, &stubStats{},
		quotes, ledger, &stubBus{}, audit, nil, quietLogger(),
	)

	closed, err := svc.Close(context.Background(), "pos-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)

	require.Len(t, ledger.applied, 1)
	eval := ledger.applied[0]
	assert.Equal(t, domain.DecisionFullExit, eval.Decision.Kind)
	assert.Equal(t, domain.ExitReasonManual, eval.Decision.Reason)
	assert.InDelta(t, 0.58, eval.NewPeak, 1e-9) // peak never regresses on close
	assert.Contains(t, audit.events, "position_closed_manual")
}

func TestCloseAlreadyClosed(t *testing.T) {
	svc := NewPositionService(
		PositionServiceConfig{StrategyName: "ladder"},
		&stubPositions{pos: domain.Position{ID: "pos-1", Status: domain.PositionStatusClosed}},
		nil, &stubStrategies{}, &stubStats{}, &stubQuotes{}, &stubLedger{},
		&stubBus{}, &stubAudit{}, nil, quietLogger(),
	)
	_, err := svc.Close(context.Background(), "pos-1")
	require.ErrorIs(t, err, domain.ErrPositionClosed)
}

func TestCloseQuoteRequired(t *testing.T) {
	svc := NewPositionService(
		PositionServiceConfig{StrategyName: "ladder"},
		&stubPositions{pos: domain.Position{ID: "pos-1", Status: domain.PositionStatusOpen}},
		nil, &stubStrategies{}, &stubStats{},
		&stubQuotes{err: domain.ErrQuoteUnavailable}, &stubLedger{},
		&stubBus{}, &stubAudit{}, nil, quietLogger(),
	)
	_, err := svc.Close(context.Background(), "pos-1")
	require.ErrorIs(t, err, domain.ErrQuoteUnavailable)
}
