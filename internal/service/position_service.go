// Package service holds the application services that sit between the
// transports and the stores: position lifecycle, signal intake, and the
// archiver's data selection.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"polyexit/internal/domain"
	"polyexit/internal/events"
)

// Kicker requests an immediate evaluation pass. The scheduler implements it.
type Kicker interface {
	Kick()
}

// PositionServiceConfig tunes position opening.
type PositionServiceConfig struct {
	// StrategyName selects the strategy governing signal-opened positions.
	StrategyName string
	// BaseOrderSize is the token quantity for a 1.0 size multiplier.
	BaseOrderSize float64
	// DefaultLookbackDays bounds entry-filter stats when the strategy does
	// not set its own lookback.
	DefaultLookbackDays int
}

// PositionService opens positions from signals, closes them on demand, and
// serves position queries. All capital movements go through the ledger.
type PositionService struct {
	cfg        PositionServiceConfig
	positions  domain.PositionStore
	portfolios domain.PortfolioStore
	strategies domain.StrategyStore
	stats      domain.SourceStatsStore
	quotes     domain.QuoteProvider
	ledger     domain.Ledger
	bus        domain.EventBus
	audit      domain.AuditStore
	kicker     Kicker
	logger     *slog.Logger
	now        func() time.Time
}

// NewPositionService creates a PositionService. kicker may be nil when no
// scheduler runs in this process.
func NewPositionService(
	cfg PositionServiceConfig,
	positions domain.PositionStore,
	portfolios domain.PortfolioStore,
	strategies domain.StrategyStore,
	stats domain.SourceStatsStore,
	quotes domain.QuoteProvider,
	ledger domain.Ledger,
	bus domain.EventBus,
	audit domain.AuditStore,
	kicker Kicker,
	logger *slog.Logger,
) *PositionService {
	if cfg.DefaultLookbackDays <= 0 {
		cfg.DefaultLookbackDays = 30
	}
	return &PositionService{
		cfg:        cfg,
		positions:  positions,
		portfolios: portfolios,
		strategies: strategies,
		stats:      stats,
		quotes:     quotes,
		ledger:     ledger,
		bus:        bus,
		audit:      audit,
		kicker:     kicker,
		logger:     logger.With(slog.String("component", "position_service")),
		now:        time.Now,
	}
}

// OpenFromSignal opens a position for the signal in the given portfolio. The
// signal is trusted as already validated; this applies entry filters, freezes
// the resolved exit parameters, and commits the open through the ledger.
// Rejections return ErrSignalRejected after auditing the reason.
func (s *PositionService) OpenFromSignal(ctx context.Context, portfolioID string, sig domain.Signal) (domain.Position, error) {
	cfg, err := s.strategies.GetByName(ctx, s.cfg.StrategyName)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: load strategy %q: %w", s.cfg.StrategyName, err)
	}
	if !cfg.Enabled {
		return domain.Position{}, s.reject(ctx, sig, "strategy disabled")
	}

	if reason, err := s.checkEntryFilters(ctx, cfg, sig.SourceID); err != nil {
		return domain.Position{}, err
	} else if reason != "" {
		return domain.Position{}, s.reject(ctx, sig, reason)
	}

	params := cfg.Resolve(sig.SourceID)

	entryPrice := sig.PriceAtSignal
	if quote, err := s.quotes.Quote(ctx, sig.TokenID, sig.Side); err == nil {
		entryPrice = quote.BestExecutablePrice
	}
	if entryPrice <= 0 {
		return domain.Position{}, s.reject(ctx, sig, "no usable entry price")
	}

	size := s.cfg.BaseOrderSize * params.SizeMultiplier
	if size <= 0 {
		return domain.Position{}, s.reject(ctx, sig, "resolved size is zero")
	}

	now := s.now().UTC()
	pos := domain.Position{
		ID:                 uuid.NewString(),
		PortfolioID:        portfolioID,
		StrategyID:         cfg.ID,
		SourceID:           sig.SourceID,
		MarketID:           sig.MarketID,
		TokenID:            sig.TokenID,
		Side:               sig.Side,
		EntryPrice:         entryPrice,
		OriginalSize:       size,
		RemainingSize:      size,
		CapitalAllocated:   entryPrice * size,
		PeakFavorablePrice: entryPrice,
		Params:             params,
		Status:             domain.PositionStatusOpen,
		OpenedAt:           now,
		LastEvaluatedAt:    now,
	}

	opened, err := s.ledger.Open(ctx, pos)
	if err != nil {
		if errors.Is(err, domain.ErrCapitalInsufficient) {
			return domain.Position{}, s.reject(ctx, sig, "insufficient capital")
		}
		return domain.Position{}, fmt.Errorf("position_service: open position: %w", err)
	}

	s.auditLog(ctx, "position_opened", map[string]any{
		"position_id": opened.ID,
		"signal_id":   sig.ID,
		"source_id":   sig.SourceID,
		"market_id":   sig.MarketID,
		"side":        string(sig.Side),
		"entry_price": opened.EntryPrice,
		"size":        opened.OriginalSize,
		"capital":     opened.CapitalAllocated,
	})

	s.logger.InfoContext(ctx, "position opened",
		slog.String("position_id", opened.ID),
		slog.String("source_id", sig.SourceID),
		slog.String("market_id", sig.MarketID),
		slog.Float64("entry_price", opened.EntryPrice),
		slog.Float64("size", opened.OriginalSize))

	if s.kicker != nil {
		s.kicker.Kick()
	}
	return opened, nil
}

// checkEntryFilters returns a non-empty rejection reason when the source's
// recent record fails a configured gate. Win-rate and profit-factor gates
// apply only once the source has closed trades; a minimum trade count is the
// filter for brand-new sources.
func (s *PositionService) checkEntryFilters(ctx context.Context, cfg domain.StrategyConfig, sourceID string) (string, error) {
	f := cfg.EntryFilters
	if f.MinSourceWinRate == nil && f.MinSourceProfitFactor == nil && f.MinSourceTrades == nil {
		return "", nil
	}

	lookback := f.LookbackDays
	if lookback <= 0 {
		lookback = s.cfg.DefaultLookbackDays
	}
	since := s.now().UTC().AddDate(0, 0, -lookback)

	stats, err := s.stats.Stats(ctx, sourceID, since)
	if err != nil {
		return "", fmt.Errorf("position_service: source stats %s: %w", sourceID, err)
	}

	if f.MinSourceTrades != nil && stats.Trades < *f.MinSourceTrades {
		return fmt.Sprintf("source has %d trades, minimum %d", stats.Trades, *f.MinSourceTrades), nil
	}
	if stats.Trades > 0 {
		if f.MinSourceWinRate != nil && stats.WinRate < *f.MinSourceWinRate {
			return fmt.Sprintf("source win rate %.2f below %.2f", stats.WinRate, *f.MinSourceWinRate), nil
		}
		if f.MinSourceProfitFactor != nil && stats.ProfitFactor < *f.MinSourceProfitFactor {
			return fmt.Sprintf("source profit factor %.2f below %.2f", stats.ProfitFactor, *f.MinSourceProfitFactor), nil
		}
	}
	return "", nil
}

// Close closes the position at the current market quote with a manual exit
// reason. The close goes through the ledger like any triggered exit.
func (s *PositionService) Close(ctx context.Context, positionID string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close: %w", err)
	}
	if pos.Status == domain.PositionStatusClosed {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", positionID, domain.ErrPositionClosed)
	}

	quote, err := s.quotes.Quote(ctx, pos.TokenID, pos.Side)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", positionID, err)
	}

	now := s.now().UTC()
	newPeak := pos.PeakFavorablePrice
	if pos.MoreFavorable(quote.BestExecutablePrice) {
		newPeak = quote.BestExecutablePrice
	}
	eval := domain.Evaluation{
		Decision:    domain.Decision{Kind: domain.DecisionFullExit, Reason: domain.ExitReasonManual},
		NewPeak:     newPeak,
		Price:       quote.BestExecutablePrice,
		QuoteAt:     quote.ObservedAt,
		EvaluatedAt: now,
	}

	closed, err := s.ledger.ApplyEvaluation(ctx, positionID, eval)
	if err != nil {
		return domain.Position{}, fmt.Errorf("position_service: close %s: %w", positionID, err)
	}

	s.auditLog(ctx, "position_closed_manual", map[string]any{
		"position_id":  closed.ID,
		"exit_price":   quote.BestExecutablePrice,
		"realized_pnl": closed.RealizedPnL,
	})
	s.logger.InfoContext(ctx, "position closed manually",
		slog.String("position_id", closed.ID),
		slog.Float64("exit_price", quote.BestExecutablePrice),
		slog.Float64("realized_pnl", closed.RealizedPnL))
	return closed, nil
}

// Get returns a single position.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	return s.positions.GetByID(ctx, id)
}

// ListOpen returns all positions still evaluating.
func (s *PositionService) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.positions.ListOpen(ctx)
}

// History returns positions, newest first, with pagination.
func (s *PositionService) History(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	return s.positions.ListHistory(ctx, opts)
}

// BySource returns positions opened from the given source.
func (s *PositionService) BySource(ctx context.Context, sourceID string, opts domain.ListOpts) ([]domain.Position, error) {
	return s.positions.ListBySource(ctx, sourceID, opts)
}

// PortfolioSummary aggregates a portfolio with its open exposure.
type PortfolioSummary struct {
	Portfolio     domain.Portfolio `json:"portfolio"`
	OpenPositions int              `json:"open_positions"`
	OpenExposure  float64          `json:"open_exposure"`
	UnrealizedPnL float64          `json:"unrealized_pnl"`
}

// Summary returns the portfolio with exposure aggregated over its open
// positions.
func (s *PositionService) Summary(ctx context.Context, portfolioID string) (PortfolioSummary, error) {
	pf, err := s.portfolios.GetByID(ctx, portfolioID)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("position_service: summary: %w", err)
	}
	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return PortfolioSummary{}, fmt.Errorf("position_service: summary: %w", err)
	}

	sum := PortfolioSummary{Portfolio: pf}
	for _, p := range open {
		if p.PortfolioID != portfolioID {
			continue
		}
		sum.OpenPositions++
		sum.OpenExposure += p.CapitalAllocated
		sum.UnrealizedPnL += p.UnrealizedPnL
	}
	return sum, nil
}

// reject audits and broadcasts a signal rejection, then returns
// ErrSignalRejected wrapped with the reason.
func (s *PositionService) reject(ctx context.Context, sig domain.Signal, reason string) error {
	s.auditLog(ctx, "signal_rejected", map[string]any{
		"signal_id": sig.ID,
		"source_id": sig.SourceID,
		"market_id": sig.MarketID,
		"reason":    reason,
	})

	evt, _ := json.Marshal(domain.Event{
		ID:        uuid.NewString(),
		Type:      domain.EventSignalRejected,
		Payload:   map[string]any{"signal_id": sig.ID, "source_id": sig.SourceID, "reason": reason},
		EmittedAt: s.now().UTC(),
	})
	if err := s.bus.Publish(ctx, events.RejectedChannel, evt); err != nil {
		s.logger.WarnContext(ctx, "publish rejection failed",
			slog.String("signal_id", sig.ID), slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "signal rejected",
		slog.String("signal_id", sig.ID),
		slog.String("source_id", sig.SourceID),
		slog.String("reason", reason))
	return fmt.Errorf("position_service: signal %s: %s: %w", sig.ID, reason, domain.ErrSignalRejected)
}

func (s *PositionService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event), slog.Any("error", err))
	}
}
