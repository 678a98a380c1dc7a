package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"polyexit/internal/domain"
)

// EventSink receives the outcome of every applied evaluation. Implementations
// must not block for long; they run inside the evaluation worker.
type EventSink interface {
	EvaluationApplied(ctx context.Context, prev, updated domain.Position, eval domain.Evaluation)
}

// SchedulerConfig tunes the evaluation loop.
type SchedulerConfig struct {
	// Interval between evaluation passes over all open positions.
	Interval time.Duration
	// QuoteTimeout bounds the quote lookup per position. A pass never
	// stalls on one slow token.
	QuoteTimeout time.Duration
	// MaxConcurrent caps in-flight evaluations per pass.
	MaxConcurrent int
	// MissStreakWarn is the number of consecutive quote misses for one
	// position before the scheduler escalates to a warning.
	MissStreakWarn int
	// LockTTL is the cross-process lock lifetime when a LockManager is
	// configured. It should comfortably exceed QuoteTimeout.
	LockTTL time.Duration
}

func (c *SchedulerConfig) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = 3 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
	if c.MissStreakWarn <= 0 {
		c.MissStreakWarn = 5
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
}

// Scheduler periodically fans evaluation out over all open positions. Each
// position is evaluated by at most one worker at a time; a position still
// busy from the previous pass is skipped, not queued.
type Scheduler struct {
	cfg       SchedulerConfig
	positions domain.PositionStore
	quotes    domain.QuoteProvider
	ledger    domain.Ledger
	sink      EventSink
	locks     *KeyLock
	distLocks domain.LockManager // optional, for multi-instance deployments
	logger    *slog.Logger
	now       func() time.Time

	kick chan struct{}

	mu      sync.Mutex
	misses  map[string]int
	lastRun time.Time
}

// NewScheduler wires an evaluation scheduler. distLocks may be nil when a
// single engine instance owns the store.
func NewScheduler(cfg SchedulerConfig, positions domain.PositionStore, quotes domain.QuoteProvider, ledger domain.Ledger, sink EventSink, distLocks domain.LockManager, logger *slog.Logger) *Scheduler {
	cfg.fillDefaults()
	return &Scheduler{
		cfg:       cfg,
		positions: positions,
		quotes:    quotes,
		ledger:    ledger,
		sink:      sink,
		locks:     NewKeyLock(),
		distLocks: distLocks,
		logger:    logger.With(slog.String("component", "scheduler")),
		now:       time.Now,
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an immediate evaluation pass ahead of the next tick. Safe to
// call from any goroutine; coalesces when a kick is already pending.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// LastRun returns when the previous pass started. Zero before the first pass.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// Run drives evaluation passes until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "evaluation scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("max_concurrent", s.cfg.MaxConcurrent))

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "evaluation scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.kick:
		}
		if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.ErrorContext(ctx, "evaluation pass failed", slog.Any("error", err))
		}
	}
}

// RunOnce performs a single evaluation pass over all open positions.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	s.lastRun = s.now()
	s.mu.Unlock()

	open, err := s.positions.ListOpen(ctx)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for _, pos := range open {
		pos := pos
		g.Go(func() error {
			s.evaluateOne(ctx, pos)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) evaluateOne(ctx context.Context, pos domain.Position) {
	release, ok := s.locks.TryAcquire(pos.ID)
	if !ok {
		s.logger.DebugContext(ctx, "position busy, skipping tick", slog.String("position_id", pos.ID))
		return
	}
	defer release()

	if s.distLocks != nil {
		unlock, err := s.distLocks.Acquire(ctx, "eval:"+pos.ID, s.cfg.LockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				s.logger.WarnContext(ctx, "distributed lock acquire failed",
					slog.String("position_id", pos.ID), slog.Any("error", err))
			}
			return
		}
		defer unlock()
	}

	qctx, cancel := context.WithTimeout(ctx, s.cfg.QuoteTimeout)
	quote, err := s.quotes.Quote(qctx, pos.TokenID, pos.Side)
	cancel()
	if err != nil {
		s.recordMiss(ctx, pos, err)
		return
	}
	s.clearMiss(pos.ID)

	eval := Evaluate(pos, pos.Params, quote, s.now())

	updated, err := s.ledger.ApplyEvaluation(ctx, pos.ID, eval)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleDecision):
		s.logger.DebugContext(ctx, "discarding stale evaluation",
			slog.String("position_id", pos.ID),
			slog.Time("quote_at", eval.QuoteAt))
		return
	case errors.Is(err, domain.ErrPositionClosed), errors.Is(err, domain.ErrNotFound):
		return
	case errors.Is(err, domain.ErrLedgerConflict):
		s.logger.WarnContext(ctx, "ledger conflict, will retry next tick",
			slog.String("position_id", pos.ID))
		return
	default:
		s.logger.ErrorContext(ctx, "apply evaluation failed",
			slog.String("position_id", pos.ID), slog.Any("error", err))
		return
	}

	if s.sink != nil {
		s.sink.EvaluationApplied(ctx, pos, updated, eval)
	}

	if eval.Decision.Kind != domain.DecisionHold {
		s.logger.InfoContext(ctx, "exit decision applied",
			slog.String("position_id", pos.ID),
			slog.String("kind", string(eval.Decision.Kind)),
			slog.String("reason", string(eval.Decision.Reason)),
			slog.Float64("price", eval.Price),
			slog.Float64("remaining_size", updated.RemainingSize))
	}
}

func (s *Scheduler) recordMiss(ctx context.Context, pos domain.Position, err error) {
	s.mu.Lock()
	if s.misses == nil {
		s.misses = make(map[string]int)
	}
	s.misses[pos.ID]++
	streak := s.misses[pos.ID]
	s.mu.Unlock()

	if streak >= s.cfg.MissStreakWarn && streak%s.cfg.MissStreakWarn == 0 {
		s.logger.WarnContext(ctx, "quote unavailable for consecutive ticks",
			slog.String("position_id", pos.ID),
			slog.String("token_id", pos.TokenID),
			slog.Int("streak", streak),
			slog.Any("error", err))
		return
	}
	s.logger.DebugContext(ctx, "quote unavailable, skipping tick",
		slog.String("position_id", pos.ID), slog.Any("error", err))
}

func (s *Scheduler) clearMiss(id string) {
	s.mu.Lock()
	delete(s.misses, id)
	s.mu.Unlock()
}
