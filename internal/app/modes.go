package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"polyexit/internal/domain"
	"polyexit/internal/engine"
	"polyexit/internal/events"
	"polyexit/internal/notify"
	"polyexit/internal/server"
	"polyexit/internal/server/handler"
	"polyexit/internal/server/ws"
	"polyexit/internal/service"
)

// engineServices groups the components built for evaluation modes.
type engineServices struct {
	publisher *events.Publisher
	scheduler *engine.Scheduler
	positions *service.PositionService
	intake    *service.SignalIntake
}

// buildEngineServices constructs the evaluation loop and its collaborators.
func (a *App) buildEngineServices(ctx context.Context, deps *Dependencies) (*engineServices, error) {
	publisher := events.NewPublisher(deps.Bus, deps.EventStore, 5*time.Second, a.logger)

	scheduler := engine.NewScheduler(engine.SchedulerConfig{
		Interval:       a.cfg.Engine.Interval.Duration,
		QuoteTimeout:   a.cfg.Engine.QuoteTimeout.Duration,
		MaxConcurrent:  a.cfg.Engine.MaxConcurrent,
		MissStreakWarn: a.cfg.Engine.MissStreakWarn,
		LockTTL:        a.cfg.Engine.LockTTL.Duration,
	}, deps.PositionStore, deps.Quotes, deps.Ledger, publisher, deps.LockManager, a.logger)

	positionSvc := service.NewPositionService(
		service.PositionServiceConfig{
			StrategyName:  a.cfg.Intake.StrategyName,
			BaseOrderSize: a.cfg.Intake.BaseOrderSize,
		},
		deps.PositionStore,
		deps.PortfolioStore,
		deps.StrategyStore,
		deps.StatsStore,
		deps.Quotes,
		deps.Ledger,
		deps.Bus,
		deps.AuditStore,
		scheduler,
		a.logger,
	)

	portfolioID, err := a.resolvePortfolio(ctx, deps)
	if err != nil {
		return nil, err
	}

	intake := service.NewSignalIntake(service.IntakeConfig{
		PortfolioID: portfolioID,
		Stream:      a.cfg.Intake.Stream,
		StartID:     a.cfg.Intake.StartID,
		BatchSize:   a.cfg.Intake.BatchSize,
	}, deps.Bus, positionSvc, a.logger)

	return &engineServices{
		publisher: publisher,
		scheduler: scheduler,
		positions: positionSvc,
		intake:    intake,
	}, nil
}

// resolvePortfolio looks up the intake portfolio by name, creating an empty
// one when it does not exist yet. A fresh portfolio holds no capital, so
// signals are rejected until a deposit arrives through the API.
func (a *App) resolvePortfolio(ctx context.Context, deps *Dependencies) (string, error) {
	name := a.cfg.Intake.PortfolioName
	pf, err := deps.PortfolioStore.GetByName(ctx, name)
	if err == nil {
		return pf.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("app: resolve portfolio %q: %w", name, err)
	}

	now := time.Now().UTC()
	pf = domain.Portfolio{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.PortfolioStore.Create(ctx, pf); err != nil {
		return "", fmt.Errorf("app: create portfolio %q: %w", name, err)
	}
	a.logger.WarnContext(ctx, "created intake portfolio with zero capital, deposit required before positions can open",
		slog.String("portfolio", name),
		slog.String("portfolio_id", pf.ID),
	)
	return pf.ID, nil
}

// startHTTPServer builds the API server and registers it with the errgroup.
// scheduler may be nil in modes without an evaluation loop.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, positionSvc *service.PositionService, scheduler handler.SchedulerInfo) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.Bus, ws.Config{Mode: a.cfg.Mode, StartedAt: startedAt}, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": deps.Postgres,
		"redis":    deps.Redis,
	})

	srv := server.New(server.Config{
		Port:        a.cfg.Server.Port,
		APIKey:      a.cfg.Server.APIKey,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:    health,
		Position:  handler.NewPositionHandler(positionSvc, a.logger),
		Portfolio: handler.NewPortfolioHandler(deps.PortfolioStore, positionSvc, a.logger),
		Strategy:  handler.NewStrategyHandler(deps.StrategyStore, a.logger),
		Status:    handler.NewStatusHandler(scheduler, deps.PositionStore, a.cfg.Mode, startedAt, a.logger),
		Hub:       hub,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startAlertBridge forwards lifecycle events to the configured notification
// channels.
func (a *App) startAlertBridge(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !deps.Notifier.HasSenders() {
		return
	}
	bridge := notify.NewAlertBridge(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})
}

// startArchiveLoop periodically exports data older than the retention window.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchive(ctx, deps)
			}
		}
	})
}

func (a *App) runArchive(ctx context.Context, deps *Dependencies) {
	before := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)

	count, err := deps.Archiver.ArchivePositions(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "position archive failed", slog.Any("error", err))
	} else if count > 0 {
		a.logger.InfoContext(ctx, "archived closed positions", slog.Int64("count", count))
	}

	count, err = deps.Archiver.ArchiveAuditLog(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "audit archive failed", slog.Any("error", err))
	} else if count > 0 {
		a.logger.InfoContext(ctx, "archived audit entries", slog.Int64("count", count))
	}
}

// EngineMode runs the evaluation loop, event publisher and signal intake
// without the HTTP surface.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildEngineServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("engine mode: %w", err)
	}

	g.Go(func() error { return svcs.scheduler.Run(ctx) })
	g.Go(func() error { return svcs.publisher.Run(ctx) })
	g.Go(func() error { return svcs.intake.Run(ctx) })

	a.startAlertBridge(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// MonitorMode serves the HTTP API and WebSocket feed without evaluating
// positions. Manual closes still work; they go through the same ledger.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	// No scheduler: the service cannot kick an evaluation pass, and the
	// status endpoint reports no last run.
	positionSvc := service.NewPositionService(
		service.PositionServiceConfig{
			StrategyName:  a.cfg.Intake.StrategyName,
			BaseOrderSize: a.cfg.Intake.BaseOrderSize,
		},
		deps.PositionStore,
		deps.PortfolioStore,
		deps.StrategyStore,
		deps.StatsStore,
		deps.Quotes,
		deps.Ledger,
		deps.Bus,
		deps.AuditStore,
		nil,
		a.logger,
	)

	// Manual closes write outbox rows; drain them even without a scheduler.
	publisher := events.NewPublisher(deps.Bus, deps.EventStore, 5*time.Second, a.logger)
	g.Go(func() error { return publisher.Run(ctx) })

	a.startHTTPServer(ctx, g, deps, positionSvc, nil)
	a.startAlertBridge(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode performs a one-shot export of data older than the retention
// window and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3 configuration")
	}
	a.runArchive(ctx, deps)
	return nil
}

// FullMode starts every subsystem: evaluation loop, intake, publisher, HTTP
// server, notifications and the archive loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs, err := a.buildEngineServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g.Go(func() error { return svcs.scheduler.Run(ctx) })
	g.Go(func() error { return svcs.publisher.Run(ctx) })
	g.Go(func() error { return svcs.intake.Run(ctx) })

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs.positions, svcs.scheduler)
	}
	a.startAlertBridge(ctx, g, deps)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}
