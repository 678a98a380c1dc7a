package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"polyexit/internal/domain"
)

// SignalStream is the durable stream the external signal generator appends
// validated signals to.
const SignalStream = "signals:intake"

// IntakeConfig tunes the signal intake loop.
type IntakeConfig struct {
	// PortfolioID receives positions opened from intake signals.
	PortfolioID string
	// Stream overrides the default signal stream name.
	Stream string
	// StartID is where reading begins: "$" for new signals only (default),
	// "0" to replay the stream's retained history.
	StartID string
	// BatchSize bounds messages per read.
	BatchSize int
	// SeenLimit bounds the in-memory duplicate filter.
	SeenLimit int
}

// SignalIntake consumes validated signals from the durable stream and opens
// positions through the PositionService. Stream replays are absorbed by a
// bounded duplicate filter on signal ID.
type SignalIntake struct {
	cfg     IntakeConfig
	bus     domain.EventBus
	service *PositionService
	logger  *slog.Logger

	lastID    string
	seen      map[string]struct{}
	seenOrder []string
}

// NewSignalIntake wires the intake loop.
func NewSignalIntake(cfg IntakeConfig, bus domain.EventBus, service *PositionService, logger *slog.Logger) *SignalIntake {
	if cfg.Stream == "" {
		cfg.Stream = SignalStream
	}
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.SeenLimit <= 0 {
		cfg.SeenLimit = 4096
	}
	return &SignalIntake{
		cfg:     cfg,
		bus:     bus,
		service: service,
		logger:  logger.With(slog.String("component", "signal_intake")),
		lastID:  cfg.StartID,
		seen:    make(map[string]struct{}),
	}
}

// Run consumes signals until ctx is canceled. Malformed or rejected signals
// are logged and skipped; the loop never stops for a bad message.
func (in *SignalIntake) Run(ctx context.Context) error {
	in.logger.InfoContext(ctx, "signal intake started",
		slog.String("stream", in.cfg.Stream),
		slog.String("start_id", in.cfg.StartID))

	for {
		if ctx.Err() != nil {
			in.logger.InfoContext(ctx, "signal intake stopped")
			return ctx.Err()
		}

		msgs, err := in.bus.StreamRead(ctx, in.cfg.Stream, in.lastID, in.cfg.BatchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			in.logger.WarnContext(ctx, "stream read failed", slog.Any("error", err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			in.lastID = msg.ID
			in.handle(ctx, msg.Payload)
		}
	}
}

func (in *SignalIntake) handle(ctx context.Context, payload []byte) {
	var sig domain.Signal
	if err := json.Unmarshal(payload, &sig); err != nil {
		in.logger.WarnContext(ctx, "malformed signal payload", slog.Any("error", err))
		return
	}
	if sig.ID == "" || sig.TokenID == "" || (sig.Side != domain.SideYes && sig.Side != domain.SideNo) {
		in.logger.WarnContext(ctx, "incomplete signal",
			slog.String("signal_id", sig.ID), slog.String("token_id", sig.TokenID))
		return
	}
	if in.duplicate(sig.ID) {
		in.logger.DebugContext(ctx, "duplicate signal suppressed", slog.String("signal_id", sig.ID))
		return
	}

	if _, err := in.service.OpenFromSignal(ctx, in.cfg.PortfolioID, sig); err != nil {
		if errors.Is(err, domain.ErrSignalRejected) {
			return // already audited and logged by the service
		}
		in.logger.ErrorContext(ctx, "open from signal failed",
			slog.String("signal_id", sig.ID), slog.Any("error", err))
	}
}

// duplicate records the ID and reports whether it was seen before. The filter
// is a FIFO bounded by SeenLimit.
func (in *SignalIntake) duplicate(id string) bool {
	if _, ok := in.seen[id]; ok {
		return true
	}
	in.seen[id] = struct{}{}
	in.seenOrder = append(in.seenOrder, id)
	if len(in.seenOrder) > in.cfg.SeenLimit {
		oldest := in.seenOrder[0]
		in.seenOrder = in.seenOrder[1:]
		delete(in.seen, oldest)
	}
	return false
}
