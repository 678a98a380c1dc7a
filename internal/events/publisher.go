// Package events delivers position lifecycle events to subscribers. Events
// are written to a durable outbox inside the ledger transaction that caused
// them; the publisher drains the outbox to the bus and marks rows published.
// A crash between publish and mark replays the event, so delivery is
// at-least-once and consumers de-duplicate on (position_id, seq).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"polyexit/internal/domain"
)

// Stream and channel names shared with consumers.
const (
	LifecycleStream  = "positions:events"
	LifecycleChannel = "positions:events:live"
	RejectedChannel  = "signals:rejected"
)

// Publisher drains the event outbox to the bus.
type Publisher struct {
	bus    domain.EventBus
	outbox domain.PositionEventStore
	logger *slog.Logger

	interval  time.Duration
	batchSize int

	mu sync.Mutex // serializes flushes
}

// NewPublisher wires a Publisher. interval is the background drain period
// covering events whose inline flush failed.
func NewPublisher(bus domain.EventBus, outbox domain.PositionEventStore, interval time.Duration, logger *slog.Logger) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Publisher{
		bus:       bus,
		outbox:    outbox,
		logger:    logger.With(slog.String("component", "event_publisher")),
		interval:  interval,
		batchSize: 256,
	}
}

// EvaluationApplied flushes the outbox right after a ledger commit so
// subscribers see lifecycle events with minimal delay. Failures are left for
// the background drain.
func (p *Publisher) EvaluationApplied(ctx context.Context, prev, updated domain.Position, eval domain.Evaluation) {
	if err := p.Flush(ctx); err != nil {
		p.logger.WarnContext(ctx, "inline event flush failed", slog.Any("error", err))
	}
}

// Run drains the outbox periodically until ctx is canceled, republishing
// anything an inline flush missed.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.WarnContext(ctx, "event flush failed", slog.Any("error", err))
			}
		}
	}
}

// Flush publishes all unpublished outbox events in order: durable stream
// append first, then live fan-out, then the published mark. Only events whose
// stream append succeeded are marked.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		batch, err := p.outbox.ListUnpublished(ctx, p.batchSize)
		if err != nil {
			return fmt.Errorf("events: list unpublished: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		published := make([]string, 0, len(batch))
		for _, ev := range batch {
			raw, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("events: marshal event %s: %w", ev.ID, err)
			}
			if err := p.bus.StreamAppend(ctx, LifecycleStream, raw); err != nil {
				// Stop at the first failure to preserve stream order;
				// the rest go out on the next flush.
				if markErr := p.markPublished(ctx, published); markErr != nil {
					return markErr
				}
				return fmt.Errorf("events: append event %s: %w", ev.ID, err)
			}
			// Live fan-out is best-effort; stream consumers are the
			// durable path.
			if err := p.bus.Publish(ctx, LifecycleChannel, raw); err != nil {
				p.logger.DebugContext(ctx, "live publish failed",
					slog.String("event_id", ev.ID), slog.Any("error", err))
			}
			published = append(published, ev.ID)
		}

		if err := p.markPublished(ctx, published); err != nil {
			return err
		}
		if len(batch) < p.batchSize {
			return nil
		}
	}
}

func (p *Publisher) markPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := p.outbox.MarkPublished(ctx, ids); err != nil {
		return fmt.Errorf("events: mark published: %w", err)
	}
	return nil
}
