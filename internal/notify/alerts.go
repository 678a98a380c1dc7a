package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"polyexit/internal/domain"
	"polyexit/internal/events"
)

// AlertBridge subscribes to the live lifecycle channel and turns terminal
// position events into operator alerts. It rides the best-effort pub/sub
// path: a missed alert is acceptable, a missed ledger commit is not.
type AlertBridge struct {
	bus      domain.EventBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewAlertBridge wires an AlertBridge.
func NewAlertBridge(bus domain.EventBus, notifier *Notifier, logger *slog.Logger) *AlertBridge {
	return &AlertBridge{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "alert_bridge")),
	}
}

// Run consumes lifecycle and rejection events until ctx is canceled.
func (b *AlertBridge) Run(ctx context.Context) error {
	lifecycle, err := b.bus.Subscribe(ctx, events.LifecycleChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe lifecycle channel: %w", err)
	}
	rejected, err := b.bus.Subscribe(ctx, events.RejectedChannel)
	if err != nil {
		return fmt.Errorf("notify: subscribe rejected channel: %w", err)
	}
	b.logger.InfoContext(ctx, "alert bridge started")

	for {
		var (
			raw []byte
			ok  bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok = <-lifecycle:
		case raw, ok = <-rejected:
		}
		if !ok {
			return ctx.Err()
		}

		var ev domain.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			b.logger.WarnContext(ctx, "malformed lifecycle event", slog.Any("error", err))
			continue
		}
		b.handle(ctx, ev)
	}
}

func (b *AlertBridge) handle(ctx context.Context, ev domain.Event) {
	title, message, ok := formatEvent(ev)
	if !ok {
		return
	}
	if err := b.notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		b.logger.WarnContext(ctx, "alert delivery failed",
			slog.String("event_id", ev.ID), slog.Any("error", err))
	}
}

// formatEvent renders an alert for the event types operators care about.
// Price updates are too chatty to alert on and are dropped here.
func formatEvent(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventPositionOpened:
		title = "Position opened"
		message = fmt.Sprintf("position %s\nmarket %v side %v\nentry %v size %v",
			shortID(ev.PositionID),
			ev.Payload["market_id"], ev.Payload["side"],
			ev.Payload["entry_price"], ev.Payload["size"])
	case domain.EventPositionPartiallyClosed:
		title = "Partial exit"
		message = fmt.Sprintf("position %s\nclosed %v at %v\nrealized %v, remaining %v",
			shortID(ev.PositionID),
			ev.Payload["closed_size"], ev.Payload["price"],
			ev.Payload["realized_pnl"], ev.Payload["remaining_size"])
	case domain.EventPositionClosed:
		title = "Position closed"
		message = fmt.Sprintf("position %s\nreason %v at %v\nrealized %v",
			shortID(ev.PositionID),
			ev.Payload["reason"], ev.Payload["price"], ev.Payload["realized_pnl"])
	case domain.EventSignalRejected:
		title = "Signal rejected"
		message = fmt.Sprintf("signal %v from %v\n%v",
			ev.Payload["signal_id"], ev.Payload["source_id"], ev.Payload["reason"])
	default:
		return "", "", false
	}
	return title, message, true
}

func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
