package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyexit/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{"position_closed"}, noopLogger())

	require.NoError(t, n.Notify(context.Background(), "position_price_updated", "noisy", "x"))
	require.NoError(t, n.Notify(context.Background(), "position_closed", "closed", "x"))

	assert.Equal(t, []string{"closed"}, sender.titles)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, nil, noopLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
	assert.Len(t, sender.titles, 1)
}

func TestNotifierOneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, noopLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Len(t, good.titles, 1)
}

func TestFormatEvent(t *testing.T) {
	ev := domain.Event{
		Type:       domain.EventPositionClosed,
		PositionID: "abc123-rest",
		Payload:    map[string]any{"reason": "take_profit", "price": 0.6, "realized_pnl": 10.0},
	}
	title, message, ok := formatEvent(ev)
	require.True(t, ok)
	assert.Equal(t, "Position closed", title)
	assert.Contains(t, message, "abc123")
	assert.Contains(t, message, "take_profit")

	_, _, ok = formatEvent(domain.Event{Type: domain.EventPositionPriceUpdated})
	assert.False(t, ok)
}
