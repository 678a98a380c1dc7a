package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polyexit/internal/domain"
)

func newTestIntake(t *testing.T, ledger *stubLedger) *SignalIntake {
	t.Helper()
	quotes := &stubQuotes{quote: domain.PriceQuote{BestExecutablePrice: 0.5, ObservedAt: time.Now()}}
	svc, _, _ := newTestService(t, validStrategy(), domain.SourceStats{}, quotes, ledger)
	return NewSignalIntake(IntakeConfig{PortfolioID: "pf-1", SeenLimit: 2}, &stubBus{}, svc, quietLogger())
}

func TestIntakeHandleOpensPosition(t *testing.T) {
	ledger := &stubLedger{}
	in := newTestIntake(t, ledger)

	raw, err := json.Marshal(testSignal())
	require.NoError(t, err)
	in.handle(context.Background(), raw)

	require.Len(t, ledger.opened, 1)
	assert.Equal(t, "pf-1", ledger.opened[0].PortfolioID)
}

func TestIntakeSuppressesDuplicates(t *testing.T) {
	ledger := &stubLedger{}
	in := newTestIntake(t, ledger)

	raw, err := json.Marshal(testSignal())
	require.NoError(t, err)
	in.handle(context.Background(), raw)
	in.handle(context.Background(), raw)

	assert.Len(t, ledger.opened, 1)
}

func TestIntakeSkipsMalformedAndIncomplete(t *testing.T) {
	ledger := &stubLedger{}
	in := newTestIntake(t, ledger)

	in.handle(context.Background(), []byte("not json"))

	sig := testSignal()
	sig.TokenID = ""
	raw, err := json.Marshal(sig)
	require.NoError(t, err)
	in.handle(context.Background(), raw)

	sig = testSignal()
	sig.Side = "maybe"
	raw, err = json.Marshal(sig)
	require.NoError(t, err)
	in.handle(context.Background(), raw)

	assert.Empty(t, ledger.opened)
}

func TestIntakeDuplicateFilterBounded(t *testing.T) {
	in := newTestIntake(t, &stubLedger{})

	assert.False(t, in.duplicate("a"))
	assert.False(t, in.duplicate("b"))
	assert.False(t, in.duplicate("c")) // evicts "a"
	assert.True(t, in.duplicate("b"))
	assert.False(t, in.duplicate("a"))
}
