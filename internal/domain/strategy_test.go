package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func validConfig() StrategyConfig {
	return StrategyConfig{
		ID:                   "s1",
		Name:                 "copy-trader",
		DefaultTakeProfitPct: 0.20,
		DefaultStopLossPct:   0.10,
		Enabled:              true,
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestStrategyConfigValidateCollectsAllProblems(t *testing.T) {
	cfg := StrategyConfig{
		Name:                 " ",
		DefaultTakeProfitPct: 0,
		DefaultStopLossPct:   -0.1,
		DynamicTrailing: DynamicTrailing{
			Enabled:  true,
			BasePct:  0.05,
			TightPct: 0.08, // wider than base
		},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "name must not be empty")
	assert.Contains(t, err.Error(), "default_take_profit_pct")
	assert.Contains(t, err.Error(), "default_stop_loss_pct")
	assert.Contains(t, err.Error(), "tight_pct")
	assert.Contains(t, err.Error(), "threshold_pct")
}

func TestStrategyConfigValidateLadder(t *testing.T) {
	cfg := validConfig()
	cfg.PartialExits = []PartialExitStep{
		{ExitOrder: 1, ExitPctOfRemaining: 0.25, ThresholdPct: 0.10},
		{ExitOrder: 2, ExitPctOfRemaining: 0.50, ThresholdPct: 0.20},
	}
	require.NoError(t, cfg.Validate())

	// Descending thresholds are rejected.
	cfg.PartialExits[1].ThresholdPct = 0.05
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must ascend")

	// Duplicate exit orders are rejected.
	cfg.PartialExits[1] = PartialExitStep{ExitOrder: 1, ExitPctOfRemaining: 0.5, ThresholdPct: 0.20}
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate exit_order")
}

func TestStrategyConfigValidateTimeTrailing(t *testing.T) {
	cfg := validConfig()
	cfg.TimeTrailing = TimeTrailing{Enabled: true, StartHours: 24, MaxHours: 12, TightPct: 0.02}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_hours must be > start_hours")
}

func TestResolveWithoutOverride(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultTrailingStopPct = f(0.05)
	cfg.PartialExits = []PartialExitStep{
		{ExitOrder: 2, ExitPctOfRemaining: 0.5, ThresholdPct: 0.20},
		{ExitOrder: 1, ExitPctOfRemaining: 0.25, ThresholdPct: 0.10},
	}

	p := cfg.Resolve("unknown-source")

	assert.Equal(t, 0.20, p.TakeProfitPct)
	assert.Equal(t, 0.10, p.StopLossPct)
	require.NotNil(t, p.TrailingStopPct)
	assert.Equal(t, 0.05, *p.TrailingStopPct)
	assert.Equal(t, 1.0, p.SizeMultiplier)

	// Ladder comes back sorted by exit order, on its own copy.
	require.Len(t, p.PartialExits, 2)
	assert.Equal(t, 1, p.PartialExits[0].ExitOrder)
	assert.Equal(t, 2, p.PartialExits[1].ExitOrder)
	p.PartialExits[0].ThresholdPct = 0.99
	assert.Equal(t, 0.20, cfg.PartialExits[0].ThresholdPct)
}

func TestResolveOverlaysSourceOverride(t *testing.T) {
	cfg := validConfig()
	cfg.SourceOverrides = map[string]SourceOverride{
		"whale": {
			TakeProfitPct:  f(0.40),
			SizeMultiplier: 2.0,
		},
	}

	p := cfg.Resolve("whale")

	assert.Equal(t, 0.40, p.TakeProfitPct)
	assert.Equal(t, 0.10, p.StopLossPct, "unset override fields keep the default")
	assert.Equal(t, 2.0, p.SizeMultiplier)
}

func TestSideDirection(t *testing.T) {
	assert.Equal(t, 1.0, SideYes.Direction())
	assert.Equal(t, -1.0, SideNo.Direction())
}
