package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// All percentage fields in this file are fractions of the entry price:
// 0.05 means 5%. Stop-loss percentages are stored as positive magnitudes.

// DynamicTrailing tightens the trailing distance once unrealized gain crosses
// a threshold.
type DynamicTrailing struct {
	Enabled      bool    `json:"enabled" toml:"enabled"`
	BasePct      float64 `json:"base_pct" toml:"base_pct"`
	TightPct     float64 `json:"tight_pct" toml:"tight_pct"`
	ThresholdPct float64 `json:"threshold_pct" toml:"threshold_pct"`
}

// TimeTrailing tightens the trailing distance as the position ages. Between
// StartHours and MaxHours the distance interpolates linearly from the
// currently-active distance down to TightPct; past MaxHours it stays at
// TightPct.
type TimeTrailing struct {
	Enabled    bool    `json:"enabled" toml:"enabled"`
	StartHours float64 `json:"start_hours" toml:"start_hours"`
	MaxHours   float64 `json:"max_hours" toml:"max_hours"`
	TightPct   float64 `json:"tight_pct" toml:"tight_pct"`
}

// PartialExitStep is one rung of the partial-exit ladder. ExitPctOfRemaining
// is the fraction of the position's remaining size to close when unrealized
// gain reaches ThresholdPct.
type PartialExitStep struct {
	ExitOrder          int     `json:"exit_order" toml:"exit_order"`
	ExitPctOfRemaining float64 `json:"exit_pct_of_remaining" toml:"exit_pct_of_remaining"`
	ThresholdPct       float64 `json:"threshold_pct" toml:"threshold_pct"`
}

// SourceOverride substitutes individual strategy defaults for positions opened
// from a specific signal source. Nil pointer fields fall back to the default.
type SourceOverride struct {
	TakeProfitPct   *float64 `json:"take_profit_pct,omitempty" toml:"take_profit_pct"`
	StopLossPct     *float64 `json:"stop_loss_pct,omitempty" toml:"stop_loss_pct"`
	TrailingStopPct *float64 `json:"trailing_stop_pct,omitempty" toml:"trailing_stop_pct"`
	SizeMultiplier  float64  `json:"size_multiplier" toml:"size_multiplier"`
}

// EntryFilters gate position creation on the signal source's recent record.
// They are evaluated once, at open time, never during the exit loop.
type EntryFilters struct {
	MinSourceWinRate      *float64 `json:"min_source_win_rate,omitempty" toml:"min_source_win_rate"`
	MinSourceProfitFactor *float64 `json:"min_source_profit_factor,omitempty" toml:"min_source_profit_factor"`
	MinSourceTrades       *int     `json:"min_source_trades,omitempty" toml:"min_source_trades"`
	LookbackDays          int      `json:"lookback_days" toml:"lookback_days"`
}

// StrategyConfig is the full rule set governing exits for positions opened
// under it. It is validated at save time; the evaluation loop assumes a valid
// configuration and never re-checks these invariants.
type StrategyConfig struct {
	ID                     string                    `json:"id"`
	Name                   string                    `json:"name"`
	DefaultTakeProfitPct   float64                   `json:"default_take_profit_pct"`
	DefaultStopLossPct     float64                   `json:"default_stop_loss_pct"`
	DefaultTrailingStopPct *float64                  `json:"default_trailing_stop_pct,omitempty"`
	DynamicTrailing        DynamicTrailing           `json:"dynamic_trailing"`
	TimeTrailing           TimeTrailing              `json:"time_trailing"`
	PartialExits           []PartialExitStep         `json:"partial_exits"`
	SourceOverrides        map[string]SourceOverride `json:"source_overrides"`
	EntryFilters           EntryFilters              `json:"entry_filters"`
	Enabled                bool                      `json:"enabled"`
	CreatedAt              time.Time                 `json:"created_at"`
	UpdatedAt              time.Time                 `json:"updated_at"`
}

// Validate checks every configuration invariant and returns a combined error
// listing all problems found, wrapped in ErrInvalidConfig. A config that
// passes Validate never produces an error at evaluation time.
func (c *StrategyConfig) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, "name must not be empty")
	}
	if c.DefaultTakeProfitPct <= 0 {
		errs = append(errs, "default_take_profit_pct must be > 0")
	}
	if c.DefaultStopLossPct <= 0 {
		errs = append(errs, "default_stop_loss_pct must be > 0 (stored as a positive loss magnitude)")
	}
	if c.DefaultTrailingStopPct != nil && *c.DefaultTrailingStopPct <= 0 {
		errs = append(errs, "default_trailing_stop_pct must be > 0 when set")
	}

	if c.DynamicTrailing.Enabled {
		if c.DynamicTrailing.BasePct <= 0 {
			errs = append(errs, "dynamic_trailing.base_pct must be > 0 when enabled")
		}
		if c.DynamicTrailing.TightPct <= 0 {
			errs = append(errs, "dynamic_trailing.tight_pct must be > 0 when enabled")
		}
		if c.DynamicTrailing.TightPct > c.DynamicTrailing.BasePct {
			errs = append(errs, fmt.Sprintf("dynamic_trailing.tight_pct %.4f must not exceed base_pct %.4f",
				c.DynamicTrailing.TightPct, c.DynamicTrailing.BasePct))
		}
		if c.DynamicTrailing.ThresholdPct <= 0 {
			errs = append(errs, "dynamic_trailing.threshold_pct must be > 0 when enabled")
		}
	}

	if c.TimeTrailing.Enabled {
		if c.TimeTrailing.StartHours < 0 {
			errs = append(errs, "time_trailing.start_hours must be >= 0")
		}
		if c.TimeTrailing.MaxHours <= c.TimeTrailing.StartHours {
			errs = append(errs, "time_trailing.max_hours must be > start_hours")
		}
		if c.TimeTrailing.TightPct <= 0 {
			errs = append(errs, "time_trailing.tight_pct must be > 0 when enabled")
		}
	}

	seenOrders := make(map[int]bool, len(c.PartialExits))
	for i, step := range c.PartialExits {
		if step.ExitPctOfRemaining <= 0 || step.ExitPctOfRemaining > 1 {
			errs = append(errs, fmt.Sprintf("partial_exits[%d]: exit_pct_of_remaining must be in (0, 1]", i))
		}
		if step.ThresholdPct <= 0 {
			errs = append(errs, fmt.Sprintf("partial_exits[%d]: threshold_pct must be > 0", i))
		}
		if seenOrders[step.ExitOrder] {
			errs = append(errs, fmt.Sprintf("partial_exits[%d]: duplicate exit_order %d", i, step.ExitOrder))
		}
		seenOrders[step.ExitOrder] = true
		if i > 0 {
			prev := c.PartialExits[i-1]
			if step.ThresholdPct <= prev.ThresholdPct {
				errs = append(errs, fmt.Sprintf("partial_exits[%d]: threshold_pct must ascend (%.4f after %.4f)",
					i, step.ThresholdPct, prev.ThresholdPct))
			}
			if step.ExitOrder <= prev.ExitOrder {
				errs = append(errs, fmt.Sprintf("partial_exits[%d]: exit_order must increase with threshold_pct", i))
			}
		}
	}

	for src, ov := range c.SourceOverrides {
		if ov.SizeMultiplier <= 0 {
			errs = append(errs, fmt.Sprintf("source_overrides[%s]: size_multiplier must be > 0", src))
		}
		if ov.TakeProfitPct != nil && *ov.TakeProfitPct <= 0 {
			errs = append(errs, fmt.Sprintf("source_overrides[%s]: take_profit_pct must be > 0 when set", src))
		}
		if ov.StopLossPct != nil && *ov.StopLossPct <= 0 {
			errs = append(errs, fmt.Sprintf("source_overrides[%s]: stop_loss_pct must be > 0 when set", src))
		}
		if ov.TrailingStopPct != nil && *ov.TrailingStopPct <= 0 {
			errs = append(errs, fmt.Sprintf("source_overrides[%s]: trailing_stop_pct must be > 0 when set", src))
		}
	}

	if c.EntryFilters.LookbackDays < 0 {
		errs = append(errs, "entry_filters.lookback_days must be >= 0")
	}
	if c.EntryFilters.MinSourceWinRate != nil &&
		(*c.EntryFilters.MinSourceWinRate < 0 || *c.EntryFilters.MinSourceWinRate > 1) {
		errs = append(errs, "entry_filters.min_source_win_rate must be in [0, 1]")
	}
	if c.EntryFilters.MinSourceProfitFactor != nil && *c.EntryFilters.MinSourceProfitFactor < 0 {
		errs = append(errs, "entry_filters.min_source_profit_factor must be >= 0")
	}
	if c.EntryFilters.MinSourceTrades != nil && *c.EntryFilters.MinSourceTrades < 0 {
		errs = append(errs, "entry_filters.min_source_trades must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: strategy %q:\n  - %s", ErrInvalidConfig, c.Name, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ResolvedParams are the per-position exit parameters frozen at open time.
// Strategy edits after a position opens never change its ResolvedParams.
type ResolvedParams struct {
	TakeProfitPct   float64           `json:"take_profit_pct"`
	StopLossPct     float64           `json:"stop_loss_pct"`
	TrailingStopPct *float64          `json:"trailing_stop_pct,omitempty"`
	DynamicTrailing DynamicTrailing   `json:"dynamic_trailing"`
	TimeTrailing    TimeTrailing      `json:"time_trailing"`
	PartialExits    []PartialExitStep `json:"partial_exits"`
	SizeMultiplier  float64           `json:"size_multiplier"`
}

// Resolve overlays the source override (when one exists for sourceID) onto the
// strategy defaults, field by field. The returned params carry their own
// copy of the ladder, sorted by exit order.
func (c *StrategyConfig) Resolve(sourceID string) ResolvedParams {
	p := ResolvedParams{
		TakeProfitPct:   c.DefaultTakeProfitPct,
		StopLossPct:     c.DefaultStopLossPct,
		TrailingStopPct: c.DefaultTrailingStopPct,
		DynamicTrailing: c.DynamicTrailing,
		TimeTrailing:    c.TimeTrailing,
		SizeMultiplier:  1.0,
	}

	p.PartialExits = make([]PartialExitStep, len(c.PartialExits))
	copy(p.PartialExits, c.PartialExits)
	sort.Slice(p.PartialExits, func(i, j int) bool {
		return p.PartialExits[i].ExitOrder < p.PartialExits[j].ExitOrder
	})

	ov, ok := c.SourceOverrides[sourceID]
	if !ok {
		return p
	}

	if ov.TakeProfitPct != nil {
		p.TakeProfitPct = *ov.TakeProfitPct
	}
	if ov.StopLossPct != nil {
		p.StopLossPct = *ov.StopLossPct
	}
	if ov.TrailingStopPct != nil {
		p.TrailingStopPct = ov.TrailingStopPct
	}
	if ov.SizeMultiplier > 0 {
		p.SizeMultiplier = ov.SizeMultiplier
	}
	return p
}

// HasTrailing reports whether any trailing-stop mechanism is configured.
func (p ResolvedParams) HasTrailing() bool {
	return p.TrailingStopPct != nil || p.DynamicTrailing.Enabled
}
