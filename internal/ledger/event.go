package ledger

import "polyexit/internal/domain"

// EventPayload builds the notification payload describing an applied change.
// Keys are stable; consumers treat absent keys as zero.
func EventPayload(change Change, eval domain.Evaluation) map[string]any {
	p := map[string]any{
		"price":              eval.Price,
		"quote_at":           eval.QuoteAt,
		"status":             string(change.Position.Status),
		"remaining_size":     change.Position.RemainingSize,
		"peak":               change.Position.PeakFavorablePrice,
		"unrealized_pnl":     change.Position.UnrealizedPnL,
		"unrealized_pnl_pct": change.Position.UnrealizedPnLPct,
	}
	if change.ClosedSize > 0 {
		p["closed_size"] = change.ClosedSize
		p["realized_pnl"] = change.RealizedPnL
		p["capital_released"] = change.CapitalReleased
	}
	if eval.Decision.Kind == domain.DecisionPartialExit {
		p["exit_order"] = eval.Decision.ExitOrder
	}
	if eval.Decision.Reason != "" {
		p["reason"] = string(eval.Decision.Reason)
	}
	return p
}

// OpenPayload builds the notification payload for a newly opened position.
func OpenPayload(pos domain.Position) map[string]any {
	return map[string]any{
		"portfolio_id":      pos.PortfolioID,
		"strategy_id":       pos.StrategyID,
		"source_id":         pos.SourceID,
		"market_id":         pos.MarketID,
		"token_id":          pos.TokenID,
		"side":              string(pos.Side),
		"entry_price":       pos.EntryPrice,
		"size":              pos.OriginalSize,
		"capital_allocated": pos.CapitalAllocated,
	}
}
