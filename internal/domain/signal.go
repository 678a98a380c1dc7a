package domain

import "time"

// Signal is an already-validated directional trade signal from the external
// signal generator. The engine trusts it: confidence thresholds and message
// parsing are the generator's job; the engine only applies entry filters and
// capital checks before opening a position.
type Signal struct {
	ID            string    `json:"id"`
	SourceID      string    `json:"source_id"`
	MarketID      string    `json:"market_id"`
	TokenID       string    `json:"token_id"`
	Side          Side      `json:"side"`
	Confidence    float64   `json:"confidence"`
	PriceAtSignal float64   `json:"price_at_signal"`
	CreatedAt     time.Time `json:"created_at"`
}

// PriceQuote is the best attainable exit price for a token side at a point in
// time, as observed by the market-data collaborator. Quotes for a token are
// monotonically timestamped.
type PriceQuote struct {
	TokenID             string    `json:"token_id"`
	Side                Side      `json:"side"`
	BestExecutablePrice float64   `json:"best_executable_price"`
	ObservedAt          time.Time `json:"observed_at"`
}

// SourceStats summarize a signal source's recent closed-position record, used
// by entry filters at position-open time.
type SourceStats struct {
	SourceID     string
	Trades       int
	Wins         int
	WinRate      float64
	ProfitFactor float64
	GrossProfit  float64
	GrossLoss    float64
}
