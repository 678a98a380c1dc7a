package domain

import "time"

// DecisionKind is the shape of an exit decision.
type DecisionKind string

const (
	DecisionHold        DecisionKind = "hold"
	DecisionPartialExit DecisionKind = "partial_exit"
	DecisionFullExit    DecisionKind = "full_exit"
)

// Decision is the single output of one evaluation of one position. For
// PartialExit, ExitOrder identifies the ladder step and FractionOfRemaining
// the share of the remaining size to close.
type Decision struct {
	Kind                DecisionKind `json:"kind"`
	ExitOrder           int          `json:"exit_order,omitempty"`
	FractionOfRemaining float64      `json:"fraction_of_remaining,omitempty"`
	Reason              ExitReason   `json:"reason,omitempty"`
}

// Evaluation bundles a Decision with the snapshot it was computed from. The
// decision function is pure, so the updated peak travels alongside the
// decision and is committed by the ledger, never by the evaluator.
type Evaluation struct {
	Decision         Decision  `json:"decision"`
	NewPeak          float64   `json:"new_peak"`
	Price            float64   `json:"price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	UnrealizedPnLPct float64   `json:"unrealized_pnl_pct"`
	QuoteAt          time.Time `json:"quote_at"`
	EvaluatedAt      time.Time `json:"evaluated_at"`
}
