package domain

import "time"

// EventType enumerates position lifecycle events delivered to subscribers.
type EventType string

const (
	EventPositionOpened          EventType = "position_opened"
	EventPositionPriceUpdated    EventType = "position_price_updated"
	EventPositionPartiallyClosed EventType = "position_partially_closed"
	EventPositionClosed          EventType = "position_closed"
	EventSignalRejected          EventType = "signal_rejected"
)

// Event is the at-least-once notification envelope broadcast after a ledger
// commit. Seq increases monotonically per position so consumers that need
// exactly-once semantics can de-duplicate on (PositionID, Seq).
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	PositionID string         `json:"position_id"`
	Seq        uint64         `json:"seq"`
	Payload    map[string]any `json:"payload"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// StreamMessage is a single durable bus message with its stream ID.
type StreamMessage struct {
	ID      string
	Payload []byte
}
