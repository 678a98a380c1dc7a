package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrQuoteUnavailable    = errors.New("quote unavailable")
	ErrStaleDecision       = errors.New("stale decision")
	ErrLedgerConflict      = errors.New("ledger conflict")
	ErrCapitalInsufficient = errors.New("insufficient capital")
	ErrPositionClosed      = errors.New("position already closed")
	ErrInvalidConfig       = errors.New("invalid strategy configuration")
	ErrLockHeld            = errors.New("lock already held")
	ErrSignalRejected      = errors.New("signal rejected")
)
