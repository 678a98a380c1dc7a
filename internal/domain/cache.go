package domain

import (
	"context"
	"io"
	"time"
)

// QuoteProvider returns the latest quote for a token side. Implementations
// must honor context deadlines; the scheduler treats a timeout as
// ErrQuoteUnavailable, never as a price of zero.
type QuoteProvider interface {
	Quote(ctx context.Context, tokenID string, side Side) (PriceQuote, error)
}

// QuoteWriter records fresh quotes pushed by the market-data collaborator.
type QuoteWriter interface {
	SetQuote(ctx context.Context, q PriceQuote) error
}

// EventBus is the pub/sub fabric for lifecycle events and signal intake.
// Publish is best-effort fan-out; StreamAppend/StreamRead back the durable,
// ordered delivery path.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads objects to cold storage. The archiver uses it for
// closed-position and audit exports.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LockManager provides cross-process mutual exclusion, used to guarantee a
// position is owned by one engine instance at a time when several run against
// the same store.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
