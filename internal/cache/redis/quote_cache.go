package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"polyexit/internal/domain"
)

// QuoteCache implements domain.QuoteProvider and domain.QuoteWriter using
// Redis hashes. Each token side's quote lives at "quote:{tokenID}:{side}"
// with fields "price" and "ts" (Unix nanoseconds). The market-data
// collaborator writes; the scheduler reads.
type QuoteCache struct {
	rdb *redis.Client

	// maxAge bounds how old a cached quote may be before reads report
	// ErrQuoteUnavailable. Zero disables the check.
	maxAge time.Duration
}

var (
	_ domain.QuoteProvider = (*QuoteCache)(nil)
	_ domain.QuoteWriter   = (*QuoteCache)(nil)
)

// NewQuoteCache creates a QuoteCache backed by the given Client. maxAge
// bounds quote staleness on reads; zero disables the bound.
func NewQuoteCache(c *Client, maxAge time.Duration) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying(), maxAge: maxAge}
}

func quoteKey(tokenID string, side domain.Side) string {
	return "quote:" + tokenID + ":" + string(side)
}

// SetQuote stores the latest quote for a token side. Quotes arrive in
// observation order per token, so a plain overwrite keeps the newest.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := quoteKey(q.TokenID, q.Side)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(q.BestExecutablePrice, 'f', -1, 64),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.TokenID, err)
	}
	return nil
}

// Quote returns the latest cached quote for a token side. Missing or stale
// quotes report domain.ErrQuoteUnavailable.
func (qc *QuoteCache) Quote(ctx context.Context, tokenID string, side domain.Side) (domain.PriceQuote, error) {
	key := quoteKey(tokenID, side)
	vals, err := qc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: get quote %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s/%s: %w", tokenID, side, domain.ErrQuoteUnavailable)
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote price %s: %w", tokenID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse quote ts %s: %w", tokenID, err)
	}
	observedAt := time.Unix(0, tsNano)

	if qc.maxAge > 0 && time.Since(observedAt) > qc.maxAge {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s/%s observed %s ago: %w",
			tokenID, side, time.Since(observedAt).Round(time.Second), domain.ErrQuoteUnavailable)
	}

	return domain.PriceQuote{
		TokenID:             tokenID,
		Side:                side,
		BestExecutablePrice: price,
		ObservedAt:          observedAt,
	}, nil
}
