package model

import (
	"context"
	"time"
)

// ── Port Interfaces ──
// These interfaces decouple the pricing core from concrete storage and
// feed implementations (SQLite, Redis, the HTTP options feed). Each
// implementation satisfies one of these.

// PositionStore owns the list of option positions.
type PositionStore interface {
	// List returns all positions.
	List(ctx context.Context) ([]OptionPosition, error)

	// Add validates and persists a position, assigning an id and
	// creation timestamp, and notifies change subscribers.
	Add(ctx context.Context, p OptionPosition) (OptionPosition, error)

	// Delete removes a position by id and notifies change subscribers.
	Delete(ctx context.Context, id string) error

	// OnChange registers a callback invoked after every add/delete.
	// The returned function unsubscribes it.
	OnChange(fn func()) (unsubscribe func())

	// Close releases underlying resources.
	Close() error
}

// ClosingPriceStore persists one previous-close price per contract id,
// plus a single store-wide "last refresh" timestamp that gates the
// daily bulk refresh.
type ClosingPriceStore interface {
	// Get returns the cached closing price for a contract id.
	// ok is false when no price is cached.
	Get(ctx context.Context, contractID string) (price float64, ok bool, err error)

	// GetAll returns every cached closing price keyed by contract id.
	GetAll(ctx context.Context) (map[string]float64, error)

	// Set upserts a closing price. Idempotent: setting the same value
	// twice is harmless.
	Set(ctx context.Context, contractID string, price float64) error

	// LastRefresh returns when MarkRefreshed was last called.
	// A zero time means never.
	LastRefresh(ctx context.Context) (time.Time, error)

	// MarkRefreshed records a completed bulk refresh.
	MarkRefreshed(ctx context.Context, at time.Time) error
}

// QuoteRequest identifies one contract in a batch quote fetch.
type QuoteRequest struct {
	ID         string // contract id, also the key of the result map
	Symbol     string
	Expiration time.Time
	Strike     float64
	Kind       PositionKind
}

// QuoteSource fetches option market data. Implementations never fail a
// whole batch over one bad contract: missing data is absent fields or a
// missing map entry, not an error.
type QuoteSource interface {
	// FetchQuote returns a best-effort quote for one contract. An empty
	// quote (not an error) is returned when the feed has no data.
	FetchQuote(ctx context.Context, contractID string) (PriceQuote, error)

	// BatchFetchQuotes fetches quotes for many contracts, grouping
	// requests by (underlying, expiration) so one chain fetch serves
	// all strikes of a group. Unmatched requests are absent from the
	// result.
	BatchFetchQuotes(ctx context.Context, reqs []QuoteRequest) map[string]PriceQuote

	// FetchPreviousClose returns a prior-session close for a contract.
	FetchPreviousClose(ctx context.Context, contractID string) (float64, bool)

	// BatchFetchPreviousClose fetches previous closes for many
	// contracts concurrently; failed ids are absent from the result.
	BatchFetchPreviousClose(ctx context.Context, contractIDs []string) map[string]float64

	// FetchLastTradingDayChange derives the last completed session's
	// move from the two most recent daily closes.
	FetchLastTradingDayChange(ctx context.Context, contractID string) (DayChange, bool)
}

// CloseRefreshWindow is how long a bulk closing-price refresh stays
// fresh. Deliberately under 24h so a check made shortly after
// yesterday's market open still catches today's new open.
const CloseRefreshWindow = 20 * time.Hour

// NeedsRefresh reports whether the closing-price cache should be bulk
// refreshed, given the last marked refresh time. A zero last time
// always refreshes.
func NeedsRefresh(last, now time.Time) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) > CloseRefreshWindow
}
