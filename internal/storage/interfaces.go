package storage

import (
	"context"

	"options-flow/internal/domain"
)

// TradeStore provides access to trades storage.
// Trades are append-only; the raw record is stored regardless of significance.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if the trade ID exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Trade, error)

	// GetByUnderlying retrieves trades for an underlying within [start, end] (inclusive),
	// ordered by timestamp ASC.
	GetByUnderlying(ctx context.Context, underlying string, start, end int64) ([]*domain.Trade, error)

	// GetTopSignificant retrieves up to limit significant trades ordered by premium DESC.
	GetTopSignificant(ctx context.Context, limit int) ([]*domain.Trade, error)
}

// BucketStore provides access to minute time buckets.
// Upsert must be atomic per key: concurrent producers never lose an increment.
type BucketStore interface {
	// Upsert finds or creates the bucket for key and adds delta to its running sums.
	Upsert(ctx context.Context, key domain.BucketKey, delta domain.BucketDelta) error

	// Range retrieves buckets for an underlying with start in [start, end] (inclusive),
	// ordered by bucket start ASC. Returns an empty slice when none match.
	Range(ctx context.Context, underlying string, start, end int64) ([]*domain.TimeBucket, error)

	// RangeAll retrieves buckets of every underlying with start in [start, end] (inclusive),
	// ordered by (bucket start, underlying) ASC.
	RangeAll(ctx context.Context, start, end int64) ([]*domain.TimeBucket, error)

	// AtMinute retrieves the cross-sectional snapshot for one minute, ordered by underlying.
	AtMinute(ctx context.Context, minute int64) ([]*domain.TimeBucket, error)

	// DeleteBefore removes buckets whose start is strictly before cutoff.
	// Returns the number of buckets removed.
	DeleteBefore(ctx context.Context, cutoff int64) (int, error)
}
