// Package aggregation maintains per-minute premium buckets for each underlying.
package aggregation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/domain"
	"options-flow/internal/observability"
	"options-flow/internal/storage"
)

// DefaultRetention is how long buckets are kept before a sweep removes them.
const DefaultRetention = 7 * 24 * time.Hour

// Aggregator records trades into minute buckets and serves range reads.
type Aggregator struct {
	store     storage.BucketStore
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	// sweepMu keeps a sweep from running between a record's retention check
	// and its upsert. Records share it; sweeps hold it exclusively.
	sweepMu sync.RWMutex
}

// Options contains configuration for creating an Aggregator.
type Options struct {
	Store     storage.BucketStore
	Retention time.Duration // Default: 7 days. Negative disables the retention guard and sweeps.
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// NewAggregator creates a new bucket aggregator.
func NewAggregator(opts Options) *Aggregator {
	retention := opts.Retention
	if retention == 0 {
		retention = DefaultRetention
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Aggregator{
		store:     opts.Store,
		retention: retention,
		now:       now,
		logger:    logger.With().Str("component", "aggregator").Logger(),
	}
}

// Record adds a trade to its minute bucket.
// Every trade with a known side is counted regardless of significance.
// Returns false without error when the trade is skipped: unknown side, or older than retention.
func (a *Aggregator) Record(ctx context.Context, t *domain.Trade) (bool, error) {
	if t == nil || t.Underlying == "" {
		observability.RecordTradeNotAggregated("no_underlying")
		return false, nil
	}

	delta, ok := domain.DeltaFor(t)
	if !ok {
		observability.RecordTradeNotAggregated("unknown_side")
		return false, nil
	}

	key := domain.BucketKey{
		Underlying:  t.Underlying,
		BucketStart: domain.BucketStartFor(t.Timestamp),
	}

	a.sweepMu.RLock()
	defer a.sweepMu.RUnlock()

	// A bucket already swept must not be recreated by a late trade.
	if cutoff, ok := a.cutoff(); ok && key.BucketStart < cutoff {
		observability.RecordTradeNotAggregated("expired")
		return false, nil
	}

	err := a.store.Upsert(ctx, key, delta)
	observability.RecordBucketUpsert(err)
	if err != nil {
		return false, fmt.Errorf("upsert bucket %s@%d: %w", key.Underlying, key.BucketStart, err)
	}
	return true, nil
}

// Query returns buckets for underlying with start in [start, end], ascending.
// Bounds are Unix ms; start is truncated to its minute.
func (a *Aggregator) Query(ctx context.Context, underlying string, start, end int64) ([]*domain.TimeBucket, error) {
	if end < start {
		return []*domain.TimeBucket{}, nil
	}
	buckets, err := a.store.Range(ctx, underlying, domain.BucketStartFor(start), end)
	if err != nil {
		return nil, fmt.Errorf("query buckets for %s: %w", underlying, err)
	}
	return buckets, nil
}

// QueryAll returns buckets of every underlying with start in [start, end].
func (a *Aggregator) QueryAll(ctx context.Context, start, end int64) ([]*domain.TimeBucket, error) {
	if end < start {
		return []*domain.TimeBucket{}, nil
	}
	buckets, err := a.store.RangeAll(ctx, domain.BucketStartFor(start), end)
	if err != nil {
		return nil, fmt.Errorf("query all buckets: %w", err)
	}
	return buckets, nil
}

// Snapshot returns the cross-sectional buckets of the minute containing ts, sorted by underlying.
func (a *Aggregator) Snapshot(ctx context.Context, ts int64) ([]*domain.TimeBucket, error) {
	buckets, err := a.store.AtMinute(ctx, domain.BucketStartFor(ts))
	if err != nil {
		return nil, fmt.Errorf("snapshot buckets: %w", err)
	}
	return buckets, nil
}

// Sweep removes buckets older than the retention horizon.
// Returns the number of buckets removed.
func (a *Aggregator) Sweep(ctx context.Context) (int, error) {
	a.sweepMu.Lock()
	defer a.sweepMu.Unlock()

	cutoff, ok := a.cutoff()
	if !ok {
		return 0, nil
	}

	removed, err := a.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep buckets before %d: %w", cutoff, err)
	}

	observability.RecordBucketsSwept(removed)
	if removed > 0 {
		a.logger.Info().Int("removed", removed).Int64("cutoff", cutoff).Msg("swept expired buckets")
	}
	return removed, nil
}

// cutoff returns the minute start below which buckets are expired.
func (a *Aggregator) cutoff() (int64, bool) {
	if a.retention < 0 {
		return 0, false
	}
	return domain.BucketStartFor(a.now().Add(-a.retention).UnixMilli()), true
}
