package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"options-flow/internal/domain"
	"options-flow/internal/observability"
	"options-flow/internal/storage"
)

// BucketStore implements storage.BucketStore using PostgreSQL.
// Upsert relies on the (underlying, bucket_start) primary key and ON CONFLICT
// so concurrent increments on one key are serialized by the row lock.
type BucketStore struct {
	pool *Pool
}

// NewBucketStore creates a new BucketStore.
func NewBucketStore(pool *Pool) *BucketStore {
	return &BucketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BucketStore = (*BucketStore)(nil)

const bucketColumns = `
	underlying, bucket_start, call_premium, put_premium,
	call_count, put_count, call_size, put_size
`

// Upsert finds or creates the bucket and adds delta in a single statement.
func (s *BucketStore) Upsert(ctx context.Context, key domain.BucketKey, delta domain.BucketDelta) error {
	if key.Underlying == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO time_buckets (` + bucketColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (underlying, bucket_start) DO UPDATE SET
			call_premium = time_buckets.call_premium + EXCLUDED.call_premium,
			put_premium  = time_buckets.put_premium + EXCLUDED.put_premium,
			call_count   = time_buckets.call_count + EXCLUDED.call_count,
			put_count    = time_buckets.put_count + EXCLUDED.put_count,
			call_size    = time_buckets.call_size + EXCLUDED.call_size,
			put_size     = time_buckets.put_size + EXCLUDED.put_size
	`

	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		key.Underlying, key.BucketStart,
		delta.CallPremium, delta.PutPremium,
		delta.CallCount, delta.PutCount, delta.CallSize, delta.PutSize,
	)
	observability.RecordDBQuery("postgres", "bucket_upsert", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("upsert time bucket: %w", err)
	}
	return nil
}

// Range retrieves buckets for an underlying with start in [start, end], ordered ASC.
func (s *BucketStore) Range(ctx context.Context, underlying string, start, end int64) ([]*domain.TimeBucket, error) {
	query := `
		SELECT ` + bucketColumns + `
		FROM time_buckets
		WHERE underlying = $1 AND bucket_start >= $2 AND bucket_start <= $3
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, underlying, start, end)
	if err != nil {
		return nil, fmt.Errorf("range time buckets: %w", err)
	}
	defer rows.Close()

	return scanBuckets(rows)
}

// RangeAll retrieves buckets of all underlyings with start in [start, end].
func (s *BucketStore) RangeAll(ctx context.Context, start, end int64) ([]*domain.TimeBucket, error) {
	query := `
		SELECT ` + bucketColumns + `
		FROM time_buckets
		WHERE bucket_start >= $1 AND bucket_start <= $2
		ORDER BY bucket_start ASC, underlying ASC
	`

	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("range all time buckets: %w", err)
	}
	defer rows.Close()

	return scanBuckets(rows)
}

// AtMinute retrieves every bucket starting at minute, ordered by underlying.
func (s *BucketStore) AtMinute(ctx context.Context, minute int64) ([]*domain.TimeBucket, error) {
	query := `
		SELECT ` + bucketColumns + `
		FROM time_buckets
		WHERE bucket_start = $1
		ORDER BY underlying ASC
	`

	rows, err := s.pool.Query(ctx, query, minute)
	if err != nil {
		return nil, fmt.Errorf("time buckets at minute: %w", err)
	}
	defer rows.Close()

	return scanBuckets(rows)
}

// DeleteBefore removes buckets whose start is strictly before cutoff.
func (s *BucketStore) DeleteBefore(ctx context.Context, cutoff int64) (int, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM time_buckets WHERE bucket_start < $1`, cutoff)
	observability.RecordDBQuery("postgres", "bucket_sweep", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("delete time buckets: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanBuckets scans rows into time buckets. Returns an empty slice when no rows match.
func scanBuckets(rows pgx.Rows) ([]*domain.TimeBucket, error) {
	buckets := make([]*domain.TimeBucket, 0)

	for rows.Next() {
		var b domain.TimeBucket

		err := rows.Scan(
			&b.Underlying, &b.BucketStart, &b.CallPremium, &b.PutPremium,
			&b.CallCount, &b.PutCount, &b.CallSize, &b.PutSize,
		)
		if err != nil {
			return nil, fmt.Errorf("scan time bucket row: %w", err)
		}

		buckets = append(buckets, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time bucket rows: %w", err)
	}

	return buckets, nil
}
