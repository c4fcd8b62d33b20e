package aggregation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-flow/internal/domain"
	"options-flow/internal/storage/memory"
)

var fixedNow = time.Date(2025, 12, 1, 15, 30, 0, 0, time.UTC)

func newTestAggregator(store *memory.BucketStore) *Aggregator {
	return NewAggregator(Options{
		Store:     store,
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return fixedNow },
	})
}

func trade(underlying string, side domain.Side, ts time.Time, premium string, size int64) *domain.Trade {
	t := &domain.Trade{
		ID:         underlying + ts.String(),
		Underlying: underlying,
		Side:       side,
		Timestamp:  ts.UnixMilli(),
		Size:       &size,
	}
	if premium != "" {
		p := decimal.RequireFromString(premium)
		t.Premium = &p
	}
	return t
}

func TestAggregator_RecordSumsByMinute(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(memory.NewBucketStore())

	minute := fixedNow.Add(-10 * time.Minute)
	for _, tr := range []*domain.Trade{
		trade("QQQ", domain.SideCall, minute.Add(5*time.Second), "50000", 100),
		trade("QQQ", domain.SideCall, minute.Add(40*time.Second), "90000", 150),
		trade("QQQ", domain.SidePut, minute.Add(59*time.Second), "40000", 80),
	} {
		recorded, err := agg.Record(ctx, tr)
		require.NoError(t, err)
		assert.True(t, recorded)
	}

	buckets, err := agg.Query(ctx, "QQQ", minute.UnixMilli(), minute.UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, minute.UnixMilli(), b.BucketStart)
	assert.True(t, b.CallPremium.Equal(decimal.NewFromInt(140000)), "call premium %s", b.CallPremium)
	assert.True(t, b.PutPremium.Equal(decimal.NewFromInt(40000)), "put premium %s", b.PutPremium)
	assert.Equal(t, int64(2), b.CallCount)
	assert.Equal(t, int64(1), b.PutCount)
	assert.Equal(t, int64(250), b.CallSize)
	assert.Equal(t, int64(80), b.PutSize)
}

func TestAggregator_DuplicateRecordDoubles(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(memory.NewBucketStore())

	tr := trade("SPY", domain.SideCall, fixedNow.Add(-time.Minute), "75000", 300)
	_, err := agg.Record(ctx, tr)
	require.NoError(t, err)
	_, err = agg.Record(ctx, tr)
	require.NoError(t, err)

	buckets, err := agg.Query(ctx, "SPY", fixedNow.Add(-time.Hour).UnixMilli(), fixedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(2), buckets[0].CallCount)
	assert.True(t, buckets[0].CallPremium.Equal(decimal.NewFromInt(150000)))
	assert.Equal(t, int64(600), buckets[0].CallSize)
}

func TestAggregator_SkipsUnknownSide(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBucketStore()
	agg := newTestAggregator(store)

	recorded, err := agg.Record(ctx, trade("AAPL", domain.SideUnknown, fixedNow, "50000", 1))
	require.NoError(t, err)
	assert.False(t, recorded)

	buckets, err := store.RangeAll(ctx, 0, fixedNow.UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestAggregator_NullPremiumCountsOnly(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(memory.NewBucketStore())

	recorded, err := agg.Record(ctx, trade("IWM", domain.SidePut, fixedNow, "", 5))
	require.NoError(t, err)
	require.True(t, recorded)

	buckets, err := agg.Snapshot(ctx, fixedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.True(t, buckets[0].PutPremium.IsZero())
	assert.Equal(t, int64(1), buckets[0].PutCount)
}

func TestAggregator_ConcurrentRecordExactSums(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(memory.NewBucketStore())

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, _ = agg.Record(ctx, trade("NVDA", domain.SideCall, fixedNow, "1000.50", 2))
			}
		}()
	}
	wg.Wait()

	buckets, err := agg.Snapshot(ctx, fixedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(producers*perProducer), buckets[0].CallCount)
	assert.True(t, buckets[0].CallPremium.Equal(decimal.RequireFromString("1000.50").Mul(decimal.NewFromInt(producers*perProducer))))
}

func TestAggregator_QueryEmptyRange(t *testing.T) {
	agg := newTestAggregator(memory.NewBucketStore())

	buckets, err := agg.Query(context.Background(), "TSLA", 0, fixedNow.UnixMilli())
	require.NoError(t, err)
	assert.NotNil(t, buckets)
	assert.Empty(t, buckets)

	buckets, err = agg.Query(context.Background(), "TSLA", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, buckets)
}

func TestAggregator_SnapshotSortedByUnderlying(t *testing.T) {
	ctx := context.Background()
	agg := newTestAggregator(memory.NewBucketStore())

	for _, u := range []string{"TSLA", "AMD", "META"} {
		_, err := agg.Record(ctx, trade(u, domain.SideCall, fixedNow.Add(-30*time.Second), "1", 1))
		require.NoError(t, err)
	}

	buckets, err := agg.Snapshot(ctx, fixedNow.Add(-30*time.Second).UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, "AMD", buckets[0].Underlying)
	assert.Equal(t, "META", buckets[1].Underlying)
	assert.Equal(t, "TSLA", buckets[2].Underlying)
}

func TestAggregator_SweepAndRetentionGuard(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBucketStore()
	agg := newTestAggregator(store)

	old := domain.BucketKey{Underlying: "QQQ", BucketStart: domain.BucketStartFor(fixedNow.Add(-48 * time.Hour).UnixMilli())}
	require.NoError(t, store.Upsert(ctx, old, domain.BucketDelta{CallCount: 1}))

	_, err := agg.Record(ctx, trade("QQQ", domain.SideCall, fixedNow.Add(-time.Hour), "10", 1))
	require.NoError(t, err)

	removed, err := agg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// A late trade for an expired minute is not recorded.
	recorded, err := agg.Record(ctx, trade("QQQ", domain.SideCall, fixedNow.Add(-48*time.Hour), "10", 1))
	require.NoError(t, err)
	assert.False(t, recorded)

	buckets, err := store.RangeAll(ctx, 0, fixedNow.UnixMilli())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, domain.BucketStartFor(fixedNow.Add(-time.Hour).UnixMilli()), buckets[0].BucketStart)
}

// gatedStore blocks Upsert until released.
type gatedStore struct {
	*memory.BucketStore
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) Upsert(ctx context.Context, key domain.BucketKey, delta domain.BucketDelta) error {
	close(s.entered)
	<-s.release
	return s.BucketStore.Upsert(ctx, key, delta)
}

func TestAggregator_SweepWaitsForInFlightRecord(t *testing.T) {
	ctx := context.Background()
	store := &gatedStore{
		BucketStore: memory.NewBucketStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}

	var nowMu sync.Mutex
	now := fixedNow
	agg := NewAggregator(Options{
		Store:     store,
		Retention: time.Hour,
		Now: func() time.Time {
			nowMu.Lock()
			defer nowMu.Unlock()
			return now
		},
	})

	// Inside retention when recorded, expired by the time the sweep runs.
	tr := trade("QQQ", domain.SideCall, fixedNow.Add(-59*time.Minute), "10", 1)
	recordDone := make(chan error, 1)
	go func() {
		_, err := agg.Record(ctx, tr)
		recordDone <- err
	}()
	<-store.entered

	nowMu.Lock()
	now = fixedNow.Add(10 * time.Minute)
	nowMu.Unlock()

	sweepDone := make(chan int, 1)
	go func() {
		removed, err := agg.Sweep(ctx)
		assert.NoError(t, err)
		sweepDone <- removed
	}()

	select {
	case <-sweepDone:
		t.Fatal("sweep ran while a record was between its retention check and upsert")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	require.NoError(t, <-recordDone)
	assert.Equal(t, 1, <-sweepDone)

	buckets, err := store.RangeAll(ctx, 0, fixedNow.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, buckets)
}
