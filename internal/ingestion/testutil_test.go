package ingestion

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"options-flow/internal/aggregation"
	"options-flow/internal/normalization"
	"options-flow/internal/storage/memory"
)

var fixedNow = time.Date(2025, 12, 1, 15, 30, 0, 0, time.UTC)

// tradeMinute is a minute inside the default backfill window of fixedNow.
var tradeMinute = time.Date(2025, 12, 1, 14, 30, 0, 0, time.UTC)

const (
	qqqCall = "O:QQQ251219C00500000"
	qqqPut  = "O:QQQ251219P00480000"
)

type testPipeline struct {
	ingestor   *Ingestor
	trades     *memory.TradeStore
	buckets    *memory.BucketStore
	aggregator *aggregation.Aggregator
}

func newTestPipeline(t *testing.T, dedupe bool) *testPipeline {
	t.Helper()

	logger := zerolog.Nop()
	trades := memory.NewTradeStore()
	buckets := memory.NewBucketStore()
	agg := aggregation.NewAggregator(aggregation.Options{
		Store:     buckets,
		Retention: 24 * time.Hour,
		Now:       func() time.Time { return fixedNow },
		Logger:    &logger,
	})

	ingestor := NewIngestor(Options{
		Normalizer: normalization.NewNormalizer(normalization.Options{
			Now: func() time.Time { return fixedNow },
		}),
		TradeStore: trades,
		Aggregator: agg,
		Dedupe:     dedupe,
		Logger:     &logger,
	})

	return &testPipeline{
		ingestor:   ingestor,
		trades:     trades,
		buckets:    buckets,
		aggregator: agg,
	}
}

// pushPayload builds a push-feed style payload (short field names).
func pushPayload(sym string, price string, size int64, ts time.Time) string {
	return fmt.Sprintf(`{"ev":"T","sym":%q,"p":%s,"s":%d,"t":%d}`, sym, price, size, ts.UnixMilli())
}

// pullPayload builds a pull-feed style payload (long field names, ns timestamp, no identifier).
func pullPayload(price string, size int64, ts time.Time) string {
	return fmt.Sprintf(`{"sip_timestamp":%d,"price":%s,"size":%d,"exchange":302,"conditions":[209]}`, ts.UnixNano(), price, size)
}
