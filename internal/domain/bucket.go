package domain

import "github.com/shopspring/decimal"

// BucketWidthMs is the granularity of stored time buckets (one minute).
const BucketWidthMs int64 = 60_000

// BucketKey identifies a time bucket.
type BucketKey struct {
	Underlying  string
	BucketStart int64 // minute start, Unix ms
}

// BucketStartFor truncates a millisecond timestamp to its minute start.
func BucketStartFor(timestampMs int64) int64 {
	start := (timestampMs / BucketWidthMs) * BucketWidthMs
	if timestampMs < 0 && timestampMs%BucketWidthMs != 0 {
		start -= BucketWidthMs
	}
	return start
}

// TimeBucket holds running sums of trade activity for one underlying and minute.
// Corresponds to the time_buckets table.
type TimeBucket struct {
	Underlying  string
	BucketStart int64 // minute start, Unix ms
	CallPremium decimal.Decimal
	PutPremium  decimal.Decimal
	CallCount   int64
	PutCount    int64
	CallSize    int64
	PutSize     int64
}

// Key returns the bucket key.
func (b *TimeBucket) Key() BucketKey {
	return BucketKey{Underlying: b.Underlying, BucketStart: b.BucketStart}
}

// TradeCount returns the number of trades counted in the bucket.
func (b *TimeBucket) TradeCount() int64 {
	return b.CallCount + b.PutCount
}

// NetFlow returns call premium minus put premium.
func (b *TimeBucket) NetFlow() decimal.Decimal {
	return b.CallPremium.Sub(b.PutPremium)
}

// Apply adds a delta to the bucket's running sums.
func (b *TimeBucket) Apply(d BucketDelta) {
	b.CallPremium = b.CallPremium.Add(d.CallPremium)
	b.PutPremium = b.PutPremium.Add(d.PutPremium)
	b.CallCount += d.CallCount
	b.PutCount += d.PutCount
	b.CallSize += d.CallSize
	b.PutSize += d.PutSize
}

// BucketDelta is the increment a single trade contributes to its bucket.
type BucketDelta struct {
	CallPremium decimal.Decimal
	PutPremium  decimal.Decimal
	CallCount   int64
	PutCount    int64
	CallSize    int64
	PutSize     int64
}

// DeltaFor builds the bucket increment for a trade.
// Returns false when the trade side is unknown.
func DeltaFor(t *Trade) (BucketDelta, bool) {
	var d BucketDelta
	premium := decimal.Zero
	if t.Premium != nil {
		premium = *t.Premium
	}
	var size int64
	if t.Size != nil {
		size = *t.Size
	}

	switch t.Side {
	case SideCall:
		d.CallPremium = premium
		d.CallCount = 1
		d.CallSize = size
	case SidePut:
		d.PutPremium = premium
		d.PutCount = 1
		d.PutSize = size
	default:
		return d, false
	}
	return d, true
}
