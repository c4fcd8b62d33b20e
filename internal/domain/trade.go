package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the canonical record produced for every ingested options-trade event.
// Corresponds to the trades table in PostgreSQL and ClickHouse.
type Trade struct {
	ID       string // storage key: content key when dedupe is on, random otherwise
	TradeKey string // content-derived idempotency key (identifier|timestamp|size|price)

	Timestamp      int64            // Unix timestamp in milliseconds (UTC)
	Underlying     string           // underlying ticker, empty if unknown
	ContractSymbol string           // opaque provider identifier, always preserved
	Side           Side             // CALL, PUT or UNKNOWN
	Strike         *decimal.Decimal // nullable when undecoded
	Expiry         *time.Time       // calendar date at UTC midnight, nullable
	Price          *decimal.Decimal // per-contract price (nullable)
	Premium        *decimal.Decimal // total notional (nullable)
	Size           *int64           // contract count (nullable)
	Exchange       *int             // provider exchange id (nullable)
	Conditions     []int            // provider condition codes
	Action         string           // free-form classifier, defaults to ActionTrade
	Source         Source           // provenance tag
	RawPayload     string           // untouched original payload

	Significant bool  // derived by the significance classifier
	IngestedAt  int64 // processing time (ms)
}

// ActionTrade is the generic action tag used when the payload carries none.
const ActionTrade = "TRADE"

// TradeTime returns the trade timestamp as a UTC time.
func (t *Trade) TradeTime() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// Decoded reports whether strike, expiry and side were all resolved.
func (t *Trade) Decoded() bool {
	return t.Strike != nil && t.Expiry != nil && t.Side.IsKnown()
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.Strike != nil {
		v := *t.Strike
		c.Strike = &v
	}
	if t.Expiry != nil {
		v := *t.Expiry
		c.Expiry = &v
	}
	if t.Price != nil {
		v := *t.Price
		c.Price = &v
	}
	if t.Premium != nil {
		v := *t.Premium
		c.Premium = &v
	}
	if t.Size != nil {
		v := *t.Size
		c.Size = &v
	}
	if t.Exchange != nil {
		v := *t.Exchange
		c.Exchange = &v
	}
	if t.Conditions != nil {
		c.Conditions = append([]int(nil), t.Conditions...)
	}
	return &c
}
