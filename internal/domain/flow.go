package domain

import "github.com/shopspring/decimal"

// Sentiment is the tier assigned to an underlying's premium split.
type Sentiment string

const (
	SentimentStrongBullish Sentiment = "STRONG_BULLISH"
	SentimentBullish       Sentiment = "BULLISH"
	SentimentNeutral       Sentiment = "NEUTRAL"
	SentimentBearish       Sentiment = "BEARISH"
	SentimentStrongBearish Sentiment = "STRONG_BEARISH"
)

// Sentiment thresholds on the call share of total premium.
var (
	strongBullishShare = decimal.RequireFromString("0.70")
	bullishShare       = decimal.RequireFromString("0.55")
	bearishShare       = decimal.RequireFromString("0.45")
	strongBearishShare = decimal.RequireFromString("0.30")
)

// SentimentFor classifies a call/put premium split.
// No premium at all is NEUTRAL.
func SentimentFor(callPremium, putPremium decimal.Decimal) Sentiment {
	total := callPremium.Add(putPremium)
	if !total.IsPositive() {
		return SentimentNeutral
	}
	share := callPremium.Div(total)
	switch {
	case share.GreaterThanOrEqual(strongBullishShare):
		return SentimentStrongBullish
	case share.GreaterThanOrEqual(bullishShare):
		return SentimentBullish
	case share.LessThanOrEqual(strongBearishShare):
		return SentimentStrongBearish
	case share.LessThanOrEqual(bearishShare):
		return SentimentBearish
	default:
		return SentimentNeutral
	}
}

// FlowSummary is the heatmap cell for one underlying over a window.
type FlowSummary struct {
	Underlying  string
	CallPremium decimal.Decimal
	PutPremium  decimal.Decimal
	NetFlow     decimal.Decimal
	TradeCount  int64
	Sentiment   Sentiment
}
