// Package significance tags canonical trades by economic significance.
package significance

import (
	"time"

	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
)

// Default thresholds.
var (
	DefaultMinPremium = decimal.NewFromInt(50_000)
)

const DefaultMaxDTE = 30

// Config holds classification thresholds.
type Config struct {
	MinPremium decimal.Decimal // inclusive premium floor
	MaxDTE     int             // inclusive upper bound on days to expiry
	Location   *time.Location  // zone used to take the trade date (default UTC)
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinPremium: DefaultMinPremium,
		MaxDTE:     DefaultMaxDTE,
		Location:   time.UTC,
	}
}

// Classifier decides whether a trade is significant. It has no side effects.
type Classifier struct {
	cfg Config
}

// NewClassifier creates a classifier.
func NewClassifier(cfg Config) *Classifier {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Classifier{cfg: cfg}
}

// Config returns the classifier thresholds.
func (c *Classifier) Config() Config {
	return c.cfg
}

// IsSignificant reports premium >= MinPremium and 0 <= DTE <= MaxDTE.
// Trades with no premium or no expiry are never significant.
func (c *Classifier) IsSignificant(t *domain.Trade) bool {
	if t == nil || t.Premium == nil || t.Expiry == nil {
		return false
	}
	if t.Premium.LessThan(c.cfg.MinPremium) {
		return false
	}
	dte := c.DTE(t)
	return dte >= 0 && dte <= c.cfg.MaxDTE
}

// DTE returns whole days from the trade date to the expiry date.
// The caller must ensure Expiry is set.
func (c *Classifier) DTE(t *domain.Trade) int {
	return DaysToExpiry(t.TradeTime(), *t.Expiry, c.cfg.Location)
}

// DaysToExpiry computes calendar days between the trade date (in loc) and expiry.
func DaysToExpiry(tradeTime, expiry time.Time, loc *time.Location) int {
	local := tradeTime.In(loc)
	tradeDate := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	expiryDate := time.Date(expiry.Year(), expiry.Month(), expiry.Day(), 0, 0, 0, 0, time.UTC)
	return int(expiryDate.Sub(tradeDate).Hours() / 24)
}
