package significance

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"options-flow/internal/domain"
)

var tradeDay = time.Date(2025, 12, 1, 15, 0, 0, 0, time.UTC)

func makeTrade(premium string, dte int) *domain.Trade {
	t := &domain.Trade{
		Timestamp: tradeDay.UnixMilli(),
		Side:      domain.SideCall,
	}
	if premium != "" {
		p := decimal.RequireFromString(premium)
		t.Premium = &p
	}
	if dte != noExpiry {
		e := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dte)
		t.Expiry = &e
	}
	return t
}

const noExpiry = -9999

func TestIsSignificant_Boundaries(t *testing.T) {
	c := NewClassifier(DefaultConfig())

	tests := []struct {
		name    string
		premium string
		dte     int
		want    bool
	}{
		{"just below floor", "49999.99", 10, false},
		{"at floor, max dte", "50000.00", 30, true},
		{"at floor, past max dte", "50000.00", 31, false},
		{"expires today", "50000", 0, true},
		{"already expired", "900000", -1, false},
		{"large premium", "2500000", 7, true},
		{"null premium", "", 5, false},
		{"null expiry", "100000", noExpiry, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsSignificant(makeTrade(tt.premium, tt.dte)))
		})
	}
}

func TestIsSignificant_NilTrade(t *testing.T) {
	c := NewClassifier(DefaultConfig())
	assert.False(t, c.IsSignificant(nil))
}

func TestIsSignificant_CustomThresholds(t *testing.T) {
	c := NewClassifier(Config{MinPremium: decimal.NewFromInt(1000), MaxDTE: 3})

	assert.True(t, c.IsSignificant(makeTrade("1000", 3)))
	assert.False(t, c.IsSignificant(makeTrade("1000", 4)))
	assert.False(t, c.IsSignificant(makeTrade("999", 1)))
}

func TestDaysToExpiry_UsesTradeDateInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 02:00 UTC on Dec 2 is still Dec 1 in New York.
	trade := time.Date(2025, 12, 2, 2, 0, 0, 0, time.UTC)
	expiry := time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysToExpiry(trade, expiry, time.UTC))
	assert.Equal(t, 4, DaysToExpiry(trade, expiry, ny))
}
