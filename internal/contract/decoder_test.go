package contract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-flow/internal/domain"
)

func TestDecode_Call(t *testing.T) {
	res := Decode("O:AAPL251219C00150000")

	c, ok := res.Decoded()
	require.True(t, ok)
	assert.Equal(t, "AAPL", c.Underlying)
	assert.Equal(t, domain.SideCall, c.Side)
	assert.Equal(t, time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC), c.Expiry)
	assert.Equal(t, "150", c.Strike.String())
	assert.Equal(t, "O:AAPL251219C00150000", res.Identifier)
}

func TestDecode_PutFractionalStrike(t *testing.T) {
	res := Decode("O:SPY260116P00452500")

	c, ok := res.Decoded()
	require.True(t, ok)
	assert.Equal(t, "SPY", c.Underlying)
	assert.Equal(t, domain.SidePut, c.Side)
	assert.Equal(t, time.Date(2026, 1, 16, 0, 0, 0, 0, time.UTC), c.Expiry)
	assert.Equal(t, "452.5", c.Strike.String())
}

// A naive "first C or P after offset 1" scan would split CSCO at index 2.
// The positional checks skip that candidate and land on the real side char.
func TestDecode_TickerContainingSideLetter(t *testing.T) {
	tests := []struct {
		id         string
		underlying string
		side       domain.Side
		strike     string
	}{
		{"O:CSCO251219C00050000", "CSCO", domain.SideCall, "50"},
		{"O:PYPL251219P00070000", "PYPL", domain.SidePut, "70"},
		{"O:CCJ260320C00045500", "CCJ", domain.SideCall, "45.5"},
		{"O:SPXW251219P05000000", "SPXW", domain.SidePut, "5000"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			c, ok := Decode(tt.id).Decoded()
			require.True(t, ok)
			assert.Equal(t, tt.underlying, c.Underlying)
			assert.Equal(t, tt.side, c.Side)
			assert.Equal(t, tt.strike, c.Strike.String())
		})
	}
}

func TestDecode_MissingDateKeepsRoot(t *testing.T) {
	res := Decode("O:AAPL")

	_, ok := res.Decoded()
	assert.False(t, ok)
	assert.Equal(t, "AAPL", res.Root)
	assert.Equal(t, "AAPL", res.Underlying())
	assert.Equal(t, "O:AAPL", res.Identifier)
}

func TestDecode_Unparsed(t *testing.T) {
	tests := []struct {
		name string
		id   string
		root string
	}{
		{"empty", "", ""},
		{"no prefix", "AAPL251219C00150000", ""},
		{"prefix only", "O:", ""},
		{"short strike", "O:AAPL251219C0015", "AAPL"},
		{"trailing garbage", "O:AAPL251219C00150000X", "AAPL"},
		{"bad month", "O:AAPL251319C00150000", "AAPL"},
		{"bad day", "O:AAPL250231C00150000", "AAPL"},
		{"no side", "O:AAPL251219X00150000", "AAPL"},
		{"digit ticker", "O:A1PL251219C00150000", "A"},
		{"side at start", "O:C251219", "C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode(tt.id)
			_, ok := res.Decoded()
			assert.False(t, ok)
			assert.Nil(t, res.Contract)
			assert.Equal(t, tt.root, res.Root)
			assert.Equal(t, tt.id, res.Identifier)
		})
	}
}
