package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

func sampleTrade(id string, ts int64) *domain.Trade {
	expiry := time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)
	return &domain.Trade{
		ID:             id,
		TradeKey:       "key-" + id,
		Timestamp:      ts,
		Underlying:     "AAPL",
		ContractSymbol: "O:AAPL251219C00150000",
		Side:           domain.SideCall,
		Strike:         ptr(decimal.RequireFromString("150")),
		Expiry:         &expiry,
		Price:          ptr(decimal.RequireFromString("2.5")),
		Premium:        ptr(decimal.RequireFromString("107500")),
		Size:           ptr(int64(430)),
		Exchange:       ptr(65),
		Conditions:     []int{209, 219},
		Action:         domain.ActionTrade,
		Source:         domain.SourceStream,
		RawPayload:     `{"sym":"O:AAPL251219C00150000"}`,
		Significant:    true,
		IngestedAt:     ts + 5,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	trade := sampleTrade("t1", 1764603000000)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, trade.TradeKey, got.TradeKey)
	assert.Equal(t, trade.Timestamp, got.Timestamp)
	assert.Equal(t, domain.SideCall, got.Side)
	assert.Equal(t, domain.SourceStream, got.Source)
	require.NotNil(t, got.Strike)
	assert.True(t, got.Strike.Equal(decimal.NewFromInt(150)))
	require.NotNil(t, got.Premium)
	assert.True(t, got.Premium.Equal(decimal.NewFromInt(107500)))
	require.NotNil(t, got.Expiry)
	assert.True(t, trade.Expiry.Equal(*got.Expiry))
	assert.Equal(t, int64(430), *got.Size)
	assert.Equal(t, 65, *got.Exchange)
	assert.Equal(t, []int{209, 219}, got.Conditions)
	assert.Equal(t, trade.RawPayload, got.RawPayload)
	assert.True(t, got.Significant)
}

func TestTradeStore_NullableFields(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	trade := &domain.Trade{
		ID:             "partial",
		TradeKey:       "key-partial",
		Timestamp:      1000,
		Underlying:     "AAPL",
		ContractSymbol: "O:AAPL",
		Action:         domain.ActionTrade,
		Source:         domain.SourceBackfill,
		RawPayload:     `{"ticker":"O:AAPL"}`,
	}
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "partial")
	require.NoError(t, err)
	assert.Nil(t, got.Strike)
	assert.Nil(t, got.Expiry)
	assert.Nil(t, got.Premium)
	assert.Nil(t, got.Size)
	assert.Equal(t, domain.SideUnknown, got.Side)
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleTrade("dup", 1000)))
	err := store.Insert(ctx, sampleTrade("dup", 1000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	err = store.InsertBulk(ctx, []*domain.Trade{sampleTrade("new", 2000), sampleTrade("dup", 1000)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "new")
	assert.ErrorIs(t, err, storage.ErrNotFound, "bulk insert must roll back")
}

func TestTradeStore_GetByUnderlyingAndTopSignificant(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeStore(pool)
	ctx := context.Background()

	a := sampleTrade("a", 3000)
	b := sampleTrade("b", 1000)
	b.Premium = ptr(decimal.RequireFromString("250000"))
	c := sampleTrade("c", 2000)
	c.Significant = false
	c.Premium = ptr(decimal.RequireFromString("900000"))
	require.NoError(t, store.InsertBulk(ctx, []*domain.Trade{a, b, c}))

	got, err := store.GetByUnderlying(ctx, "AAPL", 1000, 2000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)

	top, err := store.GetTopSignificant(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].ID)
	assert.Equal(t, "a", top[1].ID)
}
