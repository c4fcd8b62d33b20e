package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"options-flow/internal/domain"
	"options-flow/internal/storage"
)

func premium(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{
		ID:             "trade1",
		Timestamp:      1000,
		Underlying:     "AAPL",
		ContractSymbol: "O:AAPL251219C00150000",
		Side:           domain.SideCall,
		Premium:        premium("107500"),
		Conditions:     []int{209},
	}

	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByID(ctx, "trade1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.Premium.Equal(decimal.NewFromInt(107500)) {
		t.Errorf("Premium mismatch: got %s, want 107500", got.Premium)
	}

	// Mutating the returned copy must not leak into the store
	got.Conditions[0] = 1
	again, _ := store.GetByID(ctx, "trade1")
	if again.Conditions[0] != 209 {
		t.Errorf("store state mutated through returned trade")
	}
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trade := &domain.Trade{ID: "trade1", Underlying: "SPY"}

	if err := store.Insert(ctx, trade); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, trade)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeStore_InvalidInput(t *testing.T) {
	store := NewTradeStore()

	if err := store.Insert(context.Background(), &domain.Trade{}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}

func TestTradeStore_NotFound(t *testing.T) {
	store := NewTradeStore()

	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTradeStore_InsertBulk(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trades := []*domain.Trade{
		{ID: "t1", Underlying: "QQQ", Timestamp: 3000},
		{ID: "t2", Underlying: "QQQ", Timestamp: 1000},
		{ID: "t3", Underlying: "SPY", Timestamp: 2000},
	}
	if err := store.InsertBulk(ctx, trades); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetByUnderlying(ctx, "QQQ", 0, 5000)
	if err != nil {
		t.Fatalf("GetByUnderlying failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(got))
	}
	if got[0].ID != "t2" || got[1].ID != "t1" {
		t.Errorf("Expected ascending timestamp order, got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestTradeStore_InsertBulkDuplicateRollsBack(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trades := []*domain.Trade{
		{ID: "t1", Underlying: "QQQ"},
		{ID: "t1", Underlying: "QQQ"},
	}
	if err := store.InsertBulk(ctx, trades); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	if _, err := store.GetByID(ctx, "t1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected no partial insert, got %v", err)
	}
}

func TestTradeStore_GetByUnderlyingInclusiveRange(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	for i, ts := range []int64{999, 1000, 2000, 2001} {
		_ = store.Insert(ctx, &domain.Trade{ID: string(rune('a' + i)), Underlying: "IWM", Timestamp: ts})
	}

	got, _ := store.GetByUnderlying(ctx, "IWM", 1000, 2000)
	if len(got) != 2 {
		t.Errorf("Expected 2 trades in inclusive range, got %d", len(got))
	}
}

func TestTradeStore_GetTopSignificant(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	trades := []*domain.Trade{
		{ID: "small", Significant: true, Premium: premium("60000")},
		{ID: "big", Significant: true, Premium: premium("250000")},
		{ID: "mid", Significant: true, Premium: premium("90000")},
		{ID: "ignored", Significant: false, Premium: premium("900000")},
	}
	if err := store.InsertBulk(ctx, trades); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetTopSignificant(ctx, 2)
	if err != nil {
		t.Fatalf("GetTopSignificant failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 trades, got %d", len(got))
	}
	if got[0].ID != "big" || got[1].ID != "mid" {
		t.Errorf("Expected premium DESC order, got %s, %s", got[0].ID, got[1].ID)
	}
}
