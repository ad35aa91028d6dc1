package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
)

func testTrade(tradeID, sessionID string, exitTime int64) *domain.ClosedTrade {
	return &domain.ClosedTrade{
		TradeID:     tradeID,
		SessionID:   sessionID,
		Symbol:      "BTCUSDT",
		Side:        domain.Long,
		Quantity:    decimal.NewFromInt(1),
		EntryPrice:  decimal.NewFromInt(100),
		ExitPrice:   decimal.NewFromInt(110),
		EntryTime:   exitTime - 1000,
		ExitTime:    exitTime,
		ExitReason:  domain.ExitSignal,
		RealizedPnl: decimal.NewFromInt(10),
	}
}

func TestTradeStore_AppendAndList(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.Append(ctx, testTrade("t2", "s1", 2000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, testTrade("t1", "s1", 1000)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Append(ctx, testTrade("t3", "other", 500)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	trades, err := store.ListBySession(ctx, "s1")
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("len = %d, want 2", len(trades))
	}
	if trades[0].TradeID != "t1" || trades[1].TradeID != "t2" {
		t.Errorf("order = %s, %s; want t1, t2", trades[0].TradeID, trades[1].TradeID)
	}
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.Append(ctx, testTrade("t1", "s1", 1000)); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if err := store.Append(ctx, testTrade("t1", "s1", 2000)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeStore_InvalidInput(t *testing.T) {
	store := NewTradeStore()
	ctx := context.Background()

	if err := store.Append(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil trade: expected ErrInvalidInput, got %v", err)
	}
	if err := store.Append(ctx, &domain.ClosedTrade{SessionID: "s1"}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty trade id: expected ErrInvalidInput, got %v", err)
	}
}

func TestTradeStore_EmptySession(t *testing.T) {
	store := NewTradeStore()

	trades, err := store.ListBySession(context.Background(), "none")
	if err != nil {
		t.Fatalf("ListBySession failed: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("len = %d, want 0", len(trades))
	}
}
