package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
	"trading-lab/internal/storage/postgres"
)

func createTestTrade(sessionID, tradeID string, exitTime int64) *domain.ClosedTrade {
	return &domain.ClosedTrade{
		TradeID:        tradeID,
		SessionID:      sessionID,
		Symbol:         "BTCUSDT",
		Side:           domain.Long,
		Quantity:       dec("100"),
		EntryPrice:     dec("100"),
		ExitPrice:      dec("110"),
		EntryTime:      exitTime - 600000,
		ExitTime:       exitTime,
		ExitReason:     domain.ExitTakeProfit,
		RealizedPnl:    dec("979"),
		FeesPaid:       dec("21"),
		ReturnPct:      dec("9.78"),
		HoldDurationMs: 600000,
	}
}

func TestTradeStore_AppendAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	trade := createTestTrade("session-1", "trade-1", 1700000600000)
	require.NoError(t, store.Append(ctx, trade))

	trades, err := store.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, trades, 1)

	got := trades[0]
	assert.Equal(t, trade.TradeID, got.TradeID)
	assert.Equal(t, trade.SessionID, got.SessionID)
	assert.Equal(t, trade.Symbol, got.Symbol)
	assert.Equal(t, domain.Long, got.Side)
	assert.True(t, trade.Quantity.Equal(got.Quantity))
	assert.True(t, trade.EntryPrice.Equal(got.EntryPrice))
	assert.True(t, trade.ExitPrice.Equal(got.ExitPrice))
	assert.Equal(t, trade.EntryTime, got.EntryTime)
	assert.Equal(t, trade.ExitTime, got.ExitTime)
	assert.Equal(t, domain.ExitTakeProfit, got.ExitReason)
	assert.True(t, trade.RealizedPnl.Equal(got.RealizedPnl))
	assert.True(t, trade.FeesPaid.Equal(got.FeesPaid))
	assert.True(t, trade.ReturnPct.Equal(got.ReturnPct))
	assert.Equal(t, trade.HoldDurationMs, got.HoldDurationMs)
}

func TestTradeStore_AppendDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	require.NoError(t, store.Append(ctx, createTestTrade("session-1", "trade-1", 1700000600000)))
	err := store.Append(ctx, createTestTrade("session-1", "trade-1", 1700000600000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeStore_ListOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := postgres.NewTradeStore(pool)

	// Same exit time: ties break on trade_id
	require.NoError(t, store.Append(ctx, createTestTrade("session-1", "trade-b", 1700000600000)))
	require.NoError(t, store.Append(ctx, createTestTrade("session-1", "trade-a", 1700000600000)))
	require.NoError(t, store.Append(ctx, createTestTrade("session-1", "trade-c", 1700000000000)))
	require.NoError(t, store.Append(ctx, createTestTrade("session-2", "trade-x", 1700000000000)))

	trades, err := store.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "trade-c", trades[0].TradeID)
	assert.Equal(t, "trade-a", trades[1].TradeID)
	assert.Equal(t, "trade-b", trades[2].TradeID)
}

func TestTradeStore_ListEmpty(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := postgres.NewTradeStore(pool)
	trades, err := store.ListBySession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, trades)
}
