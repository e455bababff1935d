package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

func sampleTrade(id string, entryTimeMs int64) *domain.Trade {
	return &domain.Trade{
		TradeID:     id,
		Symbol:      "BTC/USDT",
		Timeframe:   "1h",
		StrategyID:  "SMA_CROSS_10_30",
		EntryIndex:  4,
		EntryTimeMs: entryTimeMs,
		EntryPrice:  42000,
		ExitIndex:   9,
		ExitTimeMs:  entryTimeMs + 5*3_600_000,
		ExitPrice:   43500,
		ExitReason:  domain.ExitReasonSignal,
		ReturnPct:   0.0357,
	}
}

func TestTradeStore_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := sampleTrade("t1", 1_700_000_000_000)
	require.NoError(t, store.Insert(ctx, trade))

	got, err := store.GetByID(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, trade.Symbol, got.Symbol)
	assert.Equal(t, trade.EntryTimeMs, got.EntryTimeMs)
	assert.InDelta(t, trade.ReturnPct, got.ReturnPct, 1e-12)
	assert.Equal(t, domain.ExitReasonSignal, got.ExitReason)
}

func TestTradeStore_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trade := sampleTrade("t1", 1_700_000_000_000)
	require.NoError(t, store.Insert(ctx, trade))

	err := store.Insert(ctx, trade)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestTradeStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	_, err := store.GetByID(ctx, "nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTradeStore_InsertBulkAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	require.NoError(t, store.Insert(ctx, sampleTrade("t1", 1000)))

	// Batch containing an existing ID must not insert anything
	err := store.InsertBulk(ctx, []*domain.Trade{
		sampleTrade("t2", 2000),
		sampleTrade("t1", 3000),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetByID(ctx, "t2")
	assert.ErrorIs(t, err, storage.ErrNotFound, "rolled-back trade must not be visible")
}

func TestTradeStore_GetByStrategyOrdering(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	trades := []*domain.Trade{
		sampleTrade("t1", 3000),
		sampleTrade("t2", 1000),
		sampleTrade("t3", 2000),
	}
	other := sampleTrade("t4", 500)
	other.StrategyID = "EMA_CROSS_12_26"
	trades = append(trades, other)

	require.NoError(t, store.InsertBulk(ctx, trades))

	got, err := store.GetByStrategy(ctx, "SMA_CROSS_10_30", "BTC/USDT", "1h")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "t2", got[0].TradeID)
	assert.Equal(t, "t3", got[1].TradeID)
	assert.Equal(t, "t1", got[2].TradeID)
}

func TestTradeStore_GetBySymbol(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeStore(pool)

	btc := sampleTrade("t1", 1000)
	eth := sampleTrade("t2", 2000)
	eth.Symbol = "ETH/USDT"

	require.NoError(t, store.InsertBulk(ctx, []*domain.Trade{btc, eth}))

	got, err := store.GetBySymbol(ctx, "ETH/USDT")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t2", got[0].TradeID)
}
