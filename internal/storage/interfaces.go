package storage

import (
	"context"

	"crypto-backtest-lab/internal/domain"
)

// BarStore provides access to OHLCV bar storage.
type BarStore interface {
	// InsertBulk adds multiple bars. Fails entire batch on duplicate
	// (symbol, timeframe, timestamp_ms).
	InsertBulk(ctx context.Context, symbol, timeframe string, bars []*domain.Bar) error

	// GetBySymbolTimeframe retrieves all bars for a symbol/timeframe pair,
	// ordered by timestamp ASC.
	GetBySymbolTimeframe(ctx context.Context, symbol, timeframe string) ([]*domain.Bar, error)

	// GetByTimeRange retrieves bars for a symbol/timeframe within
	// [start, end] (inclusive, milliseconds), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, symbol, timeframe string, start, end int64) ([]*domain.Bar, error)
}

// TradeStore provides access to simulated trade storage.
type TradeStore interface {
	// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
	Insert(ctx context.Context, t *domain.Trade) error

	// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, trades []*domain.Trade) error

	// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tradeID string) (*domain.Trade, error)

	// GetByStrategy retrieves all trades for a strategy/symbol/timeframe
	// combination, ordered by entry time ASC.
	GetByStrategy(ctx context.Context, strategyID, symbol, timeframe string) ([]*domain.Trade, error)

	// GetBySymbol retrieves all trades for a symbol across strategies.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error)
}

// RunStore provides access to backtest run storage.
type RunStore interface {
	// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
	Insert(ctx context.Context, r *domain.BacktestRun) error

	// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, runID string) (*domain.BacktestRun, error)

	// GetBySymbol retrieves all runs for a symbol, ordered by start time ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.BacktestRun, error)

	// GetAll retrieves all runs.
	GetAll(ctx context.Context) ([]*domain.BacktestRun, error)
}

// AggregateStore provides access to strategy aggregate storage.
type AggregateStore interface {
	// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
	Insert(ctx context.Context, a *domain.StrategyAggregate) error

	// InsertBulk adds multiple aggregates atomically. Fails entire batch on any duplicate.
	InsertBulk(ctx context.Context, aggregates []*domain.StrategyAggregate) error

	// GetByKey retrieves an aggregate by its composite key.
	// Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, strategyID, symbol, timeframe string) (*domain.StrategyAggregate, error)

	// GetByStrategy retrieves all aggregates for a strategy.
	GetByStrategy(ctx context.Context, strategyID string) ([]*domain.StrategyAggregate, error)

	// GetAll retrieves all aggregates.
	GetAll(ctx context.Context) ([]*domain.StrategyAggregate, error)
}
