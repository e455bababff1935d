package metrics

import (
	"context"
	"errors"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// ErrNoTrades is returned when no trades are available for aggregation.
var ErrNoTrades = errors.New("no trades available for aggregation")

// Aggregator computes strategy aggregates from persisted trades.
type Aggregator struct {
	tradeStore     storage.TradeStore
	aggregateStore storage.AggregateStore
}

// NewAggregator creates a new metrics aggregator. The aggregate store
// may be nil when persistence is not wanted.
func NewAggregator(tradeStore storage.TradeStore, aggregateStore storage.AggregateStore) *Aggregator {
	return &Aggregator{
		tradeStore:     tradeStore,
		aggregateStore: aggregateStore,
	}
}

// ComputeAggregate computes the aggregate for one
// (strategy_id, symbol, timeframe) key from stored trades.
// Returns ErrNoTrades if no trades match.
func (a *Aggregator) ComputeAggregate(ctx context.Context, strategyID, symbol, timeframe string) (*domain.StrategyAggregate, error) {
	trades, err := a.tradeStore.GetByStrategy(ctx, strategyID, symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, ErrNoTrades
	}

	agg := computeFromTrades(trades)
	agg.StrategyID = strategyID
	agg.Symbol = symbol
	agg.Timeframe = timeframe

	return agg, nil
}

// ComputeAndStore computes the aggregate and persists it.
func (a *Aggregator) ComputeAndStore(ctx context.Context, strategyID, symbol, timeframe string) (*domain.StrategyAggregate, error) {
	agg, err := a.ComputeAggregate(ctx, strategyID, symbol, timeframe)
	if err != nil {
		return nil, err
	}

	if a.aggregateStore != nil {
		if err := a.aggregateStore.Insert(ctx, agg); err != nil {
			return nil, err
		}
	}

	return agg, nil
}
