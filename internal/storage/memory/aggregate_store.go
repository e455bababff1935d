package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// AggregateStore is an in-memory implementation of storage.AggregateStore.
type AggregateStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StrategyAggregate // keyed by (strategy_id, symbol, timeframe)
}

// NewAggregateStore creates a new in-memory aggregate store.
func NewAggregateStore() *AggregateStore {
	return &AggregateStore{
		data: make(map[string]*domain.StrategyAggregate),
	}
}

// aggregateKey generates a unique key for an aggregate.
func aggregateKey(strategyID, symbol, timeframe string) string {
	return fmt.Sprintf("%s|%s|%s", strategyID, symbol, timeframe)
}

// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
func (s *AggregateStore) Insert(_ context.Context, a *domain.StrategyAggregate) error {
	if a == nil || a.StrategyID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := aggregateKey(a.StrategyID, a.Symbol, a.Timeframe)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	aggCopy := *a
	s.data[key] = &aggCopy
	return nil
}

// InsertBulk adds multiple aggregates atomically. Fails entire batch on any duplicate.
func (s *AggregateStore) InsertBulk(_ context.Context, aggregates []*domain.StrategyAggregate) error {
	if len(aggregates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(aggregates))

	// First pass: check for duplicates (existing + intra-batch)
	for _, a := range aggregates {
		if a == nil || a.StrategyID == "" {
			return storage.ErrInvalidInput
		}
		key := aggregateKey(a.StrategyID, a.Symbol, a.Timeframe)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, a := range aggregates {
		aggCopy := *a
		s.data[aggregateKey(a.StrategyID, a.Symbol, a.Timeframe)] = &aggCopy
	}

	return nil
}

// GetByKey retrieves an aggregate by its composite key. Returns ErrNotFound if not exists.
func (s *AggregateStore) GetByKey(_ context.Context, strategyID, symbol, timeframe string) (*domain.StrategyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[aggregateKey(strategyID, symbol, timeframe)]
	if !exists {
		return nil, storage.ErrNotFound
	}

	aggCopy := *a
	return &aggCopy, nil
}

// GetByStrategy retrieves all aggregates for a strategy.
func (s *AggregateStore) GetByStrategy(_ context.Context, strategyID string) ([]*domain.StrategyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StrategyAggregate
	for _, a := range s.data {
		if a.StrategyID == strategyID {
			aggCopy := *a
			result = append(result, &aggCopy)
		}
	}

	sortAggregates(result)
	return result, nil
}

// GetAll retrieves all aggregates.
func (s *AggregateStore) GetAll(_ context.Context) ([]*domain.StrategyAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.StrategyAggregate, 0, len(s.data))
	for _, a := range s.data {
		aggCopy := *a
		result = append(result, &aggCopy)
	}

	sortAggregates(result)
	return result, nil
}

// sortAggregates orders aggregates deterministically by composite key.
func sortAggregates(aggs []*domain.StrategyAggregate) {
	sort.Slice(aggs, func(i, j int) bool {
		if aggs[i].StrategyID != aggs[j].StrategyID {
			return aggs[i].StrategyID < aggs[j].StrategyID
		}
		if aggs[i].Symbol != aggs[j].Symbol {
			return aggs[i].Symbol < aggs[j].Symbol
		}
		return aggs[i].Timeframe < aggs[j].Timeframe
	})
}

var _ storage.AggregateStore = (*AggregateStore)(nil)
