package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[string]*barRecord // keyed by (symbol, timeframe, timestamp_ms)
}

// barRecord pairs a bar with its series key for filtered reads.
type barRecord struct {
	symbol    string
	timeframe string
	bar       domain.Bar
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{
		data: make(map[string]*barRecord),
	}
}

// barKey generates a unique key for a bar.
func barKey(symbol, timeframe string, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, timeframe, timestampMs)
}

// InsertBulk adds multiple bars. Fails entire batch on duplicate.
func (s *BarStore) InsertBulk(_ context.Context, symbol, timeframe string, bars []*domain.Bar) error {
	if symbol == "" || timeframe == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Track keys in this batch to detect intra-batch duplicates
	batchKeys := make(map[string]struct{}, len(bars))

	// First pass: check for duplicates (existing + intra-batch)
	for _, b := range bars {
		if b == nil {
			return storage.ErrInvalidInput
		}
		key := barKey(symbol, timeframe, b.TimestampMs)

		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	// Second pass: insert all
	for _, b := range bars {
		key := barKey(symbol, timeframe, b.TimestampMs)
		s.data[key] = &barRecord{symbol: symbol, timeframe: timeframe, bar: *b}
	}

	return nil
}

// GetBySymbolTimeframe retrieves all bars for a symbol/timeframe pair, ordered by timestamp ASC.
func (s *BarStore) GetBySymbolTimeframe(_ context.Context, symbol, timeframe string) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, r := range s.data {
		if r.symbol == symbol && r.timeframe == timeframe {
			barCopy := r.bar
			result = append(result, &barCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

// GetByTimeRange retrieves bars for a symbol/timeframe within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(_ context.Context, symbol, timeframe string, start, end int64) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Bar
	for _, r := range s.data {
		if r.symbol == symbol && r.timeframe == timeframe && r.bar.TimestampMs >= start && r.bar.TimestampMs <= end {
			barCopy := r.bar
			result = append(result, &barCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result, nil
}

var _ storage.BarStore = (*BarStore)(nil)
