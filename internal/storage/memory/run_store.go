package memory

import (
	"context"
	"sort"
	"sync"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// RunStore is an in-memory implementation of storage.RunStore.
type RunStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestRun // keyed by run_id
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		data: make(map[string]*domain.BacktestRun),
	}
}

// Insert adds a new run. Returns ErrDuplicateKey if run_id exists.
func (s *RunStore) Insert(_ context.Context, r *domain.BacktestRun) error {
	if r == nil || r.RunID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}

	runCopy := *r
	s.data[r.RunID] = &runCopy
	return nil
}

// GetByID retrieves a run by its ID. Returns ErrNotFound if not exists.
func (s *RunStore) GetByID(_ context.Context, runID string) (*domain.BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[runID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	runCopy := *r
	return &runCopy, nil
}

// GetBySymbol retrieves all runs for a symbol, ordered by start time ASC.
func (s *RunStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BacktestRun
	for _, r := range s.data {
		if r.Symbol == symbol {
			runCopy := *r
			result = append(result, &runCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTimeMs < result[j].StartTimeMs
	})

	return result, nil
}

// GetAll retrieves all runs.
func (s *RunStore) GetAll(_ context.Context) ([]*domain.BacktestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.BacktestRun, 0, len(s.data))
	for _, r := range s.data {
		runCopy := *r
		result = append(result, &runCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].RunID < result[j].RunID
	})

	return result, nil
}

var _ storage.RunStore = (*RunStore)(nil)
