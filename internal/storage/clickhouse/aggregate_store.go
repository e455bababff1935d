package clickhouse

import (
	"context"
	"fmt"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// AggregateStore implements storage.AggregateStore using ClickHouse.
type AggregateStore struct {
	conn *Conn
}

// NewAggregateStore creates a new AggregateStore.
func NewAggregateStore(conn *Conn) *AggregateStore {
	return &AggregateStore{conn: conn}
}

// Compile-time interface check.
var _ storage.AggregateStore = (*AggregateStore)(nil)

// Insert adds a new aggregate. Returns ErrDuplicateKey if key exists.
func (s *AggregateStore) Insert(ctx context.Context, a *domain.StrategyAggregate) error {
	// MergeTree will not reject a second row for the same key, so the
	// append-only contract is enforced with an explicit check.
	exists, err := s.exists(ctx, a.StrategyID, a.Symbol, a.Timeframe)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO strategy_aggregates (
			strategy_id, symbol, timeframe,
			total_trades, wins, losses, win_rate,
			return_mean, return_median, return_min, return_max, return_stddev,
			total_return_pct, max_drawdown, max_consecutive_losses
		) VALUES (
			?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?
		)
	`

	err = s.conn.Exec(ctx, query,
		a.StrategyID, a.Symbol, a.Timeframe,
		int64(a.TotalTrades), int64(a.Wins), int64(a.Losses), a.WinRate,
		a.ReturnMean, a.ReturnMedian, a.ReturnMin, a.ReturnMax, a.ReturnStddev,
		a.TotalReturnPct, a.MaxDrawdown, int64(a.MaxConsecutiveLosses),
	)
	if err != nil {
		return fmt.Errorf("insert strategy aggregate: %w", err)
	}
	return nil
}

// InsertBulk adds multiple aggregates atomically. Fails entire batch on any duplicate.
func (s *AggregateStore) InsertBulk(ctx context.Context, aggregates []*domain.StrategyAggregate) error {
	if len(aggregates) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{})
	for _, a := range aggregates {
		key := a.StrategyID + "|" + a.Symbol + "|" + a.Timeframe
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, a := range aggregates {
		exists, err := s.exists(ctx, a.StrategyID, a.Symbol, a.Timeframe)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO strategy_aggregates (
			strategy_id, symbol, timeframe,
			total_trades, wins, losses, win_rate,
			return_mean, return_median, return_min, return_max, return_stddev,
			total_return_pct, max_drawdown, max_consecutive_losses
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range aggregates {
		err = batch.Append(
			a.StrategyID, a.Symbol, a.Timeframe,
			int64(a.TotalTrades), int64(a.Wins), int64(a.Losses), a.WinRate,
			a.ReturnMean, a.ReturnMedian, a.ReturnMin, a.ReturnMax, a.ReturnStddev,
			a.TotalReturnPct, a.MaxDrawdown, int64(a.MaxConsecutiveLosses),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

const aggregateColumns = `
	strategy_id, symbol, timeframe,
	total_trades, wins, losses, win_rate,
	return_mean, return_median, return_min, return_max, return_stddev,
	total_return_pct, max_drawdown, max_consecutive_losses
`

// GetByKey retrieves an aggregate by its composite key.
func (s *AggregateStore) GetByKey(ctx context.Context, strategyID, symbol, timeframe string) (*domain.StrategyAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM strategy_aggregates
		WHERE strategy_id = ? AND symbol = ? AND timeframe = ?
		LIMIT 1
	`

	row := s.conn.QueryRow(ctx, query, strategyID, symbol, timeframe)
	a, err := scanAggregateRow(row.Scan)
	if err != nil {
		return nil, storage.ErrNotFound
	}

	return a, nil
}

// GetByStrategy retrieves all aggregates for a strategy.
func (s *AggregateStore) GetByStrategy(ctx context.Context, strategyID string) ([]*domain.StrategyAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM strategy_aggregates
		WHERE strategy_id = ?
		ORDER BY symbol ASC, timeframe ASC
	`

	rows, err := s.conn.Query(ctx, query, strategyID)
	if err != nil {
		return nil, fmt.Errorf("query by strategy: %w", err)
	}
	defer rows.Close()

	return scanAggregates(rows)
}

// GetAll retrieves all aggregates.
func (s *AggregateStore) GetAll(ctx context.Context) ([]*domain.StrategyAggregate, error) {
	query := `
		SELECT ` + aggregateColumns + `
		FROM strategy_aggregates
		ORDER BY strategy_id ASC, symbol ASC, timeframe ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanAggregates(rows)
}

// exists checks if an aggregate with the given key exists.
func (s *AggregateStore) exists(ctx context.Context, strategyID, symbol, timeframe string) (bool, error) {
	query := `
		SELECT count(*) FROM strategy_aggregates
		WHERE strategy_id = ? AND symbol = ? AND timeframe = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, strategyID, symbol, timeframe).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanAggregateRow scans one row via the given scan function. Integer
// columns come back as Int64 from the native protocol.
func scanAggregateRow(scan func(dest ...interface{}) error) (*domain.StrategyAggregate, error) {
	var a domain.StrategyAggregate
	var totalTrades, wins, losses, maxConsecutiveLosses int64

	err := scan(
		&a.StrategyID, &a.Symbol, &a.Timeframe,
		&totalTrades, &wins, &losses, &a.WinRate,
		&a.ReturnMean, &a.ReturnMedian, &a.ReturnMin, &a.ReturnMax, &a.ReturnStddev,
		&a.TotalReturnPct, &a.MaxDrawdown, &maxConsecutiveLosses,
	)
	if err != nil {
		return nil, err
	}

	a.TotalTrades = int(totalTrades)
	a.Wins = int(wins)
	a.Losses = int(losses)
	a.MaxConsecutiveLosses = int(maxConsecutiveLosses)

	return &a, nil
}

// scanAggregates scans multiple rows into a slice.
func scanAggregates(rows chRows) ([]*domain.StrategyAggregate, error) {
	var aggregates []*domain.StrategyAggregate

	for rows.Next() {
		a, err := scanAggregateRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		aggregates = append(aggregates, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate rows: %w", err)
	}

	return aggregates, nil
}
