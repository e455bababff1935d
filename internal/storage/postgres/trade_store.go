package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	trade_id, symbol, timeframe, strategy_id,
	entry_index, entry_time_ms, entry_price,
	exit_index, exit_time_ms, exit_price, exit_reason,
	return_pct
`

const insertTradeQuery = `
	INSERT INTO trades (
		trade_id, symbol, timeframe, strategy_id,
		entry_index, entry_time_ms, entry_price,
		exit_index, exit_time_ms, exit_price, exit_reason,
		return_pct
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7,
		$8, $9, $10, $11,
		$12
	)
`

// Insert adds a new trade. Returns ErrDuplicateKey if trade_id exists.
func (s *TradeStore) Insert(ctx context.Context, t *domain.Trade) error {
	_, err := s.pool.Exec(ctx, insertTradeQuery,
		t.TradeID, t.Symbol, t.Timeframe, t.StrategyID,
		t.EntryIndex, t.EntryTimeMs, t.EntryPrice,
		t.ExitIndex, t.ExitTimeMs, t.ExitPrice, t.ExitReason,
		t.ReturnPct,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// InsertBulk adds multiple trades atomically. Fails entire batch on any duplicate.
func (s *TradeStore) InsertBulk(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx, insertTradeQuery,
			t.TradeID, t.Symbol, t.Timeframe, t.StrategyID,
			t.EntryIndex, t.EntryTimeMs, t.EntryPrice,
			t.ExitIndex, t.ExitTimeMs, t.ExitPrice, t.ExitReason,
			t.ReturnPct,
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert trade in bulk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByID retrieves a trade by its ID. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(ctx context.Context, tradeID string) (*domain.Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE trade_id = $1`

	row := s.pool.QueryRow(ctx, query, tradeID)
	t, err := scanTrade(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}
	return t, nil
}

// GetByStrategy retrieves all trades for a strategy/symbol/timeframe
// combination, ordered by entry time ASC.
func (s *TradeStore) GetByStrategy(ctx context.Context, strategyID, symbol, timeframe string) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE strategy_id = $1 AND symbol = $2 AND timeframe = $3
		ORDER BY entry_time_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategyID, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("get trades by strategy: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// GetBySymbol retrieves all trades for a symbol across strategies.
func (s *TradeStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE symbol = $1
		ORDER BY entry_time_ms ASC, trade_id ASC
	`

	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("get trades by symbol: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// scanTrade scans a single row into a Trade.
func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var t domain.Trade

	err := row.Scan(
		&t.TradeID, &t.Symbol, &t.Timeframe, &t.StrategyID,
		&t.EntryIndex, &t.EntryTimeMs, &t.EntryPrice,
		&t.ExitIndex, &t.ExitTimeMs, &t.ExitPrice, &t.ExitReason,
		&t.ReturnPct,
	)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

// scanTrades scans multiple rows into a slice of Trade.
func scanTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	var trades []*domain.Trade

	for rows.Next() {
		var t domain.Trade

		err := rows.Scan(
			&t.TradeID, &t.Symbol, &t.Timeframe, &t.StrategyID,
			&t.EntryIndex, &t.EntryTimeMs, &t.EntryPrice,
			&t.ExitIndex, &t.ExitTimeMs, &t.ExitPrice, &t.ExitReason,
			&t.ReturnPct,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}

		trades = append(trades, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}

	return trades, nil
}
