package clickhouse

import (
	"context"
	"fmt"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse. Bars are the
// highest-volume table in the system, so inserts go through the native
// batch protocol.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// InsertBulk adds multiple bars. Fails entire batch on duplicate
// (symbol, timeframe, timestamp_ms).
func (s *BarStore) InsertBulk(ctx context.Context, symbol, timeframe string, bars []*domain.Bar) error {
	if symbol == "" || timeframe == "" {
		return storage.ErrInvalidInput
	}
	if len(bars) == 0 {
		return nil
	}

	// MergeTree does not enforce uniqueness; check before inserting.
	seen := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		if b == nil {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[b.TimestampMs]; dup {
			return storage.ErrDuplicateKey
		}
		seen[b.TimestampMs] = struct{}{}
	}

	minTs, maxTs := bars[0].TimestampMs, bars[0].TimestampMs
	for _, b := range bars[1:] {
		if b.TimestampMs < minTs {
			minTs = b.TimestampMs
		}
		if b.TimestampMs > maxTs {
			maxTs = b.TimestampMs
		}
	}

	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(*) FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, symbol, timeframe, minTs, maxTs).Scan(&count)
	if err != nil {
		return fmt.Errorf("check existing bars: %w", err)
	}
	if count > 0 {
		existing, err := s.existingTimestamps(ctx, symbol, timeframe, minTs, maxTs)
		if err != nil {
			return err
		}
		for _, b := range bars {
			if _, dup := existing[b.TimestampMs]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (symbol, timeframe, timestamp_ms, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		if err := batch.Append(symbol, timeframe, b.TimestampMs, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbolTimeframe retrieves all bars for a symbol/timeframe pair, ordered by timestamp ASC.
func (s *BarStore) GetBySymbolTimeframe(ctx context.Context, symbol, timeframe string) ([]*domain.Bar, error) {
	query := `
		SELECT timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, timeframe)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetByTimeRange retrieves bars for a symbol/timeframe within [start, end] (inclusive).
func (s *BarStore) GetByTimeRange(ctx context.Context, symbol, timeframe string, start, end int64) ([]*domain.Bar, error) {
	query := `
		SELECT timestamp_ms, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// existingTimestamps loads the stored timestamps overlapping [minTs, maxTs].
func (s *BarStore) existingTimestamps(ctx context.Context, symbol, timeframe string, minTs, maxTs int64) (map[int64]struct{}, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT timestamp_ms FROM bars
		WHERE symbol = ? AND timeframe = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
	`, symbol, timeframe, minTs, maxTs)
	if err != nil {
		return nil, fmt.Errorf("query existing timestamps: %w", err)
	}
	defer rows.Close()

	existing := make(map[int64]struct{})
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		existing[ts] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timestamps: %w", err)
	}

	return existing, nil
}

// chRows is the subset of driver.Rows used for scanning.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanBars scans multiple rows into a slice of Bar.
func scanBars(rows chRows) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.TimestampMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		bars = append(bars, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}

	return bars, nil
}
