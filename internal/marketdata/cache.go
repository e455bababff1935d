package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crypto-backtest-lab/internal/domain"
)

// csvHeader is the column layout of cache files.
var csvHeader = []string{"timestamp_ms", "open", "high", "low", "close", "volume"}

// Cache is a filesystem CSV cache of fetched bar windows. One file per
// (symbol, timeframe, start, end) request; a file is only written after
// a complete fetch, so presence implies completeness.
type Cache struct {
	dir string
}

// NewCache creates the cache directory if needed.
func NewCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// cachePath builds the file name for one request window.
func (c *Cache) cachePath(symbol, timeframe string, startMs, endMs int64) string {
	safeSymbol := strings.ReplaceAll(symbol, "/", "-")
	name := fmt.Sprintf("%s_%s_%d_%d.csv", safeSymbol, timeframe, startMs, endMs)
	return filepath.Join(c.dir, name)
}

// Get returns the cached bars for a window, or ok=false on a miss.
func (c *Cache) Get(symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, bool, error) {
	path := c.cachePath(symbol, timeframe, startMs, endMs)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open cache file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, false, fmt.Errorf("read cache file %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, false, fmt.Errorf("cache file %s: missing header", path)
	}

	bars := make([]*domain.Bar, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(csvHeader) {
			return nil, false, fmt.Errorf("cache file %s row %d: expected %d fields, got %d", path, i+1, len(csvHeader), len(rec))
		}

		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("cache file %s row %d: parse timestamp: %w", path, i+1, err)
		}

		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, false, fmt.Errorf("cache file %s row %d: parse %s: %w", path, i+1, csvHeader[j], err)
			}
			vals[j-1] = v
		}

		bars = append(bars, &domain.Bar{
			TimestampMs: ts,
			Open:        vals[0],
			High:        vals[1],
			Low:         vals[2],
			Close:       vals[3],
			Volume:      vals[4],
		})
	}

	return bars, true, nil
}

// Put writes bars for a window. The write goes through a temp file and
// rename so readers never observe a partial cache entry.
func (c *Cache) Put(symbol, timeframe string, startMs, endMs int64, bars []*domain.Bar) error {
	path := c.cachePath(symbol, timeframe, startMs, endMs)

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	writer := csv.NewWriter(tmp)
	if err := writer.Write(csvHeader); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache header: %w", err)
	}

	for _, b := range bars {
		rec := []string{
			strconv.FormatInt(b.TimestampMs, 10),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := writer.Write(rec); err != nil {
			tmp.Close()
			return fmt.Errorf("write cache row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename cache file: %w", err)
	}

	return nil
}
