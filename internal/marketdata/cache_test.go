package marketdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crypto-backtest-lab/internal/domain"
)

func cacheBars() []*domain.Bar {
	return []*domain.Bar{
		{TimestampMs: 60_000, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 12},
		{TimestampMs: 120_000, Open: 100.5, High: 102.25, Low: 100, Close: 101, Volume: 8.5},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	bars := cacheBars()
	if err := cache.Put("BTC/USDT", "1m", 60_000, 120_000, bars); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := cache.Get("BTC/USDT", "1m", 60_000, 120_000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != len(bars) {
		t.Fatalf("expected %d bars, got %d", len(bars), len(got))
	}
	for i := range bars {
		if *got[i] != *bars[i] {
			t.Errorf("bar %d: expected %+v, got %+v", i, *bars[i], *got[i])
		}
	}
}

func TestCache_Miss(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	_, ok, err := cache.Get("BTC/USDT", "1m", 60_000, 120_000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss")
	}
}

func TestCache_KeyIncludesWindow(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := cache.Put("BTC/USDT", "1m", 60_000, 120_000, cacheBars()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Different window, symbol, or timeframe are all misses
	cases := []struct {
		symbol, timeframe string
		start, end        int64
	}{
		{"BTC/USDT", "1m", 60_000, 180_000},
		{"ETH/USDT", "1m", 60_000, 120_000},
		{"BTC/USDT", "5m", 60_000, 120_000},
	}
	for _, c := range cases {
		_, ok, err := cache.Get(c.symbol, c.timeframe, c.start, c.end)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Errorf("expected miss for %s/%s %d-%d", c.symbol, c.timeframe, c.start, c.end)
		}
	}
}

func TestCache_EmptyWindow(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := cache.Put("BTC/USDT", "1m", 60_000, 120_000, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := cache.Get("BTC/USDT", "1m", 60_000, 120_000)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected hit for cached empty window")
	}
	if len(got) != 0 {
		t.Errorf("expected no bars, got %d", len(got))
	}
}

func TestCache_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	if err := cache.Put("BTC/USDT", "1m", 60_000, 120_000, cacheBars()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("expected 1 cache file, got %d", len(entries))
	}
}

func TestCache_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewCache(dir)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	path := cache.cachePath("BTC/USDT", "1m", 60_000, 120_000)
	header := strings.Join(csvHeader, ",")
	if err := os.WriteFile(path, []byte(header+"\n60000,not-a-number,1,1,1,1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, _, err = cache.Get("BTC/USDT", "1m", 60_000, 120_000)
	if err == nil {
		t.Fatal("expected error for corrupt cache file")
	}
}

func TestCache_PathSafeSymbol(t *testing.T) {
	cache, err := NewCache(t.TempDir())
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	path := cache.cachePath("BTC/USDT", "1h", 0, 1)
	if strings.Contains(filepath.Base(path), "/") {
		t.Errorf("cache file name contains a path separator: %s", path)
	}
}
