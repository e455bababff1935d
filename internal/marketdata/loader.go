package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/observability"
	"crypto-backtest-lab/internal/storage"
)

// Loader configuration errors.
var (
	ErrInvalidWindow    = errors.New("invalid time window: start must not exceed end")
	ErrUnknownTimeframe = errors.New("unknown timeframe")
)

// Loader populates the bar store from the exchange API, with a local
// CSV cache in front of the network. Lookup order: cache, then fetch.
type Loader struct {
	fetcher  Fetcher
	cache    *Cache
	barStore storage.BarStore
	metrics  *observability.Metrics
}

// LoaderOption configures Loader.
type LoaderOption func(*Loader)

// WithCache sets the local bar cache.
func WithCache(cache *Cache) LoaderOption {
	return func(l *Loader) {
		l.cache = cache
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *observability.Metrics) LoaderOption {
	return func(l *Loader) {
		l.metrics = m
	}
}

// NewLoader creates a new Loader. Cache and metrics are optional.
func NewLoader(fetcher Fetcher, barStore storage.BarStore, opts ...LoaderOption) *Loader {
	l := &Loader{
		fetcher:  fetcher,
		barStore: barStore,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load fetches bars for the window and stores them. Bars already in the
// store are left untouched; re-loading the same window is a no-op.
// Returns the bars covering the window, ordered by timestamp ASC.
func (l *Loader) Load(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, error) {
	if startMs > endMs {
		return nil, fmt.Errorf("%w: start=%d end=%d", ErrInvalidWindow, startMs, endMs)
	}
	if domain.TimeframeDurationMs(timeframe) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeframe, timeframe)
	}

	bars, err := l.lookup(ctx, symbol, timeframe, startMs, endMs)
	if err != nil {
		return nil, err
	}

	if err := l.store(ctx, symbol, timeframe, bars); err != nil {
		return nil, err
	}

	return bars, nil
}

// lookup returns bars for the window from the cache, or fetches and
// caches them on a miss.
func (l *Loader) lookup(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, error) {
	if l.cache != nil {
		bars, ok, err := l.cache.Get(symbol, timeframe, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("cache lookup: %w", err)
		}
		if ok {
			if l.metrics != nil {
				l.metrics.CacheHits.Inc()
			}
			return bars, nil
		}
		if l.metrics != nil {
			l.metrics.CacheMisses.Inc()
		}
	}

	start := time.Now()
	bars, err := l.fetcher.FetchBars(ctx, symbol, timeframe, startMs, endMs)
	if err != nil {
		if l.metrics != nil {
			l.metrics.FetchErrors.WithLabelValues("fetch").Inc()
		}
		return nil, fmt.Errorf("fetch bars %s/%s: %w", symbol, timeframe, err)
	}
	if l.metrics != nil {
		l.metrics.FetchLatency.Observe(time.Since(start).Seconds())
		l.metrics.BarsFetched.Add(float64(len(bars)))
		l.metrics.LastSuccessfulFetch.SetToCurrentTime()
	}

	if l.cache != nil {
		if err := l.cache.Put(symbol, timeframe, startMs, endMs, bars); err != nil {
			return nil, fmt.Errorf("cache store: %w", err)
		}
	}

	return bars, nil
}

// store inserts bars, tolerating series that are already present.
func (l *Loader) store(ctx context.Context, symbol, timeframe string, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	if err := l.barStore.InsertBulk(ctx, symbol, timeframe, bars); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil
		}
		return fmt.Errorf("store bars %s/%s: %w", symbol, timeframe, err)
	}

	if l.metrics != nil {
		l.metrics.BarsStored.Add(float64(len(bars)))
	}
	return nil
}
