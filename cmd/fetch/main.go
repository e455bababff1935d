// Package main provides the market data entry point. It backfills
// historical bars over REST or follows live kline streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/marketdata"
	"crypto-backtest-lab/internal/observability"
	"crypto-backtest-lab/internal/storage"
	chstore "crypto-backtest-lab/internal/storage/clickhouse"
	"crypto-backtest-lab/internal/storage/memory"
	"crypto-backtest-lab/internal/storage/migrations"
)

func main() {
	// Parse flags
	mode := flag.String("mode", "backfill", "Fetch mode: backfill or stream")
	apiEndpoint := flag.String("api-endpoint", "", "Exchange REST endpoint")
	wsEndpoint := flag.String("ws-endpoint", "", "Exchange WebSocket endpoint")
	symbols := flag.String("symbols", "", "Comma-separated trading pairs, e.g. BTC/USDT,ETH/USDT")
	timeframe := flag.String("timeframe", "1h", "Bar timeframe: 1m, 5m, 1h, 4h, 1d")
	fromTime := flag.String("from-time", "", "Backfill start (RFC3339)")
	toTime := flag.String("to-time", "", "Backfill end (RFC3339, defaults to now)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	cacheDir := flag.String("cache-dir", "", "Local CSV cache directory")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage (dry run)")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[fetch] ", log.LstdFlags|log.Lshortfile)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	// Resolve symbols
	symbolList := splitSymbols(*symbols)
	if len(symbolList) == 0 {
		logger.Fatal("No symbols specified. Use --symbols")
	}
	if domain.TimeframeDurationMs(*timeframe) == 0 {
		logger.Fatalf("Invalid timeframe: %s", *timeframe)
	}
	logger.Printf("Symbols: %v timeframe: %s", symbolList, *timeframe)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	// Create bar store
	var barStore storage.BarStore = memory.NewBarStore()
	if !*useMemory {
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required (use --use-memory for a dry run)")
		}
		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		barStore = chstore.NewBarStore(conn)
	}

	// Run based on mode
	var err error
	switch *mode {
	case "backfill":
		err = runBackfill(ctx, logger, barStore, *apiEndpoint, *cacheDir, symbolList, *timeframe, *fromTime, *toTime)
	case "stream":
		err = runStream(ctx, logger, barStore, *wsEndpoint, symbolList, *timeframe)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// splitSymbols parses the comma-separated symbol list.
func splitSymbols(symbols string) []string {
	var list []string
	for _, s := range strings.Split(symbols, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			list = append(list, s)
		}
	}
	return list
}

// runBackfill fetches historical bars for every symbol.
func runBackfill(ctx context.Context, logger *log.Logger, barStore storage.BarStore, apiEndpoint, cacheDir string, symbols []string, timeframe, fromTimeStr, toTimeStr string) error {
	if apiEndpoint == "" {
		return fmt.Errorf("--api-endpoint is required for backfill mode")
	}
	if fromTimeStr == "" {
		return fmt.Errorf("--from-time is required for backfill mode")
	}

	from, err := time.Parse(time.RFC3339, fromTimeStr)
	if err != nil {
		return fmt.Errorf("parse from-time: %w", err)
	}

	to := time.Now().UTC()
	if toTimeStr != "" {
		to, err = time.Parse(time.RFC3339, toTimeStr)
		if err != nil {
			return fmt.Errorf("parse to-time: %w", err)
		}
	}

	opts := []marketdata.LoaderOption{
		marketdata.WithMetrics(observability.DefaultMetrics),
	}
	if cacheDir != "" {
		cache, err := marketdata.NewCache(cacheDir)
		if err != nil {
			return fmt.Errorf("open bar cache: %w", err)
		}
		opts = append(opts, marketdata.WithCache(cache))
	}

	loader := marketdata.NewLoader(marketdata.NewHTTPClient(apiEndpoint), barStore, opts...)

	logger.Printf("Backfilling %s to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))

	for _, symbol := range symbols {
		bars, err := loader.Load(ctx, symbol, timeframe, from.UnixMilli(), to.UnixMilli())
		if err != nil {
			return fmt.Errorf("backfill %s: %w", symbol, err)
		}
		logger.Printf("  %s: %d bars", symbol, len(bars))
	}

	return nil
}

// runStream follows live kline streams and stores closed bars.
func runStream(ctx context.Context, logger *log.Logger, barStore storage.BarStore, wsEndpoint string, symbols []string, timeframe string) error {
	if wsEndpoint == "" {
		return fmt.Errorf("--ws-endpoint is required for stream mode")
	}

	// One stream per symbol; the exchange deduplicates subscriptions on
	// a shared connection
	streams := make([]*marketdata.KlineStream, 0, len(symbols))
	for _, symbol := range symbols {
		stream, err := marketdata.NewKlineStream(ctx, wsEndpoint, symbol, timeframe, nil, observability.DefaultMetrics)
		if err != nil {
			return fmt.Errorf("open stream %s: %w", symbol, err)
		}
		defer stream.Close()
		streams = append(streams, stream)

		go storeStreamBars(ctx, logger, barStore, stream, symbol, timeframe)
	}

	logger.Printf("Streaming %d symbols...", len(streams))
	<-ctx.Done()
	return ctx.Err()
}

// storeStreamBars persists closed bars from one stream.
func storeStreamBars(ctx context.Context, logger *log.Logger, barStore storage.BarStore, stream *marketdata.KlineStream, symbol, timeframe string) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-stream.Bars():
			if !ok {
				return
			}
			if err := barStore.InsertBulk(ctx, symbol, timeframe, []*domain.Bar{bar}); err != nil {
				if errors.Is(err, storage.ErrDuplicateKey) {
					continue
				}
				logger.Printf("store bar %s %d: %v", symbol, bar.TimestampMs, err)
				continue
			}
			logger.Printf("  %s %s close=%.4f", symbol,
				time.UnixMilli(bar.TimestampMs).UTC().Format(time.RFC3339), bar.Close)
		}
	}
}
