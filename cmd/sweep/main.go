// Package main provides the sweep entry point.
// Executes: backtests for every strategy/market combination → metrics
// aggregation → report files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"crypto-backtest-lab/internal/backtest"
	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/marketdata"
	"crypto-backtest-lab/internal/metrics"
	"crypto-backtest-lab/internal/orchestrator"
	"crypto-backtest-lab/internal/reporting"
	"crypto-backtest-lab/internal/storage"
	chstore "crypto-backtest-lab/internal/storage/clickhouse"
	"crypto-backtest-lab/internal/storage/memory"
	"crypto-backtest-lab/internal/storage/migrations"
	pgstore "crypto-backtest-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	symbols := flag.String("symbols", "BTC/USDT,ETH/USDT", "Comma-separated trading pairs")
	timeframes := flag.String("timeframes", "1h", "Comma-separated timeframes")
	fromTime := flag.String("from-time", "", "Window start (RFC3339, optional)")
	toTime := flag.String("to-time", "", "Window end (RFC3339, optional)")
	apiEndpoint := flag.String("api-endpoint", "", "Exchange REST endpoint to backfill bars before the sweep")
	cacheDir := flag.String("cache-dir", "", "Local CSV cache directory for fetched bars")
	commission := flag.Float64("commission", 0.001, "Commission rate per fill")
	fillPolicy := flag.String("fill-policy", "CLOSE", "Fill policy: CLOSE or NEXT_OPEN")
	concurrency := flag.Int("concurrency", orchestrator.DefaultConcurrency, "Parallel backtest runs")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (trades, runs)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (bars, aggregates)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	outputDir := flag.String("output-dir", "docs", "Output directory for generated files")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, cancelling sweep...\n", sig)
		cancel()
	}()

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating stores: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	// Resolve markets and window
	markets := buildMarkets(*symbols, *timeframes)
	if len(markets) == 0 {
		fmt.Fprintln(os.Stderr, "No markets specified")
		os.Exit(1)
	}

	startMs, endMs, err := parseWindow(*fromTime, *toTime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing time window: %v\n", err)
		os.Exit(1)
	}

	// Optional backfill before the sweep
	if *apiEndpoint != "" {
		if startMs == 0 || endMs == 0 {
			fmt.Fprintln(os.Stderr, "--from-time and --to-time are required with --api-endpoint")
			os.Exit(1)
		}
		if err := backfill(ctx, stores.barStore, *apiEndpoint, *cacheDir, markets, startMs, endMs); err != nil {
			fmt.Fprintf(os.Stderr, "Backfill error: %v\n", err)
			os.Exit(1)
		}
	}

	// Create engine, runner and aggregator
	engine, err := backtest.NewEngine(backtest.Options{
		CommissionRate: *commission,
		FillPolicy:     backtest.FillPolicy(strings.ToUpper(*fillPolicy)),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine error: %v\n", err)
		os.Exit(1)
	}

	runner := backtest.NewRunner(engine, stores.barStore, stores.tradeStore, stores.runStore)
	aggregator := metrics.NewAggregator(stores.tradeStore, stores.aggregateStore)

	// Run the sweep
	fmt.Println("=== Strategy Sweep ===")
	orch := orchestrator.New(orchestrator.Options{
		Runner:          runner,
		Aggregator:      aggregator,
		Markets:         markets,
		StrategyConfigs: createStrategyConfigs(),
		StartTimeMs:     startMs,
		EndTimeMs:       endMs,
		Concurrency:     *concurrency,
		Verbose:         *verbose,
	})

	result, err := orch.Run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sweep completed:\n")
	fmt.Printf("  Runs: %d\n", result.RunsCompleted)
	fmt.Printf("  Trades: %d\n", result.TradesCreated)
	fmt.Printf("  Aggregates: %d\n", result.AggregatesCreated)
	if len(result.Errors) > 0 {
		fmt.Printf("  Errors: %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("    - %s\n", e)
		}
	}

	// Generate reports
	fmt.Println("\n=== Reporting ===")
	if err := writeReports(ctx, stores, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "Reporting error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nSweep completed successfully:")
	fmt.Printf("  - %s/REPORT.md\n", *outputDir)
	fmt.Printf("  - %s/strategy_metrics.csv\n", *outputDir)
}

// allStores holds the stores the sweep needs.
type allStores struct {
	barStore       storage.BarStore
	tradeStore     storage.TradeStore
	runStore       storage.RunStore
	aggregateStore storage.AggregateStore
}

// createStores creates memory or database-backed stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*allStores, func(), error) {
	if useMemory {
		stores := &allStores{
			barStore:       memory.NewBarStore(),
			tradeStore:     memory.NewTradeStore(),
			runStore:       memory.NewRunStore(),
			aggregateStore: memory.NewAggregateStore(),
		}
		return stores, func() {}, nil
	}

	if postgresDSN == "" || clickhouseDSN == "" {
		return nil, nil, fmt.Errorf("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	// PostgreSQL for trades and runs
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	// ClickHouse for bars and aggregates
	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		barStore:       chstore.NewBarStore(conn),
		tradeStore:     pgstore.NewTradeStore(pool),
		runStore:       pgstore.NewRunStore(pool),
		aggregateStore: chstore.NewAggregateStore(conn),
	}

	cleanup := func() {
		conn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// buildMarkets expands the symbol and timeframe lists into markets.
func buildMarkets(symbols, timeframes string) []orchestrator.Market {
	var markets []orchestrator.Market
	for _, symbol := range strings.Split(symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		for _, tf := range strings.Split(timeframes, ",") {
			tf = strings.TrimSpace(tf)
			if tf == "" {
				continue
			}
			markets = append(markets, orchestrator.Market{Symbol: symbol, Timeframe: tf})
		}
	}
	return markets
}

// parseWindow converts optional RFC3339 bounds to milliseconds.
func parseWindow(fromStr, toStr string) (int64, int64, error) {
	var startMs, endMs int64

	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse from-time: %w", err)
		}
		startMs = t.UnixMilli()
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse to-time: %w", err)
		}
		endMs = t.UnixMilli()
	}

	return startMs, endMs, nil
}

// backfill loads bars for every market before the sweep.
func backfill(ctx context.Context, barStore storage.BarStore, apiEndpoint, cacheDir string, markets []orchestrator.Market, startMs, endMs int64) error {
	opts := []marketdata.LoaderOption{}
	if cacheDir != "" {
		cache, err := marketdata.NewCache(cacheDir)
		if err != nil {
			return fmt.Errorf("open bar cache: %w", err)
		}
		opts = append(opts, marketdata.WithCache(cache))
	}

	loader := marketdata.NewLoader(marketdata.NewHTTPClient(apiEndpoint), barStore, opts...)

	for _, m := range markets {
		bars, err := loader.Load(ctx, m.Symbol, m.Timeframe, startMs, endMs)
		if err != nil {
			return fmt.Errorf("backfill %s/%s: %w", m.Symbol, m.Timeframe, err)
		}
		fmt.Printf("Backfilled %s %s: %d bars\n", m.Symbol, m.Timeframe, len(bars))
	}

	return nil
}

// writeReports generates the markdown and CSV outputs.
func writeReports(ctx context.Context, stores *allStores, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	report, err := reporting.NewGenerator(stores.runStore, stores.aggregateStore).Generate(ctx)
	if err != nil {
		return fmt.Errorf("generate report: %w", err)
	}

	mdPath := filepath.Join(outputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", mdPath, err)
	}

	csvPath := filepath.Join(outputDir, "strategy_metrics.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.StrategyMetrics)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", csvPath, err)
	}

	return nil
}

// createStrategyConfigs returns the default strategy grid.
func createStrategyConfigs() []domain.StrategyConfig {
	// SMA_CROSS / EMA_CROSS windows
	fastShort, slowShort := 10, 30
	fastLong, slowLong := 20, 50

	// RSI_REVERSION parameters
	rsiWindow := 14
	oversold, overbought := 30.0, 70.0

	// MACD_CROSS parameters
	macdFast, macdSlow, macdSignal := 12, 26, 9

	// BOLLINGER_REVERSION parameters
	bollWindow := 20
	bollStdDev := 2.0

	return []domain.StrategyConfig{
		{StrategyType: domain.StrategyTypeSMACross, FastWindow: &fastShort, SlowWindow: &slowShort},
		{StrategyType: domain.StrategyTypeSMACross, FastWindow: &fastLong, SlowWindow: &slowLong},
		{StrategyType: domain.StrategyTypeEMACross, FastWindow: &fastShort, SlowWindow: &slowShort},
		{StrategyType: domain.StrategyTypeRSIReversion, Window: &rsiWindow, Oversold: &oversold, Overbought: &overbought},
		{StrategyType: domain.StrategyTypeMACDCross, MACDFast: &macdFast, MACDSlow: &macdSlow, MACDSignal: &macdSignal},
		{StrategyType: domain.StrategyTypeBollingerReversion, BollingerWindow: &bollWindow, BollingerStdDev: &bollStdDev},
		{StrategyType: domain.StrategyTypeBuyAndHold},
	}
}
