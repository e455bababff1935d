package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"crypto-backtest-lab/internal/backtest"
	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/marketdata"
	"crypto-backtest-lab/internal/storage"
	chstore "crypto-backtest-lab/internal/storage/clickhouse"
	"crypto-backtest-lab/internal/storage/memory"
	"crypto-backtest-lab/internal/storage/migrations"
	pgstore "crypto-backtest-lab/internal/storage/postgres"
)

func main() {
	// Parse flags
	symbol := flag.String("symbol", "", "Trading pair, e.g. BTC/USDT (required)")
	timeframe := flag.String("timeframe", "1h", "Bar timeframe: 1m, 5m, 1h, 4h, 1d")
	strategyType := flag.String("strategy", "", "Strategy: SMA_CROSS, EMA_CROSS, RSI_REVERSION, MACD_CROSS, BOLLINGER_REVERSION, BUY_AND_HOLD (required)")
	fromTime := flag.String("from-time", "", "Window start (RFC3339, optional)")
	toTime := flag.String("to-time", "", "Window end (RFC3339, optional)")

	// Strategy parameters
	fastWindow := flag.Int("fast-window", 10, "Fast window for SMA_CROSS/EMA_CROSS")
	slowWindow := flag.Int("slow-window", 30, "Slow window for SMA_CROSS/EMA_CROSS")
	rsiWindow := flag.Int("rsi-window", 14, "Window for RSI_REVERSION")
	oversold := flag.Float64("oversold", 30, "Oversold threshold for RSI_REVERSION")
	overbought := flag.Float64("overbought", 70, "Overbought threshold for RSI_REVERSION")
	macdFast := flag.Int("macd-fast", 12, "Fast EMA for MACD_CROSS")
	macdSlow := flag.Int("macd-slow", 26, "Slow EMA for MACD_CROSS")
	macdSignal := flag.Int("macd-signal", 9, "Signal EMA for MACD_CROSS")
	bollWindow := flag.Int("bollinger-window", 20, "Window for BOLLINGER_REVERSION")
	bollStdDev := flag.Float64("bollinger-stddev", 2, "Band width in stddevs for BOLLINGER_REVERSION")

	// Engine parameters
	initialCapital := flag.Float64("initial-capital", backtest.DefaultInitialCapital, "Starting capital")
	commission := flag.Float64("commission", 0, "Commission rate per fill, e.g. 0.001")
	fillPolicy := flag.String("fill-policy", "CLOSE", "Fill policy: CLOSE or NEXT_OPEN")

	// Storage and data
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (trades, runs)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (bars)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage")
	apiEndpoint := flag.String("api-endpoint", "", "Exchange REST endpoint to fetch missing bars from")
	cacheDir := flag.String("cache-dir", "", "Local CSV cache directory for fetched bars")

	// Output
	outputJSON := flag.Bool("json", false, "Output as JSON")
	persistResult := flag.Bool("persist", false, "Persist trades and the run record")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stderr, "[backtest] ", log.LstdFlags)

	// Validate required flags
	if *symbol == "" {
		logger.Fatal("--symbol is required")
	}
	if *strategyType == "" {
		logger.Fatal("--strategy is required")
	}
	if domain.TimeframeDurationMs(*timeframe) == 0 {
		logger.Fatalf("Invalid timeframe: %s", *timeframe)
	}
	if *useMemory && *apiEndpoint == "" {
		logger.Fatal("--use-memory needs --api-endpoint to source bars")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create stores
	var barStore storage.BarStore = memory.NewBarStore()
	var tradeStore storage.TradeStore = memory.NewTradeStore()
	var runStore storage.RunStore = memory.NewRunStore()

	if !*useMemory {
		if *clickhouseDSN == "" {
			logger.Fatal("--clickhouse-dsn is required when not using --use-memory (bars)")
		}

		conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("connect to clickhouse: %v", err)
		}
		defer conn.Close()
		barStore = chstore.NewBarStore(conn)

		if *persistResult {
			if *postgresDSN == "" {
				logger.Fatal("--postgres-dsn is required with --persist (trades, runs)")
			}
			pool, err := pgstore.NewPool(ctx, *postgresDSN)
			if err != nil {
				logger.Fatalf("connect to postgres: %v", err)
			}
			defer pool.Close()
			if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
				logger.Fatalf("apply postgres migrations: %v", err)
			}
			tradeStore = pgstore.NewTradeStore(pool)
			runStore = pgstore.NewRunStore(pool)
		}
	}

	// Parse the optional time window
	startMs, endMs, err := parseWindow(*fromTime, *toTime)
	if err != nil {
		logger.Fatalf("parse time window: %v", err)
	}

	// Fetch bars into the store when an API endpoint is configured
	if *apiEndpoint != "" {
		if startMs == 0 || endMs == 0 {
			logger.Fatal("--from-time and --to-time are required with --api-endpoint")
		}

		opts := []marketdata.LoaderOption{}
		if *cacheDir != "" {
			cache, err := marketdata.NewCache(*cacheDir)
			if err != nil {
				logger.Fatalf("open bar cache: %v", err)
			}
			opts = append(opts, marketdata.WithCache(cache))
		}

		loader := marketdata.NewLoader(marketdata.NewHTTPClient(*apiEndpoint), barStore, opts...)
		bars, err := loader.Load(ctx, *symbol, *timeframe, startMs, endMs)
		if err != nil {
			logger.Fatalf("load bars: %v", err)
		}
		logger.Printf("Loaded %d bars for %s %s", len(bars), *symbol, *timeframe)
	}

	// Build strategy config
	strategyConfig := buildStrategyConfig(strategyParams{
		strategyType: strings.ToUpper(*strategyType),
		fastWindow:   *fastWindow,
		slowWindow:   *slowWindow,
		rsiWindow:    *rsiWindow,
		oversold:     *oversold,
		overbought:   *overbought,
		macdFast:     *macdFast,
		macdSlow:     *macdSlow,
		macdSignal:   *macdSignal,
		bollWindow:   *bollWindow,
		bollStdDev:   *bollStdDev,
	})

	// Create engine and runner
	engine, err := backtest.NewEngine(backtest.Options{
		InitialCapital: *initialCapital,
		CommissionRate: *commission,
		FillPolicy:     backtest.FillPolicy(strings.ToUpper(*fillPolicy)),
	})
	if err != nil {
		logger.Fatalf("configure engine: %v", err)
	}

	var persistTradeStore storage.TradeStore
	var persistRunStore storage.RunStore
	if *persistResult {
		persistTradeStore = tradeStore
		persistRunStore = runStore
	}

	runner := backtest.NewRunner(engine, barStore, persistTradeStore, persistRunStore)

	// Run backtest
	logger.Printf("Running backtest: symbol=%s timeframe=%s strategy=%s",
		*symbol, *timeframe, strategyConfig.StrategyType)

	run, result, err := runner.Run(ctx, &backtest.RunRequest{
		Symbol:      *symbol,
		Timeframe:   *timeframe,
		Strategy:    strategyConfig,
		StartTimeMs: startMs,
		EndTimeMs:   endMs,
	})
	if err != nil {
		logger.Fatalf("backtest failed: %v", err)
	}

	// Output result
	if *outputJSON {
		output, _ := json.MarshalIndent(struct {
			Run    *domain.BacktestRun `json:"run"`
			Trades []*domain.Trade     `json:"trades"`
		}{run, result.Trades}, "", "  ")
		fmt.Println(string(output))
	} else {
		printRun(run, result)
	}
}

// strategyParams carries the strategy flag values.
type strategyParams struct {
	strategyType string
	fastWindow   int
	slowWindow   int
	rsiWindow    int
	oversold     float64
	overbought   float64
	macdFast     int
	macdSlow     int
	macdSignal   int
	bollWindow   int
	bollStdDev   float64
}

// buildStrategyConfig creates a StrategyConfig from CLI flags.
func buildStrategyConfig(p strategyParams) domain.StrategyConfig {
	cfg := domain.StrategyConfig{StrategyType: p.strategyType}

	switch p.strategyType {
	case domain.StrategyTypeSMACross, domain.StrategyTypeEMACross:
		cfg.FastWindow = &p.fastWindow
		cfg.SlowWindow = &p.slowWindow
	case domain.StrategyTypeRSIReversion:
		cfg.Window = &p.rsiWindow
		cfg.Oversold = &p.oversold
		cfg.Overbought = &p.overbought
	case domain.StrategyTypeMACDCross:
		cfg.MACDFast = &p.macdFast
		cfg.MACDSlow = &p.macdSlow
		cfg.MACDSignal = &p.macdSignal
	case domain.StrategyTypeBollingerReversion:
		cfg.BollingerWindow = &p.bollWindow
		cfg.BollingerStdDev = &p.bollStdDev
	}

	return cfg
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

// printRun outputs a human-readable run summary.
func printRun(run *domain.BacktestRun, result *backtest.Result) {
	fmt.Println()
	fmt.Println("=== Backtest Result ===")
	fmt.Printf("Run ID:             %s\n", run.RunID)
	fmt.Printf("Strategy:           %s\n", run.StrategyID)
	fmt.Printf("Symbol:             %s %s\n", run.Symbol, run.Timeframe)
	fmt.Printf("Window:             %s - %s (%d bars)\n",
		time.UnixMilli(run.StartTimeMs).UTC().Format(time.RFC3339),
		time.UnixMilli(run.EndTimeMs).UTC().Format(time.RFC3339),
		run.BarCount)
	fmt.Printf("Fill Policy:        %s\n", run.FillPolicy)
	fmt.Printf("Commission:         %.4f%%\n", run.CommissionRate*100)
	fmt.Println()

	r := run.Report
	fmt.Println("Performance:")
	fmt.Printf("  Trades:           %d\n", r.NumTrades)
	fmt.Printf("  Win Rate:         %.2f%%\n", r.WinRate*100)
	fmt.Printf("  Total Return:     %.2f%%\n", r.TotalReturnPct*100)
	fmt.Printf("  Average Return:   %.2f%%\n", r.AverageReturnPct*100)
	fmt.Printf("  Max Drawdown:     %.2f%%\n", r.MaxDrawdown*100)
	fmt.Printf("  Max Consec Loss:  %d\n", r.MaxConsecutiveLosses)
	fmt.Printf("  Capital:          %.2f -> %.2f\n", r.InitialCapital, r.FinalCapital)

	if len(result.Trades) > 0 {
		fmt.Println()
		fmt.Println("Trades:")
		for _, t := range result.Trades {
			fmt.Printf("  %s -> %s  entry=%.4f exit=%.4f return=%+.2f%% (%s)\n",
				time.UnixMilli(t.EntryTimeMs).UTC().Format("2006-01-02 15:04"),
				time.UnixMilli(t.ExitTimeMs).UTC().Format("2006-01-02 15:04"),
				t.EntryPrice, t.ExitPrice, t.ReturnPct*100, t.ExitReason)
		}
	}
}
