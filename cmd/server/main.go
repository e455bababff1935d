// Package main provides the unified server that runs all components together:
// - Streaming (continuous): live kline ingestion into the bar store
// - Sweep (scheduled): backtests → metrics aggregation
// - Reporting (scheduled): REPORT.md, strategy_metrics.csv
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"crypto-backtest-lab/internal/backtest"
	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/marketdata"
	"crypto-backtest-lab/internal/metrics"
	"crypto-backtest-lab/internal/observability"
	"crypto-backtest-lab/internal/orchestrator"
	"crypto-backtest-lab/internal/reporting"
	"crypto-backtest-lab/internal/storage"
	chstore "crypto-backtest-lab/internal/storage/clickhouse"
	"crypto-backtest-lab/internal/storage/memory"
	"crypto-backtest-lab/internal/storage/migrations"
	pgstore "crypto-backtest-lab/internal/storage/postgres"
)

// Server holds all components of the unified service.
type Server struct {
	// Configuration
	wsEndpoint     string
	symbols        []string
	timeframe      string
	outputDir      string
	sweepInterval  time.Duration
	reportInterval time.Duration
	commission     float64
	fillPolicy     string
	concurrency    int

	// Stores
	stores *allStores

	// Components
	logger *log.Logger

	// State
	mu             sync.Mutex
	streamStarted  time.Time
	lastSweepRun   time.Time
	lastReportRun  time.Time
	sweepRunning   bool
	reportRunning  bool
	barsStored     int
	lastBarStored  time.Time

	// Stats
	sweepRuns  int
	reportRuns int
}

// allStores holds all storage implementations.
type allStores struct {
	barStore       storage.BarStore
	tradeStore     storage.TradeStore
	runStore       storage.RunStore
	aggregateStore storage.AggregateStore
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("EXCHANGE_WS_ENDPOINT"), "Exchange WebSocket endpoint")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	symbols := flag.String("symbols", "BTC/USDT,ETH/USDT", "Comma-separated trading pairs to stream")
	timeframe := flag.String("timeframe", "1m", "Bar timeframe to stream: 1m, 5m, 1h, 4h, 1d")
	outputDir := flag.String("output-dir", "output", "Output directory for reports")
	sweepInterval := flag.Duration("sweep-interval", 1*time.Hour, "Strategy sweep interval")
	reportInterval := flag.Duration("report-interval", 6*time.Hour, "Report generation interval")
	commission := flag.Float64("commission", 0.001, "Commission rate per fill")
	fillPolicy := flag.String("fill-policy", "CLOSE", "Fill policy: CLOSE or NEXT_OPEN")
	concurrency := flag.Int("concurrency", orchestrator.DefaultConcurrency, "Parallel backtest runs")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of databases")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *wsEndpoint == "" {
		logger.Fatal("--ws-endpoint is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	symbolList := splitSymbols(*symbols)
	if len(symbolList) == 0 {
		logger.Fatal("No symbols specified. Use --symbols")
	}
	if domain.TimeframeDurationMs(*timeframe) == 0 {
		logger.Fatalf("Invalid timeframe: %s", *timeframe)
	}
	logger.Printf("Streaming symbols: %v timeframe: %s", symbolList, *timeframe)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Create stores
	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// Create server
	server := &Server{
		wsEndpoint:     *wsEndpoint,
		symbols:        symbolList,
		timeframe:      *timeframe,
		outputDir:      *outputDir,
		sweepInterval:  *sweepInterval,
		reportInterval: *reportInterval,
		commission:     *commission,
		fillPolicy:     strings.ToUpper(*fillPolicy),
		concurrency:    *concurrency,
		stores:         stores,
		logger:         logger,
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
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

	// Start HTTP server
	go server.startHTTPServer(*metricsAddr)

	// Run the unified server
	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Server error: %v", err)
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

// createStores creates all required stores.
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

	// PostgreSQL (trades, runs)
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("apply postgres migrations: %w", err)
	}

	// ClickHouse (bars, aggregates)
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

// Run starts the unified server with all components.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Println("Starting unified server...")

	// Create error channel for goroutines
	errCh := make(chan error, 3)

	// Start streaming in background
	go func() {
		err := s.runStreaming(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("streaming: %w", err)
		}
	}()

	// Start sweep scheduler in background
	go func() {
		err := s.runSweepScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("sweep scheduler: %w", err)
		}
	}()

	// Start report scheduler in background
	go func() {
		err := s.runReportScheduler(ctx)
		if err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("report scheduler: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// runStreaming runs continuous kline ingestion.
func (s *Server) runStreaming(ctx context.Context) error {
	s.logger.Println("Starting kline streams...")

	var wg sync.WaitGroup
	for _, symbol := range s.symbols {
		stream, err := marketdata.NewKlineStream(ctx, s.wsEndpoint, symbol, s.timeframe, nil, observability.DefaultMetrics)
		if err != nil {
			return fmt.Errorf("open stream %s: %w", symbol, err)
		}
		defer stream.Close()

		wg.Add(1)
		go func(symbol string, stream *marketdata.KlineStream) {
			defer wg.Done()
			s.storeStreamBars(ctx, symbol, stream)
		}(symbol, stream)
	}

	s.mu.Lock()
	s.streamStarted = time.Now()
	s.mu.Unlock()

	s.logger.Printf("Streaming %d symbols", len(s.symbols))
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// storeStreamBars persists closed bars from one stream.
func (s *Server) storeStreamBars(ctx context.Context, symbol string, stream *marketdata.KlineStream) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-stream.Bars():
			if !ok {
				return
			}
			if err := s.stores.barStore.InsertBulk(ctx, symbol, s.timeframe, []*domain.Bar{bar}); err != nil {
				if !errors.Is(err, storage.ErrDuplicateKey) {
					s.logger.Printf("store bar %s %d: %v", symbol, bar.TimestampMs, err)
				}
				continue
			}
			s.mu.Lock()
			s.barsStored++
			s.lastBarStored = time.Now()
			s.mu.Unlock()
		}
	}
}

// runSweepScheduler runs the strategy sweep on schedule.
func (s *Server) runSweepScheduler(ctx context.Context) error {
	s.logger.Printf("Starting sweep scheduler (interval: %v)...", s.sweepInterval)

	// Run immediately on start
	s.runSweep(ctx)

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep executes one strategy sweep.
func (s *Server) runSweep(ctx context.Context) {
	s.mu.Lock()
	if s.sweepRunning {
		s.mu.Unlock()
		s.logger.Println("Sweep already running, skipping...")
		return
	}
	s.sweepRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweepRunning = false
		s.lastSweepRun = time.Now()
		s.sweepRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Running sweep...")
	start := time.Now()

	engine, err := backtest.NewEngine(backtest.Options{
		CommissionRate: s.commission,
		FillPolicy:     backtest.FillPolicy(s.fillPolicy),
	})
	if err != nil {
		s.logger.Printf("Sweep error: %v", err)
		return
	}

	markets := make([]orchestrator.Market, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		markets = append(markets, orchestrator.Market{Symbol: symbol, Timeframe: s.timeframe})
	}

	orch := orchestrator.New(orchestrator.Options{
		Runner:          backtest.NewRunner(engine, s.stores.barStore, s.stores.tradeStore, s.stores.runStore),
		Aggregator:      metrics.NewAggregator(s.stores.tradeStore, s.stores.aggregateStore),
		Markets:         markets,
		StrategyConfigs: createStrategyConfigs(),
		Concurrency:     s.concurrency,
		Verbose:         true,
	})

	result, err := orch.Run(ctx)
	if err != nil {
		s.logger.Printf("Sweep error: %v", err)
		observability.RecordBacktestRun("error", time.Since(start).Seconds())
		return
	}

	s.logger.Printf("Sweep completed in %v: %d runs, %d trades, %d aggregates (%d errors)",
		time.Since(start), result.RunsCompleted, result.TradesCreated, result.AggregatesCreated, len(result.Errors))
	for _, e := range result.Errors {
		s.logger.Printf("  sweep error: %s", e)
	}
}

// runReportScheduler runs report generation on schedule.
func (s *Server) runReportScheduler(ctx context.Context) error {
	s.logger.Printf("Starting report scheduler (interval: %v)...", s.reportInterval)

	// Wait for the first sweep before generating reports
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.sweepInterval + 1*time.Minute):
	}

	// Run immediately after first sweep
	s.runReport(ctx)

	ticker := time.NewTicker(s.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runReport(ctx)
		}
	}
}

// runReport generates reports.
func (s *Server) runReport(ctx context.Context) {
	s.mu.Lock()
	if s.reportRunning {
		s.mu.Unlock()
		s.logger.Println("Report generation already running, skipping...")
		return
	}
	// Wait for sweep to finish
	if s.sweepRunning {
		s.mu.Unlock()
		s.logger.Println("Sweep running, waiting before report generation...")
		time.Sleep(30 * time.Second)
		s.mu.Lock()
	}
	s.reportRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reportRunning = false
		s.lastReportRun = time.Now()
		s.reportRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Generating reports...")
	start := time.Now()

	// Ensure output directory exists
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		s.logger.Printf("Failed to create output directory: %v", err)
		return
	}

	report, err := reporting.NewGenerator(s.stores.runStore, s.stores.aggregateStore).Generate(ctx)
	if err != nil {
		s.logger.Printf("Report generation error: %v", err)
		return
	}

	mdPath := filepath.Join(s.outputDir, "REPORT.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0o644); err != nil {
		s.logger.Printf("Failed to write %s: %v", mdPath, err)
		return
	}

	csvPath := filepath.Join(s.outputDir, "strategy_metrics.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.StrategyMetrics)), 0o644); err != nil {
		s.logger.Printf("Failed to write %s: %v", csvPath, err)
		return
	}

	s.logger.Printf("Reports generated in %v to %s/", time.Since(start), s.outputDir)
}

// startHTTPServer starts the HTTP server for health/metrics/status.
func (s *Server) startHTTPServer(addr string) {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		s.logger.Printf("HTTP server error: %v", err)
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	StreamStarted time.Time `json:"stream_started"`
	BarsStored    int       `json:"bars_stored"`
	LastBarStored time.Time `json:"last_bar_stored,omitempty"`
	LastSweepRun  time.Time `json:"last_sweep_run,omitempty"`
	LastReportRun time.Time `json:"last_report_run,omitempty"`
	SweepRuns     int       `json:"sweep_runs"`
	ReportRuns    int       `json:"report_runs"`
	SweepRunning  bool      `json:"sweep_running"`
	ReportRunning bool      `json:"report_running"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.streamStarted).String(),
		StreamStarted: s.streamStarted,
		BarsStored:    s.barsStored,
		LastBarStored: s.lastBarStored,
		LastSweepRun:  s.lastSweepRun,
		LastReportRun: s.lastReportRun,
		SweepRuns:     s.sweepRuns,
		ReportRuns:    s.reportRuns,
		SweepRunning:  s.sweepRunning,
		ReportRunning: s.reportRunning,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// createStrategyConfigs returns the strategy grid to sweep.
func createStrategyConfigs() []domain.StrategyConfig {
	// SMA_CROSS / EMA_CROSS windows
	fastWindow, slowWindow := 10, 30

	// RSI_REVERSION parameters
	rsiWindow := 14
	oversold, overbought := 30.0, 70.0

	// MACD_CROSS parameters
	macdFast, macdSlow, macdSignal := 12, 26, 9

	// BOLLINGER_REVERSION parameters
	bollWindow := 20
	bollStdDev := 2.0

	return []domain.StrategyConfig{
		{StrategyType: domain.StrategyTypeSMACross, FastWindow: &fastWindow, SlowWindow: &slowWindow},
		{StrategyType: domain.StrategyTypeEMACross, FastWindow: &fastWindow, SlowWindow: &slowWindow},
		{StrategyType: domain.StrategyTypeRSIReversion, Window: &rsiWindow, Oversold: &oversold, Overbought: &overbought},
		{StrategyType: domain.StrategyTypeMACDCross, MACDFast: &macdFast, MACDSlow: &macdSlow, MACDSignal: &macdSignal},
		{StrategyType: domain.StrategyTypeBollingerReversion, BollingerWindow: &bollWindow, BollingerStdDev: &bollStdDev},
		{StrategyType: domain.StrategyTypeBuyAndHold},
	}
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
