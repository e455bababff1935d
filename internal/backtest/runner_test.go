package backtest

import (
	"context"
	"errors"
	"testing"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage/memory"
	"crypto-backtest-lab/internal/strategy"
)

func intPtr(v int) *int { return &v }

func seedBars(t *testing.T, store *memory.BarStore, symbol, timeframe string, closes []float64) {
	t.Helper()
	if err := store.InsertBulk(context.Background(), symbol, timeframe, makeBars(closes)); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
}

func TestRunner_EndToEnd(t *testing.T) {
	ctx := context.Background()

	barStore := memory.NewBarStore()
	tradeStore := memory.NewTradeStore()
	runStore := memory.NewRunStore()
	seedBars(t, barStore, "BTC/USDT", "1m", []float64{10, 11, 9, 8, 12, 15})

	engine, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	runner := NewRunner(engine, barStore, tradeStore, runStore)

	run, result, err := runner.Run(ctx, &RunRequest{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		Strategy: domain.StrategyConfig{
			StrategyType: domain.StrategyTypeSMACross,
			FastWindow:   intPtr(1),
			SlowWindow:   intPtr(2),
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.BarCount != 6 {
		t.Errorf("Expected 6 bars in run, got %d", run.BarCount)
	}
	if run.StrategyID != "SMA_CROSS_1_2" {
		t.Errorf("Unexpected strategy ID: %s", run.StrategyID)
	}
	if len(result.Trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(result.Trades))
	}

	// Trades are persisted and queryable by strategy
	stored, err := tradeStore.GetByStrategy(ctx, run.StrategyID, "BTC/USDT", "1m")
	if err != nil {
		t.Fatalf("GetByStrategy failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("Expected 1 persisted trade, got %d", len(stored))
	}
	if !almostEqual(stored[0].ReturnPct, 0.25) {
		t.Errorf("Persisted return mismatch: got %f", stored[0].ReturnPct)
	}

	// Run record is persisted
	storedRun, err := runStore.GetByID(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !almostEqual(storedRun.Report.TotalReturnPct, 0.25) {
		t.Errorf("Persisted report mismatch: got %f", storedRun.Report.TotalReturnPct)
	}
}

func TestRunner_Idempotent(t *testing.T) {
	ctx := context.Background()

	barStore := memory.NewBarStore()
	tradeStore := memory.NewTradeStore()
	runStore := memory.NewRunStore()
	seedBars(t, barStore, "BTC/USDT", "1m", []float64{10, 11, 9, 8, 12, 15})

	engine, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	runner := NewRunner(engine, barStore, tradeStore, runStore)

	req := &RunRequest{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		Strategy: domain.StrategyConfig{
			StrategyType: domain.StrategyTypeSMACross,
			FastWindow:   intPtr(1),
			SlowWindow:   intPtr(2),
		},
	}

	first, _, err := runner.Run(ctx, req)
	if err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	second, _, err := runner.Run(ctx, req)
	if err != nil {
		t.Fatalf("Repeat run must tolerate existing records: %v", err)
	}

	if first.RunID != second.RunID {
		t.Errorf("Identical requests must produce identical run IDs: %s vs %s", first.RunID, second.RunID)
	}

	// Still exactly one stored trade
	stored, _ := tradeStore.GetBySymbol(ctx, "BTC/USDT")
	if len(stored) != 1 {
		t.Errorf("Expected 1 stored trade after re-run, got %d", len(stored))
	}
}

func TestRunner_NoBars(t *testing.T) {
	ctx := context.Background()

	engine, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	runner := NewRunner(engine, memory.NewBarStore(), memory.NewTradeStore(), memory.NewRunStore())

	_, _, err = runner.Run(ctx, &RunRequest{
		Symbol:    "BTC/USDT",
		Timeframe: "1h",
		Strategy: domain.StrategyConfig{
			StrategyType: domain.StrategyTypeSMACross,
			FastWindow:   intPtr(10),
			SlowWindow:   intPtr(30),
		},
	})
	if !errors.Is(err, ErrNoBars) {
		t.Errorf("Expected ErrNoBars, got %v", err)
	}
}

func TestRunner_InvalidStrategyConfig(t *testing.T) {
	ctx := context.Background()

	barStore := memory.NewBarStore()
	seedBars(t, barStore, "BTC/USDT", "1h", []float64{10, 11, 12})

	engine, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	runner := NewRunner(engine, barStore, memory.NewTradeStore(), memory.NewRunStore())

	_, _, err = runner.Run(ctx, &RunRequest{
		Symbol:    "BTC/USDT",
		Timeframe: "1h",
		Strategy: domain.StrategyConfig{
			StrategyType: domain.StrategyTypeSMACross,
			FastWindow:   intPtr(30),
			SlowWindow:   intPtr(10),
		},
	})
	if !errors.Is(err, strategy.ErrWindowOrder) {
		t.Errorf("Expected ErrWindowOrder, got %v", err)
	}
}

func TestRunner_TimeWindow(t *testing.T) {
	ctx := context.Background()

	barStore := memory.NewBarStore()
	seedBars(t, barStore, "BTC/USDT", "1m", []float64{10, 11, 9, 8, 12, 15})

	engine, err := NewEngine(Options{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	runner := NewRunner(engine, barStore, memory.NewTradeStore(), memory.NewRunStore())

	// Bars are seeded at 60s intervals starting at 60000; restrict to the
	// first four.
	run, _, err := runner.Run(ctx, &RunRequest{
		Symbol:    "BTC/USDT",
		Timeframe: "1m",
		Strategy: domain.StrategyConfig{
			StrategyType: domain.StrategyTypeBuyAndHold,
		},
		StartTimeMs: 60_000,
		EndTimeMs:   240_000,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if run.BarCount != 4 {
		t.Errorf("Expected 4 bars in window, got %d", run.BarCount)
	}
	if run.StartTimeMs != 60_000 || run.EndTimeMs != 240_000 {
		t.Errorf("Run window mismatch: [%d, %d]", run.StartTimeMs, run.EndTimeMs)
	}
}
