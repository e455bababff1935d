package backtest

import (
	"context"
	"errors"
	"fmt"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/idhash"
	"crypto-backtest-lab/internal/storage"
	"crypto-backtest-lab/internal/strategy"
)

// ErrNoBars is returned when the bar store holds no data for the
// requested symbol/timeframe.
var ErrNoBars = errors.New("no bars available for symbol/timeframe")

// Runner loads bars, builds the strategy, runs the engine and persists
// the results. Trade and run stores may be nil when persistence is not
// wanted (e.g. ad-hoc CLI runs against the in-memory stores).
type Runner struct {
	barStore   storage.BarStore
	tradeStore storage.TradeStore
	runStore   storage.RunStore
	engine     *Engine
}

// NewRunner creates a runner around a configured engine.
func NewRunner(engine *Engine, barStore storage.BarStore, tradeStore storage.TradeStore, runStore storage.RunStore) *Runner {
	return &Runner{
		barStore:   barStore,
		tradeStore: tradeStore,
		runStore:   runStore,
		engine:     engine,
	}
}

// RunRequest describes one backtest over stored bars.
type RunRequest struct {
	Symbol    string
	Timeframe string
	Strategy  domain.StrategyConfig

	// Optional time window in milliseconds. Zero values mean the full
	// stored series.
	StartTimeMs int64
	EndTimeMs   int64
}

// Run executes one backtest end to end: load bars, generate signals,
// simulate, persist trades and the run record.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (*domain.BacktestRun, *Result, error) {
	strat, err := strategy.FromConfig(req.Strategy)
	if err != nil {
		return nil, nil, fmt.Errorf("build strategy: %w", err)
	}

	bars, err := r.loadBars(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if len(bars) == 0 {
		return nil, nil, ErrNoBars
	}

	signals, err := strat.GenerateSignals(ctx, bars)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signals: %w", err)
	}

	result, err := r.engine.Run(ctx, &Input{
		Symbol:     req.Symbol,
		Timeframe:  req.Timeframe,
		StrategyID: strat.ID(),
		Bars:       bars,
		Signals:    signals,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("simulate %s: %w", strat.ID(), err)
	}

	startMs := bars[0].TimestampMs
	endMs := bars[len(bars)-1].TimestampMs

	run := &domain.BacktestRun{
		RunID:          idhash.ComputeRunID(req.Symbol, req.Timeframe, strat.ID(), startMs, endMs),
		Symbol:         req.Symbol,
		Timeframe:      req.Timeframe,
		StrategyID:     strat.ID(),
		StartTimeMs:    startMs,
		EndTimeMs:      endMs,
		BarCount:       len(bars),
		CommissionRate: r.engine.commissionRate,
		FillPolicy:     string(r.engine.fillPolicy),
		Report:         result.Report,
	}

	if err := r.persist(ctx, run, result); err != nil {
		return nil, nil, err
	}

	return run, result, nil
}

// loadBars reads the requested series from the bar store.
func (r *Runner) loadBars(ctx context.Context, req *RunRequest) ([]*domain.Bar, error) {
	if req.StartTimeMs == 0 && req.EndTimeMs == 0 {
		bars, err := r.barStore.GetBySymbolTimeframe(ctx, req.Symbol, req.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("load bars %s %s: %w", req.Symbol, req.Timeframe, err)
		}
		return bars, nil
	}

	bars, err := r.barStore.GetByTimeRange(ctx, req.Symbol, req.Timeframe, req.StartTimeMs, req.EndTimeMs)
	if err != nil {
		return nil, fmt.Errorf("load bars %s %s [%d, %d]: %w", req.Symbol, req.Timeframe, req.StartTimeMs, req.EndTimeMs, err)
	}
	return bars, nil
}

// persist writes trades and the run record. Duplicate keys are
// tolerated so re-running an identical backtest is idempotent.
func (r *Runner) persist(ctx context.Context, run *domain.BacktestRun, result *Result) error {
	if r.tradeStore != nil && len(result.Trades) > 0 {
		if err := r.tradeStore.InsertBulk(ctx, result.Trades); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("persist trades: %w", err)
		}
	}

	if r.runStore != nil {
		if err := r.runStore.Insert(ctx, run); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("persist run: %w", err)
		}
	}

	return nil
}
