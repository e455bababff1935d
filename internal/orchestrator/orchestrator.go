// Package orchestrator sweeps strategy configurations across markets.
// It coordinates: backtest runs → metrics aggregation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"crypto-backtest-lab/internal/backtest"
	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/metrics"
	"crypto-backtest-lab/internal/storage"
)

// DefaultConcurrency bounds parallel backtest runs.
const DefaultConcurrency = 4

// Market identifies one bar series to sweep.
type Market struct {
	Symbol    string
	Timeframe string
}

// Orchestrator runs every (strategy, market) combination and computes
// aggregates from the persisted trades.
type Orchestrator struct {
	runner     *backtest.Runner
	aggregator *metrics.Aggregator

	markets         []Market
	strategyConfigs []domain.StrategyConfig

	// Optional time window applied to every run
	startTimeMs int64
	endTimeMs   int64

	concurrency int
	verbose     bool
}

// Options for creating Orchestrator.
type Options struct {
	Runner     *backtest.Runner
	Aggregator *metrics.Aggregator

	Markets         []Market
	StrategyConfigs []domain.StrategyConfig

	// Optional time window in milliseconds; zero values mean the full
	// stored series
	StartTimeMs int64
	EndTimeMs   int64

	// Concurrency bounds parallel runs; 0 means DefaultConcurrency
	Concurrency int
	Verbose     bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Orchestrator{
		runner:          opts.Runner,
		aggregator:      opts.Aggregator,
		markets:         opts.Markets,
		strategyConfigs: opts.StrategyConfigs,
		startTimeMs:     opts.StartTimeMs,
		endTimeMs:       opts.EndTimeMs,
		concurrency:     concurrency,
		verbose:         opts.Verbose,
	}
}

// RunResult contains results from one sweep.
type RunResult struct {
	RunsCompleted     int
	TradesCreated     int
	AggregatesCreated int
	Errors            []string
}

// aggregateKey identifies one aggregate to compute after the sweep.
type aggregateKey struct {
	StrategyID string
	Symbol     string
	Timeframe  string
}

// Run executes the full sweep.
// Phases:
//  1. Backtest every (strategy, market) combination
//  2. Aggregate metrics per (strategy, symbol, timeframe)
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	total := len(o.markets) * len(o.strategyConfigs)
	o.log("Phase 1: Running %d backtests (%d markets x %d strategies)...",
		total, len(o.markets), len(o.strategyConfigs))

	keys, runErrs := o.runBacktests(ctx, result)
	result.Errors = append(result.Errors, runErrs...)
	o.log("  Completed %d runs, %d trades (%d errors)",
		result.RunsCompleted, result.TradesCreated, len(runErrs))

	o.log("Phase 2: Computing aggregates...")
	aggsCreated, aggErrs := o.runAggregation(ctx, keys)
	result.AggregatesCreated = aggsCreated
	result.Errors = append(result.Errors, aggErrs...)
	o.log("  Created %d aggregates (%d errors)", aggsCreated, len(aggErrs))

	o.log("Sweep completed: %d runs, %d trades, %d aggregates",
		result.RunsCompleted, result.TradesCreated, result.AggregatesCreated)

	return result, nil
}

// runBacktests runs all combinations with bounded concurrency and
// returns the aggregate keys of the completed runs.
func (o *Orchestrator) runBacktests(ctx context.Context, result *RunResult) ([]aggregateKey, []string) {
	type runOutcome struct {
		key    aggregateKey
		trades int
		err    string
	}

	sem := make(chan struct{}, o.concurrency)
	outcomes := make(chan runOutcome, len(o.markets)*len(o.strategyConfigs))

	var wg sync.WaitGroup
	for _, market := range o.markets {
		for _, cfg := range o.strategyConfigs {
			wg.Add(1)
			go func(market Market, cfg domain.StrategyConfig) {
				defer wg.Done()

				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					outcomes <- runOutcome{err: fmt.Sprintf("run %s/%s: %v", market.Symbol, market.Timeframe, ctx.Err())}
					return
				}

				run, res, err := o.runner.Run(ctx, &backtest.RunRequest{
					Symbol:      market.Symbol,
					Timeframe:   market.Timeframe,
					Strategy:    cfg,
					StartTimeMs: o.startTimeMs,
					EndTimeMs:   o.endTimeMs,
				})
				if err != nil {
					// No data for this market is expected in sparse sweeps
					if errors.Is(err, backtest.ErrNoBars) {
						return
					}
					outcomes <- runOutcome{err: fmt.Sprintf("run %s/%s/%s: %v",
						cfg.StrategyType, market.Symbol, market.Timeframe, err)}
					return
				}

				outcomes <- runOutcome{
					key: aggregateKey{
						StrategyID: run.StrategyID,
						Symbol:     run.Symbol,
						Timeframe:  run.Timeframe,
					},
					trades: len(res.Trades),
				}
			}(market, cfg)
		}
	}

	wg.Wait()
	close(outcomes)

	seen := make(map[aggregateKey]struct{})
	var keys []aggregateKey
	var errs []string

	for out := range outcomes {
		if out.err != "" {
			errs = append(errs, out.err)
			continue
		}
		result.RunsCompleted++
		result.TradesCreated += out.trades
		if _, ok := seen[out.key]; !ok {
			seen[out.key] = struct{}{}
			keys = append(keys, out.key)
		}
	}

	// Stable order for aggregation and error reporting
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].StrategyID != keys[j].StrategyID {
			return keys[i].StrategyID < keys[j].StrategyID
		}
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})
	sort.Strings(errs)

	return keys, errs
}

// runAggregation computes aggregates for all completed run keys.
func (o *Orchestrator) runAggregation(ctx context.Context, keys []aggregateKey) (int, []string) {
	var aggsCreated int
	var errs []string

	for _, k := range keys {
		_, err := o.aggregator.ComputeAndStore(ctx, k.StrategyID, k.Symbol, k.Timeframe)
		if err != nil {
			// Skip duplicate key errors (already aggregated)
			if errors.Is(err, storage.ErrDuplicateKey) {
				continue
			}
			// Skip no trades (strategy never triggered)
			if errors.Is(err, metrics.ErrNoTrades) {
				continue
			}
			errs = append(errs, fmt.Sprintf("aggregate %s/%s/%s: %v",
				k.StrategyID, k.Symbol, k.Timeframe, err))
			continue
		}
		aggsCreated++
	}

	return aggsCreated, errs
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
