package reporting

import (
	"context"
	"sort"
	"time"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/storage"
)

// Generator produces reports from stored runs and aggregates.
type Generator struct {
	runStore       storage.RunStore
	aggregateStore storage.AggregateStore
	now            func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(runStore storage.RunStore, aggregateStore storage.AggregateStore) *Generator {
	return &Generator{
		runStore:       runStore,
		aggregateStore: aggregateStore,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a complete strategy comparison report.
func (g *Generator) Generate(ctx context.Context) (*Report, error) {
	aggs, err := g.aggregateStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	runs, err := g.runStore.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	// Count unique strategies, symbols and timeframes
	strategySet := make(map[string]struct{})
	symbolSet := make(map[string]struct{})
	timeframeSet := make(map[string]struct{})
	for _, agg := range aggs {
		strategySet[agg.StrategyID] = struct{}{}
		symbolSet[agg.Symbol] = struct{}{}
		timeframeSet[agg.Timeframe] = struct{}{}
	}

	return &Report{
		GeneratedAt:     g.now(),
		StrategyCount:   len(strategySet),
		SymbolCount:     len(symbolSet),
		TimeframeCount:  len(timeframeSet),
		DataSummary:     generateDataSummary(runs),
		StrategyMetrics: generateStrategyMetrics(aggs),
		Rankings:        generateRankings(aggs),
		RunIndex:        generateRunIndex(runs),
	}, nil
}

// generateDataSummary computes the data summary from stored runs.
func generateDataSummary(runs []*domain.BacktestRun) DataSummary {
	summary := DataSummary{}

	for i, run := range runs {
		summary.TotalRuns++
		summary.TotalTrades += run.Report.NumTrades
		summary.TotalBars += run.BarCount

		if i == 0 || run.StartTimeMs < summary.DateRangeStart {
			summary.DateRangeStart = run.StartTimeMs
		}
		if run.EndTimeMs > summary.DateRangeEnd {
			summary.DateRangeEnd = run.EndTimeMs
		}
	}

	return summary
}

// generateStrategyMetrics builds sorted metric rows from aggregates.
func generateStrategyMetrics(aggs []*domain.StrategyAggregate) []StrategyMetricRow {
	rows := make([]StrategyMetricRow, len(aggs))
	for i, agg := range aggs {
		rows[i] = StrategyMetricRow{
			StrategyID:           agg.StrategyID,
			Symbol:               agg.Symbol,
			Timeframe:            agg.Timeframe,
			TotalTrades:          agg.TotalTrades,
			Wins:                 agg.Wins,
			Losses:               agg.Losses,
			WinRate:              agg.WinRate,
			ReturnMean:           agg.ReturnMean,
			ReturnMedian:         agg.ReturnMedian,
			ReturnMin:            agg.ReturnMin,
			ReturnMax:            agg.ReturnMax,
			ReturnStddev:         agg.ReturnStddev,
			TotalReturnPct:       agg.TotalReturnPct,
			MaxDrawdown:          agg.MaxDrawdown,
			MaxConsecutiveLosses: agg.MaxConsecutiveLosses,
		}
	}

	// Sort by (strategy_id, symbol, timeframe)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StrategyID != rows[j].StrategyID {
			return rows[i].StrategyID < rows[j].StrategyID
		}
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		return rows[i].Timeframe < rows[j].Timeframe
	})

	return rows
}

// generateRankings ranks strategies within each (symbol, timeframe)
// market by compounded return.
func generateRankings(aggs []*domain.StrategyAggregate) []RankingRow {
	type marketKey struct {
		Symbol    string
		Timeframe string
	}
	groups := make(map[marketKey][]*domain.StrategyAggregate)
	for _, agg := range aggs {
		k := marketKey{Symbol: agg.Symbol, Timeframe: agg.Timeframe}
		groups[k] = append(groups[k], agg)
	}

	var rows []RankingRow
	for k, group := range groups {
		// Best return first; strategy_id breaks ties deterministically
		sort.Slice(group, func(i, j int) bool {
			if group[i].TotalReturnPct != group[j].TotalReturnPct {
				return group[i].TotalReturnPct > group[j].TotalReturnPct
			}
			return group[i].StrategyID < group[j].StrategyID
		})

		for rank, agg := range group {
			rows = append(rows, RankingRow{
				Symbol:         k.Symbol,
				Timeframe:      k.Timeframe,
				Rank:           rank + 1,
				StrategyID:     agg.StrategyID,
				TotalReturnPct: agg.TotalReturnPct,
				WinRate:        agg.WinRate,
				MaxDrawdown:    agg.MaxDrawdown,
			})
		}
	}

	// Sort by (symbol, timeframe, rank)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		if rows[i].Timeframe != rows[j].Timeframe {
			return rows[i].Timeframe < rows[j].Timeframe
		}
		return rows[i].Rank < rows[j].Rank
	})

	return rows
}

// generateRunIndex lists stored runs sorted for stable output.
func generateRunIndex(runs []*domain.BacktestRun) []RunIndexRow {
	rows := make([]RunIndexRow, len(runs))
	for i, run := range runs {
		rows[i] = RunIndexRow{
			RunID:      run.RunID,
			StrategyID: run.StrategyID,
			Symbol:     run.Symbol,
			Timeframe:  run.Timeframe,
			BarCount:   run.BarCount,
			NumTrades:  run.Report.NumTrades,
		}
	}

	// Sort by (strategy_id, symbol, timeframe, run_id)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StrategyID != rows[j].StrategyID {
			return rows[i].StrategyID < rows[j].StrategyID
		}
		if rows[i].Symbol != rows[j].Symbol {
			return rows[i].Symbol < rows[j].Symbol
		}
		if rows[i].Timeframe != rows[j].Timeframe {
			return rows[i].Timeframe < rows[j].Timeframe
		}
		return rows[i].RunID < rows[j].RunID
	})

	return rows
}
