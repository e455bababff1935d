package metrics

import (
	"math"
	"sort"

	"crypto-backtest-lab/internal/domain"
)

// BuildReport computes the performance summary from a completed trade
// list. Called exactly once per run, after the trade list is final;
// nothing here is updated incrementally during a simulation.
// Total return is the compounded product of (1+r) across trades minus
// one; summing the returns would overstate compounding and is avoided.
func BuildReport(trades []*domain.Trade, initialCapital float64) domain.PerformanceReport {
	report := domain.PerformanceReport{
		NumTrades:      len(trades),
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
	}
	if len(trades) == 0 {
		return report
	}

	wins := 0
	sum := 0.0
	compounded := 1.0
	peak := 1.0
	maxDrawdown := 0.0
	lossRun := 0
	maxLossRun := 0

	for _, t := range trades {
		if t.ReturnPct > 0 {
			wins++
			lossRun = 0
		} else {
			lossRun++
			if lossRun > maxLossRun {
				maxLossRun = lossRun
			}
		}

		sum += t.ReturnPct
		compounded *= 1 + t.ReturnPct

		if compounded > peak {
			peak = compounded
		}
		if dd := (peak - compounded) / peak; dd > maxDrawdown {
			maxDrawdown = dd
		}
	}

	n := float64(len(trades))
	report.TotalReturnPct = compounded - 1
	report.WinRate = float64(wins) / n
	report.AverageReturnPct = sum / n
	report.FinalCapital = initialCapital * compounded
	report.MaxDrawdown = maxDrawdown
	report.MaxConsecutiveLosses = maxLossRun

	return report
}

// computeFromTrades calculates aggregate metrics from a slice of trades.
// Trades are sorted by EntryTimeMs ASC, TradeID ASC before computing
// order-dependent metrics (TotalReturnPct, MaxDrawdown, loss streaks).
func computeFromTrades(trades []*domain.Trade) *domain.StrategyAggregate {
	n := len(trades)
	if n == 0 {
		return &domain.StrategyAggregate{}
	}

	sorted := make([]*domain.Trade, n)
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].EntryTimeMs != sorted[j].EntryTimeMs {
			return sorted[i].EntryTimeMs < sorted[j].EntryTimeMs
		}
		return sorted[i].TradeID < sorted[j].TradeID
	})

	returns := make([]float64, n)
	wins := 0
	for i, t := range sorted {
		returns[i] = t.ReturnPct
		if t.ReturnPct > 0 {
			wins++
		}
	}

	sortedReturns := make([]float64, n)
	copy(sortedReturns, returns)
	sort.Float64s(sortedReturns)

	mean := computeMean(returns)
	pathReport := BuildReport(sorted, 1)

	return &domain.StrategyAggregate{
		TotalTrades: n,
		Wins:        wins,
		Losses:      n - wins,
		WinRate:     float64(wins) / float64(n),

		ReturnMean:   mean,
		ReturnMedian: computePercentile(sortedReturns, 0.50),
		ReturnMin:    sortedReturns[0],
		ReturnMax:    sortedReturns[n-1],
		ReturnStddev: computeStddev(returns, mean),

		TotalReturnPct:       pathReport.TotalReturnPct,
		MaxDrawdown:          pathReport.MaxDrawdown,
		MaxConsecutiveLosses: pathReport.MaxConsecutiveLosses,
	}
}

// computeMean calculates the arithmetic mean of returns.
func computeMean(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	return sum / float64(len(returns))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(returns []float64, mean float64) float64 {
	n := len(returns)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, r := range returns {
		d := r - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile returns the linearly interpolated percentile of a
// pre-sorted slice. p in [0, 1].
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p * float64(n-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
