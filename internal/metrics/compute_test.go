package metrics

import (
	"math"
	"testing"

	"crypto-backtest-lab/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func tradesWithReturns(returns ...float64) []*domain.Trade {
	trades := make([]*domain.Trade, len(returns))
	for i, r := range returns {
		trades[i] = &domain.Trade{
			TradeID:     string(rune('a' + i)),
			EntryTimeMs: int64(i+1) * 1000,
			ReturnPct:   r,
		}
	}
	return trades
}

func TestBuildReport_Empty(t *testing.T) {
	report := BuildReport(nil, 10_000)

	if report.NumTrades != 0 {
		t.Errorf("NumTrades = %d, want 0", report.NumTrades)
	}
	if report.WinRate != 0 {
		t.Errorf("WinRate = %f, want 0", report.WinRate)
	}
	if report.TotalReturnPct != 0 {
		t.Errorf("TotalReturnPct = %f, want 0", report.TotalReturnPct)
	}
	if report.FinalCapital != 10_000 {
		t.Errorf("FinalCapital = %f, want initial capital", report.FinalCapital)
	}
}

func TestBuildReport_CompoundsNotSums(t *testing.T) {
	// +10% then -10% is a net loss, not break-even
	report := BuildReport(tradesWithReturns(0.1, -0.1), 10_000)

	want := 1.1*0.9 - 1
	if !almostEqual(report.TotalReturnPct, want) {
		t.Errorf("TotalReturnPct = %f, want compounded %f", report.TotalReturnPct, want)
	}
	if report.TotalReturnPct >= 0 {
		t.Error("Symmetric gain/loss must compound to a net loss")
	}
	if !almostEqual(report.FinalCapital, 10_000*1.1*0.9) {
		t.Errorf("FinalCapital = %f", report.FinalCapital)
	}
}

func TestBuildReport_WinRate(t *testing.T) {
	report := BuildReport(tradesWithReturns(0.1, -0.05, 0.2, -0.01), 1000)

	if !almostEqual(report.WinRate, 0.5) {
		t.Errorf("WinRate = %f, want 0.5", report.WinRate)
	}
	if report.WinRate < 0 || report.WinRate > 1 {
		t.Errorf("WinRate out of bounds: %f", report.WinRate)
	}
}

func TestBuildReport_ZeroReturnIsNotWin(t *testing.T) {
	report := BuildReport(tradesWithReturns(0, 0.1), 1000)

	if !almostEqual(report.WinRate, 0.5) {
		t.Errorf("Zero return must not count as a win: WinRate = %f", report.WinRate)
	}
}

func TestBuildReport_AverageReturn(t *testing.T) {
	report := BuildReport(tradesWithReturns(0.1, 0.2, -0.3), 1000)

	if !almostEqual(report.AverageReturnPct, 0.0) {
		t.Errorf("AverageReturnPct = %f, want 0", report.AverageReturnPct)
	}
}

func TestBuildReport_MaxDrawdown(t *testing.T) {
	// Equity path: 1.0 -> 1.5 -> 0.75 -> 0.9. Peak 1.5, trough 0.75.
	report := BuildReport(tradesWithReturns(0.5, -0.5, 0.2), 1000)

	if !almostEqual(report.MaxDrawdown, 0.5) {
		t.Errorf("MaxDrawdown = %f, want 0.5", report.MaxDrawdown)
	}
}

func TestBuildReport_MaxConsecutiveLosses(t *testing.T) {
	report := BuildReport(tradesWithReturns(0.1, -0.1, -0.1, -0.1, 0.2, -0.1), 1000)

	if report.MaxConsecutiveLosses != 3 {
		t.Errorf("MaxConsecutiveLosses = %d, want 3", report.MaxConsecutiveLosses)
	}
}

func TestComputeFromTrades_SortsBeforePathMetrics(t *testing.T) {
	// Same trades in two orders must yield identical aggregates
	a := tradesWithReturns(0.5, -0.5, 0.2)
	b := []*domain.Trade{a[2], a[0], a[1]}

	aggA := computeFromTrades(a)
	aggB := computeFromTrades(b)

	if !almostEqual(aggA.MaxDrawdown, aggB.MaxDrawdown) {
		t.Errorf("MaxDrawdown order-dependent: %f vs %f", aggA.MaxDrawdown, aggB.MaxDrawdown)
	}
	if !almostEqual(aggA.TotalReturnPct, aggB.TotalReturnPct) {
		t.Errorf("TotalReturnPct order-dependent: %f vs %f", aggA.TotalReturnPct, aggB.TotalReturnPct)
	}
	if aggA.MaxConsecutiveLosses != aggB.MaxConsecutiveLosses {
		t.Errorf("MaxConsecutiveLosses order-dependent: %d vs %d", aggA.MaxConsecutiveLosses, aggB.MaxConsecutiveLosses)
	}
}

func TestComputeFromTrades_Distribution(t *testing.T) {
	agg := computeFromTrades(tradesWithReturns(-0.2, 0.1, 0.3, 0.4))

	if agg.TotalTrades != 4 || agg.Wins != 3 || agg.Losses != 1 {
		t.Errorf("Counts wrong: total %d wins %d losses %d", agg.TotalTrades, agg.Wins, agg.Losses)
	}
	if !almostEqual(agg.ReturnMin, -0.2) || !almostEqual(agg.ReturnMax, 0.4) {
		t.Errorf("Min/max wrong: %f / %f", agg.ReturnMin, agg.ReturnMax)
	}
	if !almostEqual(agg.ReturnMean, 0.15) {
		t.Errorf("Mean = %f, want 0.15", agg.ReturnMean)
	}
	if !almostEqual(agg.ReturnMedian, 0.2) {
		t.Errorf("Median = %f, want 0.2", agg.ReturnMedian)
	}
}

func TestComputeStddev(t *testing.T) {
	vals := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	mean := computeMean(vals)

	got := computeStddev(vals, mean)
	want := math.Sqrt(32.0 / 7.0) // sample variance, n-1

	if !almostEqual(got, want) {
		t.Errorf("Stddev = %f, want %f", got, want)
	}

	if computeStddev([]float64{1}, 1) != 0 {
		t.Error("Single value must have zero stddev")
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	if got := computePercentile(sorted, 0.5); !almostEqual(got, 2.5) {
		t.Errorf("Median = %f, want 2.5", got)
	}
	if got := computePercentile(sorted, 0); !almostEqual(got, 1) {
		t.Errorf("P0 = %f, want 1", got)
	}
	if got := computePercentile(sorted, 1); !almostEqual(got, 4) {
		t.Errorf("P100 = %f, want 4", got)
	}
	if got := computePercentile([]float64{7}, 0.5); !almostEqual(got, 7) {
		t.Errorf("Single element percentile = %f, want 7", got)
	}
}
