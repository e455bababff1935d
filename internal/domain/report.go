package domain

// PerformanceReport is the read-only summary of a single backtest run.
// Computed once from the final trade list, never updated incrementally.
type PerformanceReport struct {
	TotalReturnPct   float64 // compounded product of (1+r) across trades, minus 1
	NumTrades        int     // len(trade list)
	WinRate          float64 // trades with positive return / total, 0 when no trades
	AverageReturnPct float64 // arithmetic mean of trade returns

	InitialCapital       float64 // capital at the start of the run
	FinalCapital         float64 // initial capital compounded through all trades
	MaxDrawdown          float64 // worst peak-to-trough on the compounded equity path
	MaxConsecutiveLosses int     // longest run of non-positive trades
}
