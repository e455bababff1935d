package domain

// StrategyAggregate represents per-strategy aggregate metrics across runs.
// Corresponds to the strategy_aggregates table.
type StrategyAggregate struct {
	StrategyID string // strategy identifier
	Symbol     string // trading pair the trades belong to
	Timeframe  string // bar timeframe

	// Counts
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64 // wins / total_trades

	// Return distribution
	ReturnMean   float64
	ReturnMedian float64
	ReturnMin    float64
	ReturnMax    float64
	ReturnStddev float64

	// Path-dependent
	TotalReturnPct       float64 // compounded across trades in entry order
	MaxDrawdown          float64 // worst peak-to-trough
	MaxConsecutiveLosses int
}

// BacktestRun records one completed engine run and its report.
// Corresponds to the backtest_runs table.
type BacktestRun struct {
	RunID      string // deterministic hash
	Symbol     string
	Timeframe  string
	StrategyID string

	StartTimeMs int64 // first bar timestamp (ms)
	EndTimeMs   int64 // last bar timestamp (ms)
	BarCount    int

	CommissionRate float64
	FillPolicy     string

	Report PerformanceReport
}
