package reporting

import "time"

// Report is the strategy comparison report built from stored runs
// and aggregates.
type Report struct {
	// Metadata
	GeneratedAt    time.Time
	StrategyCount  int
	SymbolCount    int
	TimeframeCount int

	// Data Summary
	DataSummary DataSummary

	// Strategy Metrics (sorted by strategy_id, symbol, timeframe)
	StrategyMetrics []StrategyMetricRow

	// Rankings per (symbol, timeframe), best compounded return first
	Rankings []RankingRow

	// Run Index (run_id per strategy/symbol/timeframe)
	RunIndex []RunIndexRow
}

// DataSummary describes the data the report covers.
type DataSummary struct {
	TotalRuns      int
	TotalTrades    int
	TotalBars      int
	DateRangeStart int64 // Unix ms, earliest bar across runs
	DateRangeEnd   int64 // Unix ms, latest bar across runs
}

// StrategyMetricRow is one row in the strategy metrics table.
type StrategyMetricRow struct {
	StrategyID string
	Symbol     string
	Timeframe  string

	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64

	ReturnMean   float64
	ReturnMedian float64
	ReturnMin    float64
	ReturnMax    float64
	ReturnStddev float64

	TotalReturnPct       float64
	MaxDrawdown          float64
	MaxConsecutiveLosses int
}

// RankingRow ranks strategies within one (symbol, timeframe) market.
type RankingRow struct {
	Symbol    string
	Timeframe string
	Rank      int // 1 = best TotalReturnPct

	StrategyID     string
	TotalReturnPct float64
	WinRate        float64
	MaxDrawdown    float64
}

// RunIndexRow lists stored run identifiers.
type RunIndexRow struct {
	RunID      string
	StrategyID string
	Symbol     string
	Timeframe  string
	BarCount   int
	NumTrades  int
}
