package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Strategy Comparison Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Strategies: %d | Symbols: %d | Timeframes: %d\n\n",
		r.StrategyCount, r.SymbolCount, r.TimeframeCount))

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Runs | %d |\n", r.DataSummary.TotalRuns))
	sb.WriteString(fmt.Sprintf("| Total Trades | %d |\n", r.DataSummary.TotalTrades))
	sb.WriteString(fmt.Sprintf("| Total Bars | %d |\n", r.DataSummary.TotalBars))
	sb.WriteString(fmt.Sprintf("| Date Range Start (ms) | %d |\n", r.DataSummary.DateRangeStart))
	sb.WriteString(fmt.Sprintf("| Date Range End (ms) | %d |\n", r.DataSummary.DateRangeEnd))
	sb.WriteString("\n")

	// Strategy Metrics
	sb.WriteString("## Strategy Metrics\n\n")
	if len(r.StrategyMetrics) > 0 {
		sb.WriteString("| Strategy | Symbol | Timeframe | Trades | WinRate | Mean | Median | Stddev | TotalReturn | MaxDD | MaxLoss |\n")
		sb.WriteString("|----------|--------|-----------|--------|---------|------|--------|--------|-------------|-------|--------|\n")
		for _, m := range r.StrategyMetrics {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %.4f | %.4f | %.4f | %.4f | %.4f | %.4f | %d |\n",
				m.StrategyID, m.Symbol, m.Timeframe,
				m.TotalTrades, m.WinRate, m.ReturnMean, m.ReturnMedian, m.ReturnStddev,
				m.TotalReturnPct, m.MaxDrawdown, m.MaxConsecutiveLosses))
		}
	} else {
		sb.WriteString("No strategy metrics available.\n")
	}
	sb.WriteString("\n")

	// Rankings
	sb.WriteString("## Rankings\n\n")
	if len(r.Rankings) > 0 {
		sb.WriteString("| Symbol | Timeframe | Rank | Strategy | TotalReturn | WinRate | MaxDD |\n")
		sb.WriteString("|--------|-----------|------|----------|-------------|---------|-------|\n")
		for _, rk := range r.Rankings {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %s | %.4f | %.4f | %.4f |\n",
				rk.Symbol, rk.Timeframe, rk.Rank, rk.StrategyID,
				rk.TotalReturnPct, rk.WinRate, rk.MaxDrawdown))
		}
	} else {
		sb.WriteString("No rankings available.\n")
	}
	sb.WriteString("\n")

	// Run Index
	sb.WriteString("## Run Index\n\n")
	if len(r.RunIndex) > 0 {
		sb.WriteString("| Run | Strategy | Symbol | Timeframe | Bars | Trades |\n")
		sb.WriteString("|-----|----------|--------|-----------|------|--------|\n")
		for _, run := range r.RunIndex {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d |\n",
				run.RunID, run.StrategyID, run.Symbol, run.Timeframe,
				run.BarCount, run.NumTrades))
		}
	} else {
		sb.WriteString("No runs available.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}
