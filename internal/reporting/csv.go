package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders strategy metric rows as CSV string.
func RenderCSV(metrics []StrategyMetricRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("strategy_id,symbol,timeframe,total_trades,wins,losses,win_rate,")
	sb.WriteString("return_mean,return_median,return_min,return_max,return_stddev,")
	sb.WriteString("total_return_pct,max_drawdown,max_consecutive_losses\n")

	// Rows
	for _, m := range metrics {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%d,%d,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%.6f,%d\n",
			m.StrategyID,
			m.Symbol,
			m.Timeframe,
			m.TotalTrades,
			m.Wins,
			m.Losses,
			m.WinRate,
			m.ReturnMean,
			m.ReturnMedian,
			m.ReturnMin,
			m.ReturnMax,
			m.ReturnStddev,
			m.TotalReturnPct,
			m.MaxDrawdown,
			m.MaxConsecutiveLosses,
		))
	}

	return sb.String()
}
