package domain

// Bar represents one OHLCV observation for a fixed time interval.
// Corresponds to one row in the bars table.
type Bar struct {
	TimestampMs int64   // interval open time, Unix milliseconds
	Open        float64 // open price
	High        float64 // high price
	Low         float64 // low price
	Close       float64 // close price
	Volume      float64 // base asset volume, non-negative
}

// Supported bar timeframes.
const (
	Timeframe1Min  = "1m"
	Timeframe5Min  = "5m"
	Timeframe1Hour = "1h"
	Timeframe4Hour = "4h"
	Timeframe1Day  = "1d"
)

// TimeframeDurationMs returns the bar interval in milliseconds,
// or 0 for an unknown timeframe.
func TimeframeDurationMs(timeframe string) int64 {
	switch timeframe {
	case Timeframe1Min:
		return 60_000
	case Timeframe5Min:
		return 300_000
	case Timeframe1Hour:
		return 3_600_000
	case Timeframe4Hour:
		return 14_400_000
	case Timeframe1Day:
		return 86_400_000
	default:
		return 0
	}
}
