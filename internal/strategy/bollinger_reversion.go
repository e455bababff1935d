package strategy

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"crypto-backtest-lab/internal/domain"
)

// BollingerReversion enters when the close crosses below the lower
// Bollinger band and exits when it crosses above the upper band.
type BollingerReversion struct {
	Window int
	StdDev float64
}

// NewBollingerReversion creates a new BollingerReversion.
// Requires window >= 1 and stdDev > 0.
func NewBollingerReversion(window int, stdDev float64) (*BollingerReversion, error) {
	if window < 1 {
		return nil, ErrWindowTooSmall
	}
	if stdDev <= 0 {
		return nil, ErrStdDevInvalid
	}

	return &BollingerReversion{
		Window: window,
		StdDev: stdDev,
	}, nil
}

// ID returns the strategy identifier including parameters.
func (s *BollingerReversion) ID() string {
	return fmt.Sprintf("%s_%d_%g", domain.StrategyTypeBollingerReversion, s.Window, s.StdDev)
}

// GenerateSignals computes the bands over closing prices and emits
// band-crossing signals. Bars before the window warmup hold.
func (s *BollingerReversion) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	signals := holdSignals(len(bars))
	if len(bars) <= s.Window {
		return signals, nil
	}

	closes := closePrices(bars)
	upperVals, _, lowerVals := indicators.BBANDS(closes, s.Window, s.StdDev, s.StdDev, indicators.Sma)

	upper := newIndicatorSeries(upperVals, len(bars), s.Window-1)
	lower := newIndicatorSeries(lowerVals, len(bars), s.Window-1)

	for i := s.Window; i < len(bars); i++ {
		curUpper, ok := upper.at(i)
		if !ok {
			continue
		}
		curLower, ok := lower.at(i)
		if !ok {
			continue
		}
		prevUpper, ok := upper.at(i - 1)
		if !ok {
			continue
		}
		prevLower, ok := lower.at(i - 1)
		if !ok {
			continue
		}

		cur, prev := closes[i], closes[i-1]
		switch {
		case crossedBelow(prev, prevLower, cur, curLower):
			signals[i] = domain.SignalEnter
		case crossedAbove(prev, prevUpper, cur, curUpper):
			signals[i] = domain.SignalExit
		}
	}

	return signals, nil
}

// Ensure BollingerReversion implements Strategy
var _ Strategy = (*BollingerReversion)(nil)
