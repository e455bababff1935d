package strategy

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"crypto-backtest-lab/internal/domain"
)

// RSIReversion is an oscillator mean-reversion rule: enter when the
// relative strength index crosses upward through the oversold threshold,
// exit when it crosses downward through the overbought threshold.
type RSIReversion struct {
	Window     int
	Oversold   float64
	Overbought float64
}

// NewRSIReversion creates a new RSIReversion.
// Requires window >= 1 and 0 < oversold < overbought < 100.
func NewRSIReversion(window int, oversold, overbought float64) (*RSIReversion, error) {
	if window < 1 {
		return nil, ErrWindowTooSmall
	}
	if oversold >= overbought {
		return nil, ErrThresholdOrder
	}
	if oversold <= 0 || overbought >= 100 {
		return nil, ErrThresholdRange
	}

	return &RSIReversion{
		Window:     window,
		Oversold:   oversold,
		Overbought: overbought,
	}, nil
}

// ID returns the strategy identifier including parameters.
func (s *RSIReversion) ID() string {
	return fmt.Sprintf("%s_%d_%g_%g", domain.StrategyTypeRSIReversion, s.Window, s.Oversold, s.Overbought)
}

// GenerateSignals computes the oscillator over closing prices and emits
// threshold-crossing signals. The oscillator needs Window+1 prices, so
// bars 0..Window hold and crossings are evaluated from Window+1.
func (s *RSIReversion) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	signals := holdSignals(len(bars))
	if len(bars) <= s.Window+1 {
		return signals, nil
	}

	closes := closePrices(bars)
	rsi := newIndicatorSeries(indicators.RSI(closes, s.Window), len(bars), s.Window)

	for i := s.Window + 1; i < len(bars); i++ {
		cur, ok := rsi.at(i)
		if !ok {
			continue
		}
		prev, ok := rsi.at(i - 1)
		if !ok {
			continue
		}

		switch {
		case crossedAbove(prev, s.Oversold, cur, s.Oversold):
			signals[i] = domain.SignalEnter
		case crossedBelow(prev, s.Overbought, cur, s.Overbought):
			signals[i] = domain.SignalExit
		}
	}

	return signals, nil
}

// Ensure RSIReversion implements Strategy
var _ Strategy = (*RSIReversion)(nil)
