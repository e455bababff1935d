package strategy

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"crypto-backtest-lab/internal/domain"
)

// MACDCrossover enters when the MACD line crosses above its signal line
// and exits on the downward cross.
type MACDCrossover struct {
	FastWindow   int
	SlowWindow   int
	SignalWindow int
}

// NewMACDCrossover creates a new MACDCrossover.
// Requires 1 <= fastWindow < slowWindow and signalWindow >= 1.
func NewMACDCrossover(fastWindow, slowWindow, signalWindow int) (*MACDCrossover, error) {
	if fastWindow < 1 || slowWindow < 1 || signalWindow < 1 {
		return nil, ErrWindowTooSmall
	}
	if fastWindow >= slowWindow {
		return nil, ErrWindowOrder
	}

	return &MACDCrossover{
		FastWindow:   fastWindow,
		SlowWindow:   slowWindow,
		SignalWindow: signalWindow,
	}, nil
}

// ID returns the strategy identifier including parameters.
func (s *MACDCrossover) ID() string {
	return fmt.Sprintf("%s_%d_%d_%d", domain.StrategyTypeMACDCross, s.FastWindow, s.SlowWindow, s.SignalWindow)
}

// GenerateSignals computes MACD and signal lines over closing prices and
// emits crossover signals. Both lines are defined from bar
// SlowWindow+SignalWindow-2 onward; earlier bars hold.
func (s *MACDCrossover) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	warmup := s.SlowWindow + s.SignalWindow - 2
	if len(bars) <= warmup+1 {
		return holdSignals(len(bars)), nil
	}

	closes := closePrices(bars)
	macdVals, signalVals, _ := indicators.MACD(closes, s.FastWindow, s.SlowWindow, s.SignalWindow)

	macdLine := newIndicatorSeries(macdVals, len(bars), warmup)
	signalLine := newIndicatorSeries(signalVals, len(bars), warmup)

	return crossoverSignals(macdLine, signalLine, len(bars)), nil
}

// Ensure MACDCrossover implements Strategy
var _ Strategy = (*MACDCrossover)(nil)
