package strategy

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"crypto-backtest-lab/internal/domain"
)

// SMACrossover emits enter on the bar where the fast simple moving
// average crosses from strictly below to at-or-above the slow one, exit
// on the symmetric downward crossover, and hold otherwise. Bars without
// enough history for both averages always hold.
type SMACrossover struct {
	FastWindow int
	SlowWindow int
}

// NewSMACrossover creates a new SMACrossover.
// Requires 1 <= fastWindow < slowWindow.
func NewSMACrossover(fastWindow, slowWindow int) (*SMACrossover, error) {
	if fastWindow < 1 || slowWindow < 1 {
		return nil, ErrWindowTooSmall
	}
	if fastWindow >= slowWindow {
		return nil, ErrWindowOrder
	}

	return &SMACrossover{
		FastWindow: fastWindow,
		SlowWindow: slowWindow,
	}, nil
}

// ID returns the strategy identifier including parameters.
func (s *SMACrossover) ID() string {
	return fmt.Sprintf("%s_%d_%d", domain.StrategyTypeSMACross, s.FastWindow, s.SlowWindow)
}

// GenerateSignals computes both averages over closing prices and emits
// crossover signals. The first SlowWindow-1 bars, where the slow average
// is undefined, hold; the first decidable bar is index SlowWindow because
// the previous bar's averages must be defined too.
func (s *SMACrossover) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	if len(bars) <= s.SlowWindow {
		return holdSignals(len(bars)), nil
	}

	closes := closePrices(bars)
	fast := newIndicatorSeries(indicators.SMA(closes, s.FastWindow), len(bars), s.FastWindow-1)
	slow := newIndicatorSeries(indicators.SMA(closes, s.SlowWindow), len(bars), s.SlowWindow-1)

	return crossoverSignals(fast, slow, len(bars)), nil
}

// Ensure SMACrossover implements Strategy
var _ Strategy = (*SMACrossover)(nil)
