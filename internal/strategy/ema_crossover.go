package strategy

import (
	"context"
	"fmt"

	"github.com/thrasher-corp/gct-ta/indicators"

	"crypto-backtest-lab/internal/domain"
)

// EMACrossover is the exponential variant of SMACrossover: enter on the
// upward fast/slow cross, exit on the downward one.
type EMACrossover struct {
	FastWindow int
	SlowWindow int
}

// NewEMACrossover creates a new EMACrossover.
// Requires 1 <= fastWindow < slowWindow.
func NewEMACrossover(fastWindow, slowWindow int) (*EMACrossover, error) {
	if fastWindow < 1 || slowWindow < 1 {
		return nil, ErrWindowTooSmall
	}
	if fastWindow >= slowWindow {
		return nil, ErrWindowOrder
	}

	return &EMACrossover{
		FastWindow: fastWindow,
		SlowWindow: slowWindow,
	}, nil
}

// ID returns the strategy identifier including parameters.
func (s *EMACrossover) ID() string {
	return fmt.Sprintf("%s_%d_%d", domain.StrategyTypeEMACross, s.FastWindow, s.SlowWindow)
}

// GenerateSignals computes both exponential averages over closing prices
// and emits crossover signals. Warmup follows the slow window.
func (s *EMACrossover) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	if len(bars) <= s.SlowWindow {
		return holdSignals(len(bars)), nil
	}

	closes := closePrices(bars)
	fast := newIndicatorSeries(indicators.EMA(closes, s.FastWindow), len(bars), s.FastWindow-1)
	slow := newIndicatorSeries(indicators.EMA(closes, s.SlowWindow), len(bars), s.SlowWindow-1)

	return crossoverSignals(fast, slow, len(bars)), nil
}

// Ensure EMACrossover implements Strategy
var _ Strategy = (*EMACrossover)(nil)
