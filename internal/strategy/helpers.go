package strategy

import "crypto-backtest-lab/internal/domain"

// closePrices extracts the close column from a bar series.
func closePrices(bars []*domain.Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// holdSignals returns a signal sequence of n holds.
func holdSignals(n int) []domain.Signal {
	signals := make([]domain.Signal, n)
	for i := range signals {
		signals[i] = domain.SignalHold
	}
	return signals
}

// indicatorSeries re-aligns a library indicator output to bar indices.
// Libraries differ on whether they trim the lookback prefix or zero-fill
// it; mapping through the trailing offset and masking bars before warmup
// gives identical per-bar values either way.
type indicatorSeries struct {
	values []float64
	offset int // bar index of values[0]
	warmup int // first bar index with a defined value
}

func newIndicatorSeries(values []float64, barCount, warmup int) indicatorSeries {
	return indicatorSeries{
		values: values,
		offset: barCount - len(values),
		warmup: warmup,
	}
}

// at returns the indicator value for bar i and whether it is defined.
func (s indicatorSeries) at(i int) (float64, bool) {
	if i < s.warmup {
		return 0, false
	}
	j := i - s.offset
	if j < 0 || j >= len(s.values) {
		return 0, false
	}
	return s.values[j], true
}

// crossedAbove reports whether a crossed from strictly below b on the
// previous bar to at-or-above b on the current bar.
func crossedAbove(prevA, prevB, curA, curB float64) bool {
	return prevA < prevB && curA >= curB
}

// crossedBelow reports whether a crossed from strictly above b on the
// previous bar to at-or-below b on the current bar.
func crossedBelow(prevA, prevB, curA, curB float64) bool {
	return prevA > prevB && curA <= curB
}

// crossoverSignals emits enter/exit signals from two indicator series:
// enter where fast crosses above slow, exit where it crosses below.
// Bars where either the current or previous value is undefined hold.
func crossoverSignals(fast, slow indicatorSeries, barCount int) []domain.Signal {
	signals := holdSignals(barCount)

	for i := 1; i < barCount; i++ {
		curFast, ok := fast.at(i)
		if !ok {
			continue
		}
		curSlow, ok := slow.at(i)
		if !ok {
			continue
		}
		prevFast, ok := fast.at(i - 1)
		if !ok {
			continue
		}
		prevSlow, ok := slow.at(i - 1)
		if !ok {
			continue
		}

		switch {
		case crossedAbove(prevFast, prevSlow, curFast, curSlow):
			signals[i] = domain.SignalEnter
		case crossedBelow(prevFast, prevSlow, curFast, curSlow):
			signals[i] = domain.SignalExit
		}
	}

	return signals
}
