package strategy

import (
	"context"

	"crypto-backtest-lab/internal/domain"
)

// BuyAndHold enters on the first bar and never exits; the engine's
// forced close at series end realizes the benchmark return.
type BuyAndHold struct{}

// NewBuyAndHold creates a new BuyAndHold benchmark strategy.
func NewBuyAndHold() *BuyAndHold {
	return &BuyAndHold{}
}

// ID returns the strategy identifier.
func (s *BuyAndHold) ID() string {
	return domain.StrategyTypeBuyAndHold
}

// GenerateSignals enters on bar 0 and holds everywhere else.
func (s *BuyAndHold) GenerateSignals(_ context.Context, bars []*domain.Bar) ([]domain.Signal, error) {
	signals := holdSignals(len(bars))
	if len(signals) > 0 {
		signals[0] = domain.SignalEnter
	}
	return signals, nil
}

// Ensure BuyAndHold implements Strategy
var _ Strategy = (*BuyAndHold)(nil)
