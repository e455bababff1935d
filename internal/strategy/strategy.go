package strategy

import (
	"context"

	"crypto-backtest-lab/internal/domain"
)

// Strategy maps a price series to one trading signal per bar.
type Strategy interface {
	// GenerateSignals returns a signal sequence with the same length as bars.
	// Signals for bar i use only information up to and including bar i.
	// Pure: repeated calls on the same input produce identical output.
	GenerateSignals(ctx context.Context, bars []*domain.Bar) ([]domain.Signal, error)

	// ID returns strategy identifier (includes parameters).
	ID() string
}
