package strategy

import (
	"errors"

	"crypto-backtest-lab/internal/domain"
)

// Configuration errors. All are detected at construction time; invalid
// parameters are never clamped.
var (
	ErrUnknownStrategyType = errors.New("unknown strategy type")
	ErrWindowTooSmall      = errors.New("indicator window must be at least 1")
	ErrWindowOrder         = errors.New("fast window must be less than slow window")
	ErrThresholdOrder      = errors.New("oversold threshold must be less than overbought")
	ErrThresholdRange      = errors.New("oscillator thresholds must lie inside (0, 100)")
	ErrStdDevInvalid       = errors.New("band standard deviation must be positive")

	ErrMissingWindows    = errors.New("crossover strategy requires FastWindow and SlowWindow")
	ErrMissingOscillator = errors.New("RSI_REVERSION requires Window, Oversold and Overbought")
	ErrMissingMACD       = errors.New("MACD_CROSS requires MACDFast, MACDSlow and MACDSignal")
	ErrMissingBollinger  = errors.New("BOLLINGER_REVERSION requires BollingerWindow and BollingerStdDev")
)

// FromConfig creates a Strategy from domain.StrategyConfig.
// Validates required parameters per strategy type.
func FromConfig(cfg domain.StrategyConfig) (Strategy, error) {
	switch cfg.StrategyType {
	case domain.StrategyTypeSMACross:
		if cfg.FastWindow == nil || cfg.SlowWindow == nil {
			return nil, ErrMissingWindows
		}
		return NewSMACrossover(*cfg.FastWindow, *cfg.SlowWindow)

	case domain.StrategyTypeEMACross:
		if cfg.FastWindow == nil || cfg.SlowWindow == nil {
			return nil, ErrMissingWindows
		}
		return NewEMACrossover(*cfg.FastWindow, *cfg.SlowWindow)

	case domain.StrategyTypeRSIReversion:
		if cfg.Window == nil || cfg.Oversold == nil || cfg.Overbought == nil {
			return nil, ErrMissingOscillator
		}
		return NewRSIReversion(*cfg.Window, *cfg.Oversold, *cfg.Overbought)

	case domain.StrategyTypeMACDCross:
		if cfg.MACDFast == nil || cfg.MACDSlow == nil || cfg.MACDSignal == nil {
			return nil, ErrMissingMACD
		}
		return NewMACDCrossover(*cfg.MACDFast, *cfg.MACDSlow, *cfg.MACDSignal)

	case domain.StrategyTypeBollingerReversion:
		if cfg.BollingerWindow == nil || cfg.BollingerStdDev == nil {
			return nil, ErrMissingBollinger
		}
		return NewBollingerReversion(*cfg.BollingerWindow, *cfg.BollingerStdDev)

	case domain.StrategyTypeBuyAndHold:
		return NewBuyAndHold(), nil

	default:
		return nil, ErrUnknownStrategyType
	}
}
