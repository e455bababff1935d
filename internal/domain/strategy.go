package domain

// StrategyConfig represents strategy configuration parameters.
// Exactly the fields for the configured StrategyType must be set;
// the strategy factory validates eagerly and never clamps.
type StrategyConfig struct {
	StrategyType string // see Strategy type constants

	// SMA_CROSS / EMA_CROSS parameters
	FastWindow *int
	SlowWindow *int

	// RSI_REVERSION parameters
	Window     *int
	Oversold   *float64
	Overbought *float64

	// MACD_CROSS parameters
	MACDFast   *int
	MACDSlow   *int
	MACDSignal *int

	// BOLLINGER_REVERSION parameters
	BollingerWindow *int
	BollingerStdDev *float64
}

// Strategy type constants.
const (
	StrategyTypeSMACross           = "SMA_CROSS"
	StrategyTypeEMACross           = "EMA_CROSS"
	StrategyTypeRSIReversion       = "RSI_REVERSION"
	StrategyTypeMACDCross          = "MACD_CROSS"
	StrategyTypeBollingerReversion = "BOLLINGER_REVERSION"
	StrategyTypeBuyAndHold         = "BUY_AND_HOLD"
)
