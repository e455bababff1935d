package domain

// Signal is a strategy's per-bar trading decision.
type Signal string

// Signal constants.
const (
	SignalEnter Signal = "ENTER"
	SignalExit  Signal = "EXIT"
	SignalHold  Signal = "HOLD"
)
