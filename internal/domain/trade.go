package domain

// Trade represents a completed entry-exit pair with realized return.
// Created when a position closes; never mutated afterwards.
// Corresponds to the trades table.
type Trade struct {
	TradeID    string // deterministic hash
	Symbol     string // trading pair, e.g. BTC/USDT
	Timeframe  string // bar timeframe the run used
	StrategyID string // strategy identifier (includes parameters)

	// Entry
	EntryIndex  int     // bar index the position opened at
	EntryTimeMs int64   // timestamp of the entry bar (ms)
	EntryPrice  float64 // fill price before commission

	// Exit
	ExitIndex  int     // bar index the position closed at
	ExitTimeMs int64   // timestamp of the exit bar (ms)
	ExitPrice  float64 // fill price before commission
	ExitReason string  // reason code

	// Outcome
	ReturnPct float64 // net return after commission on both legs
}

// Exit reason codes.
const (
	ExitReasonSignal     = "SIGNAL_EXIT"
	ExitReasonForceClose = "FORCE_CLOSE"
)
