package backtest

import "errors"

// Configuration errors, detected when the engine is constructed.
var (
	ErrInvalidInitialCapital = errors.New("initial capital must be positive")
	ErrInvalidCommission     = errors.New("commission rate must lie in [0, 1)")
	ErrUnknownFillPolicy     = errors.New("unknown fill policy")
)

// Data integrity errors, detected at run entry before any simulation.
// The engine never truncates or repairs its inputs.
var (
	ErrLengthMismatch     = errors.New("signal sequence length does not match price series")
	ErrNonMonotonicSeries = errors.New("bar timestamps must be strictly increasing")
	ErrDuplicateTimestamp = errors.New("duplicate bar timestamp")
	ErrInvalidPrice       = errors.New("bar prices must be positive")
	ErrNegativeVolume     = errors.New("bar volume must be non-negative")
)

// Computation errors.
var (
	// ErrZeroEntryPrice guards the return division; a zero entry price is
	// a fatal data error, never a silent NaN.
	ErrZeroEntryPrice = errors.New("entry price is zero")
)
