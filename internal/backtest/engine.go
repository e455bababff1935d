package backtest

import (
	"context"

	"crypto-backtest-lab/internal/domain"
	"crypto-backtest-lab/internal/idhash"
	"crypto-backtest-lab/internal/metrics"
)

// FillPolicy selects the bar price an entry or exit executes at.
type FillPolicy string

// Fill policy constants.
const (
	// FillOnClose executes at the close of the bar that produced the
	// signal. Default: the simplest deterministic choice.
	FillOnClose FillPolicy = "CLOSE"

	// FillOnNextOpen executes at the open of the following bar. An entry
	// signalled on the final bar cannot be filled and is dropped.
	FillOnNextOpen FillPolicy = "NEXT_OPEN"
)

// Default engine parameters.
const (
	DefaultInitialCapital = 10_000.0
)

// Options contains configuration for creating an Engine.
type Options struct {
	InitialCapital float64    // starting capital; DefaultInitialCapital if zero
	CommissionRate float64    // flat rate per leg, e.g. 0.001 for 0.1%
	FillPolicy     FillPolicy // FillOnClose if empty
}

// Engine simulates a single long-only, single-unit position over a
// price series driven by a per-bar signal sequence. It holds no state
// across runs; every run owns its own position and trade list, so
// concurrent runs over independent inputs need no locking.
type Engine struct {
	initialCapital float64
	commissionRate float64
	fillPolicy     FillPolicy
}

// NewEngine creates a new backtest engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.InitialCapital < 0 {
		return nil, ErrInvalidInitialCapital
	}
	if opts.InitialCapital == 0 {
		opts.InitialCapital = DefaultInitialCapital
	}
	if opts.CommissionRate < 0 || opts.CommissionRate >= 1 {
		return nil, ErrInvalidCommission
	}
	switch opts.FillPolicy {
	case "":
		opts.FillPolicy = FillOnClose
	case FillOnClose, FillOnNextOpen:
	default:
		return nil, ErrUnknownFillPolicy
	}

	return &Engine{
		initialCapital: opts.InitialCapital,
		commissionRate: opts.CommissionRate,
		fillPolicy:     opts.FillPolicy,
	}, nil
}

// Input holds all data needed for one engine run.
type Input struct {
	Symbol     string
	Timeframe  string
	StrategyID string
	Bars       []*domain.Bar
	Signals    []domain.Signal
}

// Result holds the output of one engine run.
type Result struct {
	Trades      []*domain.Trade
	Report      domain.PerformanceReport
	EquityCurve []float64 // capital valued at each bar close
}

// position is the single simulated holding during a run.
// States: flat (open == false) and long (open == true).
type position struct {
	open       bool
	entryIndex int
	entryPrice float64
}

// Run executes one backtest pass over the input series.
//
// The loop is a two-state machine: flat + ENTER opens the position,
// long + EXIT closes it and appends a trade; ENTER while long and EXIT
// while flat are no-ops. A position still open after the last bar is
// force-closed at the final close and recorded, never dropped. The
// report is computed once from the completed trade list.
func (e *Engine) Run(_ context.Context, input *Input) (*Result, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	bars := input.Bars
	trades := make([]*domain.Trade, 0)
	equity := make([]float64, len(bars))
	capital := e.initialCapital

	var pos position
	pendingEntry := false
	pendingExit := false

	for i, bar := range bars {
		// Fills deferred from the previous bar's signal.
		if pendingEntry {
			pos = position{open: true, entryIndex: i, entryPrice: bar.Open}
			pendingEntry = false
		}
		if pendingExit {
			trade, err := e.buildTrade(input, pos, i, bar.Open, domain.ExitReasonSignal)
			if err != nil {
				return nil, err
			}
			trades = append(trades, trade)
			capital *= 1 + trade.ReturnPct
			pos = position{}
			pendingExit = false
		}

		switch input.Signals[i] {
		case domain.SignalEnter:
			if !pos.open && !pendingEntry {
				if e.fillPolicy == FillOnClose {
					pos = position{open: true, entryIndex: i, entryPrice: bar.Close}
				} else if i < len(bars)-1 {
					pendingEntry = true
				}
			}
		case domain.SignalExit:
			if pos.open && !pendingExit {
				if e.fillPolicy == FillOnClose {
					trade, err := e.buildTrade(input, pos, i, bar.Close, domain.ExitReasonSignal)
					if err != nil {
						return nil, err
					}
					trades = append(trades, trade)
					capital *= 1 + trade.ReturnPct
					pos = position{}
				} else if i < len(bars)-1 {
					pendingExit = true
				}
			}
		}

		if pos.open {
			equity[i] = capital * (bar.Close / pos.entryPrice)
		} else {
			equity[i] = capital
		}
	}

	// Force-close an open position at the last bar. Dropping it would
	// bias the win-rate and return statistics.
	if pos.open {
		last := len(bars) - 1
		trade, err := e.buildTrade(input, pos, last, bars[last].Close, domain.ExitReasonForceClose)
		if err != nil {
			return nil, err
		}
		trades = append(trades, trade)
		capital *= 1 + trade.ReturnPct
		equity[last] = capital
	}

	return &Result{
		Trades:      trades,
		Report:      metrics.BuildReport(trades, e.initialCapital),
		EquityCurve: equity,
	}, nil
}

// buildTrade closes the position at exitIndex/exitPrice and produces the
// immutable trade record. Commission applies to both legs:
// effective entry = entry*(1+c), effective exit = exit*(1-c).
func (e *Engine) buildTrade(input *Input, pos position, exitIndex int, exitPrice float64, exitReason string) (*domain.Trade, error) {
	if pos.entryPrice == 0 {
		return nil, ErrZeroEntryPrice
	}

	effectiveEntry := pos.entryPrice * (1 + e.commissionRate)
	effectiveExit := exitPrice * (1 - e.commissionRate)
	returnPct := (effectiveExit - effectiveEntry) / effectiveEntry

	entryBar := input.Bars[pos.entryIndex]
	exitBar := input.Bars[exitIndex]

	return &domain.Trade{
		TradeID:    idhash.ComputeTradeID(input.Symbol, input.Timeframe, input.StrategyID, entryBar.TimestampMs),
		Symbol:     input.Symbol,
		Timeframe:  input.Timeframe,
		StrategyID: input.StrategyID,

		EntryIndex:  pos.entryIndex,
		EntryTimeMs: entryBar.TimestampMs,
		EntryPrice:  pos.entryPrice,

		ExitIndex:  exitIndex,
		ExitTimeMs: exitBar.TimestampMs,
		ExitPrice:  exitPrice,
		ExitReason: exitReason,

		ReturnPct: returnPct,
	}, nil
}

// validateInput rejects malformed inputs before any simulation starts.
func validateInput(input *Input) error {
	if len(input.Bars) != len(input.Signals) {
		return ErrLengthMismatch
	}

	var prev int64
	for i, b := range input.Bars {
		if i > 0 {
			if b.TimestampMs == prev {
				return ErrDuplicateTimestamp
			}
			if b.TimestampMs < prev {
				return ErrNonMonotonicSeries
			}
		}
		prev = b.TimestampMs

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return ErrInvalidPrice
		}
		if b.Volume < 0 {
			return ErrNegativeVolume
		}
	}

	return nil
}
