package domain

import "time"

// PositionState is the lifecycle state of a simulated position.
type PositionState string

// Position states. Transitions:
// Flat → PendingEntry → Open → PendingExit → Flat. A pending order
// cancelled on adverse conditions falls back without a fill.
const (
	PositionFlat         PositionState = "flat"
	PositionPendingEntry PositionState = "pending_entry"
	PositionOpen         PositionState = "open"
	PositionPendingExit  PositionState = "pending_exit"
)

// Trade is one completed round trip in a backtest.
type Trade struct {
	Symbol     string
	Direction  Direction
	EntryTS    time.Time
	EntryPrice float64 // after slippage
	ExitTS     time.Time
	ExitPrice  float64 // after slippage
	Quantity   float64
	Commission float64 // total for both legs
	Slippage   float64 // total price impact paid, in cash terms
	PnL        float64 // net of costs
	ReturnPct  float64 // PnL / entry notional
	ExitReason string
	BarsHeld   int
}

// EquityPoint is one sample of the portfolio equity curve.
type EquityPoint struct {
	TS     time.Time
	Equity float64
}
