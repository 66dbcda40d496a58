package models

import "time"

// Position represents an open position. At most one exists per symbol;
// it is created on entry and converted to a Trade on close. Size is in
// base-currency units.
type Position struct {
	Symbol        string
	Side          Side
	EntryPrice    float64
	Size          float64
	StopLoss      float64 // 0 = none
	TakeProfit    float64 // 0 = none
	OpenedAt      time.Time
	UnrealizedPnL float64
}

// PnLAt returns the unrealized profit or loss at the given price.
func (p *Position) PnLAt(price float64) float64 {
	if p.Side == SideLong {
		return (price - p.EntryPrice) * p.Size
	}
	return (p.EntryPrice - price) * p.Size
}

// Notional returns the position's entry value in quote currency.
func (p *Position) Notional() float64 {
	return p.EntryPrice * p.Size
}

// CloseReason explains why a position was closed.
type CloseReason string

const (
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTakeProfit CloseReason = "take_profit"
	CloseSignal     CloseReason = "signal"
	CloseManual     CloseReason = "manual"
	CloseEnd        CloseReason = "end"
)

// Trade is the immutable record of a closed position. Trades are
// append-only and are the sole input to the risk metrics calculator and
// the circuit breaker's history checks.
type Trade struct {
	ID            string
	Symbol        string
	Side          Side
	EntryPrice    float64
	ExitPrice     float64
	Size          float64
	PnL           float64
	PnLPercent    float64
	HoldingPeriod time.Duration
	CloseReason   CloseReason
	ClosedAt      time.Time
}

// IsLoss reports whether the trade realized a negative PnL.
func (t Trade) IsLoss() bool {
	return t.PnL < 0
}

// Return is the trade's fractional return on entry notional.
func (t Trade) Return() float64 {
	notional := t.EntryPrice * t.Size
	if notional == 0 {
		return 0
	}
	return t.PnL / notional
}

// PortfolioSnapshot is a consistent copy-on-read view of portfolio state.
type PortfolioSnapshot struct {
	Balance        float64
	InitialBalance float64
	Equity         float64
	PeakBalance    float64
	OpenPositions  []Position
	ClosedTrades   int
}
