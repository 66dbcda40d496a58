// Package models provides domain models for the trading engine.
package models

import "time"

// Label represents a directional model prediction.
type Label int

const (
	Sell Label = 0
	Hold Label = 1
	Buy  Label = 2
)

// String returns the canonical name of the label.
func (l Label) String() string {
	switch l {
	case Sell:
		return "SELL"
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	default:
		return "UNKNOWN"
	}
}

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the opposing side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// ModelVote is one model's directional prediction for a single decision
// cycle. Votes are produced externally, one per configured timeframe, and
// are not persisted.
type ModelVote struct {
	Timeframe  string
	Label      Label
	Confidence float64 // [0, 1]
	Weight     float64 // >= 0
}

// CombinedSignal is the output of the ensemble combiner, created fresh
// each decision cycle.
type CombinedSignal struct {
	Label          Label
	Confidence     float64 // [0, 1]
	ModelsAgree    bool
	AgreementLevel float64 // fraction of votes matching Label
	Actionable     bool
}

// Quote carries the externally supplied market inputs for one cycle.
type Quote struct {
	Symbol    string
	Price     float64
	ATR       float64
	Timestamp time.Time
}
