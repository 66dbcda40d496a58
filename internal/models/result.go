package models

import "time"

// ExecutionStatus classifies the outcome of a decision cycle.
type ExecutionStatus string

const (
	StatusFilled   ExecutionStatus = "filled"
	StatusClosed   ExecutionStatus = "closed"
	StatusRejected ExecutionStatus = "rejected"
	StatusSkipped  ExecutionStatus = "skipped"
	StatusFailed   ExecutionStatus = "failed"
)

// ExecutionResult is the engine's output for one decision cycle. Expected
// rejections (breaker triggered, insufficient balance) are carried here as
// status+reason rather than as errors.
type ExecutionResult struct {
	ID           string
	Symbol       string
	Status       ExecutionStatus
	Side         Side
	Price        float64
	Size         float64
	Fee          float64
	StopLoss     float64
	TakeProfit   float64
	BalanceAfter float64
	Reason       string
	Timestamp    time.Time
}

// BreakerStatus is a snapshot of the circuit breaker.
type BreakerStatus struct {
	Triggered   bool
	Reason      string
	TriggeredAt time.Time
}

// RiskReport is the on-demand analytics output over trade history.
type RiskReport struct {
	Trades           int
	WinRate          float64
	VaR              float64
	CVaR             float64
	SharpeRatio      float64
	SortinoRatio     float64
	MaxDrawdown      float64
	DrawdownStart    int // index of the peak preceding the trough
	DrawdownEnd      int // first index where equity recovers the peak
	AnnualizedReturn float64
	AnnualizedVol    float64
	GeneratedAt      time.Time
}
