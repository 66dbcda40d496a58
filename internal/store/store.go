// Package store provides data persistence implementations.
package store

import (
	"context"
	"time"

	"ensemble-trader/internal/models"
)

// TradeFilter narrows trade history queries.
type TradeFilter struct {
	Symbol      string
	Side        models.Side
	CloseReason models.CloseReason
	StartDate   time.Time
	EndDate     time.Time
	Limit       int
}

// ResultFilter narrows execution-result queries.
type ResultFilter struct {
	Symbol    string
	Status    models.ExecutionStatus
	StartDate time.Time
	EndDate   time.Time
	Limit     int
}

// DataStore persists the records the decision pipeline produces.
type DataStore interface {
	LogTrade(ctx context.Context, trade models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	LogResult(ctx context.Context, result models.ExecutionResult) error
	GetResults(ctx context.Context, filter ResultFilter) ([]models.ExecutionResult, error)

	SaveSessionSummary(ctx context.Context, summary SessionSummary) error
	GetSessionSummaries(ctx context.Context, limit int) ([]SessionSummary, error)

	Close() error
}

// SessionSummary is the end-of-session rollup persisted after a run.
type SessionSummary struct {
	ID             string
	Symbol         string
	StartedAt      time.Time
	EndedAt        time.Time
	InitialBalance float64
	FinalBalance   float64
	TotalTrades    int
	WinRate        float64
	MaxDrawdown    float64
	SharpeRatio    float64
}
