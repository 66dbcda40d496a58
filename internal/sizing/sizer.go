// Package sizing computes position sizes from account state and signal
// confidence. All functions are pure; the sizer holds only validated
// configuration.
package sizing

import (
	"math"

	"ensemble-trader/internal/config"
	"ensemble-trader/pkg/utils"
)

const (
	// referenceVolatility is the volatility at which the
	// volatility-adjusted method applies no scaling.
	referenceVolatility = 0.02
	minVolatility       = 0.001
	maxVolatilityRatio  = 2.0

	// kellyWinLossRatio is the assumed average-win to average-loss ratio
	// feeding the Kelly fraction.
	kellyWinLossRatio = 1.5
	kellyDamping      = 0.5 // half-Kelly
	kellyFractionMin  = 0.01
	kellyFractionMax  = 0.25
)

// Input carries the per-decision inputs to the sizer. Volatility,
// EntryPrice and StopLoss are optional depending on the method; zero
// means absent.
type Input struct {
	Confidence float64
	Volatility float64
	EntryPrice float64
	StopLoss   float64
}

// Sizer computes notional position sizes.
type Sizer struct {
	method          string
	riskPerTrade    float64
	maxPositionSize float64
	minPositionSize float64
}

// NewSizer creates a sizer from validated configuration.
func NewSizer(cfg config.SizingConfig) *Sizer {
	return &Sizer{
		method:          cfg.Method,
		riskPerTrade:    cfg.RiskPerTrade,
		maxPositionSize: cfg.MaxPositionSize,
		minPositionSize: cfg.MinPositionSize,
	}
}

// Size returns the notional size in quote currency for the configured
// method, clamped to [minPositionSize, maxPositionSize]. When no max is
// configured it defaults to 25% of balance.
func (s *Sizer) Size(balance float64, in Input) float64 {
	if balance <= 0 {
		return 0
	}

	var size float64
	switch s.method {
	case config.SizingKellyCriterion:
		size = s.kelly(balance, in.Confidence)
	case config.SizingVolatilityAdjusted:
		size = s.volatilityAdjusted(balance, in.Volatility)
	case config.SizingStopLossBased:
		size = s.stopLossBased(balance, in)
	default:
		size = s.fixedFractional(balance, in.Confidence)
	}

	maxSize := s.maxPositionSize
	if maxSize <= 0 {
		maxSize = balance * 0.25
	}
	return utils.Clamp(size, s.minPositionSize, maxSize)
}

func (s *Sizer) fixedFractional(balance, confidence float64) float64 {
	return balance * s.riskPerTrade * confidence
}

// kelly computes a half-Kelly fraction from the signal confidence. The
// win probability is a damped mapping of confidence: p = 0.5 +
// (confidence-0.5)*0.3, so confidence never pushes p outside [0.35, 0.65].
func (s *Sizer) kelly(balance, confidence float64) float64 {
	p := 0.5 + (confidence-0.5)*0.3
	q := 1 - p
	b := kellyWinLossRatio

	f := (b*p - q) / b
	f *= kellyDamping
	f = utils.Clamp(f, kellyFractionMin, kellyFractionMax)

	return balance * f
}

func (s *Sizer) volatilityAdjusted(balance, volatility float64) float64 {
	base := balance * s.riskPerTrade
	ratio := referenceVolatility / math.Max(volatility, minVolatility)
	if ratio > maxVolatilityRatio {
		ratio = maxVolatilityRatio
	}
	return base * ratio
}

// stopLossBased sizes so that hitting the stop loses exactly
// balance*riskPerTrade. Falls back to fixed fractional when prices are
// absent or the stop distance is zero.
func (s *Sizer) stopLossBased(balance float64, in Input) float64 {
	if in.EntryPrice <= 0 || in.StopLoss <= 0 {
		return s.fixedFractional(balance, in.Confidence)
	}
	slDistancePct := math.Abs(in.EntryPrice-in.StopLoss) / in.EntryPrice
	if slDistancePct == 0 {
		return s.fixedFractional(balance, in.Confidence)
	}
	riskAmount := balance * s.riskPerTrade
	return riskAmount / slDistancePct
}
