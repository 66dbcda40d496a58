package sizing

import (
	"math"
	"testing"

	"ensemble-trader/internal/config"
)

func newTestSizer(method string) *Sizer {
	return NewSizer(config.SizingConfig{
		Method:          method,
		RiskPerTrade:    0.02,
		MaxPositionSize: 0, // default to 25% of balance
		MinPositionSize: 10,
	})
}

func TestFixedFractional(t *testing.T) {
	s := newTestSizer(config.SizingFixedFractional)

	// 10000 * 0.02 * 0.5 = 100
	got := s.Size(10000, Input{Confidence: 0.5})
	if got != 100 {
		t.Errorf("size = %v, want 100", got)
	}
}

func TestFixedFractionalClampedToMin(t *testing.T) {
	s := newTestSizer(config.SizingFixedFractional)

	// 100 * 0.02 * 0.5 = 1, below the 10 floor.
	got := s.Size(100, Input{Confidence: 0.5})
	if got != 10 {
		t.Errorf("size = %v, want min position size 10", got)
	}
}

func TestMaxDefaultsToQuarterBalance(t *testing.T) {
	s := NewSizer(config.SizingConfig{
		Method:          config.SizingStopLossBased,
		RiskPerTrade:    0.5,
		MinPositionSize: 1,
	})

	// Tiny stop distance would demand a huge size; cap at 25% of balance.
	got := s.Size(10000, Input{Confidence: 1, EntryPrice: 100, StopLoss: 99.99})
	if got != 2500 {
		t.Errorf("size = %v, want 2500 (25%% of balance)", got)
	}
}

func TestKellyCriterion(t *testing.T) {
	s := newTestSizer(config.SizingKellyCriterion)

	// confidence 0.8: p = 0.59, q = 0.41, b = 1.5
	// f = (1.5*0.59 - 0.41)/1.5 = 0.31666..., half-Kelly = 0.158333...
	p := 0.59
	q := 1 - p
	f := (1.5*p - q) / 1.5 * 0.5
	want := 10000 * f

	got := s.Size(10000, Input{Confidence: 0.8})
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("size = %v, want %v", got, want)
	}
}

func TestKellyFractionFloor(t *testing.T) {
	s := newTestSizer(config.SizingKellyCriterion)

	// Zero confidence drives the raw fraction negative; the floor of
	// 0.01 applies before sizing.
	got := s.Size(10000, Input{Confidence: 0})
	if got != 100 {
		t.Errorf("size = %v, want 10000*0.01 = 100", got)
	}
}

func TestVolatilityAdjusted(t *testing.T) {
	s := newTestSizer(config.SizingVolatilityAdjusted)

	tests := []struct {
		name       string
		volatility float64
		want       float64
	}{
		{"at reference", 0.02, 200},
		{"double volatility halves size", 0.04, 100},
		{"low volatility capped at 2x", 0.005, 400},
		{"zero volatility uses floor and cap", 0, 400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Size(10000, Input{Confidence: 0.5, Volatility: tt.volatility})
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("size = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStopLossBased(t *testing.T) {
	s := newTestSizer(config.SizingStopLossBased)

	// risk 200, stop distance 2% -> notional 10000, capped at 2500.
	got := s.Size(10000, Input{Confidence: 0.5, EntryPrice: 100, StopLoss: 98})
	if got != 2500 {
		t.Errorf("size = %v, want cap 2500", got)
	}

	// Wider stop: distance 10% -> 200/0.10 = 2000, under the cap.
	got = s.Size(10000, Input{Confidence: 0.5, EntryPrice: 100, StopLoss: 90})
	if math.Abs(got-2000) > 1e-9 {
		t.Errorf("size = %v, want 2000", got)
	}
}

func TestStopLossBasedFallback(t *testing.T) {
	s := newTestSizer(config.SizingStopLossBased)

	// Missing stop price falls back to fixed fractional.
	got := s.Size(10000, Input{Confidence: 0.5, EntryPrice: 100})
	if got != 100 {
		t.Errorf("size = %v, want fixed-fractional 100", got)
	}

	// Zero stop distance too.
	got = s.Size(10000, Input{Confidence: 0.5, EntryPrice: 100, StopLoss: 100})
	if got != 100 {
		t.Errorf("size = %v, want fixed-fractional 100", got)
	}
}

func TestZeroBalance(t *testing.T) {
	for _, method := range []string{
		config.SizingFixedFractional,
		config.SizingKellyCriterion,
		config.SizingVolatilityAdjusted,
		config.SizingStopLossBased,
	} {
		s := newTestSizer(method)
		if got := s.Size(0, Input{Confidence: 0.8}); got != 0 {
			t.Errorf("%s: size = %v with zero balance, want 0", method, got)
		}
	}
}
