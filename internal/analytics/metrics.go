// Package analytics computes risk metrics over realized trade history.
// Everything here is pure and recomputed on demand; nothing sits on the
// decision hot path.
package analytics

import (
	"math"
	"time"

	"ensemble-trader/internal/models"
	"ensemble-trader/pkg/utils"
)

const (
	// defaultConfidence is the VaR/CVaR confidence level.
	defaultConfidence = 0.95
	// periodsPerYear annualizes per-trade returns assuming one round
	// trip per day, matching a 24/7 crypto market.
	periodsPerYear = 365.0
)

// Calculator produces RiskReports from trade history.
type Calculator struct {
	confidence   float64
	riskFreeRate float64
	now          func() time.Time
}

// NewCalculator creates a calculator with the given risk-free rate.
// Confidence for VaR/CVaR is fixed at 95%.
func NewCalculator(riskFreeRate float64) *Calculator {
	return &Calculator{
		confidence:   defaultConfidence,
		riskFreeRate: riskFreeRate,
		now:          time.Now,
	}
}

// Report computes the full risk report for a trade history. Fewer than
// two trades yields a report with zeroed ratio metrics; there is not
// enough data to estimate dispersion.
func (c *Calculator) Report(initialBalance float64, trades []models.Trade) models.RiskReport {
	report := models.RiskReport{
		Trades:      len(trades),
		GeneratedAt: c.now(),
	}
	if len(trades) == 0 {
		return report
	}

	returns := make([]float64, len(trades))
	wins := 0
	for i, tr := range trades {
		returns[i] = tr.Return()
		if tr.PnL > 0 {
			wins++
		}
	}
	report.WinRate = float64(wins) / float64(len(trades))

	report.VaR = VaR(returns, c.confidence)
	report.CVaR = CVaR(returns, c.confidence)

	dd, start, end := MaxDrawdown(EquityCurve(initialBalance, trades))
	report.MaxDrawdown = dd
	report.DrawdownStart = start
	report.DrawdownEnd = end

	if len(trades) < 2 {
		return report
	}

	meanReturn := utils.Mean(returns)
	report.AnnualizedReturn = meanReturn * periodsPerYear
	report.AnnualizedVol = utils.StdDev(returns) * math.Sqrt(periodsPerYear)
	report.SharpeRatio = sharpe(report.AnnualizedReturn, report.AnnualizedVol, c.riskFreeRate)
	report.SortinoRatio = sortino(report.AnnualizedReturn, returns, c.riskFreeRate)

	return report
}

// VaR is the value at risk at the given confidence level: the return at
// the (1-confidence) percentile of the distribution. A negative value
// is a loss.
func VaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	return utils.Percentile(returns, (1-confidence)*100)
}

// CVaR is the conditional value at risk: the mean of all returns at or
// below the VaR threshold.
func CVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	threshold := VaR(returns, confidence)

	var sum float64
	var n int
	for _, r := range returns {
		if r <= threshold {
			sum += r
			n++
		}
	}
	if n == 0 {
		return threshold
	}
	return sum / float64(n)
}

func sharpe(annualizedReturn, annualizedVol, riskFreeRate float64) float64 {
	if annualizedVol == 0 {
		return 0
	}
	return (annualizedReturn - riskFreeRate) / annualizedVol
}

func sortino(annualizedReturn float64, returns []float64, riskFreeRate float64) float64 {
	downside := utils.DownsideDeviation(returns) * math.Sqrt(periodsPerYear)
	if downside == 0 {
		return 0
	}
	return (annualizedReturn - riskFreeRate) / downside
}

// EquityCurve builds the running balance series implied by a trade
// history: index 0 is the initial balance, index i+1 the balance after
// trade i.
func EquityCurve(initialBalance float64, trades []models.Trade) []float64 {
	curve := make([]float64, len(trades)+1)
	curve[0] = initialBalance
	for i, tr := range trades {
		curve[i+1] = curve[i] + tr.PnL
	}
	return curve
}

// MaxDrawdown finds the largest peak-to-trough decline in an equity
// curve. It returns the drawdown as a positive fraction of the peak,
// the index of the peak preceding the trough, and the first index where
// equity recovered to that peak (or the last index if it never did).
func MaxDrawdown(equity []float64) (drawdown float64, start, end int) {
	if len(equity) < 2 {
		return 0, 0, 0
	}

	peakIdx := 0
	for i := 1; i < len(equity); i++ {
		if equity[i] > equity[peakIdx] {
			peakIdx = i
			continue
		}
		if equity[peakIdx] <= 0 {
			continue
		}
		dd := (equity[peakIdx] - equity[i]) / equity[peakIdx]
		if dd > drawdown {
			drawdown = dd
			start = peakIdx
			end = recoveryIndex(equity, peakIdx, i)
		}
	}
	return drawdown, start, end
}

// recoveryIndex finds the first index after the trough where equity
// regains the peak value, or the series end if it never recovers.
func recoveryIndex(equity []float64, peakIdx, troughIdx int) int {
	for i := troughIdx + 1; i < len(equity); i++ {
		if equity[i] >= equity[peakIdx] {
			return i
		}
	}
	return len(equity) - 1
}
