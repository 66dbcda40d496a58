// Package breaker implements the pre-trade risk gate. Every trade must
// pass Validate before execution; a failed check trips the breaker and
// blocks new entries until the cooldown window elapses.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
)

// State is the breaker lifecycle state.
type State string

const (
	// StateArmed allows trading; checks run on every validation.
	StateArmed State = "armed"
	// StateTriggered blocks all new entries.
	StateTriggered State = "triggered"
)

// Rule names identify which check tripped the breaker.
const (
	RuleDailyLoss         = "daily_loss"
	RuleDrawdown          = "drawdown"
	RuleConsecutiveLosses = "consecutive_losses"
	RuleTradeSpacing      = "trade_spacing"
)

// PortfolioView is the read surface the breaker needs. The portfolio
// aggregate satisfies it.
type PortfolioView interface {
	Snapshot() models.PortfolioSnapshot
	TradesSince(t time.Time) []models.Trade
	Trades() []models.Trade
}

// Breaker evaluates risk limits against portfolio state. Checks run in
// a fixed priority order so the reported reason is deterministic when
// several limits are breached at once: daily loss, then drawdown, then
// consecutive losses, then trade spacing.
type Breaker struct {
	mu sync.Mutex

	maxDailyLossPercent  float64
	maxDrawdownPercent   float64
	maxConsecutiveLosses int
	minTimeBetweenTrades time.Duration
	cooldown             time.Duration

	state       State
	reason      string
	triggeredAt time.Time
	lastTradeAt time.Time

	portfolio PortfolioView
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates an armed breaker bound to a portfolio view.
func New(cfg config.RiskConfig, portfolio PortfolioView, logger zerolog.Logger) *Breaker {
	return &Breaker{
		maxDailyLossPercent:  cfg.MaxDailyLossPercent,
		maxDrawdownPercent:   cfg.MaxDrawdownPercent,
		maxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		minTimeBetweenTrades: time.Duration(cfg.MinTimeBetweenTrades) * time.Second,
		cooldown:             time.Duration(cfg.CooldownMinutes) * time.Minute,
		state:                StateArmed,
		portfolio:            portfolio,
		logger:               logger,
		now:                  time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Validate runs the risk checks and returns nil when trading is
// allowed. A triggered breaker auto-resumes once the cooldown has
// elapsed, at which point the checks run again; a still-breached limit
// re-trips immediately.
func (b *Breaker) Validate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == StateTriggered {
		if now.Sub(b.triggeredAt) < b.cooldown {
			return errors.Wrapf(errors.ErrBreakerTriggered, "cooling down until %s (%s)",
				b.triggeredAt.Add(b.cooldown).Format(time.RFC3339), b.reason)
		}
		b.rearm("cooldown elapsed")
	}

	if err := b.runChecks(now); err != nil {
		return err
	}
	return nil
}

// runChecks evaluates all limits in priority order. Callers hold the lock.
func (b *Breaker) runChecks(now time.Time) error {
	snap := b.portfolio.Snapshot()

	if err := b.checkDailyLoss(now, snap); err != nil {
		return b.trip(now, RuleDailyLoss, err)
	}
	if err := b.checkDrawdown(snap); err != nil {
		return b.trip(now, RuleDrawdown, err)
	}
	if err := b.checkConsecutiveLosses(); err != nil {
		return b.trip(now, RuleConsecutiveLosses, err)
	}
	if err := b.checkTradeSpacing(now); err != nil {
		return b.trip(now, RuleTradeSpacing, err)
	}
	return nil
}

func (b *Breaker) checkDailyLoss(now time.Time, snap models.PortfolioSnapshot) error {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)

	var realized float64
	for _, tr := range b.portfolio.TradesSince(midnight) {
		realized += tr.PnL
	}
	if realized >= 0 {
		return nil
	}

	limit := b.maxDailyLossPercent * snap.InitialBalance
	loss := -realized
	if loss >= limit {
		return errors.NewRiskError(RuleDailyLoss, loss, limit,
			fmt.Sprintf("daily loss %.2f reached limit %.2f", loss, limit))
	}
	return nil
}

func (b *Breaker) checkDrawdown(snap models.PortfolioSnapshot) error {
	if snap.PeakBalance <= 0 {
		return nil
	}
	drawdown := (snap.PeakBalance - snap.Balance) / snap.PeakBalance
	if drawdown >= b.maxDrawdownPercent {
		return errors.NewRiskError(RuleDrawdown, drawdown, b.maxDrawdownPercent,
			fmt.Sprintf("drawdown %.1f%% breaches limit %.1f%%", drawdown*100, b.maxDrawdownPercent*100))
	}
	return nil
}

func (b *Breaker) checkConsecutiveLosses() error {
	if b.maxConsecutiveLosses <= 0 {
		return nil
	}

	trades := b.portfolio.Trades()
	streak := 0
	for i := len(trades) - 1; i >= 0; i-- {
		if !trades[i].IsLoss() {
			break
		}
		streak++
	}
	if streak >= b.maxConsecutiveLosses {
		return errors.NewRiskError(RuleConsecutiveLosses, float64(streak), float64(b.maxConsecutiveLosses),
			fmt.Sprintf("%d consecutive losing trades", streak))
	}
	return nil
}

func (b *Breaker) checkTradeSpacing(now time.Time) error {
	if b.minTimeBetweenTrades <= 0 || b.lastTradeAt.IsZero() {
		return nil
	}
	elapsed := now.Sub(b.lastTradeAt)
	if elapsed < b.minTimeBetweenTrades {
		return errors.NewRiskError(RuleTradeSpacing, elapsed.Seconds(), b.minTimeBetweenTrades.Seconds(),
			fmt.Sprintf("only %.0fs since last trade, need %.0fs", elapsed.Seconds(), b.minTimeBetweenTrades.Seconds()))
	}
	return nil
}

// trip latches the breaker and returns the triggering error wrapped
// with ErrBreakerTriggered. Callers hold the lock.
func (b *Breaker) trip(now time.Time, rule string, cause error) error {
	b.state = StateTriggered
	b.reason = cause.Error()
	b.triggeredAt = now

	logging.LogBreaker(b.logger.With().Str("rule", rule).Logger(), b.reason, true)

	return errors.Wrap(errors.ErrBreakerTriggered, cause.Error())
}

func (b *Breaker) rearm(why string) {
	b.state = StateArmed
	b.reason = ""
	b.triggeredAt = time.Time{}
	logging.LogBreaker(b.logger, why, false)
}

// RecordTrade marks a trade execution time for the spacing check.
func (b *Breaker) RecordTrade() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastTradeAt = b.now()
}

// Reset re-arms a triggered breaker before the cooldown elapses. Meant
// for operator intervention; the next Validate re-runs every check.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateTriggered {
		b.rearm("manual reset")
	}
}

// Status returns the current breaker state.
func (b *Breaker) Status() models.BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return models.BreakerStatus{
		Triggered:   b.state == StateTriggered,
		Reason:      b.reason,
		TriggeredAt: b.triggeredAt,
	}
}
