// Package engine orchestrates the decision pipeline: combine model
// votes, gate through the circuit breaker, size the position and mutate
// the portfolio. It is the only component that performs cross-component
// stateful writes.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ensemble-trader/internal/breaker"
	"ensemble-trader/internal/config"
	"ensemble-trader/internal/ensemble"
	"ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/portfolio"
	"ensemble-trader/internal/sizing"
)

// Recorder receives execution results and closed trades for
// persistence. Implementations must be safe for concurrent use; the
// engine calls them while holding its decision lock.
type Recorder interface {
	SaveResult(result models.ExecutionResult) error
	SaveTrade(trade models.Trade) error
}

// Engine drives one symbol's trading decisions. A single mutex guards
// the whole validate, size, debit, mutate sequence so no interleaving
// can double-spend balance or open two positions on one symbol.
type Engine struct {
	mu sync.Mutex

	combiner  *ensemble.Combiner
	breaker   *breaker.Breaker
	sizer     *sizing.Sizer
	portfolio *portfolio.Portfolio
	recorder  Recorder

	transactionCost       float64
	slippage              float64
	stopLossAtrMultiplier float64
	takeProfitRiskReward  float64

	logger zerolog.Logger
	now    func() time.Time
}

// New wires the pipeline components together. recorder may be nil when
// persistence is handled elsewhere.
func New(
	cfg config.ExecutionConfig,
	combiner *ensemble.Combiner,
	brk *breaker.Breaker,
	sizer *sizing.Sizer,
	pf *portfolio.Portfolio,
	recorder Recorder,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		combiner:              combiner,
		breaker:               brk,
		sizer:                 sizer,
		portfolio:             pf,
		recorder:              recorder,
		transactionCost:       cfg.TransactionCost,
		slippage:              cfg.Slippage,
		stopLossAtrMultiplier: cfg.StopLossAtrMultiplier,
		takeProfitRiskReward:  cfg.TakeProfitRiskReward,
		logger:                logger,
		now:                   time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// Decide combines the cycle's model votes and executes the resulting
// signal against the current quote.
func (e *Engine) Decide(votes []models.ModelVote, quote models.Quote) models.ExecutionResult {
	signal := e.combiner.Combine(votes)
	logging.LogSignal(e.logger, quote.Symbol, signal.Label.String(),
		signal.Confidence, signal.AgreementLevel, signal.Actionable)
	return e.Execute(signal, quote)
}

// Execute runs one decision cycle for a combined signal. The returned
// result always carries a terminal status; expected rejections
// (breaker, balance) are results, not errors.
func (e *Engine) Execute(signal models.CombinedSignal, quote models.Quote) models.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if signal.Label == models.Hold || !signal.Actionable {
		return e.record(e.skipped(quote.Symbol, "signal is hold or not actionable"))
	}

	if err := e.breaker.Validate(); err != nil {
		return e.record(e.rejected(quote.Symbol, err.Error()))
	}

	side := models.SideLong
	if signal.Label == models.Sell {
		side = models.SideShort
	}

	if pos, open := e.portfolio.Position(quote.Symbol); open {
		if pos.Side == side {
			return e.record(e.skipped(quote.Symbol, "position already open on signal side"))
		}
		return e.record(e.closePosition(quote.Symbol, quote.Price, models.CloseSignal))
	}

	return e.record(e.openPosition(side, signal, quote))
}

// openPosition performs the flat-entry leg of the pipeline. Callers
// hold the engine lock.
func (e *Engine) openPosition(side models.Side, signal models.CombinedSignal, quote models.Quote) models.ExecutionResult {
	execPrice := e.fillPrice(quote.Price, side)
	stopLoss, takeProfit := e.protectionLevels(execPrice, quote.ATR, side)

	volatility := 0.0
	if quote.Price > 0 {
		volatility = quote.ATR / quote.Price
	}
	notional := e.sizer.Size(e.portfolio.Balance(), sizing.Input{
		Confidence: signal.Confidence,
		Volatility: volatility,
		EntryPrice: execPrice,
		StopLoss:   stopLoss,
	})
	if notional <= 0 {
		return e.rejected(quote.Symbol, errors.ErrInvalidSize.Error())
	}

	size := notional / execPrice
	fee := notional * e.transactionCost

	if e.portfolio.Balance() < notional+fee {
		return e.rejected(quote.Symbol, errors.ErrInsufficientBalance.Error())
	}
	if err := e.portfolio.Debit(notional + fee); err != nil {
		return e.rejected(quote.Symbol, err.Error())
	}

	pos, err := e.portfolio.Open(quote.Symbol, side, execPrice, size, stopLoss, takeProfit)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", quote.Symbol).Msg("Open failed after debit")
		return models.ExecutionResult{
			ID:        uuid.NewString(),
			Symbol:    quote.Symbol,
			Status:    models.StatusFailed,
			Reason:    err.Error(),
			Timestamp: e.now(),
		}
	}

	e.breaker.RecordTrade()

	logging.LogExecution(e.logger, quote.Symbol, string(models.StatusFilled),
		string(side), execPrice, size, e.portfolio.Balance())

	return models.ExecutionResult{
		ID:           uuid.NewString(),
		Symbol:       quote.Symbol,
		Status:       models.StatusFilled,
		Side:         pos.Side,
		Price:        execPrice,
		Size:         size,
		Fee:          fee,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		BalanceAfter: e.portfolio.Balance(),
		Timestamp:    e.now(),
	}
}

// closePosition closes the open position at exitPrice and persists the
// resulting trade. Callers hold the engine lock.
func (e *Engine) closePosition(symbol string, exitPrice float64, reason models.CloseReason) models.ExecutionResult {
	fee := 0.0
	if pos, ok := e.portfolio.Position(symbol); ok {
		fee = exitPrice * pos.Size * e.transactionCost
	}

	trade, err := e.portfolio.Close(symbol, exitPrice, reason, fee)
	if err != nil {
		return e.rejected(symbol, err.Error())
	}

	if e.recorder != nil {
		if err := e.recorder.SaveTrade(trade); err != nil {
			e.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Failed to persist trade")
		}
	}

	logging.LogTrade(e.logger, symbol, string(trade.Side), string(reason), trade.PnL)

	return models.ExecutionResult{
		ID:           uuid.NewString(),
		Symbol:       symbol,
		Status:       models.StatusClosed,
		Side:         trade.Side,
		Price:        exitPrice,
		Size:         trade.Size,
		Fee:          fee,
		BalanceAfter: e.portfolio.Balance(),
		Reason:       string(reason),
		Timestamp:    e.now(),
	}
}

// CheckStopLossTakeProfit closes the symbol's position when the current
// price has crossed its stop-loss or take-profit level. This and
// opposing signals are the only automatic close paths.
func (e *Engine) CheckStopLossTakeProfit(symbol string, currentPrice float64) (models.ExecutionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos, ok := e.portfolio.Position(symbol)
	if !ok {
		return models.ExecutionResult{}, false
	}

	reason, crossed := crossedLevel(pos, currentPrice)
	if !crossed {
		e.portfolio.MarkToMarket(map[string]float64{symbol: currentPrice})
		return models.ExecutionResult{}, false
	}

	result := e.record(e.closePosition(symbol, currentPrice, reason))
	return result, true
}

// crossedLevel reports which protection level currentPrice breaches,
// stop-loss taking precedence over take-profit.
func crossedLevel(pos models.Position, currentPrice float64) (models.CloseReason, bool) {
	if pos.Side == models.SideLong {
		if pos.StopLoss > 0 && currentPrice <= pos.StopLoss {
			return models.CloseStopLoss, true
		}
		if pos.TakeProfit > 0 && currentPrice >= pos.TakeProfit {
			return models.CloseTakeProfit, true
		}
		return "", false
	}
	if pos.StopLoss > 0 && currentPrice >= pos.StopLoss {
		return models.CloseStopLoss, true
	}
	if pos.TakeProfit > 0 && currentPrice <= pos.TakeProfit {
		return models.CloseTakeProfit, true
	}
	return "", false
}

// CloseAll closes every open position at the supplied prices. Symbols
// without a price are left open.
func (e *Engine) CloseAll(priceBySymbol map[string]float64, reason models.CloseReason) []models.ExecutionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	var results []models.ExecutionResult
	for _, symbol := range e.portfolio.OpenSymbols() {
		price, ok := priceBySymbol[symbol]
		if !ok || price <= 0 {
			continue
		}
		results = append(results, e.record(e.closePosition(symbol, price, reason)))
	}
	return results
}

// fillPrice simulates slippage: buys fill above the quote, sells below.
func (e *Engine) fillPrice(price float64, side models.Side) float64 {
	if side == models.SideLong {
		return price * (1 + e.slippage)
	}
	return price * (1 - e.slippage)
}

// protectionLevels derives stop-loss and take-profit from ATR. A
// non-positive ATR leaves the position unprotected.
func (e *Engine) protectionLevels(execPrice, atr float64, side models.Side) (stopLoss, takeProfit float64) {
	if atr <= 0 || e.stopLossAtrMultiplier <= 0 {
		return 0, 0
	}
	distance := atr * e.stopLossAtrMultiplier
	reward := distance * e.takeProfitRiskReward

	if side == models.SideLong {
		return execPrice - distance, execPrice + reward
	}
	return execPrice + distance, execPrice - reward
}

func (e *Engine) skipped(symbol, reason string) models.ExecutionResult {
	return models.ExecutionResult{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Status:    models.StatusSkipped,
		Reason:    reason,
		Timestamp: e.now(),
	}
}

func (e *Engine) rejected(symbol, reason string) models.ExecutionResult {
	e.logger.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Decision rejected")
	return models.ExecutionResult{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Status:    models.StatusRejected,
		Reason:    reason,
		Timestamp: e.now(),
	}
}

// record persists a result when a recorder is configured.
func (e *Engine) record(result models.ExecutionResult) models.ExecutionResult {
	if e.recorder != nil {
		if err := e.recorder.SaveResult(result); err != nil {
			e.logger.Error().Err(err).Str("result_id", result.ID).Msg("Failed to persist result")
		}
	}
	return result
}

// BreakerStatus exposes the breaker state for status queries.
func (e *Engine) BreakerStatus() models.BreakerStatus {
	return e.breaker.Status()
}

// ResetBreaker force-arms the breaker as an operator override.
func (e *Engine) ResetBreaker() {
	e.breaker.Reset()
}

// Snapshot exposes a consistent portfolio view.
func (e *Engine) Snapshot() models.PortfolioSnapshot {
	return e.portfolio.Snapshot()
}

// Trades returns the realized trade history.
func (e *Engine) Trades() []models.Trade {
	return e.portfolio.Trades()
}
