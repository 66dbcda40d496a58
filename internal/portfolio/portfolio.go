// Package portfolio owns account balance and open-position state through
// the position lifecycle: flat, open, flat again.
package portfolio

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// Portfolio is the single shared mutable aggregate of the engine.
// Balance changes only inside Debit and Close; positions are created in
// Open and destroyed (converted to Trades) in Close. Reads return
// copy-on-read snapshots so concurrent status queries observe a
// consistent view.
type Portfolio struct {
	mu             sync.RWMutex
	balance        float64
	initialBalance float64
	peakBalance    float64
	equity         float64
	positions      map[string]*models.Position
	trades         []models.Trade

	logger zerolog.Logger
	now    func() time.Time
}

// New creates a portfolio with the given starting balance.
func New(initialBalance float64, logger zerolog.Logger) *Portfolio {
	return &Portfolio{
		balance:        initialBalance,
		initialBalance: initialBalance,
		peakBalance:    initialBalance,
		equity:         initialBalance,
		positions:      make(map[string]*models.Position),
		logger:         logger,
		now:            time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (p *Portfolio) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Open creates a position for symbol. It fails with ErrDuplicatePosition
// if one already exists (the caller must close or reverse first) and
// with ErrInvalidSize for non-positive size or entry price. Open never
// touches balance; the debit is the orchestrator's responsibility so
// sizing and fee logic stay there.
func (p *Portfolio) Open(symbol string, side models.Side, entryPrice, size, stopLoss, takeProfit float64) (models.Position, error) {
	if size <= 0 || entryPrice <= 0 {
		return models.Position{}, errors.ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.positions[symbol]; exists {
		return models.Position{}, errors.ErrDuplicatePosition
	}

	pos := &models.Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entryPrice,
		Size:       size,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		OpenedAt:   p.now(),
	}
	p.positions[symbol] = pos

	p.logger.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", entryPrice).
		Float64("size", size).
		Msg("Position opened")

	return *pos, nil
}

// Close converts the open position for symbol into an immutable Trade,
// removes it, and credits balance with the entry notional plus realized
// PnL, net of the orchestrator-applied fee. Fails with
// ErrNoPositionToClose when the symbol is flat.
func (p *Portfolio) Close(symbol string, exitPrice float64, reason models.CloseReason, fee float64) (models.Trade, error) {
	if exitPrice <= 0 {
		return models.Trade{}, errors.NewExecutionError(symbol, "close", "exit price must be positive", errors.ErrInvalidSize)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos, exists := p.positions[symbol]
	if !exists {
		return models.Trade{}, errors.ErrNoPositionToClose
	}

	pnl := pos.PnLAt(exitPrice)
	notional := pos.Notional()
	pnlPercent := 0.0
	if notional > 0 {
		pnlPercent = pnl / notional * 100
	}

	now := p.now()
	trade := models.Trade{
		ID:            uuid.NewString(),
		Symbol:        symbol,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		Size:          pos.Size,
		PnL:           pnl,
		PnLPercent:    pnlPercent,
		HoldingPeriod: now.Sub(pos.OpenedAt),
		CloseReason:   reason,
		ClosedAt:      now,
	}

	delete(p.positions, symbol)
	p.trades = append(p.trades, trade)
	p.credit(notional + pnl - fee)
	p.refreshEquityLocked()

	p.logger.Info().
		Str("symbol", symbol).
		Str("side", string(trade.Side)).
		Str("reason", string(reason)).
		Float64("pnl", pnl).
		Float64("balance", p.balance).
		Msg("Position closed")

	return trade, nil
}

// Debit atomically withdraws amount from balance, rejecting with
// ErrInsufficientBalance if the balance would go negative. No committed
// operation may leave the balance below zero.
func (p *Portfolio) Debit(amount float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if amount < 0 {
		return errors.ErrInvalidSize
	}
	if p.balance < amount {
		return errors.ErrInsufficientBalance
	}
	p.balance -= amount
	p.refreshEquityLocked()
	return nil
}

// credit adds amount to balance and tracks the peak. Callers hold the lock.
func (p *Portfolio) credit(amount float64) {
	p.balance += amount
	if p.balance < 0 {
		// Fee larger than the credited remainder; floor at zero so the
		// balance invariant survives pathological fee configuration.
		p.balance = 0
	}
	if p.balance > p.peakBalance {
		p.peakBalance = p.balance
	}
}

// MarkToMarket recomputes unrealized PnL for all open positions from the
// supplied prices and refreshes equity. Symbols without a price keep
// their previous mark.
func (p *Portfolio) MarkToMarket(priceBySymbol map[string]float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for symbol, pos := range p.positions {
		price, ok := priceBySymbol[symbol]
		if !ok || price <= 0 {
			continue
		}
		pos.UnrealizedPnL = pos.PnLAt(price)
	}
	p.refreshEquityLocked()
}

func (p *Portfolio) refreshEquityLocked() {
	equity := p.balance
	for _, pos := range p.positions {
		equity += pos.UnrealizedPnL
	}
	p.equity = equity
}

// Position returns a copy of the open position for symbol, if any.
func (p *Portfolio) Position(symbol string) (models.Position, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// OpenSymbols returns the symbols with an open position.
func (p *Portfolio) OpenSymbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	symbols := make([]string, 0, len(p.positions))
	for s := range p.positions {
		symbols = append(symbols, s)
	}
	return symbols
}

// Balance returns the current cash balance.
func (p *Portfolio) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Snapshot returns a consistent copy of the portfolio state.
func (p *Portfolio) Snapshot() models.PortfolioSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	positions := make([]models.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, *pos)
	}

	return models.PortfolioSnapshot{
		Balance:        p.balance,
		InitialBalance: p.initialBalance,
		Equity:         p.equity,
		PeakBalance:    p.peakBalance,
		OpenPositions:  positions,
		ClosedTrades:   len(p.trades),
	}
}

// Trades returns a copy of the closed-trade history, oldest first.
func (p *Portfolio) Trades() []models.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()

	trades := make([]models.Trade, len(p.trades))
	copy(trades, p.trades)
	return trades
}

// TradesSince returns trades closed at or after t, oldest first.
func (p *Portfolio) TradesSince(t time.Time) []models.Trade {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []models.Trade
	for _, tr := range p.trades {
		if !tr.ClosedAt.Before(t) {
			out = append(out, tr)
		}
	}
	return out
}
