package engine

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/breaker"
	"ensemble-trader/internal/config"
	"ensemble-trader/internal/ensemble"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/portfolio"
	"ensemble-trader/internal/sizing"
)

// memRecorder captures persisted results and trades for assertions.
type memRecorder struct {
	results []models.ExecutionResult
	trades  []models.Trade
}

func (r *memRecorder) SaveResult(result models.ExecutionResult) error {
	r.results = append(r.results, result)
	return nil
}

func (r *memRecorder) SaveTrade(trade models.Trade) error {
	r.trades = append(r.trades, trade)
	return nil
}

type fixture struct {
	engine    *Engine
	portfolio *portfolio.Portfolio
	breaker   *breaker.Breaker
	recorder  *memRecorder
}

// newFixture builds an engine with zero slippage and zero fees so the
// arithmetic in assertions stays exact. Sizing is fixed-fractional with
// riskPerTrade 0.1, so a confidence-0.5 signal on a 100000 balance
// yields a 5000 notional.
func newFixture(balance float64) *fixture {
	execCfg := config.ExecutionConfig{
		TransactionCost:       0,
		Slippage:              0,
		StopLossAtrMultiplier: 2.0,
		TakeProfitRiskReward:  2.0,
	}
	pf := portfolio.New(balance, zerolog.Nop())
	brk := breaker.New(config.RiskConfig{
		MaxDailyLossPercent:  0.5,
		MaxDrawdownPercent:   0.9,
		MaxConsecutiveLosses: 100,
		MinTimeBetweenTrades: 0,
		CooldownMinutes:      60,
	}, pf, zerolog.Nop())
	combiner := ensemble.NewCombiner(config.EnsembleConfig{
		Strategy:              config.StrategyConfirmation,
		MinCombinedConfidence: 0.5,
	})
	sizer := sizing.NewSizer(config.SizingConfig{
		Method:          config.SizingFixedFractional,
		RiskPerTrade:    0.1,
		MaxPositionSize: balance,
		MinPositionSize: 1,
	})
	rec := &memRecorder{}
	return &fixture{
		engine:    New(execCfg, combiner, brk, sizer, pf, rec, zerolog.Nop()),
		portfolio: pf,
		breaker:   brk,
		recorder:  rec,
	}
}

func buySignal(confidence float64) models.CombinedSignal {
	return models.CombinedSignal{
		Label:          models.Buy,
		Confidence:     confidence,
		ModelsAgree:    true,
		AgreementLevel: 1.0,
		Actionable:     true,
	}
}

func sellSignal(confidence float64) models.CombinedSignal {
	s := buySignal(confidence)
	s.Label = models.Sell
	return s
}

func quote(price, atr float64) models.Quote {
	return models.Quote{Symbol: "BTCUSD", Price: price, ATR: atr}
}

func TestExecute_HoldSkipped(t *testing.T) {
	f := newFixture(100000)

	result := f.engine.Execute(models.CombinedSignal{Label: models.Hold}, quote(50000, 500))
	if result.Status != models.StatusSkipped {
		t.Errorf("status = %q, want skipped", result.Status)
	}
	if _, open := f.portfolio.Position("BTCUSD"); open {
		t.Error("hold must not open a position")
	}
}

func TestExecute_FillsLong(t *testing.T) {
	f := newFixture(100000)

	result := f.engine.Execute(buySignal(0.5), quote(50000, 500))
	if result.Status != models.StatusFilled {
		t.Fatalf("status = %q (%s), want filled", result.Status, result.Reason)
	}
	if result.Side != models.SideLong {
		t.Errorf("side = %q, want long", result.Side)
	}
	// 100000 * 0.1 * 0.5 = 5000 notional at 50000 = 0.1 units.
	if math.Abs(result.Size-0.1) > 1e-9 {
		t.Errorf("size = %v, want 0.1", result.Size)
	}
	if math.Abs(result.StopLoss-49000) > 1e-9 {
		t.Errorf("stop loss = %v, want 49000", result.StopLoss)
	}
	if math.Abs(result.TakeProfit-52000) > 1e-9 {
		t.Errorf("take profit = %v, want 52000", result.TakeProfit)
	}
	if math.Abs(result.BalanceAfter-95000) > 1e-9 {
		t.Errorf("balance after = %v, want 95000", result.BalanceAfter)
	}
}

func TestExecute_SlippageAdjustsFill(t *testing.T) {
	f := newFixture(100000)
	f.engine.slippage = 0.001

	long := f.engine.Execute(buySignal(0.5), quote(50000, 500))
	if math.Abs(long.Price-50050) > 1e-9 {
		t.Errorf("long fill = %v, want 50050", long.Price)
	}

	g := newFixture(100000)
	g.engine.slippage = 0.001
	short := g.engine.Execute(sellSignal(0.5), quote(50000, 500))
	if math.Abs(short.Price-49950) > 1e-9 {
		t.Errorf("short fill = %v, want 49950", short.Price)
	}
}

func TestExecute_SameSideSkipped(t *testing.T) {
	f := newFixture(100000)

	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}
	result := f.engine.Execute(buySignal(0.8), quote(51000, 500))
	if result.Status != models.StatusSkipped {
		t.Errorf("status = %q, want skipped on same-side signal", result.Status)
	}
}

func TestExecute_OppositeSignalCloses(t *testing.T) {
	f := newFixture(100000)

	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}

	result := f.engine.Execute(sellSignal(0.8), quote(51000, 500))
	if result.Status != models.StatusClosed {
		t.Fatalf("status = %q, want closed", result.Status)
	}
	if result.Reason != string(models.CloseSignal) {
		t.Errorf("reason = %q, want signal", result.Reason)
	}
	if _, open := f.portfolio.Position("BTCUSD"); open {
		t.Error("position should be flat after opposing signal")
	}
	// Reversal stops after the close; no short was opened this cycle.
	if len(f.recorder.trades) != 1 {
		t.Errorf("persisted trades = %d, want 1", len(f.recorder.trades))
	}
}

func TestExecute_BreakerRejects(t *testing.T) {
	f := newFixture(100000)

	// Immediate revalidation after a fill breaches min spacing.
	f.breaker.RecordTrade()
	brkCfg := config.RiskConfig{
		MaxDailyLossPercent:  0.5,
		MaxDrawdownPercent:   0.9,
		MaxConsecutiveLosses: 100,
		MinTimeBetweenTrades: 300,
		CooldownMinutes:      60,
	}
	f.engine.breaker = breaker.New(brkCfg, f.portfolio, zerolog.Nop())
	f.engine.breaker.RecordTrade()

	result := f.engine.Execute(buySignal(0.8), quote(50000, 500))
	if result.Status != models.StatusRejected {
		t.Errorf("status = %q, want rejected", result.Status)
	}
	if result.Reason == "" {
		t.Error("rejection must carry a reason")
	}
}

func TestExecute_InsufficientBalance(t *testing.T) {
	f := newFixture(100)
	f.engine.transactionCost = 0.01
	f.engine.sizer = sizing.NewSizer(config.SizingConfig{
		Method:          config.SizingFixedFractional,
		RiskPerTrade:    1.0,
		MaxPositionSize: 10000,
		MinPositionSize: 1,
	})

	result := f.engine.Execute(buySignal(1.0), quote(50000, 500))
	if result.Status != models.StatusRejected {
		t.Fatalf("status = %q, want rejected", result.Status)
	}
	if f.portfolio.Balance() != 100 {
		t.Errorf("balance = %v, want untouched 100", f.portfolio.Balance())
	}
}

func TestCheckStopLossTakeProfit_StopLoss(t *testing.T) {
	f := newFixture(100000)

	// Long 0.1 units at 50000 with stop at 49000.
	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}

	result, closed := f.engine.CheckStopLossTakeProfit("BTCUSD", 48900)
	if !closed {
		t.Fatal("price through the stop must close the position")
	}
	if result.Reason != string(models.CloseStopLoss) {
		t.Errorf("reason = %q, want stop_loss", result.Reason)
	}

	trades := f.portfolio.Trades()
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	wantPnL := (48900.0 - 50000.0) * 0.1
	if math.Abs(trades[0].PnL-wantPnL) > 1e-9 {
		t.Errorf("pnl = %v, want %v", trades[0].PnL, wantPnL)
	}
}

func TestCheckStopLossTakeProfit_TakeProfit(t *testing.T) {
	f := newFixture(100000)

	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}

	result, closed := f.engine.CheckStopLossTakeProfit("BTCUSD", 52100)
	if !closed {
		t.Fatal("price through the target must close the position")
	}
	if result.Reason != string(models.CloseTakeProfit) {
		t.Errorf("reason = %q, want take_profit", result.Reason)
	}
}

func TestCheckStopLossTakeProfit_InsideBandMarksToMarket(t *testing.T) {
	f := newFixture(100000)

	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}

	_, closed := f.engine.CheckStopLossTakeProfit("BTCUSD", 50500)
	if closed {
		t.Fatal("price inside the band must not close")
	}
	pos, _ := f.portfolio.Position("BTCUSD")
	if math.Abs(pos.UnrealizedPnL-50) > 1e-9 {
		t.Errorf("unrealized pnl = %v, want 50", pos.UnrealizedPnL)
	}
}

func TestCheckStopLossTakeProfit_Flat(t *testing.T) {
	f := newFixture(100000)

	if _, closed := f.engine.CheckStopLossTakeProfit("BTCUSD", 48000); closed {
		t.Error("flat symbol must not report a close")
	}
}

func TestDecide_EndToEnd(t *testing.T) {
	f := newFixture(100000)

	votes := []models.ModelVote{
		{Timeframe: "1h", Label: models.Buy, Confidence: 0.8, Weight: 0.5},
		{Timeframe: "4h", Label: models.Buy, Confidence: 0.7, Weight: 0.5},
	}
	result := f.engine.Decide(votes, quote(50000, 500))
	if result.Status != models.StatusFilled {
		t.Fatalf("status = %q (%s), want filled", result.Status, result.Reason)
	}
	if result.Side != models.SideLong {
		t.Errorf("side = %q, want long", result.Side)
	}
}

func TestDecide_DisagreementHolds(t *testing.T) {
	f := newFixture(100000)

	votes := []models.ModelVote{
		{Timeframe: "1h", Label: models.Buy, Confidence: 0.9, Weight: 0.5},
		{Timeframe: "4h", Label: models.Sell, Confidence: 0.9, Weight: 0.5},
	}
	result := f.engine.Decide(votes, quote(50000, 500))
	if result.Status != models.StatusSkipped {
		t.Errorf("status = %q, want skipped on disagreement", result.Status)
	}
}

func TestCloseAll(t *testing.T) {
	f := newFixture(100000)

	if r := f.engine.Execute(buySignal(0.5), quote(50000, 500)); r.Status != models.StatusFilled {
		t.Fatalf("setup fill failed: %s", r.Reason)
	}

	results := f.engine.CloseAll(map[string]float64{"BTCUSD": 50000}, models.CloseEnd)
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Status != models.StatusClosed {
		t.Errorf("status = %q, want closed", results[0].Status)
	}
	if results[0].Reason != string(models.CloseEnd) {
		t.Errorf("reason = %q, want end", results[0].Reason)
	}
	// Zero fees and an unchanged price restore the starting balance.
	if math.Abs(f.portfolio.Balance()-100000) > 1e-9 {
		t.Errorf("balance = %v, want 100000", f.portfolio.Balance())
	}
}

func TestRecorderReceivesResults(t *testing.T) {
	f := newFixture(100000)

	f.engine.Execute(buySignal(0.5), quote(50000, 500))
	f.engine.Execute(sellSignal(0.8), quote(51000, 500))

	if len(f.recorder.results) != 2 {
		t.Errorf("persisted results = %d, want 2", len(f.recorder.results))
	}
	if len(f.recorder.trades) != 1 {
		t.Errorf("persisted trades = %d, want 1", len(f.recorder.trades))
	}
}
