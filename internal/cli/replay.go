package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"ensemble-trader/internal/analytics"
	"ensemble-trader/internal/breaker"
	"ensemble-trader/internal/cache"
	"ensemble-trader/internal/engine"
	"ensemble-trader/internal/ensemble"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/portfolio"
	"ensemble-trader/internal/sizing"
	"ensemble-trader/internal/store"
)

// DecisionCycle is one line of a replay input file: the market state and
// model votes for a single scheduler tick.
type DecisionCycle struct {
	Timestamp time.Time   `json:"timestamp"`
	Price     float64     `json:"price"`
	ATR       float64     `json:"atr"`
	Votes     []cycleVote `json:"votes"`
}

type cycleVote struct {
	Timeframe  string  `json:"timeframe"`
	Label      int     `json:"label"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
}

const riskReportCacheKey = "risk_report"

// session wires the full decision pipeline for one replay run.
type session struct {
	app       *App
	engine    *engine.Engine
	portfolio *portfolio.Portfolio
	breaker   *breaker.Breaker
	calc      *analytics.Calculator
	reports   *cache.Cache
	symbol    string
	startedAt time.Time
}

func newSession(app *App) *session {
	cfg := app.Config
	logger := logging.WithSymbol(app.Logger, cfg.Trading.Symbol)
	pf := portfolio.New(cfg.Trading.InitialBalance, logger)
	brk := breaker.New(cfg.Risk, pf, logger)
	combiner := ensemble.NewCombiner(cfg.Ensemble)
	sizer := sizing.NewSizer(cfg.Sizing)

	var recorder engine.Recorder
	if app.Store != nil {
		recorder = store.NewRecorder(app.Store)
	}

	return &session{
		app:       app,
		engine:    engine.New(cfg.Execution, combiner, brk, sizer, pf, recorder, logger),
		portfolio: pf,
		breaker:   brk,
		calc:      analytics.NewCalculator(0),
		reports:   cache.New(cache.Policy{TTL: time.Minute}),
		symbol:    cfg.Trading.Symbol,
		startedAt: time.Now(),
	}
}

// step processes one decision cycle: protection levels first, then the
// combined signal.
func (s *session) step(cycle DecisionCycle) models.ExecutionResult {
	if _, closed := s.engine.CheckStopLossTakeProfit(s.symbol, cycle.Price); closed {
		s.reports.Invalidate(riskReportCacheKey)
	}

	votes := make([]models.ModelVote, 0, len(cycle.Votes))
	for _, v := range cycle.Votes {
		votes = append(votes, models.ModelVote{
			Timeframe:  v.Timeframe,
			Label:      models.Label(v.Label),
			Confidence: v.Confidence,
			Weight:     v.Weight,
		})
	}

	result := s.engine.Decide(votes, models.Quote{
		Symbol:    s.symbol,
		Price:     cycle.Price,
		ATR:       cycle.ATR,
		Timestamp: cycle.Timestamp,
	})
	if result.Status == models.StatusFilled || result.Status == models.StatusClosed {
		s.reports.Invalidate(riskReportCacheKey)
	}
	return result
}

// riskReport returns the cached report, recomputing it after trades or
// TTL expiry.
func (s *session) riskReport() models.RiskReport {
	if v, ok := s.reports.Get(riskReportCacheKey); ok {
		return v.(models.RiskReport)
	}
	report := s.calc.Report(s.app.Config.Trading.InitialBalance, s.portfolio.Trades())
	s.reports.Set(riskReportCacheKey, report)
	return report
}

// finish closes remaining positions and persists the session summary.
func (s *session) finish(ctx context.Context, lastPrice float64) error {
	if lastPrice > 0 {
		s.engine.CloseAll(map[string]float64{s.symbol: lastPrice}, models.CloseEnd)
		s.reports.Invalidate(riskReportCacheKey)
	}

	if s.app.Store == nil {
		return nil
	}
	report := s.riskReport()
	snap := s.portfolio.Snapshot()
	return s.app.Store.SaveSessionSummary(ctx, store.SessionSummary{
		ID:             uuid.NewString(),
		Symbol:         s.symbol,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now(),
		InitialBalance: snap.InitialBalance,
		FinalBalance:   snap.Balance,
		TotalTrades:    report.Trades,
		WinRate:        report.WinRate,
		MaxDrawdown:    report.MaxDrawdown,
		SharpeRatio:    report.SharpeRatio,
	})
}

func newReplayCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <cycles-file>",
		Short: "Replay recorded decision cycles through the engine",
		Long: `Replay feeds a JSON-lines file of decision cycles through the full
pipeline: ensemble combination, circuit breaker validation, position
sizing and simulated execution. Each line holds the price, ATR and the
model votes for one tick. Remaining positions are closed at the last
price when the file ends.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			verbose, _ := cmd.Flags().GetBool("verbose")

			cycles, err := loadCycles(args[0])
			if err != nil {
				return err
			}
			if len(cycles) == 0 {
				return fmt.Errorf("no decision cycles in %s", args[0])
			}

			sess := newSession(app)
			counts := map[models.ExecutionStatus]int{}
			for _, cycle := range cycles {
				result := sess.step(cycle)
				counts[result.Status]++
				if verbose && result.Status != models.StatusSkipped {
					printResult(output, result)
				}
			}

			lastPrice := cycles[len(cycles)-1].Price
			if err := sess.finish(cmd.Context(), lastPrice); err != nil {
				app.Logger.Warn().Err(err).Msg("Failed to save session summary")
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"cycles":    len(cycles),
					"results":   counts,
					"portfolio": sess.portfolio.Snapshot(),
					"report":    sess.riskReport(),
				})
			}
			printSessionSummary(output, sess, len(cycles), counts)
			return nil
		},
	}

	cmd.Flags().Bool("verbose", false, "print every fill, close and rejection")
	return cmd
}

// loadCycles reads a JSON-lines file of decision cycles.
func loadCycles(path string) ([]DecisionCycle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cycles file: %w", err)
	}
	defer f.Close()

	var cycles []DecisionCycle
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var cycle DecisionCycle
		if err := json.Unmarshal(raw, &cycle); err != nil {
			return nil, fmt.Errorf("invalid cycle on line %d: %w", line, err)
		}
		if cycle.Price <= 0 {
			return nil, fmt.Errorf("invalid cycle on line %d: price must be positive", line)
		}
		cycles = append(cycles, cycle)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading cycles file: %w", err)
	}
	return cycles, nil
}

func printResult(output *Output, result models.ExecutionResult) {
	switch result.Status {
	case models.StatusFilled:
		output.Success("FILLED  %s %s %.6f @ %s (SL %s / TP %s)",
			result.Symbol, result.Side, result.Size,
			FormatPrice(result.Price), FormatPrice(result.StopLoss), FormatPrice(result.TakeProfit))
	case models.StatusClosed:
		output.Info("CLOSED  %s %s @ %s (%s)",
			result.Symbol, result.Side, FormatPrice(result.Price), result.Reason)
	case models.StatusRejected:
		output.Warning("REJECT  %s: %s", result.Symbol, result.Reason)
	case models.StatusFailed:
		output.Error("FAILED  %s: %s", result.Symbol, result.Reason)
	}
}

func printSessionSummary(output *Output, sess *session, cycles int, counts map[models.ExecutionStatus]int) {
	snap := sess.portfolio.Snapshot()
	report := sess.riskReport()

	output.Println()
	output.Bold("Session Summary")
	output.Printf("  Cycles:        %d\n", cycles)
	output.Printf("  Filled:        %d\n", counts[models.StatusFilled])
	output.Printf("  Closed:        %d\n", counts[models.StatusClosed])
	output.Printf("  Rejected:      %d\n", counts[models.StatusRejected])
	output.Printf("  Skipped:       %d\n", counts[models.StatusSkipped])
	output.Println()

	output.Bold("Portfolio")
	output.Printf("  Initial:       %s\n", FormatCurrency(snap.InitialBalance))
	output.Printf("  Final:         %s\n", FormatCurrency(snap.Balance))
	output.Printf("  P&L:           %s\n", output.FormatPnLColored(snap.Balance-snap.InitialBalance))
	output.Printf("  Peak:          %s\n", FormatCurrency(snap.PeakBalance))
	output.Println()

	printRiskReport(output, report)

	status := sess.breaker.Status()
	if status.Triggered {
		output.Warning("Circuit breaker triggered: %s", status.Reason)
	}
}

func printRiskReport(output *Output, report models.RiskReport) {
	output.Bold("Risk Metrics")
	output.Printf("  Trades:        %d\n", report.Trades)
	output.Printf("  Win Rate:      %.1f%%\n", report.WinRate*100)
	output.Printf("  VaR (95%%):     %s\n", FormatPercent(report.VaR*100))
	output.Printf("  CVaR (95%%):    %s\n", FormatPercent(report.CVaR*100))
	output.Printf("  Sharpe:        %.2f\n", report.SharpeRatio)
	output.Printf("  Sortino:       %.2f\n", report.SortinoRatio)
	output.Printf("  Max Drawdown:  %.1f%%\n", report.MaxDrawdown*100)
}
