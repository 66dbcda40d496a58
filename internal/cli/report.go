package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ensemble-trader/internal/analytics"
	"ensemble-trader/internal/store"
)

func newHistoryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			limit, _ := cmd.Flags().GetInt("limit")
			days, _ := cmd.Flags().GetInt("days")

			filter := store.TradeFilter{Symbol: symbol, Limit: limit}
			if days > 0 {
				filter.StartDate = time.Now().AddDate(0, 0, -days)
			}

			trades, err := app.Store.GetTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(trades)
			}
			if len(trades) == 0 {
				output.Dim("No trades found")
				return nil
			}

			table := NewTable(output, "CLOSED", "SYMBOL", "SIDE", "ENTRY", "EXIT", "SIZE", "P&L", "P&L %", "HELD", "REASON")
			for _, t := range trades {
				table.AddRow(
					t.ClosedAt.Format("02-Jan 15:04"),
					t.Symbol,
					string(t.Side),
					FormatPrice(t.EntryPrice),
					FormatPrice(t.ExitPrice),
					fmt.Sprintf("%.6f", t.Size),
					output.FormatPnLColored(t.PnL),
					FormatPercent(t.PnLPercent),
					FormatDuration(t.HoldingPeriod),
					string(t.CloseReason),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "filter by symbol")
	cmd.Flags().Int("limit", 50, "maximum trades to show")
	cmd.Flags().Int("days", 0, "only trades from the last N days")
	return cmd
}

func newMetricsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Compute risk metrics over stored trade history",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			symbol, _ := cmd.Flags().GetString("symbol")
			trades, err := app.Store.GetTrades(cmd.Context(), store.TradeFilter{Symbol: symbol})
			if err != nil {
				return err
			}

			calc := analytics.NewCalculator(0)
			report := calc.Report(app.Config.Trading.InitialBalance, trades)

			if output.IsJSON() {
				return output.JSON(report)
			}
			printRiskReport(output, report)
			if report.Trades >= 2 {
				output.Println()
				output.Dim("Annualized return: %s, volatility: %s",
					FormatPercent(report.AnnualizedReturn*100), FormatPercent(report.AnnualizedVol*100))
			}
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "filter by symbol")
	return cmd
}

func newSessionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent replay sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store unavailable")
			}

			limit, _ := cmd.Flags().GetInt("limit")
			summaries, err := app.Store.GetSessionSummaries(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(summaries)
			}
			if len(summaries) == 0 {
				output.Dim("No sessions recorded")
				return nil
			}

			table := NewTable(output, "STARTED", "SYMBOL", "TRADES", "WIN RATE", "P&L", "MAX DD", "SHARPE")
			for _, s := range summaries {
				table.AddRow(
					s.StartedAt.Format("02-Jan 15:04"),
					s.Symbol,
					fmt.Sprintf("%d", s.TotalTrades),
					fmt.Sprintf("%.1f%%", s.WinRate*100),
					output.FormatPnLColored(s.FinalBalance-s.InitialBalance),
					fmt.Sprintf("%.1f%%", s.MaxDrawdown*100),
					fmt.Sprintf("%.2f", s.SharpeRatio),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().Int("limit", 20, "maximum sessions to show")
	return cmd
}
