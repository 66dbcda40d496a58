package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ensemble-trader/internal/config"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dbPath := cfg.Trading.DatabasePath
	if dbPath == "" {
		dbPath = config.DefaultConfigDir() + "/trader.db"
	}
	dataStore, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, history and metrics will be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", dbPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Ensemble Trader - model-vote driven trading engine",
		Long: `Ensemble Trader combines per-timeframe model votes into one actionable
signal, sizes positions against account risk limits, and simulates the
resulting executions through a full position lifecycle with circuit
breaker protection.

Use 'trader help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ensemble-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newReplayCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newMetricsCmd(app))
	rootCmd.AddCommand(newSessionsCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Ensemble Trader v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading Configuration")
	output.Printf("  Symbol:           %s\n", cfg.Trading.Symbol)
	output.Printf("  Initial Balance:  %s\n", FormatCurrency(cfg.Trading.InitialBalance))
	output.Println()

	output.Bold("Ensemble Configuration")
	output.Printf("  Strategy:         %s\n", cfg.Ensemble.Strategy)
	output.Printf("  Min Confidence:   %.2f\n", cfg.Ensemble.MinCombinedConfidence)
	output.Println()

	output.Bold("Sizing Configuration")
	output.Printf("  Method:           %s\n", cfg.Sizing.Method)
	output.Printf("  Risk Per Trade:   %.1f%%\n", cfg.Sizing.RiskPerTrade*100)
	output.Printf("  Min Position:     %s\n", FormatCurrency(cfg.Sizing.MinPositionSize))
	output.Println()

	output.Bold("Risk Configuration")
	output.Printf("  Max Daily Loss:   %.1f%%\n", cfg.Risk.MaxDailyLossPercent*100)
	output.Printf("  Max Drawdown:     %.1f%%\n", cfg.Risk.MaxDrawdownPercent*100)
	output.Printf("  Max Consec Loss:  %d\n", cfg.Risk.MaxConsecutiveLosses)
	output.Printf("  Trade Spacing:    %ds\n", cfg.Risk.MinTimeBetweenTrades)
	output.Printf("  Cooldown:         %d min\n", cfg.Risk.CooldownMinutes)
	output.Println()

	output.Bold("Execution Configuration")
	output.Printf("  Transaction Cost: %.3f%%\n", cfg.Execution.TransactionCost*100)
	output.Printf("  Slippage:         %.3f%%\n", cfg.Execution.Slippage*100)
	output.Printf("  SL ATR Mult:      %.1f\n", cfg.Execution.StopLossAtrMultiplier)
	output.Printf("  TP Risk:Reward:   %.1f\n", cfg.Execution.TakeProfitRiskReward)
}
