// Package config provides configuration management for the trading engine.
package config

import (
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"

	"ensemble-trader/internal/errors"
)

// Ensemble strategies.
const (
	StrategyConfirmation = "confirmation"
	StrategyWeighted     = "weighted"
	StrategyVoting       = "voting"
)

// Sizing methods.
const (
	SizingFixedFractional    = "fixed_fractional"
	SizingKellyCriterion     = "kelly_criterion"
	SizingVolatilityAdjusted = "volatility_adjusted"
	SizingStopLossBased      = "stop_loss_based"
)

// Config holds all application configuration.
type Config struct {
	Trading   TradingConfig   `mapstructure:"trading"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Log       LogConfig       `mapstructure:"log"`
}

// TradingConfig holds session-level configuration.
type TradingConfig struct {
	Symbol         string  `mapstructure:"symbol"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	DatabasePath   string  `mapstructure:"database_path"`
}

// EnsembleConfig holds ensemble combination configuration.
type EnsembleConfig struct {
	Strategy              string             `mapstructure:"strategy"`
	MinCombinedConfidence float64            `mapstructure:"min_combined_confidence"`
	ModelWeights          map[string]float64 `mapstructure:"model_weights"` // timeframe -> weight
}

// SizingConfig holds position sizing configuration.
type SizingConfig struct {
	Method          string  `mapstructure:"method"`
	RiskPerTrade    float64 `mapstructure:"risk_per_trade"`
	MaxPositionSize float64 `mapstructure:"max_position_size"` // 0 = 25% of balance
	MinPositionSize float64 `mapstructure:"min_position_size"`
}

// RiskConfig holds circuit breaker configuration.
type RiskConfig struct {
	MaxDailyLossPercent  float64 `mapstructure:"max_daily_loss_percent"`
	MaxDrawdownPercent   float64 `mapstructure:"max_drawdown_percent"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
	MinTimeBetweenTrades int     `mapstructure:"min_time_between_trades"` // seconds
	CooldownMinutes      int     `mapstructure:"cooldown_minutes"`
}

// ExecutionConfig holds simulated execution configuration.
type ExecutionConfig struct {
	TransactionCost       float64 `mapstructure:"transaction_cost"`
	Slippage              float64 `mapstructure:"slippage"`
	StopLossAtrMultiplier float64 `mapstructure:"stop_loss_atr_multiplier"`
	TakeProfitRiskReward  float64 `mapstructure:"take_profit_risk_reward"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    bool   `mapstructure:"file"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ensemble-trader"
	}
	return filepath.Join(home, ".config", "ensemble-trader")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config file is not an error; defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "reading config.toml")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.symbol", "BTCUSD")
	v.SetDefault("trading.initial_balance", 10000.0)
	v.SetDefault("trading.database_path", filepath.Join(DefaultConfigDir(), "trader.db"))

	v.SetDefault("ensemble.strategy", StrategyConfirmation)
	v.SetDefault("ensemble.min_combined_confidence", 0.6)

	v.SetDefault("sizing.method", SizingFixedFractional)
	v.SetDefault("sizing.risk_per_trade", 0.02)
	v.SetDefault("sizing.max_position_size", 0.0)
	v.SetDefault("sizing.min_position_size", 10.0)

	v.SetDefault("risk.max_daily_loss_percent", 0.05)
	v.SetDefault("risk.max_drawdown_percent", 0.15)
	v.SetDefault("risk.max_consecutive_losses", 3)
	v.SetDefault("risk.min_time_between_trades", 300)
	v.SetDefault("risk.cooldown_minutes", 60)

	v.SetDefault("execution.transaction_cost", 0.001)
	v.SetDefault("execution.slippage", 0.0005)
	v.SetDefault("execution.stop_loss_atr_multiplier", 2.0)
	v.SetDefault("execution.take_profit_risk_reward", 2.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", true)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRADER_SYMBOL"); v != "" {
		cfg.Trading.Symbol = v
	}
	if v := os.Getenv("TRADER_INITIAL_BALANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Trading.InitialBalance = f
		}
	}
	if v := os.Getenv("TRADER_ENSEMBLE_STRATEGY"); v != "" {
		cfg.Ensemble.Strategy = v
	}
	if v := os.Getenv("TRADER_SIZING_METHOD"); v != "" {
		cfg.Sizing.Method = v
	}
	if v := os.Getenv("TRADER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate validates the configuration. Any violation is fatal at
// startup; the engine never degrades to defaults at call time.
func (c *Config) Validate() error {
	switch c.Ensemble.Strategy {
	case StrategyConfirmation, StrategyWeighted, StrategyVoting:
	default:
		return errors.NewConfigError("ensemble.strategy", c.Ensemble.Strategy, "must be confirmation, weighted or voting")
	}

	switch c.Sizing.Method {
	case SizingFixedFractional, SizingKellyCriterion, SizingVolatilityAdjusted, SizingStopLossBased:
	default:
		return errors.NewConfigError("sizing.method", c.Sizing.Method, "unknown sizing method")
	}

	if c.Trading.InitialBalance <= 0 {
		return errors.NewConfigError("trading.initial_balance", c.Trading.InitialBalance, "must be positive")
	}
	if c.Ensemble.MinCombinedConfidence < 0 || c.Ensemble.MinCombinedConfidence > 1 {
		return errors.NewConfigError("ensemble.min_combined_confidence", c.Ensemble.MinCombinedConfidence, "must be in [0, 1]")
	}
	if len(c.Ensemble.ModelWeights) > 0 {
		var sum float64
		for tf, w := range c.Ensemble.ModelWeights {
			if w < 0 {
				return errors.NewConfigError("ensemble.model_weights."+tf, w, "weight must be non-negative")
			}
			sum += w
		}
		if math.Abs(sum-1.0) > 1e-6 {
			return errors.NewConfigError("ensemble.model_weights", sum, "weights must sum to 1")
		}
	}

	if c.Sizing.RiskPerTrade <= 0 || c.Sizing.RiskPerTrade > 1 {
		return errors.NewConfigError("sizing.risk_per_trade", c.Sizing.RiskPerTrade, "must be in (0, 1]")
	}
	if c.Sizing.MinPositionSize < 0 {
		return errors.NewConfigError("sizing.min_position_size", c.Sizing.MinPositionSize, "must be non-negative")
	}
	if c.Sizing.MaxPositionSize < 0 {
		return errors.NewConfigError("sizing.max_position_size", c.Sizing.MaxPositionSize, "must be non-negative")
	}
	if c.Sizing.MaxPositionSize > 0 && c.Sizing.MinPositionSize > c.Sizing.MaxPositionSize {
		return errors.NewConfigError("sizing.min_position_size", c.Sizing.MinPositionSize, "exceeds max_position_size")
	}

	if c.Risk.MaxDailyLossPercent <= 0 || c.Risk.MaxDailyLossPercent >= 1 {
		return errors.NewConfigError("risk.max_daily_loss_percent", c.Risk.MaxDailyLossPercent, "must be in (0, 1)")
	}
	if c.Risk.MaxDrawdownPercent <= 0 || c.Risk.MaxDrawdownPercent >= 1 {
		return errors.NewConfigError("risk.max_drawdown_percent", c.Risk.MaxDrawdownPercent, "must be in (0, 1)")
	}
	if c.Risk.MaxConsecutiveLosses < 1 {
		return errors.NewConfigError("risk.max_consecutive_losses", c.Risk.MaxConsecutiveLosses, "must be at least 1")
	}
	if c.Risk.MinTimeBetweenTrades < 0 {
		return errors.NewConfigError("risk.min_time_between_trades", c.Risk.MinTimeBetweenTrades, "must be non-negative")
	}
	if c.Risk.CooldownMinutes <= 0 {
		return errors.NewConfigError("risk.cooldown_minutes", c.Risk.CooldownMinutes, "must be positive")
	}

	if c.Execution.TransactionCost < 0 || c.Execution.Slippage < 0 {
		return errors.NewConfigError("execution", c.Execution, "transaction_cost and slippage must be non-negative")
	}
	if c.Execution.StopLossAtrMultiplier <= 0 {
		return errors.NewConfigError("execution.stop_loss_atr_multiplier", c.Execution.StopLossAtrMultiplier, "must be positive")
	}
	if c.Execution.TakeProfitRiskReward <= 0 {
		return errors.NewConfigError("execution.take_profit_risk_reward", c.Execution.TakeProfitRiskReward, "must be positive")
	}

	return nil
}
