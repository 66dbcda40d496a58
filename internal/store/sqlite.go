package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ensemble-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Trades table for closed positions
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		size REAL NOT NULL,
		pnl REAL NOT NULL,
		pnl_percent REAL NOT NULL,
		holding_period INTEGER NOT NULL,
		close_reason TEXT NOT NULL,
		closed_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Execution results table for every decision outcome
	CREATE TABLE IF NOT EXISTS execution_results (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		status TEXT NOT NULL,
		side TEXT,
		price REAL,
		size REAL,
		fee REAL,
		stop_loss REAL,
		take_profit REAL,
		balance_after REAL,
		reason TEXT,
		timestamp DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Session summaries table
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		initial_balance REAL NOT NULL,
		final_balance REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at);
	CREATE INDEX IF NOT EXISTS idx_results_symbol ON execution_results(symbol);
	CREATE INDEX IF NOT EXISTS idx_results_status ON execution_results(status);
	CREATE INDEX IF NOT EXISTS idx_results_timestamp ON execution_results(timestamp);
	CREATE INDEX IF NOT EXISTS idx_sessions_symbol ON sessions(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LogTrade saves a closed trade to the database.
func (s *SQLiteStore) LogTrade(ctx context.Context, trade models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, entry_price, exit_price, size, pnl, pnl_percent, holding_period, close_reason, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, string(trade.Side), trade.EntryPrice, trade.ExitPrice, trade.Size,
		trade.PnL, trade.PnLPercent, trade.HoldingPeriod.Nanoseconds(), string(trade.CloseReason), trade.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}
	return nil
}

// GetTrades retrieves trades from the database.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, symbol, side, entry_price, exit_price, size, pnl, pnl_percent, holding_period, close_reason, closed_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if filter.CloseReason != "" {
		query += " AND close_reason = ?"
		args = append(args, string(filter.CloseReason))
	}
	if !filter.StartDate.IsZero() {
		query += " AND closed_at >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND closed_at <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY closed_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side, reason string
		var holdingNs int64

		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice, &t.Size,
			&t.PnL, &t.PnLPercent, &holdingNs, &reason, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.Side(side)
		t.CloseReason = models.CloseReason(reason)
		t.HoldingPeriod = time.Duration(holdingNs)
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// LogResult saves an execution result to the database.
func (s *SQLiteStore) LogResult(ctx context.Context, result models.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_results (id, symbol, status, side, price, size, fee, stop_loss, take_profit, balance_after, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.ID, result.Symbol, string(result.Status), string(result.Side), result.Price, result.Size,
		result.Fee, result.StopLoss, result.TakeProfit, result.BalanceAfter, result.Reason, result.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to log result: %w", err)
	}
	return nil
}

// GetResults retrieves execution results from the database.
func (s *SQLiteStore) GetResults(ctx context.Context, filter ResultFilter) ([]models.ExecutionResult, error) {
	query := "SELECT id, symbol, status, side, price, size, fee, stop_loss, take_profit, balance_after, reason, timestamp FROM execution_results WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}

	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []models.ExecutionResult
	for rows.Next() {
		var r models.ExecutionResult
		var status, side string

		if err := rows.Scan(&r.ID, &r.Symbol, &status, &side, &r.Price, &r.Size, &r.Fee,
			&r.StopLoss, &r.TakeProfit, &r.BalanceAfter, &r.Reason, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Status = models.ExecutionStatus(status)
		r.Side = models.Side(side)
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}

	return results, nil
}

// SaveSessionSummary saves an end-of-session rollup.
func (s *SQLiteStore) SaveSessionSummary(ctx context.Context, summary SessionSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, symbol, started_at, ended_at, initial_balance, final_balance, total_trades, win_rate, max_drawdown, sharpe_ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.ID, summary.Symbol, summary.StartedAt, summary.EndedAt, summary.InitialBalance,
		summary.FinalBalance, summary.TotalTrades, summary.WinRate, summary.MaxDrawdown, summary.SharpeRatio)
	if err != nil {
		return fmt.Errorf("failed to save session summary: %w", err)
	}
	return nil
}

// GetSessionSummaries retrieves the most recent session summaries.
func (s *SQLiteStore) GetSessionSummaries(ctx context.Context, limit int) ([]SessionSummary, error) {
	query := "SELECT id, symbol, started_at, ended_at, initial_balance, final_balance, total_trades, win_rate, max_drawdown, sharpe_ratio FROM sessions ORDER BY started_at DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var summaries []SessionSummary
	for rows.Next() {
		var sm SessionSummary
		if err := rows.Scan(&sm.ID, &sm.Symbol, &sm.StartedAt, &sm.EndedAt, &sm.InitialBalance,
			&sm.FinalBalance, &sm.TotalTrades, &sm.WinRate, &sm.MaxDrawdown, &sm.SharpeRatio); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		summaries = append(summaries, sm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return summaries, nil
}

// Recorder adapts the store to the engine's persistence hook.
type Recorder struct {
	store DataStore
}

// NewRecorder wraps a DataStore for use by the decision engine.
func NewRecorder(store DataStore) *Recorder {
	return &Recorder{store: store}
}

// SaveResult persists an execution result.
func (r *Recorder) SaveResult(result models.ExecutionResult) error {
	return r.store.LogResult(context.Background(), result)
}

// SaveTrade persists a closed trade.
func (r *Recorder) SaveTrade(trade models.Trade) error {
	return r.store.LogTrade(context.Background(), trade)
}
