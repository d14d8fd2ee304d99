package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/spot_trend_bot/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			entry_time DATETIME NOT NULL,
			entry_price REAL NOT NULL,
			quantity REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit_1 REAL NOT NULL,
			take_profit_2 REAL NOT NULL,
			exit_time DATETIME NOT NULL,
			exit_price REAL NOT NULL,
			exit_reason TEXT NOT NULL,
			realized_pnl REAL NOT NULL,
			fee_paid REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS equity_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			time DATETIME NOT NULL,
			equity REAL NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}

	return nil
}

// TradeRepository Implementation

func (s *SQLiteStore) SaveTrade(ctx context.Context, pos *domain.Position) error {
	query := `INSERT INTO trades (symbol, entry_time, entry_price, quantity, stop_loss, take_profit_1, take_profit_2, exit_time, exit_price, exit_reason, realized_pnl, fee_paid)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		pos.Symbol, pos.EntryTime, pos.EntryPrice, pos.Quantity,
		pos.StopLoss, pos.TakeProfit1, pos.TakeProfit2,
		pos.ExitTime, pos.ExitPrice, pos.ExitReason, pos.RealizedPnL, pos.FeePaid)
	return err
}

func (s *SQLiteStore) ListTrades(ctx context.Context, limit int) ([]*domain.Position, error) {
	query := `SELECT id, symbol, entry_time, entry_price, quantity, stop_loss, take_profit_1, take_profit_2, exit_time, exit_price, exit_reason, realized_pnl, fee_paid
			  FROM trades ORDER BY exit_time DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.ID, &p.Symbol, &p.EntryTime, &p.EntryPrice, &p.Quantity,
			&p.StopLoss, &p.TakeProfit1, &p.TakeProfit2,
			&p.ExitTime, &p.ExitPrice, &p.ExitReason, &p.RealizedPnL, &p.FeePaid); err != nil {
			return nil, err
		}
		p.Status = domain.StatusClosed
		trades = append(trades, &p)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SaveEquitySample(ctx context.Context, sample *domain.EquitySample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO equity_samples (time, equity) VALUES (?, ?)`,
		sample.Time, sample.Equity)
	return err
}

func (s *SQLiteStore) ListEquitySamples(ctx context.Context, limit int) ([]*domain.EquitySample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT time, equity FROM equity_samples ORDER BY time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*domain.EquitySample
	for rows.Next() {
		var e domain.EquitySample
		if err := rows.Scan(&e.Time, &e.Equity); err != nil {
			return nil, err
		}
		samples = append(samples, &e)
	}
	return samples, rows.Err()
}

// AlertRepository Implementation

func (s *SQLiteStore) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (level, message, created_at) VALUES (?, ?, ?)`,
		alert.Level, alert.Message, alert.CreatedAt)
	return err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, limit int) ([]*domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, level, message, created_at FROM alerts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(&a.ID, &a.Level, &a.Message, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// SettingRepository Implementation

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	query := `INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
			  ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=CURRENT_TIMESTAMP`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}
