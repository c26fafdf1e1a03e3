// Package storage is the SQLite durable tier. It backs the fetch cache when
// persistent storage is enabled and holds manual category overrides so they
// survive refetches and restarts.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rufous/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Load implements fetchcache.Store. A zero fetchedAt means the key has never
// been fetched.
func (r *SQLiteRepository) Load(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, time.Time, error) {
	var fetchedAtStr string
	err := r.db.QueryRowContext(ctx,
		`SELECT fetched_at FROM fetches WHERE account_id = ? AND period_start = ? AND period_end = ?`,
		accountID, period.Start.String(), period.End.String(),
	).Scan(&fetchedAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load fetch record: %w", err)
	}

	fetchedAt, err := time.Parse(time.RFC3339Nano, fetchedAtStr)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("parse fetched_at %q: %w", fetchedAtStr, err)
	}

	txns, err := r.selectTransactions(ctx,
		`SELECT id, account_id, date, amount_cents, description, category, category_manual, source
		 FROM transactions WHERE account_id = ? AND date >= ? AND date <= ? ORDER BY date, id`,
		accountID, period.Start.String(), period.End.String())
	if err != nil {
		return nil, time.Time{}, err
	}
	return txns, fetchedAt, nil
}

// Save implements fetchcache.Store. Rows are upserted by ID; a row already
// tagged manually keeps its category so overrides stick across refetches.
func (r *SQLiteRepository) Save(ctx context.Context, accountID string, period core.Period, txns []core.Transaction, fetchedAt time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO fetches (account_id, period_start, period_end, fetched_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id, period_start, period_end) DO UPDATE SET fetched_at = excluded.fetched_at`,
		accountID, period.Start.String(), period.End.String(), fetchedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save fetch record: %w", err)
	}

	for _, t := range txns {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (id, account_id, date, amount_cents, description, category, category_manual, source)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				date = excluded.date,
				amount_cents = excluded.amount_cents,
				description = excluded.description,
				category = CASE WHEN transactions.category_manual = 1 THEN transactions.category ELSE excluded.category END,
				source = excluded.source`,
			t.ID, t.AccountID, t.Date.String(), t.Amount.Cents, t.Description,
			t.Category.Name, boolToInt(t.Category.Manual), t.Source)
		if err != nil {
			return fmt.Errorf("save transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	slog.DebugContext(ctx, "Transactions persisted",
		"account_id", accountID,
		"period", period.String(),
		"count", len(txns))
	return nil
}

// SetCategory records a manual category override for a transaction.
func (r *SQLiteRepository) SetCategory(ctx context.Context, txnID, category string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET category = ?, category_manual = 1 WHERE id = ?`,
		category, txnID)
	if err != nil {
		return fmt.Errorf("set category: %w", err)
	}
	return checkAffected(res, txnID)
}

// ClearCategory removes a manual override; the row falls back to rule-based
// tagging on the next fetch or bulk pass.
func (r *SQLiteRepository) ClearCategory(ctx context.Context, txnID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET category = '', category_manual = 0 WHERE id = ?`,
		txnID)
	if err != nil {
		return fmt.Errorf("clear category: %w", err)
	}
	return checkAffected(res, txnID)
}

// GetTransaction returns a single row by ID.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, txnID string) (core.Transaction, error) {
	txns, err := r.selectTransactions(ctx,
		`SELECT id, account_id, date, amount_cents, description, category, category_manual, source
		 FROM transactions WHERE id = ?`, txnID)
	if err != nil {
		return core.Transaction{}, err
	}
	if len(txns) == 0 {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	return txns[0], nil
}

// Overrides returns the manual category overrides of an account, keyed by
// transaction ID.
func (r *SQLiteRepository) Overrides(ctx context.Context, accountID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category FROM transactions WHERE account_id = ? AND category_manual = 1`,
		accountID)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var id, category string
		if err := rows.Scan(&id, &category); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides[id] = category
	}
	return overrides, rows.Err()
}

// ListByAccount returns every stored transaction of an account, for the bulk
// re-categorization worker.
func (r *SQLiteRepository) ListByAccount(ctx context.Context, accountID string) ([]core.Transaction, error) {
	return r.selectTransactions(ctx,
		`SELECT id, account_id, date, amount_cents, description, category, category_manual, source
		 FROM transactions WHERE account_id = ? ORDER BY date, id`, accountID)
}

// UpdateCategories writes back rule-derived categories. Manual rows are left
// untouched at the SQL level regardless of what the caller passes.
func (r *SQLiteRepository) UpdateCategories(ctx context.Context, txns []core.Transaction) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	for _, t := range txns {
		_, err := tx.ExecContext(ctx,
			`UPDATE transactions SET category = ? WHERE id = ? AND category_manual = 0`,
			t.Category.Name, t.ID)
		if err != nil {
			return fmt.Errorf("update category for %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) selectTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		var (
			t       core.Transaction
			dateStr string
			cents   int64
			manual  int
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &dateStr, &cents, &t.Description, &t.Category.Name, &manual, &t.Source); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		date, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse stored date: %w", err)
		}
		t.Date = date
		t.Amount = core.Money{Cents: cents}
		t.Category.Manual = manual == 1
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func checkAffected(res sql.Result, txnID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", core.ErrTransactionNotFound, txnID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
