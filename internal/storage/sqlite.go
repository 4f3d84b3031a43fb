package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"github.com/aizatto/ical-debugger/internal/model"
	"github.com/aizatto/ical-debugger/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Repository backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load returns all subscriptions in their stored order.
func (s *SQLite) Load(ctx context.Context) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, enabled, url FROM subscriptions ORDER BY position, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	subs := []model.Subscription{}
	for rows.Next() {
		var (
			sub     model.Subscription
			enabled int
		)
		if err := rows.Scan(&sub.ID, &enabled, &sub.URL); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Enabled = enabled != 0
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

// Save replaces the stored list with subs in a single transaction.
func (s *SQLite) Save(ctx context.Context, subs []model.Subscription) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions`); err != nil {
		return fmt.Errorf("clear subscriptions: %w", err)
	}

	now := time.Now().UTC().Format(timeLayout)
	for i, sub := range subs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subscriptions (id, position, enabled, url, updated_at) VALUES (?, ?, ?, ?, ?)`,
			sub.ID, i, boolToInt(sub.Enabled), sub.URL, now,
		); err != nil {
			return fmt.Errorf("insert subscription %s: %w", sub.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
