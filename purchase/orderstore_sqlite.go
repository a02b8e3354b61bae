package purchase

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SQLiteOrderStore persists order statuses in a SQLite table, separate from
// the workflow engine's own tables so the order system of record survives
// history retention policies.
type SQLiteOrderStore struct {
	db *sql.DB
}

func NewSQLiteOrderStore(db *sql.DB) (*SQLiteOrderStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id   TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return nil, err
	}
	return &SQLiteOrderStore{db: db}, nil
}

func (s *SQLiteOrderStore) SetStatus(ctx context.Context, orderID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (order_id, status, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		orderID, status, time.Now().UnixNano())
	return err
}

func (s *SQLiteOrderStore) GetStatus(ctx context.Context, orderID string) (string, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE order_id = ?`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}
