package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Store backed by a single SQLite table.
type SQLite struct {
	db *sql.DB
}

const createKVTable = `
CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}

	if _, err := db.Exec(createKVTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate kv db: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_entries WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get: %w", err)
	}
	return value, true, nil
}

func (s *SQLite) SetString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete: %w", err)
	}
	return nil
}

func (s *SQLite) Range(ctx context.Context, fn func(key, value string) bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv_entries ORDER BY key`)
	if err != nil {
		return fmt.Errorf("kv range: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("kv range scan: %w", err)
		}
		if !fn(k, v) {
			return nil
		}
	}
	return rows.Err()
}

func (s *SQLite) Len(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("kv len: %w", err)
	}
	return count, nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_entries`); err != nil {
		return fmt.Errorf("kv clear: %w", err)
	}
	return nil
}

// Close releases the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}
