package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite backs the thread registry and the seen-event set with a SQLite
// database, so dedup and thread continuity survive restarts.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		sender_id  TEXT PRIMARY KEY,
		thread_id  TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS seen_events (
		event_id TEXT PRIMARY KEY,
		seen_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_seen_events_time ON seen_events(seen_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) GetThread(ctx context.Context, senderID string) (string, error) {
	var threadID string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id FROM threads WHERE sender_id = ?`, senderID,
	).Scan(&threadID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return threadID, nil
}

func (s *SQLite) SetThread(ctx context.Context, senderID, threadID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (sender_id, thread_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET thread_id = excluded.thread_id, updated_at = excluded.updated_at`,
		senderID, threadID, time.Now(),
	)
	return err
}

// TryClaim inserts the event id; the primary key makes the claim atomic, so
// of N concurrent claimers exactly one sees an affected row.
func (s *SQLite) TryClaim(ctx context.Context, eventID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO seen_events (event_id, seen_at) VALUES (?, ?)`,
		eventID, time.Now(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneSeen deletes seen-event rows older than the given age.
func (s *SQLite) PruneSeen(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_events WHERE seen_at < ?`, time.Now().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
