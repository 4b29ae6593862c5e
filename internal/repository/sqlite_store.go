package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/khjohns/Fravik-utslippsfribyggeplass/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS submissions (
	submission_id TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	payload       TEXT NOT NULL,
	revision      INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL,
	decided_at    TEXT NOT NULL DEFAULT ''
)`

const sqliteUpsert = `
INSERT INTO submissions (submission_id, source, status, payload, revision, created_at, updated_at, decided_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(submission_id) DO UPDATE SET
	source = excluded.source,
	status = excluded.status,
	payload = excluded.payload,
	revision = excluded.revision,
	created_at = excluded.created_at,
	updated_at = excluded.updated_at,
	decided_at = excluded.decided_at`

// SQLiteStore stores records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create database directory: %w", err)
	}

	// WAL for concurrent readers, and wait on a locked database instead of failing.
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, sub *models.Submission) error {
	payload, err := encodePayload(sub.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, sqliteUpsert,
		sub.ID, string(sub.Source), string(sub.Status), payload,
		sub.Revision, sub.CreatedAt, sub.UpdatedAt, sub.DecidedAt)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", sub.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT submission_id, source, status, payload, revision, created_at, updated_at, decided_at
FROM submissions WHERE submission_id = ?`, id)

	var (
		sub     models.Submission
		payload string
	)
	err := row.Scan(&sub.ID, &sub.Source, &sub.Status, &payload,
		&sub.Revision, &sub.CreatedAt, &sub.UpdatedAt, &sub.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	if sub.Payload, err = decodePayload(payload); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
