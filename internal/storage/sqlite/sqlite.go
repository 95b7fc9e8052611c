// Package sqlite persists run records in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/steveyegge/polyrev/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_runs (
    job_id TEXT NOT NULL,
    run_date TEXT NOT NULL,
    completed_at TEXT NOT NULL,
    findings_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (job_id, run_date)
);

CREATE INDEX IF NOT EXISTS idx_job_runs_date ON job_runs(run_date);
`

// Backend implements the run-record table on SQLite.
type Backend struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func New(ctx context.Context, path string) (*Backend, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=busy_timeout(5000)"
	} else {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Backend{db: db}, nil
}

func (b *Backend) Get(ctx context.Context, jobID, date string) (*types.IdempotencyRecord, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT job_id, run_date, completed_at, findings_count FROM job_runs WHERE job_id = ? AND run_date = ?`,
		jobID, date)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	return rec, nil
}

func (b *Backend) Put(ctx context.Context, rec types.IdempotencyRecord) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO job_runs (job_id, run_date, completed_at, findings_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (job_id, run_date) DO UPDATE SET
			completed_at = excluded.completed_at,
			findings_count = excluded.findings_count
	`, rec.JobID, rec.Date, rec.CompletedAt.Format(time.RFC3339Nano), rec.FindingsCount)
	if err != nil {
		return fmt.Errorf("failed to put run record: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, date string) ([]types.IdempotencyRecord, error) {
	query := `SELECT job_id, run_date, completed_at, findings_count FROM job_runs`
	var args []any
	if date != "" {
		query += ` WHERE run_date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY run_date, job_id`

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	var out []types.IdempotencyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (b *Backend) Delete(ctx context.Context, jobID, date string) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE (? = '' OR job_id = ?) AND (? = '' OR run_date = ?)`,
		jobID, jobID, date, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted records: %w", err)
	}
	return int(n), nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*types.IdempotencyRecord, error) {
	var rec types.IdempotencyRecord
	var completed string
	if err := s.Scan(&rec.JobID, &rec.Date, &completed, &rec.FindingsCount); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, completed)
	if err != nil {
		return nil, fmt.Errorf("invalid completed_at %q: %w", completed, err)
	}
	rec.CompletedAt = t
	return &rec, nil
}
