// Package postgres persists run records in PostgreSQL for shared,
// long-lived deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/steveyegge/polyrev/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS polyrev_job_runs (
    job_id TEXT NOT NULL,
    run_date DATE NOT NULL,
    completed_at TIMESTAMPTZ NOT NULL,
    findings_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (job_id, run_date)
);
`

// Backend implements the run-record table on PostgreSQL.
type Backend struct {
	pool *pgxpool.Pool
}

// New connects with a postgres:// URL and ensures the schema exists.
func New(ctx context.Context, url string) (*Backend, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection with ping
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Backend{pool: pool}, nil
}

func (b *Backend) Get(ctx context.Context, jobID, date string) (*types.IdempotencyRecord, error) {
	var rec types.IdempotencyRecord
	err := b.pool.QueryRow(ctx, `
		SELECT job_id, to_char(run_date, 'YYYY-MM-DD'), completed_at, findings_count
		FROM polyrev_job_runs WHERE job_id = $1 AND run_date = $2::date
	`, jobID, date).Scan(&rec.JobID, &rec.Date, &rec.CompletedAt, &rec.FindingsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run record: %w", err)
	}
	return &rec, nil
}

func (b *Backend) Put(ctx context.Context, rec types.IdempotencyRecord) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO polyrev_job_runs (job_id, run_date, completed_at, findings_count)
		VALUES ($1, $2::date, $3, $4)
		ON CONFLICT (job_id, run_date) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			findings_count = EXCLUDED.findings_count
	`, rec.JobID, rec.Date, rec.CompletedAt, rec.FindingsCount)
	if err != nil {
		return fmt.Errorf("failed to put run record: %w", err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, date string) ([]types.IdempotencyRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT job_id, to_char(run_date, 'YYYY-MM-DD'), completed_at, findings_count
		FROM polyrev_job_runs
		WHERE $1 = '' OR run_date = NULLIF($1, '')::date
		ORDER BY run_date, job_id
	`, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list run records: %w", err)
	}
	defer rows.Close()

	var out []types.IdempotencyRecord
	for rows.Next() {
		var rec types.IdempotencyRecord
		if err := rows.Scan(&rec.JobID, &rec.Date, &rec.CompletedAt, &rec.FindingsCount); err != nil {
			return nil, fmt.Errorf("failed to scan run record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *Backend) Delete(ctx context.Context, jobID, date string) (int, error) {
	tag, err := b.pool.Exec(ctx, `
		DELETE FROM polyrev_job_runs
		WHERE ($1 = '' OR job_id = $1) AND ($2 = '' OR run_date = NULLIF($2, '')::date)
	`, jobID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete run records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
