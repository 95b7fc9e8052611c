// Package storage records which jobs have completed on which calendar day
// so that a daily run does not repeat work.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
)

// Backend is a keyed table of (job_id, date) -> run record. Writes to
// different keys never conflict; Put on an existing key overwrites it.
type Backend interface {
	// Get returns the record for the key, or nil if none exists.
	Get(ctx context.Context, jobID, date string) (*types.IdempotencyRecord, error)
	Put(ctx context.Context, rec types.IdempotencyRecord) error
	// List returns records for date, or all records when date is empty,
	// ordered by date then job id.
	List(ctx context.Context, date string) ([]types.IdempotencyRecord, error)
	// Delete removes matching records. Empty jobID or date matches any.
	Delete(ctx context.Context, jobID, date string) (int, error)
	Close() error
}

// Clock supplies the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the local wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns T.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// DateKey formats t as a calendar date in t's own location.
func DateKey(t time.Time) string {
	return t.Format(types.DateLayout)
}

// Store answers "has this job already run today" against a Backend.
type Store struct {
	backend Backend
	clock   Clock
}

// New wraps a backend. A nil clock uses SystemClock.
func New(backend Backend, clock Clock) *Store {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Store{backend: backend, clock: clock}
}

// Today returns the current date key.
func (s *Store) Today() string {
	return DateKey(s.clock.Now())
}

// HasRunToday reports whether jobID has a record for today.
func (s *Store) HasRunToday(ctx context.Context, jobID string) (bool, error) {
	rec, err := s.backend.Get(ctx, jobID, s.Today())
	if err != nil {
		return false, fmt.Errorf("failed to look up run record for %s: %w", jobID, err)
	}
	return rec != nil, nil
}

// MarkRun records that jobID completed now, overwriting any record for today.
func (s *Store) MarkRun(ctx context.Context, jobID string, findingsCount int) error {
	return s.MarkRunAt(ctx, jobID, s.clock.Now(), findingsCount)
}

// MarkRunAt records a completion at an explicit time.
func (s *Store) MarkRunAt(ctx context.Context, jobID string, at time.Time, findingsCount int) error {
	if jobID == "" {
		return errors.New("job id is required")
	}
	rec := types.IdempotencyRecord{
		JobID:         jobID,
		Date:          DateKey(at),
		CompletedAt:   at,
		FindingsCount: findingsCount,
	}
	if err := s.backend.Put(ctx, rec); err != nil {
		return fmt.Errorf("failed to record run for %s: %w", jobID, err)
	}
	return nil
}

// List returns records for a date, or all records when date is empty.
func (s *Store) List(ctx context.Context, date string) ([]types.IdempotencyRecord, error) {
	return s.backend.List(ctx, date)
}

// Reset deletes records so the matching jobs run again.
func (s *Store) Reset(ctx context.Context, jobID, date string) (int, error) {
	return s.backend.Delete(ctx, jobID, date)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
