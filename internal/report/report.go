// Package report persists job results as they stream out of the
// orchestrator: a markdown report and findings JSON per job, plus a run
// summary once every job has finished.
package report

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
)

// Sink receives each job result as it completes and the run summary at the
// end. Every Sink also satisfies orchestrator.Sink.
type Sink interface {
	Write(ctx context.Context, result *types.JobResult) error
	WriteSummary(ctx context.Context, summary *Summary) error
}

// DatedDir returns base/YYYY-MM-DD for t.
func DatedDir(base string, t time.Time) string {
	return filepath.Join(base, t.Format(types.DateLayout))
}

// Multi fans results out to several sinks. Every sink is attempted; the
// errors are joined.
type Multi []Sink

func (m Multi) Write(ctx context.Context, result *types.JobResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) WriteSummary(ctx context.Context, summary *Summary) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteSummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// findingRecord is the findings.json shape: the finding plus its stable
// fingerprint for downstream deduplication.
type findingRecord struct {
	types.Finding
	Fingerprint string `json:"fingerprint"`
}

func findingRecords(result *types.JobResult) []findingRecord {
	out := make([]findingRecord, len(result.Findings))
	for i, f := range result.Findings {
		out[i] = findingRecord{Finding: f, Fingerprint: f.Fingerprint(result.JobID)}
	}
	return out
}
