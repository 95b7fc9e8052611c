package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/polyrev/internal/types"
)

// DirSink writes reports into a local directory, normally
// reports/YYYY-MM-DD.
type DirSink struct {
	Dir string
}

// NewDirSink creates the directory eagerly so an unwritable location fails
// before any job runs.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &DirSink{Dir: dir}, nil
}

// Write stores <job>.md and, when there are findings, <job>.findings.json.
func (d *DirSink) Write(_ context.Context, result *types.JobResult) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	mdPath := filepath.Join(d.Dir, result.JobID+".md")
	if err := os.WriteFile(mdPath, []byte(RenderJob(result)), 0o644); err != nil {
		return fmt.Errorf("failed to write report for %s: %w", result.JobID, err)
	}
	if len(result.Findings) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(findingRecords(result), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode findings for %s: %w", result.JobID, err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, result.JobID+".findings.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write findings for %s: %w", result.JobID, err)
	}
	return nil
}

// WriteSummary stores summary.json and summary.md.
func (d *DirSink) WriteSummary(_ context.Context, summary *Summary) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, "summary.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.Dir, "summary.md"), []byte(RenderSummary(summary)), 0o644); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}
