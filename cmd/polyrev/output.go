package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/steveyegge/polyrev/internal/report"
	"github.com/steveyegge/polyrev/internal/types"
)

// printResult prints one line per finished job as results stream in.
func printResult(w io.Writer, r *types.JobResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	name := r.JobName
	if name == "" {
		name = r.JobID
	}
	elapsed := r.Duration.Round(100 * time.Millisecond)

	switch r.Status {
	case types.StatusFailed:
		fmt.Fprintf(w, "%s %s failed after %v: %s\n", red("✗"), name, elapsed, oneLine(r.Error))
	case types.StatusPartial:
		fmt.Fprintf(w, "%s %s %s in %v (%d warnings)\n", yellow("⚠"), name, countsLine(r.CountByPriority()), elapsed, len(r.Warnings))
	default:
		fmt.Fprintf(w, "%s %s %s in %v\n", green("✓"), name, countsLine(r.CountByPriority()), elapsed)
	}
}

// printSummary prints the end-of-run totals.
func printSummary(w io.Writer, s *report.Summary, noFiles []string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n", cyan("=== Summary ==="))
	fmt.Fprintf(w, "Completed in %.1fs: %d p0, %d p1, %d p2 findings across %d reviewers\n",
		s.DurationSec, s.Totals["p0"], s.Totals["p1"], s.Totals["p2"], len(s.Jobs)-len(s.Skipped))

	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, "%s %s\n", gray("Skipped (already ran today):"), strings.Join(s.Skipped, ", "))
	}
	if len(noFiles) > 0 {
		fmt.Fprintf(w, "%s %s\n", gray("No files in scope:"), strings.Join(noFiles, ", "))
	}
	if len(s.Failed) > 0 {
		fmt.Fprintf(w, "%s %s\n", red("Failed:"), strings.Join(s.Failed, ", "))
	}
	if len(s.NotStarted) > 0 {
		fmt.Fprintf(w, "%s %s\n", red("Not started:"), strings.Join(s.NotStarted, ", "))
	}
	fmt.Fprintf(w, "Reports written to %s\n", s.ReportDir)
}

func countsLine(counts map[types.Priority]int) string {
	parts := make([]string, 0, len(types.AllPriorities))
	for _, p := range types.AllPriorities {
		parts = append(parts, fmt.Sprintf("%d %s", counts[p], p))
	}
	return strings.Join(parts, ", ")
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
