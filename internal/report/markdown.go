package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/polyrev/internal/types"
)

func statusLabel(status types.JobStatus, detail string) string {
	var s string
	switch status {
	case types.StatusSuccess:
		s = "✅ Success"
	case types.StatusPartial:
		s = "⚠️ Partial"
	case types.StatusFailed:
		s = "❌ Failed"
	case "skipped":
		s = "⏭️ Skipped"
	default:
		s = "❓ " + string(status)
	}
	if detail != "" {
		s += " (" + detail + ")"
	}
	return s
}

// RenderJob renders one job result as a markdown report.
func RenderJob(result *types.JobResult) string {
	var b strings.Builder
	counts := result.CountByPriority()

	fmt.Fprintf(&b, "# %s\n\n", result.JobName)
	b.WriteString("| Metric | Value |\n")
	b.WriteString("|--------|-------|\n")
	fmt.Fprintf(&b, "| Status | %s |\n", statusLabel(result.Status, firstLine(result.Error)))
	fmt.Fprintf(&b, "| Duration | %.1fs |\n", result.Duration.Seconds())
	fmt.Fprintf(&b, "| Files Scanned | %d |\n", result.FilesScanned)
	fmt.Fprintf(&b, "| Chunks | %d |\n", result.ChunksRun)
	fmt.Fprintf(&b, "| Attempts | %d |\n", result.AttemptsUsed)
	for _, p := range types.AllPriorities {
		fmt.Fprintf(&b, "| %s (%s) | %d |\n", p, p.Label(), counts[p])
	}
	b.WriteString("\n---\n\n")

	if len(result.Warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, w := range result.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	if len(result.Findings) == 0 {
		b.WriteString("*No findings*\n")
		return b.String()
	}

	b.WriteString("## Findings\n\n")
	for _, f := range result.Findings {
		fmt.Fprintf(&b, "### [%s] %s\n\n", f.Priority, f.Title)
		fmt.Fprintf(&b, "- **ID:** `%s`\n", f.ID)
		fmt.Fprintf(&b, "- **File:** `%s`\n", f.Location())
		if f.Type != "" {
			fmt.Fprintf(&b, "- **Type:** `%s`\n", f.Type)
		}
		fmt.Fprintf(&b, "\n%s\n\n", f.Description)

		if f.Snippet != "" {
			fmt.Fprintf(&b, "**Code:**\n```\n%s\n```\n\n", f.Snippet)
		}
		fmt.Fprintf(&b, "**Remediation:** %s\n\n", f.Remediation)

		if len(f.AcceptanceCriteria) > 0 {
			b.WriteString("**Acceptance Criteria:**\n")
			for _, c := range f.AcceptanceCriteria {
				fmt.Fprintf(&b, "- [ ] %s\n", c)
			}
			b.WriteString("\n")
		}
		if len(f.References) > 0 {
			b.WriteString("**References:**\n")
			for _, r := range f.References {
				fmt.Fprintf(&b, "- %s\n", r)
			}
			b.WriteString("\n")
		}
		b.WriteString("---\n\n")
	}
	return b.String()
}

// RenderSummary renders the run summary as markdown.
func RenderSummary(s *Summary) string {
	var b strings.Builder

	b.WriteString("# polyrev Summary\n\n")
	fmt.Fprintf(&b, "**Generated:** %s\n", s.Timestamp.Format(time.RFC3339))
	if s.Target != "" {
		fmt.Fprintf(&b, "**Target:** %s\n", s.Target)
	}
	fmt.Fprintf(&b, "**Report Dir:** %s\n", s.ReportDir)
	fmt.Fprintf(&b, "**Duration:** %.1fs\n\n", s.DurationSec)

	b.WriteString("## Totals\n\n")
	b.WriteString("| Priority | Count |\n")
	b.WriteString("|----------|-------|\n")
	for _, p := range types.AllPriorities {
		fmt.Fprintf(&b, "| %s (%s) | %d |\n", p, p.Label(), s.Totals[p.String()])
	}
	b.WriteString("\n")

	b.WriteString("## Reviewers\n\n")
	b.WriteString("| Reviewer | Status | Findings |\n")
	b.WriteString("|----------|--------|----------|\n")
	for _, j := range s.Jobs {
		fmt.Fprintf(&b, "| %s | %s | %d p0, %d p1, %d p2 |\n",
			j.Name, statusLabel(types.JobStatus(j.Status), j.Reason),
			j.Findings["p0"], j.Findings["p1"], j.Findings["p2"])
	}

	if s.Totals["p0"] > 0 {
		b.WriteString("\n## Critical Findings (p0)\n\n")
		b.WriteString("See individual reviewer reports for details.\n")
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:117] + "..."
	}
	return s
}
