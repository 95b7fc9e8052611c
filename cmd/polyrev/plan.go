package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/polyrev/internal/config"
	"github.com/steveyegge/polyrev/internal/discovery"
	"github.com/steveyegge/polyrev/internal/executor"
	"github.com/steveyegge/polyrev/internal/orchestrator"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show which reviewers would run and how they would be chunked",
	Long: `Resolve scopes and reviewers exactly as 'run' would, then print the
execution plan: files and chunks per reviewer, reviewers skipped because they
already ran today, and reviewers whose scopes matched no files.

No provider is called and nothing is recorded. Equivalent to 'run --dry-run'.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cleanup := mustLoadConfig(cmd)

		opts := runOptionsFromFlags(cmd)
		opts.DryRun = true
		_, err := runReview(context.Background(), cfg, opts)
		cleanup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	planCmd.Flags().Bool("force", false, "Show the plan as if --force were given")
	planCmd.Flags().StringSlice("reviewer", nil, "Plan only these reviewers")
	planCmd.Flags().StringSlice("scope", nil, "Plan only files from these scopes")
	planCmd.Flags().String("diff-base", "", "Only include files changed since this git ref")
	planCmd.Flags().Int("concurrency", 0, "Override max parallel reviewers")
	planCmd.Flags().String("report-dir", "", "Override the report directory")
	planCmd.Flags().Bool("no-gitignore", false, "Do not apply the target's .gitignore to scopes")
	rootCmd.AddCommand(planCmd)
}

// printPlan renders a dry run. preview must be computed without force so
// reviewers that would be re-run can be labelled.
func printPlan(w io.Writer, cfg *config.Config, plan *discovery.Plan, preview *orchestrator.Plan, force bool, reportDir string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s\n\n", cyan("=== Execution Plan ==="))
	fmt.Fprintf(w, "Target:       %s\n", cfg.Target)
	fmt.Fprintf(w, "Concurrency:  %d (launch delay %v)\n", cfg.Concurrency, cfg.LaunchDelay())
	fmt.Fprintf(w, "Report dir:   %s\n", reportDir)
	if cfg.DiffBase != "" {
		fmt.Fprintf(w, "Diff base:    %s\n", cfg.DiffBase)
	}

	skipped := make(map[string]bool, len(preview.Skipped))
	for _, id := range preview.Skipped {
		skipped[id] = true
	}

	fmt.Fprintf(w, "\nReviewers:\n")
	if len(plan.Jobs) == 0 {
		fmt.Fprintf(w, "  %s\n", gray("(none)"))
	}
	runs := 0
	for _, job := range plan.Jobs {
		chunks := executor.ChunkCount(len(job.Files), job.MaxFiles)
		status := ""
		switch {
		case skipped[job.ID] && force:
			status = yellow(" [FORCE re-run]")
			runs++
		case skipped[job.ID]:
			status = gray(" [SKIP - already ran today]")
		default:
			runs++
		}
		fmt.Fprintf(w, "  - %s (%s) %d files, %d %s, timeout %v%s\n",
			job.ID, job.Provider, len(job.Files), chunks, plural(chunks, "chunk", "chunks"), job.Timeout, status)
	}
	for _, id := range plan.NoFiles {
		fmt.Fprintf(w, "  - %s %s\n", id, gray("[no files in scope]"))
	}

	fmt.Fprintf(w, "\n%d of %d reviewers would run", runs, len(plan.Jobs))
	if len(preview.Skipped) > 0 && !force {
		fmt.Fprintf(w, "; use --force to re-run %s", strings.Join(preview.Skipped, ", "))
	}
	fmt.Fprintln(w)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
