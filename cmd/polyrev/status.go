package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/polyrev/internal/config"
	"github.com/steveyegge/polyrev/internal/storage"
	"github.com/steveyegge/polyrev/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which reviewers already ran today",
	Long: `Show the run records kept for daily idempotency.

By default lists every configured reviewer with today's record, if any.
--date shows another day; --all lists every stored record.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cleanup := mustLoadConfig(cmd)
		date, _ := cmd.Flags().GetString("date")
		all, _ := cmd.Flags().GetBool("all")

		err := showStatus(context.Background(), os.Stdout, cfg.Config, nil, date, all)
		cleanup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	statusCmd.Flags().String("date", "", "Show records for this date (YYYY-MM-DD) instead of today")
	statusCmd.Flags().Bool("all", false, "List every stored record")
	rootCmd.AddCommand(statusCmd)
}

func showStatus(ctx context.Context, w io.Writer, cfg *config.Config, clock storage.Clock, date string, all bool) error {
	if date != "" {
		if _, err := time.Parse(types.DateLayout, date); err != nil {
			return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
		}
	}

	store, err := storage.Open(ctx, cfg.StorageConfig(), clock)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer store.Close()

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if all {
		records, err := store.List(ctx, "")
		if err != nil {
			return fmt.Errorf("failed to list run records: %w", err)
		}
		fmt.Fprintf(w, "\n%s\n\n", cyan("=== Run Records ==="))
		if len(records) == 0 {
			fmt.Fprintf(w, "%s\n", gray("No runs recorded"))
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(w, "  %s  %-24s %3d findings  (completed %s)\n",
				rec.Date, rec.JobID, rec.FindingsCount, rec.CompletedAt.Local().Format("15:04:05"))
		}
		return nil
	}

	if date == "" {
		date = store.Today()
	}
	records, err := store.List(ctx, date)
	if err != nil {
		return fmt.Errorf("failed to list run records: %w", err)
	}
	byJob := make(map[string]types.IdempotencyRecord, len(records))
	for _, rec := range records {
		byJob[rec.JobID] = rec
	}

	fmt.Fprintf(w, "\n%s\n\n", cyan(fmt.Sprintf("=== Reviewer Status (%s) ===", date)))
	for _, r := range cfg.Reviewers {
		label := r.ID
		if !r.IsEnabled() {
			label += gray(" (disabled)")
		}
		if rec, ok := byJob[r.ID]; ok {
			fmt.Fprintf(w, "  %s %s: ran at %s, %d findings\n",
				green("✓"), label, rec.CompletedAt.Local().Format("15:04:05"), rec.FindingsCount)
			delete(byJob, r.ID)
			continue
		}
		fmt.Fprintf(w, "  %s %s: %s\n", gray("·"), label, gray("not run"))
	}
	// Records for reviewers since removed from the config.
	for _, rec := range records {
		if _, ok := byJob[rec.JobID]; ok {
			fmt.Fprintf(w, "  %s %s: ran at %s, %d findings %s\n",
				green("✓"), rec.JobID, rec.CompletedAt.Local().Format("15:04:05"), rec.FindingsCount, gray("(not in config)"))
		}
	}
	return nil
}
