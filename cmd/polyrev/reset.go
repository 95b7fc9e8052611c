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

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget run records so reviewers run again",
	Long: `Delete idempotency records so the next 'run' repeats the matching
reviewers without --force.

With no flags, clears today's records for every reviewer.
  --reviewer   only clear records for these reviewers
  --date       clear a different day (YYYY-MM-DD)
  --all        clear every date`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cleanup := mustLoadConfig(cmd)
		reviewers, _ := cmd.Flags().GetStringSlice("reviewer")
		date, _ := cmd.Flags().GetString("date")
		all, _ := cmd.Flags().GetBool("all")

		err := resetRecords(context.Background(), os.Stdout, cfg.Config, nil, reviewers, date, all)
		cleanup()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	resetCmd.Flags().StringSlice("reviewer", nil, "Only reset these reviewers")
	resetCmd.Flags().String("date", "", "Reset records for this date (YYYY-MM-DD) instead of today")
	resetCmd.Flags().Bool("all", false, "Reset records for every date")
	rootCmd.AddCommand(resetCmd)
}

func resetRecords(ctx context.Context, w io.Writer, cfg *config.Config, clock storage.Clock, reviewers []string, date string, all bool) error {
	if all && date != "" {
		return fmt.Errorf("--all and --date are mutually exclusive")
	}
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

	switch {
	case all:
		date = ""
	case date == "":
		date = store.Today()
	}

	// An empty job id matches every reviewer.
	ids := reviewers
	if len(ids) == 0 {
		ids = []string{""}
	}
	total := 0
	for _, id := range ids {
		n, err := store.Reset(ctx, id, date)
		if err != nil {
			return fmt.Errorf("failed to reset run records: %w", err)
		}
		total += n
	}

	green := color.New(color.FgGreen).SprintFunc()
	scope := "all dates"
	if date != "" {
		scope = date
	}
	fmt.Fprintf(w, "%s Removed %d run %s (%s)\n", green("✓"), total, plural(total, "record", "records"), scope)
	return nil
}
