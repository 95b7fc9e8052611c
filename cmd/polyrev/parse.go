package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/polyrev/internal/parser"
	"github.com/steveyegge/polyrev/internal/types"
)

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "Extract findings from saved reviewer output",
	Long: `Run the output parser over a file (or stdin) and print the findings it
recovers along with any warnings. Useful for checking why a reviewer's output
produced fewer findings than expected.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		jobID, _ := cmd.Flags().GetString("job-id")
		priority, _ := cmd.Flags().GetString("default-priority")
		noMarkdown, _ := cmd.Flags().GetBool("no-markdown")
		asJSON, _ := cmd.Flags().GetBool("json")

		var in io.Reader = os.Stdin
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to open %s: %v\n", args[0], err)
				os.Exit(1)
			}
			defer f.Close()
			in = f
		}

		opts := parser.Options{JobID: jobID, DefaultPriority: types.DefaultPriority, DisableMarkdown: noMarkdown}
		if priority != "" {
			p, err := types.ParsePriority(priority)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid --default-priority: %v\n", err)
				os.Exit(1)
			}
			opts.DefaultPriority = p
		}

		if err := parseOutput(os.Stdout, in, opts, asJSON); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	parseCmd.Flags().String("job-id", "parse", "Job id used in warnings and synthesized finding ids")
	parseCmd.Flags().String("default-priority", "", "Priority for records without one (default p1)")
	parseCmd.Flags().Bool("no-markdown", false, "Disable the markdown table fallback")
	parseCmd.Flags().Bool("json", false, "Print findings as a JSON array")
	rootCmd.AddCommand(parseCmd)
}

// parseResult is the --json shape.
type parseResult struct {
	Findings           []types.Finding `json:"findings"`
	Warnings           []string        `json:"warnings"`
	Dropped            int             `json:"dropped"`
	NoStructuredOutput bool            `json:"no_structured_output"`
}

func parseOutput(w io.Writer, in io.Reader, opts parser.Options, asJSON bool) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	result := parser.Parse(string(raw), opts)

	if asJSON {
		out := parseResult{
			Findings:           result.Findings,
			Warnings:           result.WarningStrings(),
			Dropped:            result.Dropped,
			NoStructuredOutput: result.NoStructuredOutput,
		}
		if out.Findings == nil {
			out.Findings = []types.Finding{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if result.NoStructuredOutput {
		fmt.Fprintf(w, "%s\n", yellow("No structured output found"))
	} else {
		fmt.Fprintf(w, "\n%s\n", cyan(fmt.Sprintf("=== %d findings (%s) ===", len(result.Findings), result.Source)))
	}
	for _, f := range result.Findings {
		pri := f.Priority.String()
		if f.Priority == types.P0 {
			pri = red(pri)
		}
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		fmt.Fprintf(w, "  [%s] %s %s\n", pri, f.Title, gray(loc))
	}
	if result.Dropped > 0 {
		fmt.Fprintf(w, "\n%d %s dropped\n", result.Dropped, plural(result.Dropped, "record", "records"))
	}
	for _, warning := range result.WarningStrings() {
		fmt.Fprintf(w, "%s %s\n", yellow("warning:"), warning)
	}
	return nil
}
