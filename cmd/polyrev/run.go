package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/steveyegge/polyrev/internal/config"
	"github.com/steveyegge/polyrev/internal/discovery"
	"github.com/steveyegge/polyrev/internal/executor"
	"github.com/steveyegge/polyrev/internal/git"
	"github.com/steveyegge/polyrev/internal/metrics"
	"github.com/steveyegge/polyrev/internal/orchestrator"
	"github.com/steveyegge/polyrev/internal/provider"
	"github.com/steveyegge/polyrev/internal/report"
	"github.com/steveyegge/polyrev/internal/storage"
	"github.com/steveyegge/polyrev/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute reviewers and produce reports",
	Long: `Run every enabled reviewer against its scopes.

Reviewers that already completed today are skipped unless --force is given.
Each reviewer's report is written to <report_dir>/YYYY-MM-DD/ as soon as it
finishes, followed by summary.json and summary.md once all are done.

Exit status:
  0  all reviewers completed (and no p0 findings with --fail-on-critical)
  1  p0 findings were reported and --fail-on-critical is set
  2  at least one reviewer failed (unless --allow-failures)`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cleanup := mustLoadConfig(cmd)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		summary, err := runReview(ctx, cfg, runOptionsFromFlags(cmd))
		stop()

		code := report.ExitOK
		if summary != nil {
			code = summary.ExitCode
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			switch {
			case summary == nil:
				code = 1
			case code == report.ExitOK:
				code = report.ExitJobFailure
			}
		}
		cleanup()
		os.Exit(code)
	},
}

func init() {
	runCmd.Flags().Bool("force", false, "Re-run reviewers that already ran today")
	runCmd.Flags().Bool("dry-run", false, "Show the execution plan without calling any provider")
	runCmd.Flags().Int("concurrency", 0, "Override max parallel reviewers")
	runCmd.Flags().String("report-dir", "", "Override the report directory")
	runCmd.Flags().StringSlice("reviewer", nil, "Run only these reviewers (repeatable or comma-separated)")
	runCmd.Flags().StringSlice("scope", nil, "Review only files from these scopes (repeatable or comma-separated)")
	runCmd.Flags().String("diff-base", "", "Only review files changed since this git ref (e.g. main, HEAD~5)")
	runCmd.Flags().Bool("fail-on-critical", false, "Exit 1 if any p0 finding is reported (CI mode)")
	runCmd.Flags().Bool("allow-failures", false, "Do not exit 2 when a reviewer fails")
	runCmd.Flags().String("metrics-addr", "", "Serve /metrics and /healthz on this address while running (overrides metrics_addr)")
	runCmd.Flags().Bool("no-gitignore", false, "Do not apply the target's .gitignore to scopes")
	rootCmd.AddCommand(runCmd)
}

// runOptions is everything a run takes beyond the config file.
type runOptions struct {
	Force            bool
	DryRun           bool
	Concurrency      int    // Zero keeps the config value
	ReportDir        string // Empty keeps the config value
	Reviewers        []string
	Scopes           []string
	DiffBase         string
	MetricsAddr      string
	RespectGitignore bool
	Policy           report.ExitPolicy

	Providers provider.Registry // Nil builds clients from the config
	Git       git.Operations    // Nil uses the git CLI when available
	Clock     storage.Clock     // Nil uses the wall clock
	Out       io.Writer         // Nil writes to stdout
}

func runOptionsFromFlags(cmd *cobra.Command) runOptions {
	opts := runOptions{}
	opts.Force, _ = cmd.Flags().GetBool("force")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.ReportDir, _ = cmd.Flags().GetString("report-dir")
	opts.Reviewers, _ = cmd.Flags().GetStringSlice("reviewer")
	opts.Scopes, _ = cmd.Flags().GetStringSlice("scope")
	opts.DiffBase, _ = cmd.Flags().GetString("diff-base")
	opts.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	opts.Policy.FailOnCritical, _ = cmd.Flags().GetBool("fail-on-critical")
	opts.Policy.AllowFailures, _ = cmd.Flags().GetBool("allow-failures")
	noGitignore, _ := cmd.Flags().GetBool("no-gitignore")
	opts.RespectGitignore = !noGitignore
	return opts
}

func (o *runOptions) defaults() {
	if o.Clock == nil {
		o.Clock = storage.SystemClock{}
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
}

// applyOverrides copies flag values over the file config.
func (o *runOptions) applyOverrides(cfg *config.Config) error {
	if o.Concurrency < 0 {
		return fmt.Errorf("--concurrency must be positive, got %d", o.Concurrency)
	}
	if o.Concurrency > 0 {
		cfg.Concurrency = o.Concurrency
	}
	if o.ReportDir != "" {
		cfg.ReportDir = o.ReportDir
	}
	if o.DiffBase != "" {
		cfg.DiffBase = o.DiffBase
	}
	if o.MetricsAddr != "" {
		cfg.MetricsAddr = o.MetricsAddr
	}
	return nil
}

// runReview discovers jobs, runs them and writes the summary. It returns a
// nil summary for dry runs and for failures before any job started. When
// ctx is cancelled mid-run the summary covers the finished jobs and the
// error reports the interruption.
func runReview(ctx context.Context, cfg *loadedConfig, opts runOptions) (*report.Summary, error) {
	opts.defaults()
	if err := opts.applyOverrides(cfg.Config); err != nil {
		return nil, err
	}

	gitOps, target := resolveGit(ctx, cfg.Config, opts.Git)
	plan, err := discovery.Discover(ctx, cfg.Config, discovery.Options{
		Reviewers:        opts.Reviewers,
		Scopes:           opts.Scopes,
		Git:              gitOps,
		RespectGitignore: opts.RespectGitignore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover jobs: %w", err)
	}

	store, err := storage.Open(ctx, cfg.StorageConfig(), opts.Clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close state store", "error", err)
		}
	}()

	now := opts.Clock.Now()
	reportDir := report.DatedDir(cfg.ReportDir, now)

	if opts.DryRun {
		preview := orchestrator.Preview(ctx, store, plan.Jobs, false, nil)
		printPlan(opts.Out, cfg.Config, plan, preview, opts.Force, reportDir)
		return nil, nil
	}

	providers := opts.Providers
	if providers == nil {
		providers, err = buildProviders(cfg.Config, plan.Jobs)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	exec, err := executor.New(executor.Config{
		Providers:       providers,
		DefaultProvider: provider.NameClaudeCLI,
		Prompts:         executor.FilePromptLoader{BaseDir: cfg.Dir()},
		Retry:           cfg.RetryPolicy(),
		DefaultTimeout:  cfg.Timeout(),
		Observer:        m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	sinks, err := buildSinks(ctx, cfg.Config, reportDir, now)
	if err != nil {
		return nil, err
	}
	out := opts.Out
	progress := orchestrator.SinkFunc(func(ctx context.Context, result *types.JobResult) error {
		printResult(out, result)
		return sinks.Write(ctx, result)
	})

	orch, err := orchestrator.New(exec, store, progress, orchestrator.Config{
		Concurrency: cfg.Concurrency,
		LaunchDelay: cfg.LaunchDelay(),
		Force:       opts.Force,
		Hooks:       m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if cfg.MetricsAddr != "" {
		serveCtx, stopServe := context.WithCancel(ctx)
		defer stopServe()
		go func() {
			if err := m.Serve(serveCtx, cfg.MetricsAddr); err != nil {
				slog.Warn("Metrics endpoint stopped", "addr", cfg.MetricsAddr, "error", err)
			}
		}()
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(out, "\n%s\n", cyan("=== polyrev ==="))
	fmt.Fprintf(out, "Reviewing %s with %d reviewers (concurrency %d)\n", target, len(plan.Jobs), cfg.Concurrency)
	fmt.Fprintf(out, "Reports: %s\n\n", reportDir)

	rep, runErr := orch.Run(ctx, plan.Jobs)

	summary := report.BuildSummary(rep, target, reportDir, opts.Policy, opts.Clock.Now())
	if err := sinks.WriteSummary(context.WithoutCancel(ctx), summary); err != nil {
		slog.Warn("Failed to write summary", "error", err)
	}
	printSummary(out, summary, plan.NoFiles)
	return summary, runErr
}

// resolveGit returns git operations when the target is a repository, plus
// a display name for the target that includes the HEAD commit if known.
func resolveGit(ctx context.Context, cfg *config.Config, ops git.Operations) (git.Operations, string) {
	target := cfg.Target
	if ops == nil {
		if !git.IsRepo(ctx, cfg.Target) {
			return nil, target
		}
		g, err := git.NewGit(ctx)
		if err != nil {
			slog.Debug("Git unavailable", "error", err)
			return nil, target
		}
		ops = g
	}
	if head, err := ops.HeadCommit(ctx, cfg.Target); err == nil && head != "" {
		target = fmt.Sprintf("%s@%s", target, head)
	}
	return ops, target
}

// buildProviders creates one client per provider the jobs use.
func buildProviders(cfg *config.Config, jobs []types.Job) (provider.Registry, error) {
	reg := provider.Registry{}
	for _, job := range jobs {
		name := job.Provider
		if name == "" {
			name = provider.NameClaudeCLI
		}
		if _, ok := reg[name]; ok {
			continue
		}
		switch name {
		case provider.NameClaudeCLI:
			reg.Register(provider.NewClaudeCLI(cfg.ClaudeConfig()))
		case provider.NameCodexCLI:
			reg.Register(provider.NewCodexCLI(cfg.CodexConfig()))
		case provider.NameAnthropicAPI:
			client, err := provider.NewAnthropicAPI(cfg.AnthropicConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
			}
			reg.Register(client)
		default:
			return nil, fmt.Errorf("unknown provider %q for reviewer %s", name, job.ID)
		}
	}
	if len(reg) == 0 {
		// The executor requires at least one client even when nothing runs.
		reg.Register(provider.NewClaudeCLI(cfg.ClaudeConfig()))
	}
	return reg, nil
}

// buildSinks writes reports to the dated directory and, when configured,
// uploads the same artifacts under <prefix>/<date>/ in S3.
func buildSinks(ctx context.Context, cfg *config.Config, reportDir string, now time.Time) (report.Multi, error) {
	dir, err := report.NewDirSink(reportDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	sinks := report.Multi{dir}
	if cfg.S3 != nil {
		s3cfg := *cfg.S3
		s3cfg.Prefix = path.Join(s3cfg.Prefix, now.Format(types.DateLayout))
		s3sink, err := report.NewS3Sink(ctx, s3cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 sink: %w", err)
		}
		sinks = append(sinks, s3sink)
	}
	return sinks, nil
}
