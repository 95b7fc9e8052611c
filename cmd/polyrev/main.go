// Command polyrev runs AI code reviewers over a codebase in parallel and
// writes their findings as dated reports.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/steveyegge/polyrev/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "polyrev",
	Short: "Parallel code review orchestrator for Claude Code and Codex CLI",
	Long: `polyrev runs a set of configured reviewers (a prompt, a provider and
the file scopes it reviews) concurrently, streams each reviewer's findings to
reports/YYYY-MM-DD/ as soon as it finishes, and remembers which reviewers
already completed today so a second run the same day only does new work.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: $POLYREV_CONFIG or polyrev.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides log_level)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (overrides log_file)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadedConfig is a config plus where it came from.
type loadedConfig struct {
	*config.Config
	Path string
}

// Dir is the directory relative prompt files resolve against.
func (c *loadedConfig) Dir() string {
	return filepath.Dir(c.Path)
}

// loadConfig resolves and loads the config file, then installs the logger
// it asks for as the slog default. Flags win over the file. The returned
// function closes the log file.
func loadConfig(cmd *cobra.Command) (*loadedConfig, func(), error) {
	flagPath, _ := cmd.Flags().GetString("config")
	path := config.ResolvePath(flagPath)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}

	levelName := cfg.LogLevel
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		levelName = v
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		levelName = "debug"
	}
	level, err := config.ParseLevel(levelName)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level: %w", err)
	}

	logFile := cfg.LogFile
	if v, _ := cmd.Flags().GetString("log-file"); v != "" {
		logFile = v
	}
	logger, closeLog := config.SetupLogger(logFile, level)
	slog.SetDefault(logger)

	slog.Debug("Loaded config", "path", path, "reviewers", len(cfg.Reviewers), "scopes", len(cfg.Scopes))
	return &loadedConfig{Config: cfg, Path: path}, func() { _ = closeLog() }, nil
}

// mustLoadConfig is loadConfig for commands that cannot continue without it.
func mustLoadConfig(cmd *cobra.Command) (*loadedConfig, func()) {
	cfg, cleanup, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return cfg, cleanup
}
