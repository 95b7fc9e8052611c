// Package discovery turns configured reviewers and scopes into the ordered
// job list the orchestrator runs.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/steveyegge/polyrev/internal/config"
	"github.com/steveyegge/polyrev/internal/git"
	"github.com/steveyegge/polyrev/internal/types"
)

// Options narrow discovery.
type Options struct {
	Reviewers        []string       // Only these reviewer ids (empty = all enabled)
	Scopes           []string       // Only files from these scopes (empty = all)
	DiffBase         string         // Only files changed since this ref; overrides config
	Git              git.Operations // Required when a diff base is in effect
	RespectGitignore bool
}

// Plan is the discovery outcome. Jobs keep config order.
type Plan struct {
	Jobs []types.Job

	// NoFiles lists enabled reviewers whose scopes resolved to nothing.
	// They are never scheduled.
	NoFiles []string
}

// Discover builds one job per enabled reviewer.
func Discover(ctx context.Context, cfg *config.Config, opts Options) (*Plan, error) {
	reviewers, err := selectReviewers(cfg, opts.Reviewers)
	if err != nil {
		return nil, err
	}
	scopeFilter := toSet(opts.Scopes)
	for name := range scopeFilter {
		if _, ok := cfg.Scopes[name]; !ok {
			return nil, fmt.Errorf("unknown scope %q", name)
		}
	}

	walker, err := NewWalker(cfg.Target, opts.RespectGitignore)
	if err != nil {
		return nil, err
	}
	walker.MaxLines = cfg.MaxFileLines

	changed, err := changedFiles(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}

	// Scopes are shared between reviewers; resolve each once.
	resolved := make(map[string][]string)
	plan := &Plan{}
	for _, r := range reviewers {
		files := make(map[string]bool)
		for _, name := range r.Scopes {
			if scopeFilter != nil && !scopeFilter[name] {
				continue
			}
			scopeFiles, ok := resolved[name]
			if !ok {
				scopeFiles, err = walker.Resolve(cfg.Scopes[name])
				if err != nil {
					return nil, fmt.Errorf("scope %s: %w", name, err)
				}
				resolved[name] = scopeFiles
			}
			for _, f := range scopeFiles {
				if changed == nil || changed[f] {
					files[f] = true
				}
			}
		}

		if len(files) == 0 {
			slog.Info("Reviewer has no files to review", "reviewer", r.ID)
			plan.NoFiles = append(plan.NoFiles, r.ID)
			continue
		}
		plan.Jobs = append(plan.Jobs, buildJob(cfg, r, sortedKeys(files)))
	}
	return plan, nil
}

func buildJob(cfg *config.Config, r config.Reviewer, files []string) types.Job {
	job := types.Job{
		ID:        r.ID,
		Name:      r.DisplayName(),
		Files:     files,
		PromptRef: r.PromptFile,
		Provider:  r.Provider,
		Timeout:   cfg.Timeout(),
		MaxFiles:  cfg.MaxFiles,
		Priority:  r.Priority(),
	}
	if r.TimeoutSec != nil {
		job.Timeout = time.Duration(*r.TimeoutSec) * time.Second
	}
	if r.MaxFiles != nil {
		job.MaxFiles = *r.MaxFiles
	}
	return job
}

func selectReviewers(cfg *config.Config, ids []string) ([]config.Reviewer, error) {
	if len(ids) == 0 {
		return cfg.EnabledReviewers(), nil
	}
	// Explicitly requested reviewers run even when disabled in config.
	var out []config.Reviewer
	for _, id := range ids {
		r, ok := cfg.Reviewer(id)
		if !ok {
			return nil, fmt.Errorf("unknown reviewer %q", id)
		}
		out = append(out, *r)
	}
	return out, nil
}

// changedFiles returns nil when no diff base applies.
func changedFiles(ctx context.Context, cfg *config.Config, opts Options) (map[string]bool, error) {
	base := opts.DiffBase
	if base == "" {
		base = cfg.DiffBase
	}
	if base == "" {
		return nil, nil
	}
	if opts.Git == nil {
		return nil, fmt.Errorf("diff base %s requires git", base)
	}
	files, err := opts.Git.ChangedFiles(ctx, cfg.Target, base)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[filepath.ToSlash(f)] = true
	}
	slog.Debug("Diff filter active", "base", base, "changed", len(set))
	return set, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
