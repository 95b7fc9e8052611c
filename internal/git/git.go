// Package git wraps the few git commands discovery needs.
package git

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Operations is the git surface used by file discovery.
type Operations interface {
	// ChangedFiles lists paths changed since base. Paths are relative to
	// repoPath, which may be a subdirectory of the repository.
	ChangedFiles(ctx context.Context, repoPath, base string) ([]string, error)

	// HeadCommit returns the abbreviated HEAD commit.
	HeadCommit(ctx context.Context, repoPath string) (string, error)
}

// Git implements Operations using the git CLI.
type Git struct {
	// gitPath is the path to the git executable
	gitPath string
}

// NewGit creates a new Git instance.
// It verifies that git is available on the system.
func NewGit(ctx context.Context) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	// Verify git works
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}

	return &Git{gitPath: gitPath}, nil
}

// ChangedFiles runs `git diff --name-only <base>`, which covers committed,
// staged and unstaged changes against base. Deleted paths are dropped since
// there is nothing left to review.
// SECURITY: repoPath must be a validated, trusted path. base is passed
// after "--end-of-options" so it cannot be read as a flag.
func (g *Git) ChangedFiles(ctx context.Context, repoPath, base string) ([]string, error) {
	if base == "" {
		return nil, fmt.Errorf("diff base is required")
	}
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "diff", "--name-only", "--relative", "--diff-filter=d", "--end-of-options", base)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("git diff against %s failed in %s: %w: %s", base, repoPath, err, strings.TrimSpace(stderr.String()))
	}

	var files []string
	scanner := bufio.NewScanner(strings.NewReader(string(output)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		files = append(files, filepath.ToSlash(line))
	}
	return files, scanner.Err()
}

// HeadCommit returns the short hash of HEAD.
func (g *Git) HeadCommit(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", repoPath, "rev-parse", "--short", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed in %s: %w", repoPath, err)
	}
	return strings.TrimSpace(string(output)), nil
}

// IsRepo checks if the directory is inside a git repository.
func IsRepo(ctx context.Context, dir string) bool {
	// Check if .git exists (a file for worktrees, a directory otherwise)
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return true
	}

	// Check if we're inside a git repo by running git rev-parse
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}
