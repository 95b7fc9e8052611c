package discovery

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"

	"github.com/steveyegge/polyrev/internal/config"
)

// defaultExcludes are never reviewed regardless of scope patterns.
var defaultExcludes = []string{
	"**/node_modules",
	"**/vendor",
	"**/target",
	"**/*.min.js",
}

// Walker resolves scopes to files under a root directory.
type Walker struct {
	// Root directory every scope path is relative to
	Root string

	// MaxLines drops files longer than this many lines; zero disables it
	MaxLines int

	// ignore holds .gitignore patterns plus defaultExcludes; nil disables it
	ignore *patternmatcher.PatternMatcher
}

// NewWalker builds a walker for root. When respectGitignore is set, the
// root .gitignore is honoured alongside the built-in excludes.
func NewWalker(root string, respectGitignore bool) (*Walker, error) {
	patterns := append([]string{}, defaultExcludes...)
	if respectGitignore {
		extra, err := loadGitignore(filepath.Join(root, ".gitignore"))
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid ignore pattern: %w", err)
	}
	return &Walker{Root: root, ignore: pm}, nil
}

// Resolve lists every file in the scope as a slash-separated path relative
// to Root, sorted. Paths that do not exist are skipped.
func (w *Walker) Resolve(scope config.Scope) ([]string, error) {
	include, err := compile(scope.Include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exclude, err := compile(scope.Exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	seen := make(map[string]bool)
	var files []string
	for _, p := range scope.Paths {
		start := filepath.Join(w.Root, filepath.FromSlash(p))
		if _, err := os.Stat(start); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to stat scope path %s: %w", p, err)
		}

		err := filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			relPath, err := filepath.Rel(w.Root, path)
			if err != nil {
				return err
			}

			if w.shouldSkip(relPath, d) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}

			if include != nil {
				ok, err := include.MatchesOrParentMatches(relPath)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if exclude != nil {
				ok, err := exclude.MatchesOrParentMatches(relPath)
				if err != nil {
					return err
				}
				if ok {
					return nil
				}
			}

			slash := filepath.ToSlash(relPath)
			if skip, reason := unreviewable(slash, path, w.MaxLines); skip {
				slog.Debug("Skipping file", "file", slash, "reason", reason)
				return nil
			}
			if !seen[slash] {
				seen[slash] = true
				files = append(files, slash)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", p, err)
		}
	}

	sort.Strings(files)
	return files, nil
}

// shouldSkip excludes hidden entries and ignored paths.
func (w *Walker) shouldSkip(relPath string, d fs.DirEntry) bool {
	if relPath == "." {
		return false
	}
	if strings.HasPrefix(d.Name(), ".") {
		return true
	}
	if w.ignore == nil {
		return false
	}
	ok, err := w.ignore.MatchesOrParentMatches(relPath)
	return err == nil && ok
}

func compile(patterns []string) (*patternmatcher.PatternMatcher, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	return patternmatcher.New(patterns)
}

// loadGitignore converts .gitignore lines to patternmatcher syntax. A
// pattern without a slash matches at any depth in git, so it gains a "**/"
// prefix. Patterns with a slash are already relative to the root.
func loadGitignore(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	lines, err := ignorefile.ReadAll(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	patterns := make([]string, 0, len(lines))
	for _, line := range lines {
		patterns = append(patterns, gitignoreToPattern(line))
	}
	return patterns, nil
}

func gitignoreToPattern(line string) string {
	p, negate := strings.CutPrefix(line, "!")
	if !strings.Contains(p, "/") && !strings.HasPrefix(p, "**") {
		p = "**/" + p
	}
	if negate {
		return "!" + p
	}
	return p
}
