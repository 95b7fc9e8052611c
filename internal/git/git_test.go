package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

// initRepo creates a repository with one commit containing a.go and b.go.
func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test User", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=Test User", "GIT_COMMITTER_EMAIL=test@example.com")
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	run("init", "-q")
	writeFile(t, dir, "a.go", "package a\n")
	writeFile(t, dir, "b.go", "package b\n")
	run("add", ".")
	run("commit", "-q", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestChangedFiles(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)

	git, err := NewGit(ctx)
	if err != nil {
		t.Fatalf("Failed to create Git instance: %v", err)
	}

	t.Run("NoChanges", func(t *testing.T) {
		files, err := git.ChangedFiles(ctx, dir, "HEAD")
		if err != nil {
			t.Fatalf("ChangedFiles failed: %v", err)
		}
		if len(files) != 0 {
			t.Errorf("Expected no changes, got %v", files)
		}
	})

	t.Run("ModifiedAndDeleted", func(t *testing.T) {
		writeFile(t, dir, "a.go", "package a\n\nfunc A() {}\n")
		writeFile(t, dir, "sub/c.go", "package sub\n")
		if err := os.Remove(filepath.Join(dir, "b.go")); err != nil {
			t.Fatalf("remove: %v", err)
		}
		add := exec.Command("git", "add", "sub/c.go")
		add.Dir = dir
		if err := add.Run(); err != nil {
			t.Fatalf("git add: %v", err)
		}

		files, err := git.ChangedFiles(ctx, dir, "HEAD")
		if err != nil {
			t.Fatalf("ChangedFiles failed: %v", err)
		}
		sort.Strings(files)
		want := []string{"a.go", "sub/c.go"}
		if !reflect.DeepEqual(files, want) {
			t.Errorf("Expected %v, got %v", want, files)
		}
	})

	t.Run("UnknownBase", func(t *testing.T) {
		if _, err := git.ChangedFiles(ctx, dir, "no-such-ref"); err == nil {
			t.Error("Expected error for unknown base ref")
		}
	})

	t.Run("EmptyBase", func(t *testing.T) {
		if _, err := git.ChangedFiles(ctx, dir, ""); err == nil {
			t.Error("Expected error for empty base")
		}
	})
}

func TestHeadCommit(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)

	git, err := NewGit(ctx)
	if err != nil {
		t.Fatalf("Failed to create Git instance: %v", err)
	}

	sha, err := git.HeadCommit(ctx, dir)
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}
	if len(sha) < 7 {
		t.Errorf("Expected abbreviated hash, got %q", sha)
	}

	if _, err := git.HeadCommit(ctx, t.TempDir()); err == nil {
		t.Error("Expected error outside a repository")
	}
}

func TestIsRepo(t *testing.T) {
	ctx := context.Background()
	dir := initRepo(t)

	if !IsRepo(ctx, dir) {
		t.Error("Expected repository to be detected")
	}
	sub := filepath.Join(dir, "nested", "pkg")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if !IsRepo(ctx, sub) {
		t.Error("Expected subdirectory to be detected as inside the repository")
	}
}
