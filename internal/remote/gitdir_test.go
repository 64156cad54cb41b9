package remote

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return string(out)
}

func TestGitDirFilesAndFlush(t *testing.T) {
	requireGit(t)
	base := t.TempDir()
	bare := filepath.Join(base, "remote.git")
	work := filepath.Join(base, "work")
	git(t, base, "init", "--bare", bare)
	git(t, base, "init", work)
	git(t, work, "remote", "add", "origin", bare)

	m, err := NewGitDir(GitDirOptions{Dir: work, Subdir: "data", UserName: "tester"})
	if err != nil {
		t.Fatalf("new git dir: %v", err)
	}
	ctx := context.Background()
	rev, err := m.Put(ctx, "content/art/a.md", []byte("painting"), "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(work, "data", "content", "art", "a.md")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if _, err := m.Put(ctx, "content/art/a.md", []byte("x"), "wrong"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	list, err := m.List(ctx, "content/")
	if err != nil || len(list) != 1 || list[0].Revision != rev {
		t.Fatalf("list: %+v %v", list, err)
	}
	if _, err := m.Put(ctx, "../escape", []byte("x"), ""); err == nil {
		t.Fatal("expected unsafe key to fail")
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if out := git(t, bare, "log", "--all", "--oneline"); !strings.Contains(out, "auto: content") {
		t.Fatalf("expected pushed commit, got %q", out)
	}

	if err := m.Delete(ctx, "content/art/a.md", rev); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "content/art/a.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if err := m.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if out := git(t, bare, "log", "--all", "--oneline"); strings.Count(out, "\n") != 2 {
		t.Fatalf("expected two commits, got %q", out)
	}
}

func TestNewGitDirRequiresRepo(t *testing.T) {
	if _, err := NewGitDir(GitDirOptions{Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error for directory without .git")
	}
}

func TestGitDirListFailsWhenRootVanishes(t *testing.T) {
	work := t.TempDir()
	if err := os.Mkdir(filepath.Join(work, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	m, err := NewGitDir(GitDirOptions{Dir: work, Subdir: "data"})
	if err != nil {
		t.Fatalf("new git dir: %v", err)
	}
	list, err := m.List(context.Background(), "")
	if err != nil || len(list) != 0 {
		t.Fatalf("fresh subdir should list empty: %+v %v", list, err)
	}
	if err := os.RemoveAll(filepath.Join(work, "data")); err != nil {
		t.Fatal(err)
	}
	if list, err := m.List(context.Background(), ""); err == nil {
		t.Fatalf("expected error for missing root, got %+v", list)
	}
}
