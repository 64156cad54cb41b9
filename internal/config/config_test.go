package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	prev := envFileName
	envFileName = filepath.Join(dir, ".env")
	t.Cleanup(func() { envFileName = prev })

	t.Setenv("SHARE_DATA_PATH", "")
	t.Setenv("SHARE_SYNC_INTERVAL", "1m")
	t.Setenv("SHARE_SYNC_WORKERS", "-2")
	t.Setenv("SHARE_GITHUB_REPO", "")
	t.Setenv("GITHUB_REPOSITORY", "alice/site")
	t.Setenv("SHARE_S3_PATH_STYLE", "yes")

	cfg := Load()
	if cfg.SyncInterval != time.Minute {
		t.Fatalf("sync interval: got %s", cfg.SyncInterval)
	}
	if cfg.SyncWorkers != 4 {
		t.Fatalf("expected negative workers to fall back to 4, got %d", cfg.SyncWorkers)
	}
	if cfg.GitHub.Owner != "alice" || cfg.GitHub.Repo != "site" {
		t.Fatalf("github repo: got %q/%q", cfg.GitHub.Owner, cfg.GitHub.Repo)
	}
	if !cfg.S3.PathStyle {
		t.Fatal("expected path style enabled")
	}
	if _, err := os.Stat(envFileName); err != nil {
		t.Fatalf("expected env file to be created: %v", err)
	}
	if cfg.DataPath != ".share" {
		t.Fatalf("data path: got %q", cfg.DataPath)
	}
}

func TestLoadEnvFileKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nSHARE_LISTEN_ADDR=\"0.0.0.0:9000\"\nSHARE_AUTH_USER=file-user\nbroken line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("SHARE_AUTH_USER", "env-user")
	t.Setenv("SHARE_LISTEN_ADDR", "")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("SHARE_AUTH_USER"); got != "env-user" {
		t.Fatalf("expected env value to win, got %q", got)
	}
	if got := os.Getenv("SHARE_LISTEN_ADDR"); got != "0.0.0.0:9000" {
		t.Fatalf("expected quoted value to be unwrapped, got %q", got)
	}
}

func TestSplitRepo(t *testing.T) {
	cases := map[string][2]string{
		"alice/site":   {"alice", "site"},
		"/alice/site/": {"alice", "site"},
		"alice":        {"", ""},
		"":             {"", ""},
	}
	for in, want := range cases {
		owner, repo := splitRepo(in)
		if owner != want[0] || repo != want[1] {
			t.Fatalf("splitRepo(%q) = %q,%q want %q,%q", in, owner, repo, want[0], want[1])
		}
	}
}
