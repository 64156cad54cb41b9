package remote

import (
	"context"
	"testing"

	"gshare/internal/config"
)

func TestStrategy(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"explicit wins", config.Config{Remote: "git", S3: config.S3Config{Bucket: "b"}}, StrategyGit},
		{"github", config.Config{GitHub: config.GitHubConfig{Token: "t", Owner: "o", Repo: "r"}, S3: config.S3Config{Bucket: "b"}}, StrategyGitHub},
		{"github without token", config.Config{GitHub: config.GitHubConfig{Owner: "o", Repo: "r"}, S3: config.S3Config{Bucket: "b"}}, StrategyS3},
		{"git", config.Config{Git: config.GitConfig{Dir: "/tmp/x"}}, StrategyGit},
		{"none", config.Config{}, StrategyNone},
	}
	for _, c := range cases {
		if got := Strategy(c.cfg); got != c.want {
			t.Fatalf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestDetectNoneAndUnknown(t *testing.T) {
	m, err := Detect(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if m.Name() != StrategyNone || !IsNone(m) {
		t.Fatalf("expected none mirror, got %q", m.Name())
	}
	if IsNone(NewMemory()) {
		t.Fatal("memory mirror reported as none")
	}
	if _, err := m.Put(context.Background(), "k", []byte("v"), ""); err != ErrNoMirror {
		t.Fatalf("put on none: %v", err)
	}
	if _, err := Detect(context.Background(), config.Config{Remote: "ftp"}); err == nil {
		t.Fatal("expected unknown strategy error")
	}
}
