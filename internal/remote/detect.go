package remote

import (
	"context"
	"fmt"
	"log/slog"

	"gshare/internal/config"
)

const (
	StrategyNone   = "none"
	StrategyGitHub = "github"
	StrategyS3     = "s3"
	StrategyGit    = "git"
	StrategyMemory = "memory"
)

// Strategy picks the mirror kind. An explicit SHARE_REMOTE wins; otherwise the
// first backend with enough configuration is used.
func Strategy(cfg config.Config) string {
	if cfg.Remote != "" {
		return cfg.Remote
	}
	switch {
	case cfg.GitHub.Token != "" && cfg.GitHub.Owner != "" && cfg.GitHub.Repo != "":
		return StrategyGitHub
	case cfg.S3.Bucket != "":
		return StrategyS3
	case cfg.Git.Dir != "":
		return StrategyGit
	default:
		return StrategyNone
	}
}

// Detect builds the mirror for cfg. The none strategy yields None, which the
// syncer skips.
func Detect(ctx context.Context, cfg config.Config) (Mirror, error) {
	strategy := Strategy(cfg)
	slog.Info("remote mirror", "strategy", strategy)
	switch strategy {
	case StrategyGitHub:
		return NewGitHub(ctx, GitHubOptions{
			Token:   cfg.GitHub.Token,
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			Prefix:  cfg.GitHub.Prefix,
			APIBase: cfg.GitHub.APIBase,
		})
	case StrategyS3:
		return NewS3(ctx, S3Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Prefix:    cfg.S3.Prefix,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case StrategyGit:
		return NewGitDir(GitDirOptions{
			Dir:           cfg.Git.Dir,
			CommitMessage: cfg.Git.CommitMessage,
			UserName:      cfg.Git.UserName,
			LockTimeout:   cfg.DBLockTimeout,
		})
	case StrategyMemory:
		return NewMemory(), nil
	case StrategyNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown remote strategy %q", strategy)
	}
}
