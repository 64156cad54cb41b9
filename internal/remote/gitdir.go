package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	sharefs "gshare/internal/storage/fs"
)

type GitDirOptions struct {
	Dir           string
	Subdir        string
	CommitMessage string
	UserName      string
	EmailDomain   string
	LogFile       string
	LockTimeout   time.Duration
}

// GitDir mirrors keys as files in a git working tree. Writes land on disk
// immediately; Flush commits them and pushes to origin when one exists.
type GitDir struct {
	opts   GitDirOptions
	root   string
	locker *sharefs.Locker
}

func NewGitDir(opts GitDirOptions) (*GitDir, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, errors.New("git mirror requires a directory")
	}
	if _, err := os.Stat(filepath.Join(opts.Dir, ".git")); err != nil {
		return nil, fmt.Errorf("git mirror: no git repo in %s", opts.Dir)
	}
	if opts.CommitMessage == "" {
		opts.CommitMessage = "auto: content"
	}
	if opts.EmailDomain == "" {
		opts.EmailDomain = "gshare.local"
	}
	if opts.LogFile == "" {
		opts.LogFile = filepath.Join(opts.Dir, ".git", "gshare-sync.log")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	root := opts.Dir
	if opts.Subdir != "" {
		sub, err := sharefs.JoinUnder(opts.Dir, opts.Subdir)
		if err != nil {
			return nil, err
		}
		root = sub
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("git mirror: %w", err)
	}
	return &GitDir{opts: opts, root: root, locker: sharefs.NewLocker()}, nil
}

func (g *GitDir) Name() string { return "git" }

func (g *GitDir) path(key string) (string, error) {
	return sharefs.JoinUnder(g.root, key)
}

func (g *GitDir) List(_ context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(g.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			if p == g.root {
				return fmt.Errorf("git mirror root: %w", err)
			}
			if errors.Is(err, iofs.ErrNotExist) {
				// removed during the walk
				return nil
			}
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp.") {
			return nil
		}
		key, err := sharefs.RelSlash(g.root, p)
		if err != nil || !strings.HasPrefix(key, prefix) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		info, _ := d.Info()
		obj := Object{Key: key, Revision: contentRevision(data)}
		if info != nil {
			obj.UpdatedAt = info.ModTime()
		}
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (g *GitDir) read(key string) (Object, string, error) {
	full, err := g.path(key)
	if err != nil {
		return Object{}, "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return Object{}, full, ErrNotFound
		}
		return Object{}, full, err
	}
	obj := Object{Key: key, Data: data, Revision: contentRevision(data)}
	if info, err := os.Stat(full); err == nil {
		obj.UpdatedAt = info.ModTime()
	}
	return obj, full, nil
}

func (g *GitDir) Get(_ context.Context, key string) (Object, error) {
	obj, _, err := g.read(key)
	return obj, err
}

func (g *GitDir) Put(_ context.Context, key string, data []byte, prevRev string) (string, error) {
	unlock := g.locker.Lock(key)
	defer unlock()
	current, full, err := g.read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if prevRev != "" && current.Revision != prevRev {
		return "", &ConflictError{Key: key, Current: current.Revision}
	}
	if err := sharefs.WriteFileAtomic(full, data, 0o644); err != nil {
		return "", err
	}
	return contentRevision(data), nil
}

func (g *GitDir) Delete(_ context.Context, key string, rev string) error {
	unlock := g.locker.Lock(key)
	defer unlock()
	current, full, err := g.read(key)
	if err != nil {
		return err
	}
	if rev != "" && current.Revision != rev {
		return &ConflictError{Key: key, Current: current.Revision}
	}
	return os.Remove(full)
}

func (g *GitDir) gitEnv() []string {
	return append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
}

func (g *GitDir) openLog() (io.Writer, func(), error) {
	if err := os.MkdirAll(filepath.Dir(g.opts.LogFile), 0o755); err != nil {
		return nil, nil, err
	}
	handle, err := os.OpenFile(g.opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return handle, func() {
		_ = handle.Close()
		_ = trimLogFile(g.opts.LogFile, 1000)
	}, nil
}

func (g *GitDir) lock() (*sharefs.FileLock, error) {
	return sharefs.AcquireFileLockWithTimeout(filepath.Join(g.opts.Dir, ".git", "gshare.lock"), g.opts.LockTimeout)
}

// Refresh rebases the working tree onto origin so that List sees remote edits.
func (g *GitDir) Refresh(ctx context.Context) error {
	fl, err := g.lock()
	if err != nil {
		return err
	}
	defer fl.Release()
	logw, done, err := g.openLog()
	if err != nil {
		return err
	}
	defer done()
	dir, env := g.opts.Dir, g.gitEnv()
	if !gitHasOriginRemote(ctx, dir, env, logw) || !gitHasCommits(ctx, dir, env, logw) {
		return nil
	}
	branch := gitCurrentBranch(ctx, dir, env, logw)
	if branch == "" || !remoteBranchExists(ctx, dir, env, logw, branch) {
		return nil
	}
	if _, err := runGitCommand(ctx, dir, env, logw, "pull", "--rebase", "--autostash", "origin", branch); err != nil {
		_, _ = runGitCommand(ctx, dir, env, logw, "rebase", "--abort")
		return fmt.Errorf("git pull --rebase %s: %w", branch, err)
	}
	return nil
}

// Flush commits pending file changes and pushes them.
func (g *GitDir) Flush(ctx context.Context) error {
	fl, err := g.lock()
	if err != nil {
		return err
	}
	defer fl.Release()
	logw, done, err := g.openLog()
	if err != nil {
		return err
	}
	defer done()
	writer := logw
	dir, env := g.opts.Dir, g.gitEnv()
	_, _ = fmt.Fprintf(writer, "flush: start %s\n", time.Now().Format(time.RFC3339))

	if userName := strings.TrimSpace(g.opts.UserName); userName != "" {
		if !gitConfigLocalDefined(ctx, dir, env, writer, "user.name") {
			_, _ = runGitCommand(ctx, dir, env, writer, "config", "--local", "user.name", userName)
		}
		if !gitConfigLocalDefined(ctx, dir, env, writer, "user.email") {
			_, _ = runGitCommand(ctx, dir, env, writer, "config", "--local", "user.email", userName+"@"+g.opts.EmailDomain)
		}
	}

	scope := "."
	if g.opts.Subdir != "" {
		scope = g.opts.Subdir
	}
	if _, err := runGitCommand(ctx, dir, env, writer, "add", "-A", "--", scope); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	changed, err := gitHasStagedChanges(ctx, dir, env, writer)
	if err != nil {
		return err
	}
	if changed {
		if _, err := runGitCommand(ctx, dir, env, writer, "commit", "-m", g.opts.CommitMessage); err != nil {
			return fmt.Errorf("git commit: %w", err)
		}
	}
	if !gitHasOriginRemote(ctx, dir, env, writer) {
		_, _ = fmt.Fprintln(writer, "flush: no remote origin")
		return nil
	}
	if !gitHasCommits(ctx, dir, env, writer) {
		_, _ = fmt.Fprintln(writer, "flush: no commits yet")
		return nil
	}
	branch := gitCurrentBranch(ctx, dir, env, writer)
	if branch == "" {
		return errors.New("git mirror: detached HEAD")
	}
	if !remoteBranchExists(ctx, dir, env, writer, branch) {
		if _, err := runGitCommand(ctx, dir, env, writer, "push", "-u", "origin", branch); err != nil {
			return fmt.Errorf("git push: %w", err)
		}
		_, _ = fmt.Fprintf(writer, "flush: done %s\n", time.Now().Format(time.RFC3339))
		return nil
	}
	if _, err := runGitCommand(ctx, dir, env, writer, "pull", "--rebase", "origin", branch); err != nil {
		_, _ = runGitCommand(ctx, dir, env, writer, "rebase", "--abort")
		slog.Warn("git mirror rebase failed", "branch", branch, "log", g.opts.LogFile)
		return fmt.Errorf("git pull --rebase %s: %w", branch, err)
	}
	if _, err := runGitCommand(ctx, dir, env, writer, "push", "origin", branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	_, _ = fmt.Fprintf(writer, "flush: done %s\n", time.Now().Format(time.RFC3339))
	slog.Debug("git mirror flushed", "branch", branch, "committed", changed)
	return nil
}
