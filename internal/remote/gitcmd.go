package remote

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

func runGitCommand(ctx context.Context, dir string, env []string, writer io.Writer, args ...string) (string, error) {
	writeCommand(writer, "git", args...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = env
	output, err := cmd.CombinedOutput()
	if len(output) > 0 {
		_, _ = writer.Write(output)
	}
	if err != nil {
		_, _ = fmt.Fprintf(writer, "-> error: %v\n", err)
	} else {
		_, _ = fmt.Fprintln(writer, "-> ok")
	}
	_, _ = fmt.Fprintln(writer)
	return string(output), err
}

func writeCommand(writer io.Writer, name string, args ...string) {
	cmd := append([]string{name}, args...)
	_, _ = fmt.Fprintf(writer, "\n$ %s\n", strings.Join(cmd, " "))
}

// gitExitCode runs git and reports its exit code; -1 means it did not run.
func gitExitCode(ctx context.Context, dir string, env []string, writer io.Writer, args ...string) (int, string) {
	out, err := runGitCommand(ctx, dir, env, writer, args...)
	if err == nil {
		return 0, out
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), out
	}
	return -1, out
}

func gitConfigLocalDefined(ctx context.Context, dir string, env []string, writer io.Writer, key string) bool {
	code, out := gitExitCode(ctx, dir, env, writer, "config", "--local", "--get", key)
	return code == 0 && strings.TrimSpace(out) != ""
}

func gitHasStagedChanges(ctx context.Context, dir string, env []string, writer io.Writer) (bool, error) {
	switch code, _ := gitExitCode(ctx, dir, env, writer, "diff", "--cached", "--quiet"); code {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("git diff --cached exited with %d", code)
	}
}

func gitHasOriginRemote(ctx context.Context, dir string, env []string, writer io.Writer) bool {
	code, _ := gitExitCode(ctx, dir, env, writer, "remote", "get-url", "origin")
	return code == 0
}

func gitHasCommits(ctx context.Context, dir string, env []string, writer io.Writer) bool {
	code, _ := gitExitCode(ctx, dir, env, writer, "rev-parse", "--verify", "HEAD")
	return code == 0
}

func gitCurrentBranch(ctx context.Context, dir string, env []string, writer io.Writer) string {
	code, out := gitExitCode(ctx, dir, env, writer, "symbolic-ref", "--short", "HEAD")
	if code != 0 {
		return ""
	}
	return strings.TrimSpace(out)
}

func remoteBranchExists(ctx context.Context, dir string, env []string, writer io.Writer, branch string) bool {
	if strings.TrimSpace(branch) == "" {
		return false
	}
	code, out := gitExitCode(ctx, dir, env, writer, "ls-remote", "--heads", "origin", branch)
	return code == 0 && strings.TrimSpace(out) != ""
}

func trimLogFile(path string, maxLines int) error {
	if maxLines <= 0 {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	lines := make([]string, 0, maxLines)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(lines) == maxLines {
			copy(lines, lines[1:])
			lines[maxLines-1] = scanner.Text()
			continue
		}
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(tmp, line); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
