package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	DataPath    string
	ContentPath string
	ListenAddr  string
	AuthUser    string
	AuthPass    string
	AuthFile    string

	DBBusyTimeout time.Duration
	DBLockTimeout time.Duration

	Remote       string
	SyncInterval time.Duration
	SyncDebounce time.Duration
	SyncWorkers  int

	DeleteVerifyAttempts int
	DeleteVerifyDelay    time.Duration

	GitHub GitHubConfig
	S3     S3Config
	Git    GitConfig
}

type GitHubConfig struct {
	Token   string
	Owner   string
	Repo    string
	Branch  string
	Prefix  string
	APIBase string
}

type S3Config struct {
	Bucket    string
	Region    string
	Prefix    string
	Endpoint  string
	PathStyle bool
}

type GitConfig struct {
	Dir           string
	CommitMessage string
	UserName      string
}

func Load() Config {
	initEnvFile()
	cfg := Config{
		DataPath:    envOr("SHARE_DATA_PATH", ".share"),
		ContentPath: os.Getenv("SHARE_CONTENT_PATH"),
		ListenAddr:  envOr("SHARE_LISTEN_ADDR", "127.0.0.1:8080"),
		AuthUser:    os.Getenv("SHARE_AUTH_USER"),
		AuthPass:    os.Getenv("SHARE_AUTH_PASS"),
		AuthFile:    os.Getenv("SHARE_AUTH_FILE"),
		Remote:      strings.ToLower(strings.TrimSpace(os.Getenv("SHARE_REMOTE"))),
	}

	cfg.DBBusyTimeout = parseDurationOr("SHARE_DB_BUSY_TIMEOUT", 5*time.Second)
	cfg.DBLockTimeout = parseDurationOr("SHARE_DB_LOCK_TIMEOUT", 2*time.Second)
	cfg.SyncInterval = parseDurationOr("SHARE_SYNC_INTERVAL", 10*time.Minute)
	cfg.SyncDebounce = parseDurationOr("SHARE_SYNC_DEBOUNCE", 30*time.Second)
	cfg.SyncWorkers = parseIntOr("SHARE_SYNC_WORKERS", 4)
	cfg.DeleteVerifyAttempts = parseIntOr("SHARE_DELETE_VERIFY_ATTEMPTS", 3)
	cfg.DeleteVerifyDelay = parseDurationOr("SHARE_DELETE_VERIFY_DELAY", 500*time.Millisecond)

	cfg.GitHub = GitHubConfig{
		Token:   firstEnv("SHARE_GITHUB_TOKEN", "GITHUB_TOKEN"),
		Branch:  envOr("SHARE_GITHUB_BRANCH", "main"),
		Prefix:  os.Getenv("SHARE_GITHUB_PREFIX"),
		APIBase: envOr("SHARE_GITHUB_API", "https://api.github.com"),
	}
	cfg.GitHub.Owner, cfg.GitHub.Repo = splitRepo(firstEnv("SHARE_GITHUB_REPO", "GITHUB_REPOSITORY"))

	cfg.S3 = S3Config{
		Bucket:    os.Getenv("SHARE_S3_BUCKET"),
		Region:    envOr("SHARE_S3_REGION", "us-east-1"),
		Prefix:    os.Getenv("SHARE_S3_PREFIX"),
		Endpoint:  os.Getenv("SHARE_S3_ENDPOINT"),
		PathStyle: parseBool(os.Getenv("SHARE_S3_PATH_STYLE")),
	}

	cfg.Git = GitConfig{
		Dir:           os.Getenv("SHARE_GIT_DIR"),
		CommitMessage: envOr("SHARE_GIT_COMMIT_MESSAGE", "auto: content"),
		UserName:      os.Getenv("SHARE_GIT_USER"),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return ""
}

func splitRepo(raw string) (string, string) {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", ""
	}
	return parts[0], parts[1]
}

func parseDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return fallback
}

func parseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
