package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Options struct {
	Level  string
	Pretty bool
	// DevLog, when set, receives every record at debug level in text form.
	DevLog string
}

func OptionsFromEnv() Options {
	return Options{
		Level:  os.Getenv("SHARE_DEBUG_LEVEL"),
		Pretty: isTruthy(os.Getenv("SHARE_LOG_PRETTY")),
		DevLog: devLogPath(os.Getenv("DEV")),
	}
}

// Setup installs the default slog logger. The returned func closes the dev log.
func Setup(w io.Writer, opts Options) func() {
	level := ParseLevel(opts.Level)
	var console slog.Handler
	if opts.Pretty {
		console = NewPrettyHandler(w, level)
	} else {
		console = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	if opts.DevLog == "" {
		slog.SetDefault(slog.New(console))
		return func() {}
	}
	file, err := os.Create(opts.DevLog)
	if err != nil {
		slog.SetDefault(slog.New(console))
		slog.Error("open log file", "path", opts.DevLog, "err", err)
		return func() {}
	}
	_, _ = fmt.Fprintf(file, "=== gshare dev log start %s ===\n", time.Now().Format(time.RFC3339))
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(&teeHandler{handlers: []slog.Handler{console, fileHandler}}))
	return func() { _ = file.Close() }
}

func ParseLevel(raw string) slog.Leveler {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}
	return level
}

func isTruthy(raw string) bool {
	return strings.EqualFold(raw, "1") || strings.EqualFold(raw, "true")
}

func devLogPath(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	return "dev.log"
}

type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, record.Level) {
			if err := h.Handle(ctx, record.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h.WithAttrs(attrs))
	}
	return &teeHandler{handlers: out}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, 0, len(t.handlers))
	for _, h := range t.handlers {
		out = append(out, h.WithGroup(name))
	}
	return &teeHandler{handlers: out}
}
