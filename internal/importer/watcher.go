package importer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"gshare/internal/content"
	"gshare/internal/syncer"
)

// Watcher re-imports the content directory whenever a markdown or access file
// changes. Bursts of events collapse into one import.
type Watcher struct {
	im       *Importer
	delay    time.Duration
	onImport func(Report)
}

// NewWatcher returns a watcher for im's root. onImport, when set, runs after
// every import that changed the library.
func NewWatcher(im *Importer, delay time.Duration, onImport func(Report)) *Watcher {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Watcher{im: im, delay: delay, onImport: onImport}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	root := w.im.Root()
	if err := fsw.Add(root); err != nil {
		return err
	}
	for _, cat := range content.Categories {
		dir := filepath.Join(root, string(cat))
		if err := fsw.Add(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("watch failed", "dir", dir, "err", err)
		}
	}

	reimport := syncer.NewDebouncer(w.delay, func(ctx context.Context) {
		report, err := w.im.Import(ctx)
		if err != nil {
			slog.Warn("re-import failed", "root", root, "err", err)
			return
		}
		if report.Changed() && w.onImport != nil {
			w.onImport(report)
		}
	})
	defer reimport.Stop()

	slog.Info("content watcher started", "root", root)
	for {
		select {
		case <-ctx.Done():
			slog.Info("content watcher stopped", "root", root)
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(fsw, root, ev) {
				reimport.Notify()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("content watcher error", "err", err)
		}
	}
}

// handle reports whether ev should trigger an import. New category directories
// are added to the watch list.
func (w *Watcher) handle(fsw *fsnotify.Watcher, root string, ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(ev.Name)
	if filepath.Dir(ev.Name) == filepath.Clean(root) {
		if _, ok := content.ParseCategory(name); ok && ev.Has(fsnotify.Create) {
			if err := fsw.Add(ev.Name); err != nil {
				slog.Warn("watch failed", "dir", ev.Name, "err", err)
			}
			return true
		}
		return false
	}
	if name == AccessFileName {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".md")
}
