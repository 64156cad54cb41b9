package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gshare/internal/content"
	"gshare/internal/perm"
	sharefs "gshare/internal/storage/fs"
)

type Options struct {
	// Root holds one directory per category.
	Root string
	// Owner is assigned to files whose frontmatter names none.
	Owner string
	// WriteBack rewrites files that were given a fresh id.
	WriteBack bool
}

// Report counts the outcome of one Import.
type Report struct {
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Unchanged int      `json:"unchanged"`
	Assigned  int      `json:"assigned"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

func (r Report) Changed() bool { return r.Created+r.Updated > 0 }

type Importer struct {
	lib  *content.Library
	opts Options
	now  func() time.Time
	mu   sync.Mutex
}

func New(lib *content.Library, opts Options) *Importer {
	return &Importer{lib: lib, opts: opts, now: time.Now}
}

func (im *Importer) Root() string { return im.opts.Root }

// Import reads every <category>/*.md file under the root into the library.
// Files missing from disk are left alone in the library.
func (im *Importer) Import(ctx context.Context) (Report, error) {
	im.mu.Lock()
	defer im.mu.Unlock()
	var report Report
	if strings.TrimSpace(im.opts.Root) == "" {
		return report, errors.New("import root required")
	}
	if _, err := os.Stat(im.opts.Root); err != nil {
		return report, err
	}
	for _, cat := range content.Categories {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		dir := filepath.Join(im.opts.Root, string(cat))
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return report, err
		}
		defaults, hasDefaults, err := LoadAccess(dir)
		if err != nil {
			slog.Warn("ignoring access defaults", "dir", dir, "err", err)
			report.Errors = append(report.Errors, err.Error())
			hasDefaults = false
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), ".md") {
				continue
			}
			path := filepath.Join(dir, name)
			res, err := im.importFile(ctx, path, cat, defaults, hasDefaults)
			if err != nil {
				slog.Warn("import failed", "path", path, "err", err)
				report.Failed++
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", path, err))
				continue
			}
			switch {
			case res&outcomeCreated != 0:
				report.Created++
			case res&outcomeUpdated != 0:
				report.Updated++
			case res&outcomeUnchanged != 0:
				report.Unchanged++
			}
			if res&outcomeAssigned != 0 {
				report.Assigned++
			}
		}
	}
	slog.Info("import finished",
		"root", im.opts.Root,
		"created", report.Created,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
	)
	return report, nil
}

type outcome int

const (
	outcomeCreated outcome = 1 << iota
	outcomeUpdated
	outcomeUnchanged
	outcomeAssigned
)

func (im *Importer) importFile(ctx context.Context, path string, cat content.Category, defaults perm.Access, hasDefaults bool) (outcome, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	it, err := decodeFile(data, stem)
	if err != nil {
		return 0, err
	}
	if it.Category != "" && it.Category != cat {
		slog.Debug("frontmatter category ignored", "path", path, "category", it.Category, "dir", cat)
	}
	it.Category = cat
	if it.Owner == "" {
		it.Owner = im.opts.Owner
	}
	if it.Access.Level == "" {
		if hasDefaults {
			it.Access = defaults
		} else {
			it.Access = perm.Access{Level: perm.LevelFriend}
		}
	}

	assigned := false
	if it.ID == "" {
		if _, err := uuid.Parse(stem); err == nil {
			it.ID = stem
		} else {
			it.ID = uuid.NewString()
			assigned = true
		}
	}

	result := outcomeCreated
	prev, err := im.lib.Get(ctx, it.ID)
	switch {
	case errors.Is(err, content.ErrNotFound):
	case err != nil:
		return 0, err
	default:
		result = outcomeUpdated
		if it.CreatedAt.IsZero() {
			it.CreatedAt = prev.CreatedAt
		}
		if prev.Views > it.Views {
			it.Views = prev.Views
		}
		stamped := it.UpdatedAt.IsZero()
		if stamped {
			it.UpdatedAt = prev.UpdatedAt
		}
		if sameItem(prev, it) {
			return outcomeUnchanged, nil
		}
		if stamped {
			it.UpdatedAt = im.now().UTC()
		}
	}

	saved, err := im.lib.Save(ctx, it)
	if err != nil {
		return 0, err
	}
	if assigned {
		result |= outcomeAssigned
		if im.opts.WriteBack {
			if err := writeItem(path, saved); err != nil {
				return result, fmt.Errorf("write back id: %w", err)
			}
		}
	}
	return result, nil
}

// decodeFile accepts plain markdown without frontmatter and titles it after
// the file name.
func decodeFile(data []byte, stem string) (content.Item, error) {
	trimmed := bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(trimmed, []byte("---")) {
		return content.Item{Title: titleFromStem(stem), Body: string(data)}, nil
	}
	it, err := content.Decode(trimmed)
	if err != nil {
		return content.Item{}, err
	}
	if it.Title == "" {
		it.Title = titleFromStem(stem)
	}
	return it, nil
}

func titleFromStem(stem string) string {
	title := strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(stem))
	if title == "" {
		return "untitled"
	}
	return title
}

func sameItem(a, b content.Item) bool {
	b.Access = b.Access.Normalize()
	if a.Access.PasswordHash != "" && b.Access.PasswordHash == "" && b.Access.Level == perm.LevelCustom {
		b.Access.PasswordHash = a.Access.PasswordHash
	}
	left, err := content.Encode(a)
	if err != nil {
		return false
	}
	right, err := content.Encode(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

func writeItem(path string, it content.Item) error {
	data, err := content.Encode(it)
	if err != nil {
		return err
	}
	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, data) {
		return nil
	}
	return sharefs.WriteFileAtomic(path, data, 0o644)
}

// Export writes every library item to root/<category>/<id>.md and returns how
// many files changed.
func Export(ctx context.Context, lib *content.Library, root string) (int, error) {
	if strings.TrimSpace(root) == "" {
		return 0, errors.New("export root required")
	}
	admin := perm.Viewer{Name: "export", Roles: []string{perm.RoleAdmin}}
	rows, err := lib.List(ctx, admin, "")
	if err != nil {
		return 0, err
	}
	written := 0
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		it, err := lib.Get(ctx, row.ID)
		if errors.Is(err, content.ErrNotFound) {
			continue
		}
		if err != nil {
			return written, err
		}
		path, err := sharefs.JoinUnder(root, sharefs.EnsureMDExt(string(it.Category)+"/"+it.ID))
		if err != nil {
			return written, err
		}
		before, _ := os.ReadFile(path)
		if err := writeItem(path, it); err != nil {
			return written, fmt.Errorf("export %s: %w", it.ID, err)
		}
		if after, _ := os.ReadFile(path); !bytes.Equal(before, after) {
			written++
		}
	}
	slog.Info("export finished", "root", root, "items", len(rows), "written", written)
	return written, nil
}
