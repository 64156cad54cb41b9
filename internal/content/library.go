package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gshare/internal/auth"
	"gshare/internal/perm"
	"gshare/internal/store"
)

// Input carries the editable fields of an item.
type Input struct {
	Category string
	Title    string
	Body     string
	MediaURL string
	Tags     []string
	Access   perm.Access
	// Password, when set, replaces the item password. ClearPassword removes it.
	Password      string
	ClearPassword bool
}

// Library stores items in a KV and keeps per-category catalogs in step.
type Library struct {
	kv  store.KV
	now func() time.Time

	mu       sync.Mutex
	onChange func(key string)
}

func NewLibrary(kv store.KV) *Library {
	return &Library{kv: kv, now: time.Now}
}

// OnChange registers a hook called after every local write.
func (l *Library) OnChange(fn func(key string)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

func (l *Library) notifyLocked(key string) {
	if l.onChange != nil {
		l.onChange(key)
	}
}

func (l *Library) Store() store.KV { return l.kv }

func (l *Library) getLocked(ctx context.Context, id string) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Item{}, ErrNotFound
	}
	for _, cat := range Categories {
		entry, err := l.kv.Get(ctx, ItemKey(cat, id))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Item{}, err
		}
		it, err := Decode(entry.Value)
		if err != nil {
			return Item{}, fmt.Errorf("decode %s: %w", entry.Key, err)
		}
		it.ID, it.Category = id, cat
		return it, nil
	}
	return Item{}, ErrNotFound
}

// Get loads an item without any permission check.
func (l *Library) Get(ctx context.Context, id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getLocked(ctx, id)
}

func (l *Library) apply(it *Item, in Input, existing perm.Access) error {
	cat, ok := ParseCategory(in.Category)
	if !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, in.Category)
	}
	it.Category = cat
	it.Title = strings.TrimSpace(in.Title)
	it.Body = strings.TrimLeft(strings.ReplaceAll(in.Body, "\r\n", "\n"), "\n")
	it.MediaURL = strings.TrimSpace(in.MediaURL)
	it.Tags = normalizeTags(in.Tags)

	access := in.Access.Normalize()
	if access.Level == perm.LevelCustom {
		switch {
		case in.Password != "":
			hash, err := auth.HashPassword(in.Password)
			if err != nil {
				return err
			}
			access.PasswordHash = hash
		case in.ClearPassword:
			access.PasswordHash = ""
		case access.PasswordHash == "":
			access.PasswordHash = existing.PasswordHash
		}
	}
	it.Access = access
	return it.Validate()
}

// saveLocked writes the item and refreshes its catalog row.
func (l *Library) saveLocked(ctx context.Context, it Item) error {
	data, err := Encode(it)
	if err != nil {
		return err
	}
	if _, err := l.kv.Put(ctx, it.Key(), data); err != nil {
		return fmt.Errorf("save %s: %w", it.Key(), err)
	}
	if err := l.upsertSummaryLocked(ctx, it); err != nil {
		return err
	}
	l.notifyLocked(it.Key())
	return nil
}

func (l *Library) Create(ctx context.Context, viewer perm.Viewer, in Input) (Item, error) {
	if viewer.IsAnonymous() {
		return Item{}, &DeniedError{Decision: perm.Decision{Reason: perm.ReasonInsufficientRole}}
	}
	now := l.now().UTC()
	it := Item{ID: uuid.NewString(), Owner: viewer.Name, CreatedAt: now, UpdatedAt: now}
	if err := l.apply(&it, in, perm.Access{}); err != nil {
		return Item{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.saveLocked(ctx, it); err != nil {
		return Item{}, err
	}
	slog.Info("item created", "id", it.ID, "category", it.Category, "owner", it.Owner)
	return it, nil
}

func (l *Library) Update(ctx context.Context, viewer perm.Viewer, id string, in Input) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.getLocked(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !perm.CanEdit(it.Owner, viewer) {
		return Item{}, &DeniedError{Decision: perm.Decision{Reason: perm.ReasonNotListed}}
	}
	oldKey := it.Key()
	if err := l.apply(&it, in, it.Access); err != nil {
		return Item{}, err
	}
	it.UpdatedAt = l.now().UTC()
	if it.Key() != oldKey {
		if err := l.kv.Delete(ctx, oldKey); err != nil && !errors.Is(err, store.ErrNotFound) {
			return Item{}, err
		}
		if _, err := l.dropFromCatalogsLocked(ctx, oldKey); err != nil {
			return Item{}, err
		}
		l.notifyLocked(oldKey)
	}
	if err := l.saveLocked(ctx, it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Save upserts a complete item without permission checks. Importers use it.
func (l *Library) Save(ctx context.Context, it Item) (Item, error) {
	it.Access = it.Access.Normalize()
	it.Tags = normalizeTags(it.Tags)
	now := l.now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.CreatedAt
	}
	if err := it.Validate(); err != nil {
		return Item{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if prev, err := l.getLocked(ctx, it.ID); err == nil && prev.Key() != it.Key() {
		if err := l.kv.Delete(ctx, prev.Key()); err != nil && !errors.Is(err, store.ErrNotFound) {
			return Item{}, err
		}
		if _, err := l.dropFromCatalogsLocked(ctx, prev.Key()); err != nil {
			return Item{}, err
		}
	}
	if err := l.saveLocked(ctx, it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// View checks access for viewer and counts the view when allowed.
func (l *Library) View(ctx context.Context, viewer perm.Viewer, id string) (Item, perm.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.getLocked(ctx, id)
	if err != nil {
		return Item{}, perm.Decision{}, err
	}
	decision := perm.Evaluate(it.Access, it.Owner, viewer, it.Views, l.now())
	if !decision.Allowed {
		return Item{}, decision, &DeniedError{Decision: decision}
	}
	if viewer.Name != it.Owner {
		it.Views++
		if err := l.saveLocked(ctx, it); err != nil {
			slog.Warn("view counter not saved", "id", it.ID, "err", err)
		}
	}
	return it, decision, nil
}

// Raw returns the stored document for an editor.
func (l *Library) Raw(ctx context.Context, viewer perm.Viewer, id string) (Item, []byte, error) {
	it, err := l.Get(ctx, id)
	if err != nil {
		return Item{}, nil, err
	}
	if !perm.CanEdit(it.Owner, viewer) {
		return Item{}, nil, &DeniedError{Decision: perm.Decision{Reason: perm.ReasonNotListed}}
	}
	data, err := Encode(it)
	return it, data, err
}

// Delete tombstones the item locally and drops it from the catalogs. The
// remote side is handled by the syncer.
func (l *Library) Delete(ctx context.Context, viewer perm.Viewer, id string) (Item, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.getLocked(ctx, id)
	if err != nil {
		return Item{}, err
	}
	if !perm.CanEdit(it.Owner, viewer) {
		return Item{}, &DeniedError{Decision: perm.Decision{Reason: perm.ReasonNotListed}}
	}
	if err := l.kv.Delete(ctx, it.Key()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return Item{}, err
	}
	if _, err := l.dropFromCatalogsLocked(ctx, it.Key()); err != nil {
		return Item{}, err
	}
	l.notifyLocked(it.Key())
	slog.Info("item deleted", "id", it.ID, "category", it.Category, "by", viewer.Name)
	return it, nil
}

// List returns the catalog rows of category (all categories when empty) that
// viewer may see, newest first.
func (l *Library) List(ctx context.Context, viewer perm.Viewer, category string) ([]Listing, error) {
	cats := Categories
	if category != "" {
		cat, ok := ParseCategory(category)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalid, category)
		}
		cats = []Category{cat}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	var rows []Summary
	for _, cat := range cats {
		list, err := l.catalogLocked(ctx, cat)
		if err != nil {
			return nil, err
		}
		rows = append(rows, list...)
	}
	sortSummaries(rows)
	out := make([]Listing, 0, len(rows))
	for _, row := range rows {
		d := perm.Evaluate(row.access(), row.Owner, viewer, row.Views, now)
		switch {
		case d.Allowed:
			out = append(out, Listing{Summary: row})
		case d.Reason == perm.ReasonPasswordRequired:
			out = append(out, Listing{Summary: row, Locked: true})
		}
	}
	return out, nil
}

// Search matches every query term against title, tags and body of the items
// viewer may open.
func (l *Library) Search(ctx context.Context, viewer perm.Viewer, query string) ([]Summary, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	entries, err := l.kv.List(ctx, contentPrefix)
	if err != nil {
		return nil, err
	}
	now := l.now()
	var out []Summary
	for _, entry := range entries {
		cat, id, ok := ParseItemKey(entry.Key)
		if !ok {
			continue
		}
		it, err := Decode(entry.Value)
		if err != nil {
			continue
		}
		it.ID, it.Category = id, cat
		if !perm.Evaluate(it.Access, it.Owner, viewer, it.Views, now).Allowed {
			continue
		}
		haystack := strings.ToLower(it.Title + "\n" + strings.Join(it.Tags, " ") + "\n" + it.Body)
		if !containsAll(haystack, terms) {
			continue
		}
		out = append(out, summarize(it))
	}
	sortSummaries(out)
	return out, nil
}

func containsAll(haystack string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func (l *Library) loadCatalogLocked(ctx context.Context, cat Category) ([]Summary, []byte, error) {
	entry, err := l.kv.Get(ctx, CatalogKey(cat))
	if err != nil {
		return nil, nil, err
	}
	list, err := decodeCatalog(entry.Value)
	if err != nil {
		return nil, entry.Value, fmt.Errorf("catalog %s: %w", cat, err)
	}
	return list, entry.Value, nil
}

// catalogLocked returns the cached list, rebuilding it when missing or corrupt.
func (l *Library) catalogLocked(ctx context.Context, cat Category) ([]Summary, error) {
	list, _, err := l.loadCatalogLocked(ctx, cat)
	if err == nil {
		return list, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("catalog unreadable; rebuilding", "category", cat, "err", err)
	}
	rebuilt, err := l.scanLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.writeCatalogLocked(ctx, cat, rebuilt[cat]); err != nil {
		return nil, err
	}
	return rebuilt[cat], nil
}

func (l *Library) writeCatalogLocked(ctx context.Context, cat Category, list []Summary) error {
	data, err := encodeCatalog(list)
	if err != nil {
		return err
	}
	key := CatalogKey(cat)
	if current, err := l.kv.Get(ctx, key); err == nil && bytes.Equal(current.Value, data) {
		return nil
	}
	if _, err := l.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	l.notifyLocked(key)
	return nil
}

func (l *Library) upsertSummaryLocked(ctx context.Context, it Item) error {
	list, err := l.catalogLocked(ctx, it.Category)
	if err != nil {
		return err
	}
	row := summarize(it)
	idx := slices.IndexFunc(list, func(s Summary) bool { return s.ID == it.ID })
	if idx >= 0 {
		list[idx] = row
	} else {
		list = append(list, row)
	}
	return l.writeCatalogLocked(ctx, it.Category, list)
}

func (l *Library) scanLocked(ctx context.Context) (map[Category][]Summary, error) {
	entries, err := l.kv.List(ctx, contentPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[Category][]Summary)
	for _, entry := range entries {
		cat, id, ok := ParseItemKey(entry.Key)
		if !ok {
			continue
		}
		it, err := Decode(entry.Value)
		if err != nil {
			slog.Warn("skip undecodable item", "key", entry.Key, "err", err)
			continue
		}
		it.ID, it.Category = id, cat
		out[cat] = append(out[cat], summarize(it))
	}
	return out, nil
}

// RebuildCatalog regenerates every category list from the stored items.
func (l *Library) RebuildCatalog(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	all, err := l.scanLocked(ctx)
	if err != nil {
		return err
	}
	for _, cat := range Categories {
		if err := l.writeCatalogLocked(ctx, cat, all[cat]); err != nil {
			return err
		}
	}
	return nil
}

// StaleCatalogs lists the catalog keys that still reference the item stored
// under itemKey. Keys that are not items have none.
func (l *Library) StaleCatalogs(ctx context.Context, itemKey string) ([]string, error) {
	_, id, ok := ParseItemKey(itemKey)
	if !ok {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var stale []string
	for _, cat := range Categories {
		list, _, err := l.loadCatalogLocked(ctx, cat)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(list, func(s Summary) bool { return s.ID == id }) {
			stale = append(stale, CatalogKey(cat))
		}
	}
	return stale, nil
}

// DropFromCatalogs removes the item from every catalog and reports how many
// lists changed. Keys that are not items are ignored.
func (l *Library) DropFromCatalogs(ctx context.Context, itemKey string) (int, error) {
	if !IsItemKey(itemKey) {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropFromCatalogsLocked(ctx, itemKey)
}

func (l *Library) dropFromCatalogsLocked(ctx context.Context, itemKey string) (int, error) {
	_, id, ok := ParseItemKey(itemKey)
	if !ok {
		return 0, fmt.Errorf("%w: not an item key %q", ErrInvalid, itemKey)
	}
	changed := 0
	for _, cat := range Categories {
		list, _, err := l.loadCatalogLocked(ctx, cat)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return changed, err
		}
		kept := slices.DeleteFunc(list, func(s Summary) bool { return s.ID == id })
		if len(kept) == len(list) {
			continue
		}
		if err := l.writeCatalogLocked(ctx, cat, kept); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}
