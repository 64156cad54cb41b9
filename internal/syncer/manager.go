package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gshare/internal/remote"
	"gshare/internal/store"
)

// Catalog is the cached listing layer kept consistent with synced content.
type Catalog interface {
	RebuildCatalog(ctx context.Context) error
	StaleCatalogs(ctx context.Context, itemKey string) ([]string, error)
	DropFromCatalogs(ctx context.Context, itemKey string) (int, error)
}

// recoverer is implemented by store.Resilient.
type recoverer interface {
	Degraded() bool
	Recover(ctx context.Context) error
}

type Options struct {
	Workers        int
	LockTimeout    time.Duration
	VerifyAttempts int
	VerifyDelay    time.Duration
	// Accept filters remote keys considered by Pull; nil accepts all.
	Accept func(key string) bool
}

type Manager struct {
	kv      store.KV
	mirror  remote.Mirror
	catalog Catalog
	opts    Options
	now     func() time.Time

	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int
}

func NewManager(kv store.KV, mirror remote.Mirror, catalog Catalog, opts Options) *Manager {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 10 * time.Second
	}
	if opts.VerifyAttempts <= 0 {
		opts.VerifyAttempts = 3
	}
	if opts.VerifyDelay < 0 {
		opts.VerifyDelay = 0
	}
	return &Manager{
		kv:          kv,
		mirror:      mirror,
		catalog:     catalog,
		opts:        opts,
		now:         time.Now,
		subscribers: make(map[int]func(Event)),
	}
}

func (m *Manager) MirrorName() string { return m.mirror.Name() }

// Subscribe registers fn for sync and delete events and returns a cancel func.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subscribers, id)
		m.mu.Unlock()
	}
}

func (m *Manager) publish(ev Event) {
	m.mu.Lock()
	subs := make([]func(Event), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (m *Manager) accept(key string) bool {
	if store.ValidateKey(key) != nil {
		return false
	}
	return m.opts.Accept == nil || m.opts.Accept(key)
}

func (m *Manager) newReport() *Report {
	return &Report{Mirror: m.mirror.Name(), Started: m.now()}
}

// Pull brings remote changes into the local store. Pending local writes are
// never overwritten.
func (m *Manager) Pull(ctx context.Context) (*Report, error) {
	report := m.newReport()
	err := m.pull(ctx, report)
	report.Finished = m.now()
	return report, err
}

func (m *Manager) pull(ctx context.Context, report *Report) error {
	if remote.IsNone(m.mirror) {
		return nil
	}
	if r, ok := m.mirror.(remote.Refresher); ok {
		if err := r.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh %s: %w", m.mirror.Name(), err)
		}
	}
	objects, err := m.mirror.List(ctx, "")
	if err != nil {
		return fmt.Errorf("list %s: %w", m.mirror.Name(), err)
	}
	seen := make(map[string]bool, len(objects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, obj := range objects {
		if !m.accept(obj.Key) {
			continue
		}
		seen[obj.Key] = true
		g.Go(func() error {
			return m.pullOne(gctx, obj, report)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	live, err := m.kv.List(ctx, "")
	if err != nil {
		return err
	}
	var gone []store.Entry
	for _, entry := range live {
		if entry.Dirty || entry.RemoteRev == "" || seen[entry.Key] || !m.accept(entry.Key) {
			continue
		}
		gone = append(gone, entry)
	}
	if len(seen) == 0 && len(gone) > 0 {
		// an empty listing never purges
		report.fail(fmt.Errorf("%s listed no keys; keeping %d synced entries", m.mirror.Name(), len(gone)))
		gone = nil
	}
	for _, entry := range gone {
		if err := m.kv.Purge(ctx, entry.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
			report.fail(fmt.Errorf("purge %s: %w", entry.Key, err))
			continue
		}
		slog.Info("sync removed key deleted remotely", "key", entry.Key)
		report.add(&report.Purged)
	}

	if report.Changed() && m.catalog != nil {
		if err := m.catalog.RebuildCatalog(ctx); err != nil {
			report.fail(fmt.Errorf("rebuild catalog: %w", err))
		}
	}
	return nil
}

// pullOne only returns context errors; everything else lands in the report.
func (m *Manager) pullOne(ctx context.Context, obj remote.Object, report *Report) error {
	local, err := m.kv.Lookup(ctx, obj.Key)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		report.fail(fmt.Errorf("lookup %s: %w", obj.Key, err))
		return ctx.Err()
	case local.Dirty:
		if local.RemoteRev != obj.Revision {
			slog.Warn("sync conflict; keeping local change", "key", obj.Key, "local_rev", local.RemoteRev, "remote_rev", obj.Revision)
			report.add(&report.Conflicts)
		}
		return nil
	case local.RemoteRev == obj.Revision:
		return nil
	}
	full, err := m.mirror.Get(ctx, obj.Key)
	if errors.Is(err, remote.ErrNotFound) {
		return nil
	}
	if err != nil {
		report.fail(fmt.Errorf("get %s: %w", obj.Key, err))
		return ctx.Err()
	}
	// local.Version is 0 when the key was absent
	applied, err := m.kv.ApplyRemote(ctx, obj.Key, full.Data, full.Revision, local.Version)
	if err != nil {
		report.fail(fmt.Errorf("store %s: %w", obj.Key, err))
		return ctx.Err()
	}
	if !applied {
		slog.Warn("sync conflict; local entry changed during pull", "key", obj.Key, "remote_rev", full.Revision)
		report.add(&report.Conflicts)
		return nil
	}
	if local.Key == "" {
		report.add(&report.Pulled)
	} else {
		report.add(&report.Updated)
	}
	return nil
}

// Push sends pending local writes and deletions to the mirror.
func (m *Manager) Push(ctx context.Context) (*Report, error) {
	report := m.newReport()
	err := m.push(ctx, report)
	report.Finished = m.now()
	return report, err
}

func (m *Manager) push(ctx context.Context, report *Report) error {
	if remote.IsNone(m.mirror) {
		// nothing to push to; entries stay pending without a revision
		return nil
	}
	pending, err := m.kv.Pending(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for _, entry := range pending {
		g.Go(func() error {
			if entry.Deleted {
				m.pushDelete(gctx, entry, report)
			} else {
				m.pushValue(gctx, entry, report)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if f, ok := m.mirror.(remote.Flusher); ok && len(pending) > 0 {
		if err := f.Flush(ctx); err != nil {
			report.fail(fmt.Errorf("flush %s: %w", m.mirror.Name(), err))
		}
	}
	return nil
}

func (m *Manager) pushValue(ctx context.Context, entry store.Entry, report *Report) {
	rev, err := m.mirror.Put(ctx, entry.Key, entry.Value, entry.RemoteRev)
	if errors.Is(err, remote.ErrConflict) {
		current := m.currentRevision(ctx, entry.Key, err)
		slog.Warn("sync push conflict; retrying over remote", "key", entry.Key, "remote_rev", current)
		report.add(&report.Retried)
		rev, err = m.mirror.Put(ctx, entry.Key, entry.Value, current)
	}
	if err != nil {
		report.fail(fmt.Errorf("push %s: %w", entry.Key, err))
		return
	}
	ok, err := m.kv.MarkSynced(ctx, entry.Key, entry.Version, rev)
	if err != nil {
		report.fail(fmt.Errorf("mark %s: %w", entry.Key, err))
		return
	}
	if !ok {
		report.add(&report.Skipped)
		return
	}
	report.add(&report.Pushed)
}

func (m *Manager) currentRevision(ctx context.Context, key string, err error) string {
	var conflict *remote.ConflictError
	if errors.As(err, &conflict) && conflict.Current != "" {
		return conflict.Current
	}
	obj, getErr := m.mirror.Get(ctx, key)
	if getErr != nil {
		return ""
	}
	return obj.Revision
}

func (m *Manager) pushDelete(ctx context.Context, entry store.Entry, report *Report) {
	err := m.mirror.Delete(ctx, entry.Key, entry.RemoteRev)
	if errors.Is(err, remote.ErrConflict) {
		report.add(&report.Retried)
		err = m.mirror.Delete(ctx, entry.Key, "")
	}
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		report.fail(fmt.Errorf("delete %s: %w", entry.Key, err))
		return
	}
	current, err := m.kv.Lookup(ctx, entry.Key)
	if err != nil || !current.Deleted || current.Version != entry.Version {
		// rewritten meanwhile; the new value goes out next push
		report.add(&report.Skipped)
		return
	}
	if err := m.kv.Purge(ctx, entry.Key); err != nil && !errors.Is(err, store.ErrNotFound) {
		report.fail(fmt.Errorf("purge %s: %w", entry.Key, err))
		return
	}
	report.add(&report.Deleted)
}

// Sync pulls then pushes under the global sync lock and records the outcome.
func (m *Manager) Sync(ctx context.Context) (*Report, error) {
	unlock, err := Acquire(m.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := m.newReport()
	if r, ok := m.kv.(recoverer); ok && r.Degraded() {
		if err := r.Recover(ctx); err != nil {
			slog.Warn("store still degraded", "err", err)
		}
	}
	runErr := m.pull(ctx, report)
	if runErr == nil {
		runErr = m.push(ctx, report)
	}
	report.Finished = m.now()
	if runErr == nil {
		runErr = report.Err()
	}
	m.recordState(ctx, report, runErr)
	m.publish(Event{Type: "sync", At: report.Finished, Sync: report})
	level := slog.LevelInfo
	if runErr != nil {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "sync finished",
		"mirror", report.Mirror,
		"pulled", report.Pulled,
		"updated", report.Updated,
		"purged", report.Purged,
		"pushed", report.Pushed,
		"deleted", report.Deleted,
		"conflicts", report.Conflicts,
		"dur", report.Finished.Sub(report.Started).String(),
		"err", runErr,
	)
	return report, runErr
}

const (
	metaStatus      = "sync.status"
	metaLastRun     = "sync.last_run"
	metaLastSuccess = "sync.last_success"
	metaError       = "sync.error"
)

func (m *Manager) recordState(ctx context.Context, report *Report, runErr error) {
	status, errText := StatusSuccess, ""
	if runErr != nil {
		status, errText = StatusFailed, runErr.Error()
	}
	at := report.Finished.UTC().Format(time.RFC3339)
	values := [][2]string{{metaStatus, status}, {metaLastRun, at}, {metaError, errText}}
	if runErr == nil {
		values = append(values, [2]string{metaLastSuccess, at})
	}
	for _, kv := range values {
		if err := m.kv.SetMeta(ctx, kv[0], kv[1]); err != nil {
			slog.Warn("sync state update failed", "name", kv[0], "err", err)
		}
	}
}

// State reads the last recorded sync outcome.
func (m *Manager) State(ctx context.Context) (State, error) {
	st := State{Mirror: m.mirror.Name(), Status: StatusNever}
	status, err := m.kv.Meta(ctx, metaStatus)
	if err != nil {
		return st, err
	}
	if status != "" {
		st.Status = status
	}
	st.Error, _ = m.kv.Meta(ctx, metaError)
	if raw, _ := m.kv.Meta(ctx, metaLastRun); raw != "" {
		st.LastRun, _ = time.Parse(time.RFC3339, raw)
	}
	if raw, _ := m.kv.Meta(ctx, metaLastSuccess); raw != "" {
		st.LastSuccess, _ = time.Parse(time.RFC3339, raw)
	}
	return st, nil
}
