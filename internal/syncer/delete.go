package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gshare/internal/remote"
	"gshare/internal/store"
)

// DeleteAndVerify removes key locally and remotely, then re-reads the local
// store, the mirror and the catalogs until all agree the key is gone. Stale
// catalog rows found on the way are removed.
func (m *Manager) DeleteAndVerify(ctx context.Context, key string) (*DeleteReport, error) {
	unlock, err := Acquire(m.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer unlock()

	report := &DeleteReport{Key: key}
	fail := func(err error) {
		report.Errors = append(report.Errors, err.Error())
	}

	entry, err := m.kv.Lookup(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		report.LocalDeleted = true
	case err != nil:
		return report, fmt.Errorf("lookup %s: %w", key, err)
	case !entry.Deleted:
		if err := m.kv.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			return report, fmt.Errorf("delete %s: %w", key, err)
		}
		report.LocalDeleted = true
	default:
		report.LocalDeleted = true
	}

	err = m.mirror.Delete(ctx, key, "")
	if err == nil || errors.Is(err, remote.ErrNotFound) {
		report.RemoteDeleted = true
		if f, ok := m.mirror.(remote.Flusher); ok {
			if err := f.Flush(ctx); err != nil {
				report.RemoteDeleted = false
				fail(fmt.Errorf("flush %s: %w", m.mirror.Name(), err))
			}
		}
	} else {
		fail(fmt.Errorf("remote delete %s: %w", key, err))
	}

	if report.RemoteDeleted {
		if err := m.kv.Purge(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			fail(fmt.Errorf("purge %s: %w", key, err))
		} else {
			report.Purged = true
		}
	}

	for attempt := 1; attempt <= m.opts.VerifyAttempts; attempt++ {
		if m.verify(ctx, attempt, report) {
			report.Verified = true
			break
		}
		if attempt == m.opts.VerifyAttempts {
			break
		}
		if err := sleepCtx(ctx, m.opts.VerifyDelay); err != nil {
			fail(err)
			break
		}
	}

	level := slog.LevelInfo
	if !report.Verified {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "delete verified",
		"key", key,
		"verified", report.Verified,
		"remote_deleted", report.RemoteDeleted,
		"catalog_repaired", report.CatalogRepaired,
		"checks", len(report.Checks),
	)
	m.publish(Event{Type: "delete", At: m.now(), Delete: report})
	if !report.Verified {
		return report, fmt.Errorf("delete of %s not verified", key)
	}
	return report, nil
}

// verify runs one round of checks and repairs stale catalogs as it goes.
func (m *Manager) verify(ctx context.Context, attempt int, report *DeleteReport) bool {
	key := report.Key
	ok := true
	check := func(target string, passed bool, detail string) {
		report.Checks = append(report.Checks, Check{Attempt: attempt, Target: target, OK: passed, Detail: detail})
		ok = ok && passed
	}

	if _, err := m.kv.Get(ctx, key); errors.Is(err, store.ErrNotFound) {
		check("local", true, "")
	} else if err != nil {
		check("local", false, err.Error())
	} else {
		check("local", false, "still present")
	}

	if _, err := m.mirror.Get(ctx, key); errors.Is(err, remote.ErrNotFound) {
		check("remote", true, "")
	} else if err != nil {
		check("remote", false, err.Error())
	} else {
		check("remote", false, "still present")
		if err := m.mirror.Delete(ctx, key, ""); err != nil && !errors.Is(err, remote.ErrNotFound) {
			report.Errors = append(report.Errors, fmt.Sprintf("remote delete retry %s: %v", key, err))
		}
	}

	if m.catalog == nil {
		return ok
	}
	stale, err := m.catalog.StaleCatalogs(ctx, key)
	switch {
	case err != nil:
		check("catalog", false, err.Error())
	case len(stale) == 0:
		check("catalog", true, "")
	default:
		n, err := m.catalog.DropFromCatalogs(ctx, key)
		report.CatalogRepaired += n
		if err != nil {
			check("catalog", false, err.Error())
			break
		}
		left, err := m.catalog.StaleCatalogs(ctx, key)
		check("catalog", err == nil && len(left) == 0, fmt.Sprintf("repaired %v", stale))
	}
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
