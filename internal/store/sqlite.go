package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type OpenOptions struct {
	BusyTimeout time.Duration
	LockTimeout time.Duration
}

// SQLite is the durable KV backend.
type SQLite struct {
	db          *sql.DB
	path        string
	lockTimeout time.Duration
}

func OpenSQLite(ctx context.Context, path string, opts OpenOptions) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path required")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprint(busy.Milliseconds()))
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	s := &SQLite{db: db, path: path, lockTimeout: opts.LockTimeout}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) init(ctx context.Context) error {
	if _, err := s.execContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	var v int
	err := s.queryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.execContext(ctx, "INSERT INTO schema_version(version) VALUES(?)", schemaVersion)
		return err
	}
	if err != nil {
		return err
	}
	if v > schemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported %d", v, schemaVersion)
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const entryColumns = "key, value, version, updated_at, deleted, dirty, remote_rev"

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e       Entry
		updated int64
		deleted int
		dirty   int
	)
	if err := row.Scan(&e.Key, &e.Value, &e.Version, &updated, &deleted, &dirty, &e.RemoteRev); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	e.UpdatedAt = time.UnixMilli(updated)
	e.Deleted = deleted != 0
	e.Dirty = dirty != 0
	return e, nil
}

func (s *SQLite) Lookup(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	return scanEntry(s.queryRowContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE key=?", key))
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, error) {
	e, err := s.Lookup(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if e.Deleted {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (s *SQLite) nextVersionTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	if _, err := s.execContextTx(ctx, tx, `
		INSERT INTO counters(name, value) VALUES('version', 1)
		ON CONFLICT(name) DO UPDATE SET value=value+1`); err != nil {
		return 0, err
	}
	var v int64
	if err := s.queryRowContextTx(ctx, tx, "SELECT value FROM counters WHERE name='version'").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// write stores one entry in its own transaction. A non-nil guard runs first
// inside the transaction and may veto the write.
func (s *SQLite) write(ctx context.Context, name, key string, value []byte, deleted, dirty bool, rev *string, guard func(*sql.Tx) (bool, error)) (Entry, bool, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, false, err
	}
	if value == nil {
		value = []byte{}
	}
	tx, start, err := s.beginTx(ctx, name)
	if err != nil {
		return Entry{}, false, err
	}
	defer func() {
		if tx != nil {
			s.rollbackTx(tx, name, start)
		}
	}()
	if guard != nil {
		ok, err := guard(tx)
		if err != nil || !ok {
			return Entry{}, false, err
		}
	}
	version, err := s.nextVersionTx(ctx, tx)
	if err != nil {
		return Entry{}, false, err
	}
	now := time.Now()
	e := Entry{Key: key, Value: value, Version: version, UpdatedAt: time.UnixMilli(now.UnixMilli()), Deleted: deleted, Dirty: dirty}
	if rev != nil {
		e.RemoteRev = *rev
		_, err = s.execContextTx(ctx, tx, `
			INSERT INTO entries(key, value, version, updated_at, deleted, dirty, remote_rev)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, version=excluded.version,
				updated_at=excluded.updated_at, deleted=excluded.deleted, dirty=excluded.dirty,
				remote_rev=excluded.remote_rev`,
			key, value, version, now.UnixMilli(), boolInt(deleted), boolInt(dirty), *rev)
	} else {
		_, err = s.execContextTx(ctx, tx, `
			INSERT INTO entries(key, value, version, updated_at, deleted, dirty, remote_rev)
			VALUES(?, ?, ?, ?, ?, ?, '')
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, version=excluded.version,
				updated_at=excluded.updated_at, deleted=excluded.deleted, dirty=excluded.dirty`,
			key, value, version, now.UnixMilli(), boolInt(deleted), boolInt(dirty))
		if err == nil {
			err = s.queryRowContextTx(ctx, tx, "SELECT remote_rev FROM entries WHERE key=?", key).Scan(&e.RemoteRev)
		}
	}
	if err != nil {
		return Entry{}, false, err
	}
	if err := s.commitTx(tx, name, start); err != nil {
		return Entry{}, false, err
	}
	tx = nil
	return e, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) (Entry, error) {
	e, _, err := s.write(ctx, "put", key, value, false, true, nil, nil)
	return e, err
}

func (s *SQLite) PutSynced(ctx context.Context, key string, value []byte, rev string) error {
	_, _, err := s.write(ctx, "put-synced", key, value, false, false, &rev, nil)
	return err
}

func (s *SQLite) ApplyRemote(ctx context.Context, key string, value []byte, rev string, expect int64) (bool, error) {
	_, ok, err := s.write(ctx, "apply-remote", key, value, false, false, &rev, func(tx *sql.Tx) (bool, error) {
		var (
			version int64
			dirty   int
		)
		err := s.queryRowContextTx(ctx, tx, "SELECT version, dirty FROM entries WHERE key=?", key).Scan(&version, &dirty)
		if errors.Is(err, sql.ErrNoRows) {
			return expect == 0, nil
		}
		if err != nil {
			return false, err
		}
		return expect != 0 && version == expect && dirty == 0, nil
	})
	return ok, err
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	_, _, err := s.write(ctx, "delete", key, nil, true, true, nil, nil)
	return err
}

func (s *SQLite) List(ctx context.Context, prefix string) ([]Entry, error) {
	return s.listWhere(ctx, "deleted=0 AND (?='' OR instr(key, ?)=1)", prefix, prefix)
}

func (s *SQLite) Pending(ctx context.Context) ([]Entry, error) {
	return s.listWhere(ctx, "dirty=1")
}

func (s *SQLite) listWhere(ctx context.Context, where string, args ...any) ([]Entry, error) {
	rows, err := s.queryContext(ctx, "SELECT "+entryColumns+" FROM entries WHERE "+where+" ORDER BY key", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLite) MarkSynced(ctx context.Context, key string, version int64, rev string) (bool, error) {
	res, err := s.execContext(ctx, "UPDATE entries SET dirty=0, remote_rev=? WHERE key=? AND version=?", rev, key, version)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *SQLite) Purge(ctx context.Context, key string) error {
	res, err := s.execContext(ctx, "DELETE FROM entries WHERE key=?", key)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) Meta(ctx context.Context, name string) (string, error) {
	var value string
	err := s.queryRowContext(ctx, "SELECT value FROM meta WHERE name=?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (s *SQLite) SetMeta(ctx context.Context, name, value string) error {
	_, err := s.execContext(ctx, `
		INSERT INTO meta(name, value, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		name, value, time.Now().Unix())
	return err
}

func (s *SQLite) Status(ctx context.Context) Status {
	st := Status{Backend: "sqlite"}
	err := s.queryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN deleted=0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(dirty), 0)
		FROM entries`).Scan(&st.Keys, &st.Pending)
	if err != nil {
		st.Degraded = true
		st.LastError = err.Error()
	}
	return st
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
