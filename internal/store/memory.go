package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is a process-local KV with the same semantics as SQLite.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	meta    map[string]string
	version int64
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]Entry),
		meta:    make(map[string]string),
	}
}

func cloneEntry(e Entry) Entry {
	e.Value = append([]byte{}, e.Value...)
	return e
}

func (m *Memory) Lookup(_ context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return cloneEntry(e), nil
}

func (m *Memory) Get(ctx context.Context, key string) (Entry, error) {
	e, err := m.Lookup(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	if e.Deleted {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) writeLocked(key string, value []byte, deleted, dirty bool) Entry {
	m.version++
	prev := m.entries[key]
	e := Entry{
		Key:       key,
		Value:     append([]byte{}, value...),
		Version:   m.version,
		UpdatedAt: time.UnixMilli(time.Now().UnixMilli()),
		Deleted:   deleted,
		Dirty:     dirty,
		RemoteRev: prev.RemoteRev,
	}
	m.entries[key] = e
	return e
}

func (m *Memory) Put(_ context.Context, key string, value []byte) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneEntry(m.writeLocked(key, value, false, true)), nil
}

func (m *Memory) PutSynced(_ context.Context, key string, value []byte, rev string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.writeLocked(key, value, false, false)
	e.RemoteRev = rev
	m.entries[key] = e
	return nil
}

func (m *Memory) ApplyRemote(_ context.Context, key string, value []byte, rev string, expect int64) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.entries[key]
	if ok != (expect != 0) || (ok && (current.Version != expect || current.Dirty)) {
		return false, nil
	}
	e := m.writeLocked(key, value, false, false)
	e.RemoteRev = rev
	m.entries[key] = e
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.Deleted {
		return ErrNotFound
	}
	m.writeLocked(key, nil, true, true)
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for key, e := range m.entries {
		if e.Deleted || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, cloneEntry(e))
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) Pending(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.entries {
		if e.Dirty {
			out = append(out, cloneEntry(e))
		}
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) MarkSynced(_ context.Context, key string, version int64, rev string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.Version != version {
		return false, nil
	}
	e.Dirty = false
	e.RemoteRev = rev
	m.entries[key] = e
	return true, nil
}

func (m *Memory) Purge(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return ErrNotFound
	}
	delete(m.entries, key)
	return nil
}

func (m *Memory) Meta(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.meta[name], nil
}

func (m *Memory) SetMeta(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta[name] = value
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Status(context.Context) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{Backend: "memory"}
	for _, e := range m.entries {
		if !e.Deleted {
			st.Keys++
		}
		if e.Dirty {
			st.Pending++
		}
	}
	return st
}

func (m *Memory) Close() error { return nil }

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key < entries[j].Key
	})
}
