package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Resilient serves from a primary store and switches to an in-memory fallback
// once the primary starts failing. Writes made while degraded are replayed into
// the primary by Recover.
type Resilient struct {
	primary  KV
	fallback *Memory

	mu       sync.RWMutex
	degraded bool
	lastErr  error
}

func NewResilient(primary KV) *Resilient {
	return &Resilient{primary: primary, fallback: NewMemory()}
}

func (r *Resilient) Degraded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.degraded
}

func (r *Resilient) active() KV {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeLocked()
}

func (r *Resilient) activeLocked() KV {
	if r.degraded || r.primary == nil {
		return r.fallback
	}
	return r.primary
}

// failed reports whether err should flip the store into degraded mode.
func (r *Resilient) failed(op string, err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.degraded {
		slog.Warn("store primary failed; using in-memory fallback", "op", op, "err", err)
	}
	r.degraded = true
	r.lastErr = err
	return true
}

// do runs fn under the read lock so Recover cannot swap stores while a call
// is in flight.
func do[T any](r *Resilient, op string, fn func(KV) (T, error)) (T, error) {
	r.mu.RLock()
	kv := r.activeLocked()
	onFallback := kv == KV(r.fallback)
	out, err := fn(kv)
	r.mu.RUnlock()
	if onFallback || !r.failed(op, err) {
		return out, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(r.activeLocked())
}

func (r *Resilient) Get(ctx context.Context, key string) (Entry, error) {
	return do(r, "get", func(kv KV) (Entry, error) { return kv.Get(ctx, key) })
}

func (r *Resilient) Lookup(ctx context.Context, key string) (Entry, error) {
	return do(r, "lookup", func(kv KV) (Entry, error) { return kv.Lookup(ctx, key) })
}

func (r *Resilient) Put(ctx context.Context, key string, value []byte) (Entry, error) {
	return do(r, "put", func(kv KV) (Entry, error) { return kv.Put(ctx, key, value) })
}

func (r *Resilient) PutSynced(ctx context.Context, key string, value []byte, rev string) error {
	_, err := do(r, "put-synced", func(kv KV) (struct{}, error) { return struct{}{}, kv.PutSynced(ctx, key, value, rev) })
	return err
}

func (r *Resilient) ApplyRemote(ctx context.Context, key string, value []byte, rev string, expect int64) (bool, error) {
	return do(r, "apply-remote", func(kv KV) (bool, error) { return kv.ApplyRemote(ctx, key, value, rev, expect) })
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	_, err := do(r, "delete", func(kv KV) (struct{}, error) { return struct{}{}, kv.Delete(ctx, key) })
	return err
}

func (r *Resilient) List(ctx context.Context, prefix string) ([]Entry, error) {
	return do(r, "list", func(kv KV) ([]Entry, error) { return kv.List(ctx, prefix) })
}

func (r *Resilient) Pending(ctx context.Context) ([]Entry, error) {
	return do(r, "pending", func(kv KV) ([]Entry, error) { return kv.Pending(ctx) })
}

func (r *Resilient) MarkSynced(ctx context.Context, key string, version int64, rev string) (bool, error) {
	return do(r, "mark-synced", func(kv KV) (bool, error) { return kv.MarkSynced(ctx, key, version, rev) })
}

func (r *Resilient) Purge(ctx context.Context, key string) error {
	_, err := do(r, "purge", func(kv KV) (struct{}, error) { return struct{}{}, kv.Purge(ctx, key) })
	return err
}

func (r *Resilient) Meta(ctx context.Context, name string) (string, error) {
	return do(r, "meta", func(kv KV) (string, error) { return kv.Meta(ctx, name) })
}

func (r *Resilient) SetMeta(ctx context.Context, name, value string) error {
	_, err := do(r, "set-meta", func(kv KV) (struct{}, error) { return struct{}{}, kv.SetMeta(ctx, name, value) })
	return err
}

func (r *Resilient) Ping(ctx context.Context) error {
	return r.active().Ping(ctx)
}

func (r *Resilient) Status(ctx context.Context) Status {
	st := r.active().Status(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.degraded {
		st.Degraded = true
		if r.lastErr != nil {
			st.LastError = r.lastErr.Error()
		}
	}
	return st
}

// Recover pings the primary and, when it answers, replays every fallback write
// into it and leaves degraded mode. Other calls wait until the replay is done.
func (r *Resilient) Recover(ctx context.Context) error {
	if !r.Degraded() || r.primary == nil {
		return nil
	}
	if err := r.primary.Ping(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.degraded {
		return nil
	}
	pending, err := r.fallback.Pending(ctx)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if e.Deleted {
			if err := r.primary.Delete(ctx, e.Key); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			continue
		}
		if _, err := r.primary.Put(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	synced, err := r.fallback.List(ctx, "")
	if err != nil {
		return err
	}
	for _, e := range synced {
		if e.Dirty {
			continue
		}
		if err := r.primary.PutSynced(ctx, e.Key, e.Value, e.RemoteRev); err != nil {
			return err
		}
	}
	r.degraded = false
	r.lastErr = nil
	r.fallback = NewMemory()
	slog.Info("store primary recovered", "replayed", len(pending)+len(synced))
	return nil
}

func (r *Resilient) Close() error {
	if r.primary == nil {
		return nil
	}
	return r.primary.Close()
}
