package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBlocked = errors.New("storage blocked")

// flakyKV wraps a Memory and fails every call while broken is set.
type flakyKV struct {
	*Memory
	broken bool
	onPut  func(key string)
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) (Entry, error) {
	if f.broken {
		return Entry{}, errBlocked
	}
	if f.onPut != nil {
		f.onPut(key)
	}
	return f.Memory.Put(ctx, key, value)
}

func (f *flakyKV) Get(ctx context.Context, key string) (Entry, error) {
	if f.broken {
		return Entry{}, errBlocked
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakyKV) Ping(context.Context) error {
	if f.broken {
		return errBlocked
	}
	return nil
}

func TestResilientFallsBackAndRecovers(t *testing.T) {
	ctx := context.Background()
	primary := &flakyKV{Memory: NewMemory()}
	r := NewResilient(primary)

	if _, err := r.Put(ctx, "before", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if r.Degraded() {
		t.Fatal("should not be degraded yet")
	}

	primary.broken = true
	if _, err := r.Put(ctx, "during", []byte("2")); err != nil {
		t.Fatalf("put while broken should fall back, got %v", err)
	}
	if !r.Degraded() {
		t.Fatal("expected degraded mode")
	}
	st := r.Status(ctx)
	if !st.Degraded || st.LastError != errBlocked.Error() || st.Backend != "memory" {
		t.Fatalf("status: %+v", st)
	}
	got, err := r.Get(ctx, "during")
	if err != nil || string(got.Value) != "2" {
		t.Fatalf("get from fallback: %+v %v", got, err)
	}

	if err := r.Recover(ctx); !errors.Is(err, errBlocked) {
		t.Fatalf("recover while broken: %v", err)
	}

	primary.broken = false
	if err := r.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if r.Degraded() {
		t.Fatal("expected primary mode after recover")
	}
	replayed, err := primary.Memory.Get(ctx, "during")
	if err != nil || string(replayed.Value) != "2" || !replayed.Dirty {
		t.Fatalf("expected fallback write replayed as pending: %+v %v", replayed, err)
	}
	if _, err := r.Get(ctx, "before"); err != nil {
		t.Fatalf("primary data lost: %v", err)
	}
}

func TestResilientDoesNotDegradeOnNotFound(t *testing.T) {
	r := NewResilient(NewMemory())
	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if r.Degraded() {
		t.Fatal("not found must not degrade the store")
	}
}

func TestResilientRecoverKeepsWritesMadeDuringReplay(t *testing.T) {
	ctx := context.Background()
	primary := &flakyKV{Memory: NewMemory(), broken: true}
	r := NewResilient(primary)
	if _, err := r.Put(ctx, "during", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	primary.broken = false

	var (
		once sync.Once
		wg   sync.WaitGroup
	)
	primary.onPut = func(string) {
		once.Do(func() {
			done := make(chan struct{})
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(done)
				if _, err := r.Put(ctx, "late", []byte("2")); err != nil {
					t.Errorf("late put: %v", err)
				}
			}()
			// give the writer a chance to slip in before the swap
			select {
			case <-done:
			case <-time.After(50 * time.Millisecond):
			}
		})
	}
	if err := r.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	wg.Wait()
	if r.Degraded() {
		t.Fatal("expected primary mode after recover")
	}
	for _, key := range []string{"during", "late"} {
		if _, err := primary.Memory.Get(ctx, key); err != nil {
			t.Fatalf("%s missing from primary: %v", key, err)
		}
	}
	if got, err := r.Get(ctx, "late"); err != nil || string(got.Value) != "2" {
		t.Fatalf("late write lost: %+v %v", got, err)
	}
}
