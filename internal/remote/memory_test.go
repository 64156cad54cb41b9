package remote

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryMirror(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rev, err := m.Put(ctx, "content/art/a.md", []byte("a"), "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rev != contentRevision([]byte("a")) {
		t.Fatalf("unexpected revision %q", rev)
	}
	if _, err := m.Put(ctx, "content/art/a.md", []byte("b"), "old"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	list, _ := m.List(ctx, "content/")
	if len(list) != 1 || list[0].Data != nil {
		t.Fatalf("list should omit data: %+v", list)
	}

	boom := errors.New("offline")
	m.Fail(boom)
	if _, err := m.Get(ctx, "content/art/a.md"); !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	m.Fail(nil)

	if err := m.Delete(ctx, "content/art/a.md", rev); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.Delete(ctx, "content/art/a.md", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
