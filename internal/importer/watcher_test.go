package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gshare/internal/perm"
)

func TestWatcherReimportsOnChange(t *testing.T) {
	lib, root := newFixture(t)
	writeFile(t, filepath.Join(root, "art", "seed.md"), "---\ntitle: Seed\n---\n")
	im := New(lib, Options{Root: root, Owner: "alice"})
	if _, err := im.Import(context.Background()); err != nil {
		t.Fatalf("import: %v", err)
	}

	imported := make(chan Report, 4)
	w := NewWatcher(im, 20*time.Millisecond, func(r Report) { imported <- r })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("watcher: %v", err)
		}
	}()

	// give the watcher time to register its directories
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(root, "art", "fresh.md"), "---\ntitle: Fresh\n---\n")

	select {
	case r := <-imported:
		if r.Created != 1 {
			t.Fatalf("unexpected report: %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not re-import")
	}
	rows, _ := lib.List(context.Background(), perm.Viewer{Name: "alice"}, "art")
	if len(rows) != 2 {
		t.Fatalf("expected two items, got %+v", rows)
	}
}
