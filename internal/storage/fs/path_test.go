package fs

import (
	"path/filepath"
	"testing"
)

func TestNormalizeRelPath(t *testing.T) {
	cases := []struct {
		in    string
		ok    bool
		clean string
	}{
		{"item.md", true, "item.md"},
		{"art/item.md", true, "art/item.md"},
		{"art\\item.md", true, "art/item.md"},
		{"../item.md", false, ""},
		{"/abs.md", false, ""},
		{"art/../item.md", true, "item.md"},
		{"..", false, ""},
		{"..hidden/item.md", true, "..hidden/item.md"},
	}

	for _, c := range cases {
		got, err := NormalizeRelPath(c.in)
		if c.ok && err != nil {
			t.Fatalf("expected ok for %q, got %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("expected err for %q", c.in)
		}
		if c.ok && got != c.clean {
			t.Fatalf("expected %q -> %q, got %q", c.in, c.clean, got)
		}
	}
}

func TestJoinUnderAndRelSlash(t *testing.T) {
	root := t.TempDir()
	full, err := JoinUnder(root, "content/art/a.md")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if full != filepath.Join(root, "content", "art", "a.md") {
		t.Fatalf("unexpected path %q", full)
	}
	rel, err := RelSlash(root, full)
	if err != nil || rel != "content/art/a.md" {
		t.Fatalf("rel: %q %v", rel, err)
	}
	if _, err := JoinUnder(root, "../outside"); err == nil {
		t.Fatal("expected escape to fail")
	}
}

func TestEnsureMDExt(t *testing.T) {
	if got := EnsureMDExt("a"); got != "a.md" {
		t.Fatalf("got %q", got)
	}
	if got := EnsureMDExt("a.MD"); got != "a.MD" {
		t.Fatalf("got %q", got)
	}
}
