package importer

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"gshare/internal/perm"
)

func TestParseAccess(t *testing.T) {
	src := `# gallery defaults
custom
allow: alice, bob
deny: mallory
allow-role: Friend
deny-role: visitor
anonymous: yes
max-views: 10
expires: 2025-01-31
`
	got, err := ParseAccess(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := perm.Access{
		Level:          perm.LevelCustom,
		AllowUsers:     []string{"alice", "bob"},
		DenyUsers:      []string{"mallory"},
		AllowRoles:     []string{"friend"},
		DenyRoles:      []string{"visitor"},
		AllowAnonymous: true,
		MaxViews:       10,
		ExpiresAt:      time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAccessPlainLevelDropsCustomFields(t *testing.T) {
	got, err := ParseAccess(strings.NewReader("public\nallow: alice\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if diff := cmp.Diff(perm.Access{Level: perm.LevelPublic}, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAccessErrors(t *testing.T) {
	for _, src := range []string{
		"",
		"# only a comment\n",
		"secret\n",
		"custom\nallow alice\n",
		"custom\nanonymous: maybe\n",
		"custom\nmax-views: -1\n",
		"custom\nexpires: tomorrow\n",
		"custom\ncolour: blue\n",
		"custom\nallow: alice\ndeny: alice\n",
	} {
		if _, err := ParseAccess(strings.NewReader(src)); err == nil {
			t.Fatalf("expected error for %q", src)
		}
	}
}
