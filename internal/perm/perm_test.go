package perm

import (
	"errors"
	"testing"
	"time"

	"gshare/internal/auth"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateTieredLevels(t *testing.T) {
	anon := Anonymous()
	visitor := Viewer{Name: "val", Roles: []string{RoleVisitor}}
	noRoles := Viewer{Name: "nora"}
	friend := Viewer{Name: "fred", Roles: []string{RoleFriend}}

	cases := []struct {
		name   string
		level  Level
		viewer Viewer
		want   bool
		reason string
	}{
		{"public anonymous", LevelPublic, anon, true, ReasonPublic},
		{"visitor anonymous", LevelVisitor, anon, false, ReasonInsufficientRole},
		{"visitor visitor", LevelVisitor, visitor, true, ReasonRole},
		{"visitor without roles", LevelVisitor, noRoles, true, ReasonRole},
		{"friend visitor", LevelFriend, visitor, false, ReasonInsufficientRole},
		{"friend friend", LevelFriend, friend, true, ReasonRole},
		{"unknown level closed", Level("bogus"), visitor, false, ReasonInsufficientRole},
		{"empty level closed", Level(""), anon, false, ReasonInsufficientRole},
	}
	for _, c := range cases {
		got := Evaluate(Access{Level: c.level}, "owner", c.viewer, 0, now)
		if got.Allowed != c.want || got.Reason != c.reason {
			t.Fatalf("%s: got %+v want allowed=%v reason=%s", c.name, got, c.want, c.reason)
		}
	}
}

func TestEvaluateOwnerAndAdminShortCircuit(t *testing.T) {
	access := Access{Level: LevelCustom, DenyUsers: []string{"olga"}, ExpiresAt: now.Add(-time.Hour)}
	if got := Evaluate(access, "olga", Viewer{Name: "olga"}, 0, now); !got.Allowed || got.Reason != ReasonOwner {
		t.Fatalf("owner: got %+v", got)
	}
	admin := Viewer{Name: "root", Roles: []string{RoleAdmin}}
	if got := Evaluate(access, "olga", admin, 0, now); !got.Allowed || got.Reason != ReasonAdmin {
		t.Fatalf("admin: got %+v", got)
	}
	if got := Evaluate(Access{Level: LevelFriend}, "", Anonymous(), 0, now); got.Allowed {
		t.Fatalf("empty owner must not match anonymous viewer: %+v", got)
	}
}

func TestEvaluateCustomRules(t *testing.T) {
	hash, err := auth.HashPassword("open-sesame")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	friend := Viewer{Name: "fred", Roles: []string{RoleFriend}}
	bob := Viewer{Name: "bob", Roles: []string{RoleVisitor}}

	cases := []struct {
		name   string
		access Access
		viewer Viewer
		views  int
		want   bool
		reason string
	}{
		{"expired", Access{Level: LevelCustom, ExpiresAt: now}, friend, 0, false, ReasonExpired},
		{"not yet expired", Access{Level: LevelCustom, ExpiresAt: now.Add(time.Minute)}, friend, 0, true, ReasonRole},
		{"view limit", Access{Level: LevelCustom, MaxViews: 3}, friend, 3, false, ReasonViewLimit},
		{"under view limit", Access{Level: LevelCustom, MaxViews: 3}, friend, 2, true, ReasonRole},
		{"deny beats allow user", Access{Level: LevelCustom, AllowRoles: []string{"friend"}, DenyUsers: []string{"fred"}}, friend, 0, false, ReasonDenyUser},
		{"deny role beats allow user", Access{Level: LevelCustom, AllowUsers: []string{"fred"}, DenyRoles: []string{"FRIEND"}}, friend, 0, false, ReasonDenyRole},
		{"allow user", Access{Level: LevelCustom, AllowUsers: []string{"bob"}}, bob, 0, true, ReasonAllowUser},
		{"allow role", Access{Level: LevelCustom, AllowRoles: []string{"visitor"}}, bob, 0, true, ReasonAllowRole},
		{"not listed", Access{Level: LevelCustom, AllowUsers: []string{"alice"}}, bob, 0, false, ReasonNotListed},
		{"anonymous blocked", Access{Level: LevelCustom}, Anonymous(), 0, false, ReasonNotListed},
		{"anonymous allowed", Access{Level: LevelCustom, AllowAnonymous: true}, Anonymous(), 0, true, ReasonAnonymous},
		{"password required", Access{Level: LevelCustom, PasswordHash: hash, AllowAnonymous: true}, Anonymous(), 0, false, ReasonPasswordRequired},
		{"password invalid", Access{Level: LevelCustom, PasswordHash: hash}, Viewer{Password: "nope"}, 0, false, ReasonPasswordInvalid},
		{"password grants anonymous", Access{Level: LevelCustom, PasswordHash: hash}, Viewer{Password: "open-sesame"}, 0, true, ReasonPassword},
		{"password grants listless", Access{Level: LevelCustom, PasswordHash: hash}, Viewer{Name: "bob", Password: "open-sesame"}, 0, true, ReasonPassword},
		{"password plus list", Access{Level: LevelCustom, PasswordHash: hash, AllowUsers: []string{"alice"}}, Viewer{Name: "bob", Password: "open-sesame"}, 0, false, ReasonNotListed},
	}
	for _, c := range cases {
		got := Evaluate(c.access, "owner", c.viewer, c.views, now)
		if got.Allowed != c.want || got.Reason != c.reason {
			t.Fatalf("%s: got %+v want allowed=%v reason=%s", c.name, got, c.want, c.reason)
		}
	}
}

func TestNonCustomIgnoresCustomFields(t *testing.T) {
	access := Access{Level: LevelPublic, DenyUsers: []string{"bob"}, MaxViews: 1}
	got := Evaluate(access, "owner", Viewer{Name: "bob"}, 10, now)
	if !got.Allowed {
		t.Fatalf("public level must not consult custom lists: %+v", got)
	}
	norm := access.Normalize()
	if norm.DenyUsers != nil || norm.MaxViews != 0 {
		t.Fatalf("expected custom fields cleared, got %+v", norm)
	}
}

func TestNormalizeCleansLists(t *testing.T) {
	access := Access{
		Level:      "CUSTOM",
		AllowUsers: []string{" bob ", "bob", ""},
		AllowRoles: []string{"Friend", "friend"},
	}.Normalize()
	if access.Level != LevelCustom {
		t.Fatalf("level: got %q", access.Level)
	}
	if len(access.AllowUsers) != 1 || access.AllowUsers[0] != "bob" {
		t.Fatalf("allow users: got %v", access.AllowUsers)
	}
	if len(access.AllowRoles) != 1 || access.AllowRoles[0] != "friend" {
		t.Fatalf("allow roles: got %v", access.AllowRoles)
	}
}

func TestValidate(t *testing.T) {
	bad := []Access{
		{Level: LevelCustom, MaxViews: -1},
		{Level: LevelCustom, AllowUsers: []string{"bob"}, DenyUsers: []string{"bob"}},
		{Level: LevelCustom, AllowRoles: []string{"friend"}, DenyRoles: []string{"friend"}},
		{Level: LevelCustom, PasswordHash: "plain"},
	}
	for _, a := range bad {
		if err := a.Validate(); !errors.Is(err, ErrInvalidAccess) {
			t.Fatalf("expected ErrInvalidAccess for %+v, got %v", a, err)
		}
	}
	if err := (Access{Level: LevelCustom, AllowUsers: []string{"bob"}}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCanEdit(t *testing.T) {
	if !CanEdit("alice", Viewer{Name: "alice"}) {
		t.Fatal("owner should edit")
	}
	if !CanEdit("alice", Viewer{Name: "root", Roles: []string{RoleAdmin}}) {
		t.Fatal("admin should edit")
	}
	if CanEdit("alice", Viewer{Name: "fred", Roles: []string{RoleFriend}}) {
		t.Fatal("friend should not edit")
	}
	if CanEdit("", Anonymous()) {
		t.Fatal("anonymous should never edit")
	}
}

func TestRolesMatchIgnoringCase(t *testing.T) {
	boss := Viewer{Name: "root", Roles: []string{" Admin"}}
	if !boss.HasRole(RoleAdmin) || boss.Tier() != 3 {
		t.Fatalf("mixed-case admin not recognised: tier %d", boss.Tier())
	}
	if !CanEdit("alice", boss) {
		t.Fatal("mixed-case admin should edit")
	}
	d := Evaluate(Access{Level: LevelFriend}, "alice", boss, 0, now)
	if !d.Allowed || d.Reason != ReasonAdmin {
		t.Fatalf("decision: %+v", d)
	}
	custom := Access{Level: LevelCustom, DenyRoles: []string{"friend"}}
	if d := Evaluate(custom, "alice", Viewer{Name: "fred", Roles: []string{"FRIEND"}}, 0, now); d.Allowed || d.Reason != ReasonDenyRole {
		t.Fatalf("deny role should match any case: %+v", d)
	}
}
