package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gshare/internal/auth"
	"gshare/internal/config"
)

func runCLI(t *testing.T, env *cliEnv, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(env)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testEnv(t *testing.T) *cliEnv {
	t.Helper()
	return &cliEnv{cfg: config.Config{
		DataPath: filepath.Join(t.TempDir(), "data"),
		Remote:   "memory",
		AuthUser: "admin",
	}}
}

func TestUserAddListAndRemove(t *testing.T) {
	env := testEnv(t)
	if _, err := runCLI(t, env, "s3cret\n", "user", "add", "bob", "--password-stdin", "--roles", "friend", "--expires", "2999-01-31"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := runCLI(t, env, "other\n", "user", "add", "carol", "--password-stdin"); err != nil {
		t.Fatalf("add carol: %v", err)
	}
	path := filepath.Join(env.cfg.DataPath, "users.txt")
	users, err := auth.LoadFile(path)
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	bob, ok := users["bob"]
	if !ok || !bob.Hash.Verify("s3cret") {
		t.Fatalf("bob not stored with password: %+v", bob)
	}
	if len(bob.Roles) != 1 || bob.Roles[0] != "friend" || bob.Expiry.Year() != 2999 {
		t.Fatalf("bob fields: %+v", bob)
	}

	out, err := runCLI(t, env, "", "user", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "bob\tfriend\texpires 2999-01-31") || !strings.Contains(out, "carol\tvisitor") {
		t.Fatalf("list output:\n%s", out)
	}

	if _, err := runCLI(t, env, "changed\n", "user", "add", "bob", "--password-stdin", "--yes"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := runCLI(t, env, "", "user", "remove", "carol", "--yes"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	users, err = auth.LoadFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := users["carol"]; ok || len(users) != 1 {
		t.Fatalf("carol still present: %+v", users)
	}
	if !users["bob"].Hash.Verify("changed") || len(users["bob"].Roles) != 0 {
		t.Fatalf("bob not replaced: %+v", users["bob"])
	}
}

func TestUserAddRejectsBadInput(t *testing.T) {
	env := testEnv(t)
	cases := [][]string{
		{"user", "add", "a:b", "--password-stdin"},
		{"user", "add", "dan", "--password-stdin", "--roles", "owner"},
		{"user", "add", "dan", "--password-stdin", "--expires", "soon"},
	}
	for _, args := range cases {
		if _, err := runCLI(t, env, "pw\n", args...); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
	if _, err := runCLI(t, env, "\n", "user", "add", "dan", "--password-stdin"); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestUpsertKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	hash, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := os.WriteFile(path, []byte("# accounts\nbob:"+hash+"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := upsertUsersFile(path, "eve", "eve:"+hash); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	data, _ := os.ReadFile(path)
	want := "# accounts\nbob:" + hash + "\neve:" + hash + "\n"
	if string(data) != want {
		t.Fatalf("file:\n%s\nwant:\n%s", data, want)
	}
}

func TestHashPrintsVerifiableHash(t *testing.T) {
	out, err := runCLI(t, testEnv(t), "pw\n", "user", "hash", "--password-stdin")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !auth.VerifyPHC(strings.TrimSpace(out), "pw") {
		t.Fatalf("hash does not verify: %q", out)
	}
}

func TestImportSyncStatusAndDelete(t *testing.T) {
	env := testEnv(t)
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "music"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "music", "song.md"), []byte("---\ntitle: Song\n---\nla\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := runCLI(t, env, "", "import", src)
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "created 1") {
		t.Fatalf("import output: %s", out)
	}
	out, err = runCLI(t, env, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "music    1 items") {
		t.Fatalf("status output:\n%s", out)
	}

	exported := t.TempDir()
	out, err = runCLI(t, env, "", "export", exported)
	if err != nil || !strings.Contains(out, "wrote 1 files") {
		t.Fatalf("export: %v %s", err, out)
	}
	entries, err := os.ReadDir(filepath.Join(exported, "music"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("exported files: %v %v", entries, err)
	}
	id := strings.TrimSuffix(entries[0].Name(), ".md")

	// The memory mirror lives only for one command, so delete verifies
	// against an empty remote.
	out, err = runCLI(t, env, "", "delete", id)
	if err != nil {
		t.Fatalf("delete: %v\n%s", err, out)
	}
	if !strings.Contains(out, "verified=true") {
		t.Fatalf("delete output: %s", out)
	}
	out, err = runCLI(t, env, "", "status")
	if err != nil || !strings.Contains(out, "music    0 items") {
		t.Fatalf("status after delete: %v\n%s", err, out)
	}
}
