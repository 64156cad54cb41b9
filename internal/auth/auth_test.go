package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	parsed, err := ParseArgon2idHash(hash)
	if err != nil {
		t.Fatalf("ParseArgon2idHash: %v", err)
	}
	if !parsed.Verify("secret-password") {
		t.Fatal("expected password to verify")
	}
	if parsed.Verify("wrong-password") {
		t.Fatal("expected password to fail verification")
	}
	if !VerifyPHC(hash, "secret-password") {
		t.Fatal("expected VerifyPHC to accept the password")
	}
	if VerifyPHC("not-a-hash", "secret-password") {
		t.Fatal("expected VerifyPHC to reject a malformed hash")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatal("expected error for empty password")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.txt")

	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	content := "# comment\n\nalice:" + hash + ":1900-01-01:admin, friend\nbob:" + hash + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write auth file: %v", err)
	}

	users, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	entry, ok := users["alice"]
	if !ok {
		t.Fatal("expected user alice")
	}
	if !entry.Hash.Verify("secret") {
		t.Fatal("expected password to verify for alice")
	}
	if len(entry.Roles) != 2 || entry.Roles[0] != "admin" || entry.Roles[1] != "friend" {
		t.Fatalf("expected roles [admin friend], got %v", entry.Roles)
	}
	if !entry.Expired(time.Now()) {
		t.Fatal("expected alice to be expired")
	}
	bob := users["bob"]
	if bob.Expired(time.Now()) || len(bob.Roles) != 0 {
		t.Fatalf("unexpected bob entry: %+v", bob)
	}
}

func TestLoadFileDuplicateUser(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.txt")

	hash1, err := HashPassword("secret1")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	hash2, err := HashPassword("secret2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	content := "alice:" + hash1 + ":1900-01-01\nalice:" + hash2 + ":1900-01-01\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write auth file: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected duplicate user error")
	}
}

func TestParseFileRejectsBadLines(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	bad := []string{
		"no-colon-here\n",
		"alice:plaintext\n",
		"alice:" + hash + ":tomorrow\n",
		":" + hash + "\n",
	}
	for _, content := range bad {
		if _, err := ParseFile(strings.NewReader(content)); err == nil {
			t.Fatalf("expected error for %q", content)
		}
	}
}

func TestFormatLineRoundTrip(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	expiry := time.Date(2099, 1, 2, 0, 0, 0, 0, time.UTC)
	line := FormatLine("carol", hash, expiry, []string{"friend"})
	users, err := ParseFile(strings.NewReader(line + "\n"))
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	carol := users["carol"]
	if !carol.Expiry.Equal(expiry) {
		t.Fatalf("expiry: got %s", carol.Expiry)
	}
	if len(carol.Roles) != 1 || carol.Roles[0] != "friend" {
		t.Fatalf("roles: got %v", carol.Roles)
	}
	if plain := FormatLine("dave", hash, time.Time{}, nil); plain != "dave:"+hash {
		t.Fatalf("plain line: got %q", plain)
	}
}
