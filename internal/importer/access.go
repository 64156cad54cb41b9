package importer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gshare/internal/perm"
)

// AccessFileName holds the default access of every item in a category
// directory that has no access block of its own.
const AccessFileName = ".access.txt"

// ParseAccess reads an access file. The first line is the level; the rest are
// "name: value" directives:
//
//	custom
//	allow: alice, bob
//	deny: mallory
//	allow-role: friend
//	deny-role: visitor
//	anonymous: yes
//	max-views: 10
//	expires: 2025-01-31
//
// Blank lines and lines starting with # are ignored.
func ParseAccess(r io.Reader) (perm.Access, error) {
	var access perm.Access
	scanner := bufio.NewScanner(r)
	levelSeen := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !levelSeen {
			levelSeen = true
			if !perm.IsLevel(line) {
				return perm.Access{}, fmt.Errorf("line %d: unknown level %q", lineNo, line)
			}
			access.Level = perm.ParseLevel(line)
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return perm.Access{}, fmt.Errorf("line %d: expected name: value", lineNo)
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "allow":
			access.AllowUsers = append(access.AllowUsers, splitList(value)...)
		case "deny":
			access.DenyUsers = append(access.DenyUsers, splitList(value)...)
		case "allow-role":
			access.AllowRoles = append(access.AllowRoles, splitList(value)...)
		case "deny-role":
			access.DenyRoles = append(access.DenyRoles, splitList(value)...)
		case "anonymous":
			switch strings.ToLower(value) {
			case "yes", "true", "1":
				access.AllowAnonymous = true
			case "no", "false", "0":
				access.AllowAnonymous = false
			default:
				return perm.Access{}, fmt.Errorf("line %d: anonymous must be yes or no", lineNo)
			}
		case "max-views":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return perm.Access{}, fmt.Errorf("line %d: invalid max-views %q", lineNo, value)
			}
			access.MaxViews = n
		case "expires":
			at, err := parseExpiry(value)
			if err != nil {
				return perm.Access{}, fmt.Errorf("line %d: %w", lineNo, err)
			}
			access.ExpiresAt = at
		default:
			return perm.Access{}, fmt.Errorf("line %d: unknown directive %q", lineNo, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return perm.Access{}, err
	}
	if !levelSeen {
		return perm.Access{}, errors.New("access file is empty")
	}
	access = access.Normalize()
	if err := access.Validate(); err != nil {
		return perm.Access{}, err
	}
	return access, nil
}

// LoadAccess reads dir/.access.txt. A missing file yields ok=false.
func LoadAccess(dir string) (perm.Access, bool, error) {
	f, err := os.Open(filepath.Join(dir, AccessFileName))
	if errors.Is(err, os.ErrNotExist) {
		return perm.Access{}, false, nil
	}
	if err != nil {
		return perm.Access{}, false, err
	}
	defer f.Close()
	access, err := ParseAccess(f)
	if err != nil {
		return perm.Access{}, false, fmt.Errorf("%s: %w", f.Name(), err)
	}
	return access, true, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseExpiry(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		// end of that day
		return t.Add(24*time.Hour - time.Second).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid expires %q", raw)
}
