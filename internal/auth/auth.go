package auth

import (
	"bufio"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
)

const (
	defaultMemory     = 64 * 1024
	defaultIterations = 3
	defaultThreads    = 1
	defaultSaltLength = 16
	defaultKeyLength  = 32
)

const expiryLayout = "2006-01-02"

type Argon2idHash struct {
	m    uint32
	t    uint32
	p    uint8
	salt []byte
	sum  []byte
}

// Account is one line of the users file.
type Account struct {
	Name   string
	Hash   *Argon2idHash
	Expiry time.Time
	Roles  []string
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	salt := make([]byte, defaultSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, defaultIterations, defaultMemory, defaultThreads, defaultKeyLength)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		defaultMemory,
		defaultIterations,
		defaultThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func ParseArgon2idHash(phc string) (*Argon2idHash, error) {
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, errors.New("invalid argon2id hash format")
	}
	if parts[2] != "v=19" {
		return nil, fmt.Errorf("unsupported argon2id version: %s", parts[2])
	}
	params := strings.Split(parts[3], ",")
	if len(params) != 3 {
		return nil, errors.New("invalid argon2id params")
	}
	var m uint64
	var t uint64
	var p uint64
	for _, param := range params {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid argon2id params")
		}
		switch kv[0] {
		case "m":
			val, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, errors.New("invalid argon2id memory")
			}
			m = val
		case "t":
			val, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil {
				return nil, errors.New("invalid argon2id iterations")
			}
			t = val
		case "p":
			val, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil {
				return nil, errors.New("invalid argon2id parallelism")
			}
			p = val
		default:
			return nil, errors.New("invalid argon2id params")
		}
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("invalid argon2id salt")
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("invalid argon2id hash")
	}
	if len(sum) == 0 {
		return nil, errors.New("invalid argon2id hash")
	}
	return &Argon2idHash{
		m:    uint32(m),
		t:    uint32(t),
		p:    uint8(p),
		salt: salt,
		sum:  sum,
	}, nil
}

func (h *Argon2idHash) Verify(password string) bool {
	if h == nil {
		return false
	}
	sum := argon2.IDKey([]byte(password), h.salt, h.t, h.m, h.p, uint32(len(h.sum)))
	return subtle.ConstantTimeCompare(sum, h.sum) == 1
}

// VerifyPHC parses and checks a password against a stored PHC string.
func VerifyPHC(phc, password string) bool {
	h, err := ParseArgon2idHash(strings.TrimSpace(phc))
	if err != nil {
		return false
	}
	return h.Verify(password)
}

func (a Account) Expired(now time.Time) bool {
	if a.Expiry.IsZero() {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	ey, em, ed := a.Expiry.Date()
	expiry := time.Date(ey, em, ed, 0, 0, 0, 0, now.Location())
	return expiry.Before(today)
}

func LoadFile(path string) (map[string]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth file: %w", err)
	}
	defer f.Close()
	return ParseFile(f)
}

// ParseFile reads lines of the form user:hash[:expiry[:role,role]].
func ParseFile(r io.Reader) (map[string]Account, error) {
	users := make(map[string]Account)
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, rest, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("invalid auth line %d: expected user:hash", lineNum)
		}
		user = strings.TrimSpace(user)
		if user == "" {
			return nil, fmt.Errorf("invalid auth line %d: empty user", lineNum)
		}
		hash, extra := splitHashField(strings.TrimSpace(rest))
		if hash == "" {
			return nil, fmt.Errorf("invalid auth line %d: empty hash", lineNum)
		}
		if _, exists := users[user]; exists {
			return nil, fmt.Errorf("duplicate user %q in auth file", user)
		}
		if !strings.HasPrefix(hash, "$argon2id$") {
			return nil, fmt.Errorf("invalid auth line %d: expected argon2id hash", lineNum)
		}
		parsed, err := ParseArgon2idHash(hash)
		if err != nil {
			return nil, fmt.Errorf("invalid auth line %d: %w", lineNum, err)
		}
		account := Account{Name: user, Hash: parsed}
		expiryRaw, rolesRaw, _ := strings.Cut(extra, ":")
		if expiryRaw = strings.TrimSpace(expiryRaw); expiryRaw != "" {
			expiry, err := time.Parse(expiryLayout, expiryRaw)
			if err != nil {
				return nil, fmt.Errorf("invalid auth line %d: bad expiry %q", lineNum, expiryRaw)
			}
			account.Expiry = expiry
		}
		account.Roles = ParseRoles(rolesRaw)
		users[user] = account
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}

	return users, nil
}

// splitHashField separates the PHC string (which itself contains no ':')
// from the optional trailing fields.
func splitHashField(rest string) (string, string) {
	hash, extra, _ := strings.Cut(rest, ":")
	return strings.TrimSpace(hash), strings.TrimSpace(extra)
}

func ParseRoles(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	seen := map[string]struct{}{}
	roles := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	return roles
}

// FormatLine renders an account back into the users file format.
func FormatLine(user, hash string, expiry time.Time, roles []string) string {
	exp := ""
	if !expiry.IsZero() {
		exp = expiry.Format(expiryLayout)
	}
	line := user + ":" + hash
	if exp == "" && len(roles) == 0 {
		return line
	}
	return line + ":" + exp + ":" + strings.Join(roles, ",")
}
