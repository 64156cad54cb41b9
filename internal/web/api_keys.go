package web

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// APIKeysFile lives in the data directory, one "alias:key:YYYY-MM-DD" per
// line. The alias is the account the key acts as.
const APIKeysFile = "api-keys.txt"

type apiKeyEntry struct {
	Alias  string
	Expiry time.Time
}

func loadAPIKeys(dataPath string) (map[string]apiKeyEntry, error) {
	if strings.TrimSpace(dataPath) == "" {
		return map[string]apiKeyEntry{}, nil
	}
	path := filepath.Join(dataPath, APIKeysFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]apiKeyEntry{}, nil
		}
		return nil, err
	}
	defer file.Close()

	keys := map[string]apiKeyEntry{}
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("api keys: invalid format at line %d", lineNo)
		}
		alias := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		expiryRaw := strings.TrimSpace(parts[2])
		if alias == "" || key == "" || expiryRaw == "" {
			return nil, fmt.Errorf("api keys: invalid format at line %d", lineNo)
		}
		expiry, err := time.Parse("2006-01-02", expiryRaw)
		if err != nil {
			return nil, fmt.Errorf("api keys: invalid expiry at line %d", lineNo)
		}
		if _, exists := keys[key]; exists {
			return nil, fmt.Errorf("api keys: duplicate key at line %d", lineNo)
		}
		keys[key] = apiKeyEntry{
			Alias:  alias,
			Expiry: expiry,
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func apiKeyExpired(entry apiKeyEntry, now time.Time) bool {
	if entry.Expiry.IsZero() {
		return false
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	ey, em, ed := entry.Expiry.Date()
	return time.Date(ey, em, ed, 0, 0, 0, 0, now.Location()).Before(today)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
