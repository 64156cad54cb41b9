package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("invalid key")
)

// Entry is one key with its local bookkeeping. Deleted entries are tombstones
// kept until the deletion has been pushed to the remote mirror.
type Entry struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
	Deleted   bool
	Dirty     bool
	RemoteRev string
}

type Status struct {
	Backend   string `json:"backend"`
	Degraded  bool   `json:"degraded"`
	LastError string `json:"last_error,omitempty"`
	Keys      int    `json:"keys"`
	Pending   int    `json:"pending"`
}

type KV interface {
	// Get returns live entries only; tombstones report ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)
	// Lookup returns the entry including tombstones.
	Lookup(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, value []byte) (Entry, error)
	// PutSynced stores a clean value that came from the remote mirror.
	PutSynced(ctx context.Context, key string, value []byte, rev string) error
	// ApplyRemote is PutSynced guarded by a compare-and-set: it writes only
	// while the entry is still at version expect (0 = absent) and not dirty.
	ApplyRemote(ctx context.Context, key string, value []byte, rev string, expect int64) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Pending(ctx context.Context) ([]Entry, error)
	// MarkSynced clears the dirty flag when the entry is still at version.
	MarkSynced(ctx context.Context, key string, version int64, rev string) (bool, error)
	Purge(ctx context.Context, key string) error
	Meta(ctx context.Context, name string) (string, error)
	SetMeta(ctx context.Context, name, value string) error
	Ping(ctx context.Context) error
	Status(ctx context.Context) Status
	Close() error
}

func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" || key != strings.TrimSpace(key) {
		return ErrInvalidKey
	}
	if strings.ContainsRune(key, 0) || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
