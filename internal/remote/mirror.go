package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("remote object not found")
	ErrConflict = errors.New("remote revision conflict")
)

// Object is one remote file. Revision is backend specific: a blob sha for
// GitHub, an ETag for S3, a content hash for GitDir and Memory.
type Object struct {
	Key       string
	Data      []byte
	Revision  string
	UpdatedAt time.Time
}

// Mirror is a best-effort remote copy of the local store.
type Mirror interface {
	Name() string
	// List returns objects under prefix without their data.
	List(ctx context.Context, prefix string) ([]Object, error)
	Get(ctx context.Context, key string) (Object, error)
	// Put writes data. A non-empty prevRev must match the current remote
	// revision or ErrConflict is returned. It returns the new revision.
	Put(ctx context.Context, key string, data []byte, prevRev string) (string, error)
	// Delete removes key. An empty rev deletes whatever revision is present.
	Delete(ctx context.Context, key string, rev string) error
}

// Flusher is implemented by mirrors that batch writes, such as GitDir.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Refresher is implemented by mirrors that must fetch before listing.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ConflictError carries the revision the remote currently holds.
type ConflictError struct {
	Key     string
	Current string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("remote revision conflict for %s (current %s)", e.Key, e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}
