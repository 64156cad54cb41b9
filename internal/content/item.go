package content

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gshare/internal/perm"
)

var (
	ErrNotFound  = errors.New("item not found")
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid item")
)

type Category string

const (
	Literature Category = "literature"
	Art        Category = "art"
	Music      Category = "music"
	Video      Category = "video"
)

var Categories = []Category{Literature, Art, Music, Video}

func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

type Item struct {
	ID        string      `json:"id"`
	Category  Category    `json:"category"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	MediaURL  string      `json:"media_url,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
	Owner     string      `json:"owner"`
	Access    perm.Access `json:"access"`
	Views     int         `json:"views"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (it Item) Key() string {
	return ItemKey(it.Category, it.ID)
}

func (it Item) Validate() error {
	if _, err := uuid.Parse(it.ID); err != nil {
		return fmt.Errorf("%w: id %q", ErrInvalid, it.ID)
	}
	if _, ok := ParseCategory(string(it.Category)); !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalid, it.Category)
	}
	if strings.TrimSpace(it.Title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalid)
	}
	if err := it.Access.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// DeniedError reports the permission decision behind an ErrForbidden.
type DeniedError struct {
	Decision perm.Decision
}

func (e *DeniedError) Error() string {
	return "forbidden: " + e.Decision.Reason
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrForbidden
}

const (
	contentPrefix = "content/"
	catalogPrefix = "catalog/"
)

func ItemKey(category Category, id string) string {
	return contentPrefix + string(category) + "/" + id + ".md"
}

func CatalogKey(category Category) string {
	return catalogPrefix + string(category)
}

// ParseItemKey splits a content key into its category and id.
func ParseItemKey(key string) (Category, string, bool) {
	rest, ok := strings.CutPrefix(key, contentPrefix)
	if !ok {
		return "", "", false
	}
	cat, file, ok := strings.Cut(rest, "/")
	if !ok || strings.Contains(file, "/") {
		return "", "", false
	}
	id, ok := strings.CutSuffix(file, ".md")
	if !ok || id == "" {
		return "", "", false
	}
	category, ok := ParseCategory(cat)
	if !ok || string(category) != cat {
		return "", "", false
	}
	return category, id, true
}

func IsItemKey(key string) bool {
	_, _, ok := ParseItemKey(key)
	return ok
}

func IsCatalogKey(key string) bool {
	_, ok := ParseCategory(strings.TrimPrefix(key, catalogPrefix))
	return strings.HasPrefix(key, catalogPrefix) && ok
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tag), "#")))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
