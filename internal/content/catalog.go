package content

import (
	"encoding/json"
	"slices"
	"sort"
	"time"

	"gshare/internal/perm"
)

// Summary is one cached catalog row. The password hash is kept beside the
// access rules because perm.Access hides it from JSON.
type Summary struct {
	ID           string      `json:"id"`
	Category     Category    `json:"category"`
	Title        string      `json:"title"`
	Owner        string      `json:"owner"`
	Tags         []string    `json:"tags,omitempty"`
	HasMedia     bool        `json:"has_media,omitempty"`
	Access       perm.Access `json:"access"`
	PasswordHash string      `json:"password_hash,omitempty"`
	Views        int         `json:"views"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func summarize(it Item) Summary {
	return Summary{
		ID:           it.ID,
		Category:     it.Category,
		Title:        it.Title,
		Owner:        it.Owner,
		Tags:         slices.Clone(it.Tags),
		HasMedia:     it.MediaURL != "",
		Access:       it.Access,
		PasswordHash: it.Access.PasswordHash,
		Views:        it.Views,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

func (s Summary) Key() string {
	return ItemKey(s.Category, s.ID)
}

func (s Summary) access() perm.Access {
	a := s.Access
	a.PasswordHash = s.PasswordHash
	return a
}

// Listing is a summary visible to a viewer. Locked rows need a password
// before they can be opened.
type Listing struct {
	Summary
	Locked bool `json:"locked,omitempty"`
}

func sortSummaries(list []Summary) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func encodeCatalog(list []Summary) ([]byte, error) {
	if list == nil {
		list = []Summary{}
	}
	sortSummaries(list)
	return json.MarshalIndent(list, "", "  ")
}

func decodeCatalog(data []byte) ([]Summary, error) {
	var list []Summary
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
