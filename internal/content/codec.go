package content

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gshare/internal/perm"
)

type frontmatter struct {
	ID       string      `yaml:"id,omitempty"`
	Category Category    `yaml:"category,omitempty"`
	Title    string      `yaml:"title"`
	Owner    string      `yaml:"owner,omitempty"`
	MediaURL string      `yaml:"media_url,omitempty"`
	Tags     []string    `yaml:"tags,omitempty"`
	Access   *perm.Access `yaml:"access,omitempty"`
	Views    int         `yaml:"views,omitempty"`
	Created  time.Time   `yaml:"created,omitempty"`
	Updated  time.Time   `yaml:"updated,omitempty"`
}

// Encode renders an item as markdown with a YAML frontmatter block.
func Encode(it Item) ([]byte, error) {
	fm := frontmatter{
		ID:       it.ID,
		Category: it.Category,
		Title:    it.Title,
		Owner:    it.Owner,
		MediaURL: it.MediaURL,
		Tags:     it.Tags,
		Access:   &it.Access,
		Views:    it.Views,
		Created:  it.CreatedAt.UTC(),
		Updated:  it.UpdatedAt.UTC(),
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fm); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("---\n")
	if body := strings.TrimLeft(it.Body, "\n"); body != "" {
		buf.WriteString("\n")
		buf.WriteString(body)
	}
	return buf.Bytes(), nil
}

// Decode parses a document written by Encode. Missing fields stay zero so
// callers importing hand-written files can fill them in; a document without an
// access block decodes with an empty Access.Level.
func Decode(data []byte) (Item, error) {
	fmLines, body, ok := splitFrontmatterLines(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if !ok {
		return Item{}, fmt.Errorf("%w: missing frontmatter", ErrInvalid)
	}
	var fm frontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(fmLines, "\n")), &fm); err != nil {
		return Item{}, fmt.Errorf("%w: frontmatter: %v", ErrInvalid, err)
	}
	var access perm.Access
	if fm.Access != nil {
		access = fm.Access.Normalize()
	}
	return Item{
		ID:        strings.TrimSpace(fm.ID),
		Category:  fm.Category,
		Title:     strings.TrimSpace(fm.Title),
		Body:      strings.TrimLeft(body, "\n"),
		MediaURL:  strings.TrimSpace(fm.MediaURL),
		Tags:      normalizeTags(fm.Tags),
		Owner:     strings.TrimSpace(fm.Owner),
		Access:    access,
		Views:     fm.Views,
		CreatedAt: fm.Created,
		UpdatedAt: fm.Updated,
	}, nil
}

func splitFrontmatterLines(input string) ([]string, string, bool) {
	lines := strings.Split(input, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, input, false
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, input, false
	}
	return lines[1:end], strings.Join(lines[end+1:], "\n"), true
}
