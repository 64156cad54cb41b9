package web

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gshare/internal/content"
	"gshare/internal/perm"
)

// itemForm is the editable shape of an item, shared by the HTML form and the
// JSON API.
type itemForm struct {
	Category       string `json:"category"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	MediaURL       string `json:"media_url"`
	Tags           string `json:"tags"`
	Level          string `json:"level"`
	AllowUsers     string `json:"allow_users"`
	DenyUsers      string `json:"deny_users"`
	AllowRoles     string `json:"allow_roles"`
	DenyRoles      string `json:"deny_roles"`
	AllowAnonymous bool   `json:"allow_anonymous"`
	MaxViews       string `json:"max_views"`
	Expires        string `json:"expires"`
	Password       string `json:"password"`
	ClearPassword  bool   `json:"clear_password"`
}

func formFromItem(it content.Item) itemForm {
	f := itemForm{
		Category:       string(it.Category),
		Title:          it.Title,
		Body:           it.Body,
		MediaURL:       it.MediaURL,
		Tags:           strings.Join(it.Tags, ", "),
		Level:          string(it.Access.Level),
		AllowUsers:     strings.Join(it.Access.AllowUsers, ", "),
		DenyUsers:      strings.Join(it.Access.DenyUsers, ", "),
		AllowRoles:     strings.Join(it.Access.AllowRoles, ", "),
		DenyRoles:      strings.Join(it.Access.DenyRoles, ", "),
		AllowAnonymous: it.Access.AllowAnonymous,
	}
	if it.Access.MaxViews > 0 {
		f.MaxViews = strconv.Itoa(it.Access.MaxViews)
	}
	if !it.Access.ExpiresAt.IsZero() {
		f.Expires = it.Access.ExpiresAt.UTC().Format("2006-01-02")
	}
	return f
}

func isJSONBody(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// parseItemForm reads an itemForm from a JSON body or an HTML form post.
func parseItemForm(w http.ResponseWriter, r *http.Request) (itemForm, error) {
	var f itemForm
	if isJSONBody(r) {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return f, fmt.Errorf("%w: %v", content.ErrInvalid, err)
		}
		return f, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		return f, fmt.Errorf("%w: %v", content.ErrInvalid, err)
	}
	f = itemForm{
		Category:       r.PostForm.Get("category"),
		Title:          r.PostForm.Get("title"),
		Body:           r.PostForm.Get("body"),
		MediaURL:       r.PostForm.Get("media_url"),
		Tags:           r.PostForm.Get("tags"),
		Level:          r.PostForm.Get("level"),
		AllowUsers:     r.PostForm.Get("allow_users"),
		DenyUsers:      r.PostForm.Get("deny_users"),
		AllowRoles:     r.PostForm.Get("allow_roles"),
		DenyRoles:      r.PostForm.Get("deny_roles"),
		AllowAnonymous: formBool(r.PostForm.Get("allow_anonymous")),
		MaxViews:       r.PostForm.Get("max_views"),
		Expires:        r.PostForm.Get("expires"),
		Password:       r.PostForm.Get("password"),
		ClearPassword:  formBool(r.PostForm.Get("clear_password")),
	}
	return f, nil
}

func formBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Input converts the form into library input. An unknown level is rejected
// here so a typo never silently closes an item.
func (f itemForm) Input() (content.Input, error) {
	in := content.Input{
		Category:      f.Category,
		Title:         f.Title,
		Body:          f.Body,
		MediaURL:      f.MediaURL,
		Tags:          splitCSV(f.Tags),
		Password:      f.Password,
		ClearPassword: f.ClearPassword,
	}
	level := strings.TrimSpace(f.Level)
	if level == "" {
		level = string(perm.LevelFriend)
	}
	if !perm.IsLevel(level) {
		return in, fmt.Errorf("%w: unknown level %q", content.ErrInvalid, f.Level)
	}
	in.Access = perm.Access{
		Level:          perm.ParseLevel(level),
		AllowUsers:     splitCSV(f.AllowUsers),
		DenyUsers:      splitCSV(f.DenyUsers),
		AllowRoles:     splitCSV(f.AllowRoles),
		DenyRoles:      splitCSV(f.DenyRoles),
		AllowAnonymous: f.AllowAnonymous,
	}
	if raw := strings.TrimSpace(f.MaxViews); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return in, fmt.Errorf("%w: invalid max views %q", content.ErrInvalid, raw)
		}
		in.Access.MaxViews = n
	}
	if raw := strings.TrimSpace(f.Expires); raw != "" {
		at, err := parseExpires(raw)
		if err != nil {
			return in, fmt.Errorf("%w: %v", content.ErrInvalid, err)
		}
		in.Access.ExpiresAt = at
	}
	return in, nil
}

func parseExpires(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expires %q", raw)
	}
	return t.Add(24*time.Hour - time.Second).UTC(), nil
}
