package remote

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeGitHub implements the subset of the contents and trees API the mirror uses.
type fakeGitHub struct {
	mu    sync.Mutex
	files     map[string][]byte
	empty     bool
	noBranch  bool
	truncated bool
}

func blobSHA(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	const repoPrefix = "/repos/me/share/"
	if !strings.HasPrefix(r.URL.Path, repoPrefix) {
		http.NotFound(w, r)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, repoPrefix)
	switch {
	case strings.HasPrefix(rest, "git/trees/"):
		if f.empty {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Git Repository is empty."})
			return
		}
		if f.noBranch {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "Not Found"})
			return
		}
		type node struct {
			Path string `json:"path"`
			Type string `json:"type"`
			SHA  string `json:"sha"`
		}
		var tree []node
		for p, data := range f.files {
			tree = append(tree, node{Path: p, Type: "blob", SHA: blobSHA(data)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"tree": tree, "truncated": f.truncated})
	case strings.HasPrefix(rest, "contents/"):
		p := strings.TrimPrefix(rest, "contents/")
		f.contents(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGitHub) contents(w http.ResponseWriter, r *http.Request, p string) {
	data, exists := f.files[p]
	writeErr := func(code int, msg string) {
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": msg})
	}
	switch r.Method {
	case http.MethodGet:
		if !exists {
			writeErr(http.StatusNotFound, "Not Found")
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"type":     "file",
			"path":     p,
			"sha":      blobSHA(data),
			"encoding": "base64",
			"content":  base64.StdEncoding.EncodeToString(data),
		})
	case http.MethodPut, http.MethodDelete:
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if exists && body["sha"] == "" {
			writeErr(http.StatusUnprocessableEntity, "sha wasn't supplied")
			return
		}
		if exists && body["sha"] != blobSHA(data) {
			writeErr(http.StatusConflict, "does not match")
			return
		}
		if r.Method == http.MethodDelete {
			if !exists {
				writeErr(http.StatusNotFound, "Not Found")
				return
			}
			delete(f.files, p)
			_ = json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		raw, err := base64.StdEncoding.DecodeString(body["content"])
		if err != nil {
			writeErr(http.StatusBadRequest, "bad content")
			return
		}
		f.files[p] = raw
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"content": map[string]string{"sha": blobSHA(raw)}})
	}
}

func newTestGitHub(t *testing.T, fake *fakeGitHub) *GitHub {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	g, err := NewGitHub(context.Background(), GitHubOptions{
		Owner:   "me",
		Repo:    "share",
		Prefix:  "data",
		APIBase: srv.URL,
		Client:  srv.Client(),
	})
	if err != nil {
		t.Fatalf("new github: %v", err)
	}
	return g
}

func TestGitHubRoundTrip(t *testing.T) {
	fake := &fakeGitHub{files: map[string][]byte{"README.md": []byte("outside prefix")}}
	g := newTestGitHub(t, fake)
	ctx := context.Background()

	rev, err := g.Put(ctx, "content/art/a.md", []byte("hello"), "")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rev != blobSHA([]byte("hello")) {
		t.Fatalf("unexpected revision %q", rev)
	}
	if _, ok := fake.files["data/content/art/a.md"]; !ok {
		t.Fatalf("file not stored under prefix: %v", fake.files)
	}

	obj, err := g.Get(ctx, "content/art/a.md")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != "hello" || obj.Revision != rev {
		t.Fatalf("get: %+v", obj)
	}

	list, err := g.List(ctx, "content/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "content/art/a.md" || list[0].Revision != rev {
		t.Fatalf("list: %+v", list)
	}

	if _, err := g.Put(ctx, "content/art/a.md", []byte("stale"), "deadbeef"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	} else {
		var cerr *ConflictError
		if !errors.As(err, &cerr) || cerr.Current != rev {
			t.Fatalf("conflict should carry current revision: %v", err)
		}
	}

	next, err := g.Put(ctx, "content/art/a.md", []byte("hello again"), rev)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := g.Delete(ctx, "content/art/a.md", next); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := g.Get(ctx, "content/art/a.md"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := g.Delete(ctx, "content/art/a.md", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found deleting missing file, got %v", err)
	}
}

func TestGitHubListEmptyRepository(t *testing.T) {
	g := newTestGitHub(t, &fakeGitHub{files: map[string][]byte{}, empty: true})
	list, err := g.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %+v", list)
	}
}

func TestGitHubListFailsOnMissingBranchOrTruncatedTree(t *testing.T) {
	files := map[string][]byte{"data/content/art/a.md": []byte("a")}
	for name, fake := range map[string]*fakeGitHub{
		"missing branch": {files: files, noBranch: true},
		"truncated":      {files: files, truncated: true},
	} {
		t.Run(name, func(t *testing.T) {
			g := newTestGitHub(t, fake)
			list, err := g.List(context.Background(), "")
			if err == nil {
				t.Fatalf("expected error, got %+v", list)
			}
		})
	}
}

func TestNewGitHubRequiresRepoAndToken(t *testing.T) {
	if _, err := NewGitHub(context.Background(), GitHubOptions{Token: "t"}); err == nil {
		t.Fatal("expected missing repo error")
	}
	if _, err := NewGitHub(context.Background(), GitHubOptions{Owner: "a", Repo: "b"}); err == nil {
		t.Fatal("expected missing token error")
	}
}
