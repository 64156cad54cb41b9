package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

type GitHubOptions struct {
	Token   string
	Owner   string
	Repo    string
	Branch  string
	Prefix  string
	APIBase string
	// Client overrides the oauth2 client; tests use it.
	Client *http.Client
}

// GitHub mirrors keys as files in a repository through the contents API.
type GitHub struct {
	client  *http.Client
	base    string
	owner   string
	repo    string
	branch  string
	prefix  string
	message string
}

func NewGitHub(ctx context.Context, opts GitHubOptions) (*GitHub, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.New("github mirror requires owner/repo")
	}
	client := opts.Client
	if client == nil {
		if strings.TrimSpace(opts.Token) == "" {
			return nil, errors.New("github mirror requires a token")
		}
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
		client.Timeout = 30 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	branch := opts.Branch
	if branch == "" {
		branch = "main"
	}
	return &GitHub{
		client:  client,
		base:    base,
		owner:   opts.Owner,
		repo:    opts.Repo,
		branch:  branch,
		prefix:  strings.Trim(opts.Prefix, "/"),
		message: "gshare: update",
	}, nil
}

func (g *GitHub) Name() string { return "github" }

type githubContent struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubWriteResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

type githubTree struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

type githubBlob struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubError struct {
	Status  int
	Message string
}

func (e *githubError) Error() string {
	return fmt.Sprintf("github: %d %s", e.Status, e.Message)
}

func (g *GitHub) repoPath(key string) string {
	if g.prefix == "" {
		return key
	}
	return path.Join(g.prefix, key)
}

func (g *GitHub) contentsURL(key string) string {
	segments := strings.Split(g.repoPath(key), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/repos/%s/%s/contents/%s", g.base, url.PathEscape(g.owner), url.PathEscape(g.repo), strings.Join(segments, "/"))
}

func (g *GitHub) do(ctx context.Context, method, rawURL string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("github %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &payload)
		msg := payload.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return &githubError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusOf(err error) int {
	var gerr *githubError
	if errors.As(err, &gerr) {
		return gerr.Status
	}
	return 0
}

func (g *GitHub) List(ctx context.Context, prefix string) ([]Object, error) {
	treeURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", g.base, url.PathEscape(g.owner), url.PathEscape(g.repo), url.PathEscape(g.branch))
	var tree githubTree
	if err := g.do(ctx, http.MethodGet, treeURL, nil, &tree); err != nil {
		if statusOf(err) == http.StatusConflict {
			// empty repository
			return nil, nil
		}
		// 404 means a bad repo or branch, not an empty mirror
		return nil, fmt.Errorf("list tree %s/%s@%s: %w", g.owner, g.repo, g.branch, err)
	}
	if tree.Truncated {
		return nil, fmt.Errorf("list tree %s/%s@%s: listing truncated", g.owner, g.repo, g.branch)
	}
	root := ""
	if g.prefix != "" {
		root = g.prefix + "/"
	}
	var out []Object
	for _, node := range tree.Tree {
		if node.Type != "blob" || !strings.HasPrefix(node.Path, root) {
			continue
		}
		key := strings.TrimPrefix(node.Path, root)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, Object{Key: key, Revision: node.SHA})
	}
	return out, nil
}

func (g *GitHub) stat(ctx context.Context, key string) (githubContent, error) {
	var content githubContent
	err := g.do(ctx, http.MethodGet, g.contentsURL(key)+"?ref="+url.QueryEscape(g.branch), nil, &content)
	if statusOf(err) == http.StatusNotFound {
		return githubContent{}, ErrNotFound
	}
	if err != nil {
		return githubContent{}, err
	}
	if content.Type != "" && content.Type != "file" {
		return githubContent{}, ErrNotFound
	}
	return content, nil
}

func (g *GitHub) Get(ctx context.Context, key string) (Object, error) {
	content, err := g.stat(ctx, key)
	if err != nil {
		return Object{}, err
	}
	encoded, encoding := content.Content, content.Encoding
	if encoding == "none" || (encoded == "" && content.SHA != "") {
		// files above 1MB only come back through the blobs API
		var blob githubBlob
		blobURL := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s", g.base, url.PathEscape(g.owner), url.PathEscape(g.repo), content.SHA)
		if err := g.do(ctx, http.MethodGet, blobURL, nil, &blob); err != nil {
			return Object{}, err
		}
		encoded, encoding = blob.Content, blob.Encoding
	}
	data, err := decodeGitHubContent(encoded, encoding)
	if err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return Object{Key: key, Data: data, Revision: content.SHA}, nil
}

func decodeGitHubContent(encoded, encoding string) ([]byte, error) {
	switch encoding {
	case "base64":
		return base64.StdEncoding.DecodeString(strings.ReplaceAll(encoded, "\n", ""))
	case "", "utf-8":
		return []byte(encoded), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

func (g *GitHub) Put(ctx context.Context, key string, data []byte, prevRev string) (string, error) {
	sha := prevRev
	if sha == "" {
		current, err := g.stat(ctx, key)
		switch {
		case err == nil:
			sha = current.SHA
		case !errors.Is(err, ErrNotFound):
			return "", err
		}
	}
	body := map[string]string{
		"message": g.message + " " + key,
		"content": base64.StdEncoding.EncodeToString(data),
		"branch":  g.branch,
	}
	if sha != "" {
		body["sha"] = sha
	}
	var resp githubWriteResponse
	if err := g.do(ctx, http.MethodPut, g.contentsURL(key), body, &resp); err != nil {
		switch statusOf(err) {
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return "", g.conflict(ctx, key)
		case http.StatusNotFound:
			if prevRev != "" {
				return "", &ConflictError{Key: key}
			}
		}
		return "", err
	}
	return resp.Content.SHA, nil
}

func (g *GitHub) conflict(ctx context.Context, key string) error {
	current, err := g.stat(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return &ConflictError{Key: key, Current: current.SHA}
}

func (g *GitHub) Delete(ctx context.Context, key string, rev string) error {
	sha := rev
	if sha == "" {
		current, err := g.stat(ctx, key)
		if err != nil {
			return err
		}
		sha = current.SHA
	}
	body := map[string]string{
		"message": "gshare: delete " + key,
		"sha":     sha,
		"branch":  g.branch,
	}
	err := g.do(ctx, http.MethodDelete, g.contentsURL(key), body, nil)
	switch statusOf(err) {
	case 0:
		return err
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return g.conflict(ctx, key)
	default:
		return err
	}
}
