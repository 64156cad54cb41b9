package web

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"gshare/internal/auth"
	"gshare/internal/config"
	"gshare/internal/perm"
)

type authEntry struct {
	plain   string
	account auth.Account
}

type Auth struct {
	users   map[string]authEntry
	apiKeys map[string]apiKeyEntry
	now     func() time.Time
}

func newAuth(cfg config.Config) (*Auth, error) {
	users := make(map[string]authEntry)

	if cfg.AuthFile != "" {
		fileUsers, err := auth.LoadFile(cfg.AuthFile)
		if err != nil {
			return nil, err
		}
		for user, account := range fileUsers {
			users[user] = authEntry{account: account}
		}
	}

	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		if cfg.AuthUser == "" || cfg.AuthPass == "" {
			return nil, errors.New("SHARE_AUTH_USER and SHARE_AUTH_PASS must be set together")
		}
		users[cfg.AuthUser] = authEntry{
			plain:   cfg.AuthPass,
			account: auth.Account{Name: cfg.AuthUser, Roles: []string{perm.RoleAdmin}},
		}
	}

	keys, err := loadAPIKeys(cfg.DataPath)
	if err != nil {
		return nil, err
	}

	return &Auth{users: users, apiKeys: keys, now: time.Now}, nil
}

// Middleware attaches the viewer to the request. Requests without credentials
// continue as anonymous; wrong credentials are rejected.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
			viewer, ok := a.verifyKey(token)
			if !ok {
				http.Error(w, "Unauthorized: invalid api key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok {
			next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), perm.Anonymous())))
			return
		}
		viewer, ok := a.verify(user, pass)
		if !ok {
			challenge(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithViewer(r.Context(), viewer)))
	})
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="gshare"`)
	http.Error(w, "Unauthorized: login required", http.StatusUnauthorized)
}

func (a *Auth) verify(user, pass string) (perm.Viewer, bool) {
	entry, ok := a.users[user]
	if !ok {
		return perm.Viewer{}, false
	}
	if entry.account.Expired(a.now()) {
		return perm.Viewer{}, false
	}
	switch {
	case entry.account.Hash != nil:
		if !entry.account.Hash.Verify(pass) {
			return perm.Viewer{}, false
		}
	case subtle.ConstantTimeCompare([]byte(entry.plain), []byte(pass)) != 1:
		return perm.Viewer{}, false
	}
	return viewerFor(user, entry.account), true
}

// verifyKey maps an api key to its alias. An alias without an account acts
// as a visitor.
func (a *Auth) verifyKey(token string) (perm.Viewer, bool) {
	entry, ok := a.apiKeys[token]
	if !ok || apiKeyExpired(entry, a.now()) {
		return perm.Viewer{}, false
	}
	user, ok := a.users[entry.Alias]
	if ok && user.account.Expired(a.now()) {
		return perm.Viewer{}, false
	}
	return viewerFor(entry.Alias, user.account), true
}

func viewerFor(name string, account auth.Account) perm.Viewer {
	roles := account.Roles
	if len(roles) == 0 {
		roles = []string{perm.RoleVisitor}
	}
	return perm.Viewer{Name: name, Roles: roles}
}
