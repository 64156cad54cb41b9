package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"gshare/internal/content"
	"gshare/internal/perm"
	"gshare/internal/store"
	"gshare/internal/syncer"
)

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Warn("write json", "err", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, content.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, content.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, content.ErrInvalid), errors.Is(err, perm.ErrInvalidAccess):
		return http.StatusBadRequest
	case errors.Is(err, syncer.ErrSyncBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) page(r *http.Request, title, tmpl string) ViewData {
	return ViewData{
		Title:           title,
		ContentTemplate: tmpl,
		Viewer:          CurrentViewer(r.Context()),
		Categories:      content.Categories,
	}
}

// fail reports err as JSON or as a plain error page.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	if wantsJSON(r) {
		body := map[string]any{"error": err.Error()}
		var denied *content.DeniedError
		if errors.As(err, &denied) {
			body["reason"] = denied.Decision.Reason
		}
		writeJSON(w, status, body)
		return
	}
	http.Error(w, err.Error(), status)
}

// requireLogin challenges anonymous viewers and reports whether to continue.
func requireLogin(w http.ResponseWriter, r *http.Request) (perm.Viewer, bool) {
	viewer := CurrentViewer(r.Context())
	if viewer.IsAnonymous() {
		challenge(w)
		return viewer, false
	}
	return viewer, true
}

// publicListings strips password hashes cached in catalog rows.
func publicListings(rows []content.Listing) []content.Listing {
	out := make([]content.Listing, len(rows))
	for i, row := range rows {
		row.PasswordHash = ""
		out[i] = row
	}
	return out
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	viewer := CurrentViewer(r.Context())
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	var rows []content.Listing
	if query != "" {
		found, err := s.lib.Search(r.Context(), viewer, query)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		for _, summary := range found {
			rows = append(rows, content.Listing{Summary: summary})
		}
	} else {
		list, err := s.lib.List(r.Context(), viewer, "")
		if err != nil {
			s.fail(w, r, err)
			return
		}
		rows = list
	}
	rows = publicListings(rows)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"categories": content.Categories, "items": rows})
		return
	}
	data := s.page(r, "Home", "list")
	data.SearchQuery = query
	data.Items = rows
	s.views.RenderPage(w, http.StatusOK, data)
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	cat, ok := content.ParseCategory(r.PathValue("category"))
	if !ok {
		s.fail(w, r, content.ErrNotFound)
		return
	}
	rows, err := s.lib.List(r.Context(), CurrentViewer(r.Context()), string(cat))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows = publicListings(rows)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"category": cat, "items": rows})
		return
	}
	data := s.page(r, string(cat), "list")
	data.Category = cat
	data.Items = rows
	s.views.RenderPage(w, http.StatusOK, data)
}

func (s *Server) handleViewItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	viewer := CurrentViewer(r.Context())
	viewer.Password = r.FormValue("password")
	it, decision, err := s.lib.View(r.Context(), viewer, id)
	var denied *content.DeniedError
	if errors.As(err, &denied) && !wantsJSON(r) {
		data := s.page(r, "Locked", "locked")
		data.Item = content.Item{ID: id}
		data.Decision = denied.Decision
		s.views.RenderPage(w, http.StatusForbidden, data)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	canEdit := perm.CanEdit(it.Owner, viewer)
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"item": it, "decision": decision, "can_edit": canEdit})
		return
	}
	rendered, err := renderMarkdown(it.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := s.page(r, it.Title, "item")
	data.Item = it
	data.Decision = decision
	data.RenderedHTML = rendered
	data.CanEdit = canEdit
	s.views.RenderPage(w, http.StatusOK, data)
}

func (s *Server) handleRawItem(w http.ResponseWriter, r *http.Request) {
	_, raw, err := s.lib.Raw(r.Context(), CurrentViewer(r.Context()), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(raw)
}

func (s *Server) handleNewItem(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(w, r); !ok {
		return
	}
	data := s.page(r, "New item", "edit")
	data.IsNew = true
	data.Form = itemForm{Category: r.URL.Query().Get("category"), Level: string(perm.LevelFriend)}
	s.views.RenderPage(w, http.StatusOK, data)
}

func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireLogin(w, r)
	if !ok {
		return
	}
	it, err := s.lib.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !perm.CanEdit(it.Owner, viewer) {
		s.fail(w, r, &content.DeniedError{Decision: perm.Decision{Reason: perm.ReasonNotListed}})
		return
	}
	data := s.page(r, "Edit "+it.Title, "edit")
	data.Item = it
	data.Form = formFromItem(it)
	s.views.RenderPage(w, http.StatusOK, data)
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireLogin(w, r)
	if !ok {
		return
	}
	form, err := parseItemForm(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := form.Input()
	if err == nil {
		var it content.Item
		it, err = s.lib.Create(r.Context(), viewer, in)
		if err == nil {
			s.saved(w, r, http.StatusCreated, it)
			return
		}
	}
	s.formError(w, r, content.Item{}, form, err)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireLogin(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	form, err := parseItemForm(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	in, err := form.Input()
	if err == nil {
		var it content.Item
		it, err = s.lib.Update(r.Context(), viewer, id, in)
		if err == nil {
			s.saved(w, r, http.StatusOK, it)
			return
		}
	}
	s.formError(w, r, content.Item{ID: id}, form, err)
}

func (s *Server) saved(w http.ResponseWriter, r *http.Request, status int, it content.Item) {
	if wantsJSON(r) {
		writeJSON(w, status, map[string]any{"item": it})
		return
	}
	http.Redirect(w, r, "/items/"+it.ID, http.StatusSeeOther)
}

// formError re-renders the editor for validation errors.
func (s *Server) formError(w http.ResponseWriter, r *http.Request, it content.Item, form itemForm, err error) {
	if wantsJSON(r) || statusFor(err) != http.StatusBadRequest {
		s.fail(w, r, err)
		return
	}
	form.Password = ""
	data := s.page(r, "Fix item", "edit")
	data.IsNew = it.ID == ""
	data.Item = it
	data.Form = form
	data.Error = err.Error()
	s.views.RenderPage(w, http.StatusBadRequest, data)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	viewer, ok := requireLogin(w, r)
	if !ok {
		return
	}
	it, err := s.lib.Delete(r.Context(), viewer, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.sync.DeleteAndVerify(r.Context(), it.Key())
	if report == nil {
		// local tombstone stays pending; the next sync removes the remote copy
		slog.Warn("delete verification skipped", "id", it.ID, "err", err)
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusAccepted
	}
	if wantsJSON(r) {
		body := map[string]any{"id": it.ID, "report": report}
		if err != nil {
			body["error"] = err.Error()
		}
		writeJSON(w, status, body)
		return
	}
	data := s.page(r, "Deleted", "deleted")
	data.Item = it
	data.Delete = report
	if err != nil {
		data.Error = err.Error()
	}
	s.views.RenderPage(w, status, data)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(w, r); !ok {
		return
	}
	report, err := s.sync.Sync(r.Context())
	if errors.Is(err, syncer.ErrSyncBusy) {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	if wantsJSON(r) {
		body := map[string]any{"report": report}
		if err != nil {
			body["error"] = err.Error()
		}
		writeJSON(w, status, body)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(w, r); !ok {
		return
	}
	state, err := s.sync.State(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mirror": s.sync.MirrorName(),
		"store":  s.lib.Store().Status(r.Context()),
		"sync":   state,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireLogin(w, r); !ok {
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleCodeCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(codeStylesheet())
}
