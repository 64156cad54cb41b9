package web

import (
	"net/http"

	"gshare/internal/config"
	"gshare/internal/content"
	"gshare/internal/syncer"
)

const maxBodyBytes = 4 << 20

type Server struct {
	cfg         config.Config
	lib         *content.Library
	sync        *syncer.Manager
	mux         *http.ServeMux
	views       *Templates
	auth        *Auth
	events      *sseHub
	unsubscribe func()
}

func NewServer(cfg config.Config, lib *content.Library, mgr *syncer.Manager) (*Server, error) {
	auth, err := newAuth(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		lib:    lib,
		sync:   mgr,
		mux:    http.NewServeMux(),
		views:  MustParseTemplates(),
		auth:   auth,
		events: newSSEHub(),
	}
	s.unsubscribe = mgr.Subscribe(s.events.publish)

	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.auth.Middleware(s.mux)
}

// Close detaches the server from syncer events.
func (s *Server) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("GET /login", s.handleLogin)
	s.mux.HandleFunc("GET /c/{category}", s.handleCategory)
	s.mux.HandleFunc("GET /items/new", s.handleNewItem)
	s.mux.HandleFunc("POST /items", s.handleCreateItem)
	s.mux.HandleFunc("GET /items/{id}", s.handleViewItem)
	s.mux.HandleFunc("POST /items/{id}/view", s.handleViewItem)
	s.mux.HandleFunc("GET /items/{id}/raw", s.handleRawItem)
	s.mux.HandleFunc("GET /items/{id}/edit", s.handleEditItem)
	s.mux.HandleFunc("POST /items/{id}", s.handleUpdateItem)
	s.mux.HandleFunc("POST /items/{id}/delete", s.handleDeleteItem)
	s.mux.HandleFunc("POST /sync", s.handleSync)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /events", s.handleEvents)
	s.mux.HandleFunc("GET /static/code.css", s.handleCodeCSS)
}
