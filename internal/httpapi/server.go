package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/inkfable/story-illustrator/internal/jobs"
	"github.com/inkfable/story-illustrator/internal/service"
	"github.com/inkfable/story-illustrator/internal/session"
)

// SessionDeleter removes a session from durable storage.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, id string) error
}

type Server struct {
	registry     *session.Registry
	orchestrator *service.Orchestrator
	queue        *jobs.Queue
	store        SessionDeleter

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUI serves the gallery frontend from staticDir.
func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

// WithSessionDeleter enables durable deletes on DELETE /api/sessions/{id}.
func WithSessionDeleter(store SessionDeleter) Option {
	return func(s *Server) {
		s.store = store
	}
}

func NewServer(registry *session.Registry, orchestrator *service.Orchestrator, queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		orchestrator: orchestrator,
		queue:        queue,
		uiEnabled:    false,
		mux:          http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSessionSubtree)
	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
