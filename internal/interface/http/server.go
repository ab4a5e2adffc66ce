// Package http exposes the record sections over a small local HTTP API:
// search, reload, create, update, delete, CSV upload and row editing, plus
// health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schooladmin/recordsync/config"
	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/application/query"
	"github.com/schooladmin/recordsync/internal/domain/records"
	"github.com/schooladmin/recordsync/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Addr is the listen address (default: ":8090").
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxUploadBytes bounds the CSV upload body.
	MaxUploadBytes int64
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8090",
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxUploadBytes: 10 << 20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Writer is the write side of the sections. *crud.Orchestrator implements it.
type Writer interface {
	CreateFrom(ctx context.Context, kind records.Kind, values map[string]any) (crud.Result, error)
	Update(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (crud.Result, error)
	UpdateFull(ctx context.Context, kind records.Kind, id records.ID, edits map[string]any) (crud.Result, error)
	Delete(ctx context.Context, kind records.Kind, id records.ID, confirm crud.Confirmer) (crud.Result, error)
	Upload(ctx context.Context, kind records.Kind, filename string, r io.Reader) (crud.Result, error)
}

// Searcher filters a section. *query.SearchHandler implements it.
type Searcher interface {
	Handle(ctx context.Context, q query.SearchQuery) (*query.SearchResult, error)
}

// Reloader replaces a section from the remote store. The entity cache
// implements it.
type Reloader interface {
	Load(ctx context.Context, kind records.Kind) ([]records.Record, error)
}

// Editor is the per-row edit state machine. *crud.RowEditor implements it.
type Editor interface {
	State(kind records.Kind, id records.ID) crud.RowState
	Begin(kind records.Kind, id records.ID) error
	Set(kind records.Kind, id records.ID, field string, value any) error
	Cancel(kind records.Kind, id records.ID)
	Save(ctx context.Context, kind records.Kind, id records.ID) (crud.Result, error)
}

// JournalReader lists recent writes. The PostgreSQL journal implements it.
type JournalReader interface {
	Recent(ctx context.Context, kind records.Kind, limit int) ([]crud.JournalEntry, error)
}

// Dependencies contains everything the handlers need. Journal, Health and
// Metrics are optional.
type Dependencies struct {
	Writer   Writer
	Searcher Searcher
	Reloader Reloader
	Editor   Editor
	Journal  JournalReader
	Features *config.FeatureFlags

	Health  http.Handler
	Metrics http.Handler

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and
// dependencies.
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultConfig().MaxUploadBytes
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	if s.deps.Health != nil {
		r.Method(http.MethodGet, "/healthz", s.deps.Health)
	}
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}
	if s.deps.Journal != nil {
		r.Get("/journal", s.handleJournal)
	}

	r.Route("/sections/{kind}", func(r chi.Router) {
		r.Use(kindContext)

		r.Get("/", s.handleSearch)
		r.Post("/", s.handleCreate)
		r.Post("/reload", s.handleReload)
		r.Post("/upload", s.handleUpload)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(idContext)

			r.Patch("/", s.handleUpdate)
			r.Put("/", s.handleReplace)
			r.Delete("/", s.handleDelete)

			r.Get("/edit", s.handleEditState)
			r.Post("/edit", s.handleEditBegin)
			r.Put("/edit", s.handleEditSet)
			r.Delete("/edit", s.handleEditCancel)
			r.Post("/save", s.handleEditSave)
		})
	})
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// loggingMiddleware attaches a request-scoped logger to the context and logs
// every request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		log := s.logger.WithRequestID(middleware.GetReqID(r.Context()))

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), log)))

		log.Info("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Latency(time.Since(start)),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic recovered",
					logger.Any("error", rec),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", r.URL.Path),
					logger.String("request_id", middleware.GetReqID(r.Context())),
				)
				writeStatus(w, http.StatusInternalServerError, crud.Status{
					Level: crud.LevelError,
					Text:  "An unexpected error occurred",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// writeJSON writes v as JSON.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStatus writes a bare status line.
func writeStatus(w http.ResponseWriter, status int, st crud.Status) {
	writeJSON(w, status, writeResponse{Status: st})
}
