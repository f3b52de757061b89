// Package server provides the HTTP API.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bryan-buckman/rssdeck/internal/database"
	"github.com/bryan-buckman/rssdeck/internal/logger"
	"github.com/bryan-buckman/rssdeck/internal/model"
	"github.com/bryan-buckman/rssdeck/internal/rss"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Fetcher runs on-demand fetches for one owner.
type Fetcher interface {
	FetchOwner(ctx context.Context, ownerID string) ([]rss.FetchOutcome, error)
}

// Trigger schedules an immediate background fetch of a new feed.
type Trigger interface {
	Trigger(feed model.Feed)
}

// Server is the main HTTP server.
type Server struct {
	db              database.Store
	fetcher         Fetcher
	trigger         Trigger
	defaultInterval int
	router          chi.Router
	mu              sync.Mutex
	httpServer      *http.Server
	log             *zap.SugaredLogger
}

// New creates a new server. defaultInterval is the polling interval in
// minutes reported until one is saved.
func New(db database.Store, fetcher Fetcher, trigger Trigger, defaultInterval int) *Server {
	s := &Server{
		db:              db,
		fetcher:         fetcher,
		trigger:         trigger,
		defaultInterval: defaultInterval,
		log:             logger.Named("http"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireUser)

		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Post("/", s.handleCreateFeed)
			// Registered before /{id} so it is not taken for an id.
			r.Post("/manual-fetch", s.handleManualFetch)
			r.Delete("/{id}", s.handleDeleteFeed)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Post("/mark-read", s.handleMarkRead)
			r.Post("/toggle-saved", s.handleToggleSaved)
		})

		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
	})

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = hs
	s.mu.Unlock()

	s.log.Infof("Server starting on %s", addr)
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpServer
	s.mu.Unlock()
	if hs == nil {
		return nil
	}
	return hs.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "OK",
		"database": s.db.DatabaseType(),
	})
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Infow("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
