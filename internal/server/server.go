// Package server provides the HTTP API for Shiori.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/internal/search"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

// Server is the HTTP server for the Shiori API.
type Server struct {
	engine  *search.Engine
	indexer *indexer.Indexer
	store   storage.GraphStore
	blobs   *storage.BlobStore
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	server  *http.Server
}

// NewServer creates a server with the given dependencies. m may be nil, in
// which case /metrics answers 404.
func NewServer(
	engine *search.Engine,
	idx *indexer.Indexer,
	store storage.GraphStore,
	blobs *storage.BlobStore,
	cfg *config.Config,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		indexer: idx,
		store:   store,
		blobs:   blobs,
		config:  cfg,
		logger:  logger,
		metrics: m,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(instrument(s.metrics))
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents", s.handleIngest)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Delete("/documents/{id}", s.handleDeleteDocument)
		r.Get("/documents/{id}/pdf", s.handleGetPDF)
		r.Get("/documents/{id}/pages/{page}", s.handleGetPage)
		r.Post("/query", s.handleQuery)
		r.Get("/evidence", s.handleEvidence)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// instrument records request counts and latency per route pattern. The
// pattern is read after the handler runs, once chi has resolved it.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(r.Method, route, status, time.Since(start))
		})
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
