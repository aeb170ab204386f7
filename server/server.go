// Package server exposes the HTTP and WebSocket surface: job
// submission and query over REST, realtime progress over /ws.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/outfield/enrichd/config"
	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/notify"
)

// Server is the HTTP front of the enrichment subsystem
type Server struct {
	cfg       config.ServerConfig
	router    chi.Router
	http      *http.Server
	queue     *job.Queue
	submitter *job.Submitter
	notifier  *notify.Notifier
	logger    *zap.SugaredLogger
	ctx       context.Context
}

// New creates the server and mounts all routes
func New(ctx context.Context, cfg config.ServerConfig, queue *job.Queue, submitter *job.Submitter, notifier *notify.Notifier, log *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:       cfg,
		queue:     queue,
		submitter: submitter,
		notifier:  notifier,
		logger:    log.Named("server"),
		ctx:       ctx,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/stats", s.handleStats)
		r.Get("/jobs/{jobID}", s.handleGetJob)
	})

	s.router = r
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the mounted router, used directly by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Infow("HTTP server listening", "addr", s.http.Addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("HTTP server shutting down")
	return s.http.Shutdown(ctx)
}

// logRequests logs each request with method, path, status, and duration
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debugw("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
