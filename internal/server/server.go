// Package server provides the HTTP API for BAMI.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/bami/internal/cases"
	"github.com/hyperjump/bami/internal/chat"
	"github.com/hyperjump/bami/internal/config"
	"github.com/hyperjump/bami/internal/events"
	"github.com/hyperjump/bami/internal/intake"
	"github.com/hyperjump/bami/internal/keyword"
	"github.com/hyperjump/bami/internal/pipeline"
	"go.uber.org/zap"
)

// Services are the components the HTTP API exposes.
type Services struct {
	Cases     *cases.Store
	Intake    *intake.Intake
	Validator *pipeline.Validator
	Chat      *chat.Service
	Hub       *events.Hub
	// Index is optional; without it the admin case list ignores ?q=.
	Index *keyword.CaseIndex
	// Runner is optional; it is only reported by the status endpoint.
	Runner *pipeline.Runner
}

// Server is the HTTP server for the BAMI API.
type Server struct {
	svc     Services
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
	now     func() time.Time
	started time.Time

	// streams is cancelled on Stop so open event streams end before Shutdown waits.
	streams      context.Context
	closeStreams context.CancelFunc
}

// NewServer creates a server with the given dependencies.
func NewServer(svc Services, cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	streams, closeStreams := context.WithCancel(context.Background())
	return &Server{
		svc:          svc,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
		started:      time.Now(),
		streams:      streams,
		closeStreams: closeStreams,
	}
}

// Router builds the route tree. The event stream is public and skips the timeout and
// compression middleware; everything else sits behind the API key guard.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "Not found")
	})

	r.Get("/health", s.handleHealth)
	r.Get("/api/stream/{id}", s.handleStream)

	r.Group(func(r chi.Router) {
		if t := s.config.Server.RequestTimeout; t > 0 {
			r.Use(middleware.Timeout(t))
		}
		r.Use(middleware.Compress(5))
		r.Use(s.apiKeyGuard)

		r.Get("/api/products", s.handleProducts)
		r.Post("/api/ingest/leads", s.handleIngestLead)
		r.Post("/api/documents", s.handleMarkDocuments)
		r.Post("/api/documents/upload", s.handleUpload)
		r.Get("/api/tracker/{id}", s.handleTracker)
		r.Post("/api/tracker/{id}/state", s.handleSetState)
		r.Post("/api/validate/{id}", s.handleValidate)
		r.Post("/api/chat", s.handleChat)
		r.Get("/api/chat/{id}", s.handleChatHistory)
		r.Post("/api/webhooks/events", s.handleWebhook)
		r.Post("/api/admin/login", s.handleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/api/admin/analytics", s.handleAnalytics)
			r.Get("/api/admin/cases", s.handleAdminCases)
			r.Get("/api/admin/status", s.handleStatus)
		})
	})
	return r
}

// requestLogger logs one line per request with zap.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.closeStreams()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
