// Package server exposes the outreach pipeline as a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shpitdev/autoprospect/internal/bulk"
	"github.com/shpitdev/autoprospect/internal/lead"
	"github.com/shpitdev/autoprospect/internal/lifecycle"
	"github.com/shpitdev/autoprospect/internal/metrics"
	"github.com/shpitdev/autoprospect/internal/search"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// Deps are the services the API dispatches to.
type Deps struct {
	Repo   lead.Repository
	Leads  *lifecycle.Controller
	Bulk   *bulk.Orchestrator
	Search *search.Service

	CORSOrigins []string
	Logger      *zap.Logger
}

// Server routes HTTP requests to the pipeline services.
type Server struct {
	repo   lead.Repository
	leads  *lifecycle.Controller
	bulk   *bulk.Orchestrator
	search *search.Service
	logger *zap.Logger
	router chi.Router

	now func() time.Time
}

// New wires the router.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		repo:   d.Repo,
		leads:  d.Leads,
		bulk:   d.Bulk,
		search: d.Search,
		logger: logger.Named("http"),
		now:    time.Now,
	}

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware(routePattern))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Post("/search", s.handleSearch)
		r.Get("/export.csv", s.handleExport)

		r.Route("/leads", func(r chi.Router) {
			r.Get("/", s.handleListLeads)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetLead)
				r.Delete("/", s.handleDeleteLead)
				r.Post("/draft", s.handleDraft)
				r.Post("/regenerate", s.handleRegenerate)
				r.Post("/approve", s.handleApprove)
				r.Put("/email", s.handleSaveEdit)
				r.Post("/send", s.handleSend)
			})
		})

		r.Route("/bulk", func(r chi.Router) {
			r.Get("/", s.handleBulkStatus)
			r.Post("/cancel", s.handleBulkCancel)
			r.Post("/{action}", s.handleBulkStart)
		})
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start).Round(time.Microsecond)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func requestFields(r *http.Request, status int, msg string) []zap.Field {
	return []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("error", msg),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v. An empty body leaves v untouched when optional.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}
