// Package api exposes the operational HTTP surface: liveness, backlog
// stats, Prometheus metrics, and group administration.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/listwatch/listwatch/internal/metrics"
	"github.com/listwatch/listwatch/internal/middleware"
	"github.com/listwatch/listwatch/internal/monitor"
)

// Pinger verifies connectivity to the ledger.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsSource reports backlog counts keyed by task status.
type StatsSource interface {
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// GroupAdmin manages monitoring groups.
type GroupAdmin interface {
	ListEnabled(ctx context.Context) ([]monitor.Group, error)
	Upsert(ctx context.Context, g monitor.Group) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// Server wires the ops endpoints onto a chi router.
type Server struct {
	router chi.Router
	ledger Pinger
	stats  StatsSource
	groups GroupAdmin
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(ledger Pinger, stats StatsSource, groups GroupAdmin, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger: ledger,
		stats:  stats,
		groups: groups,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(middleware.Metrics)
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/stats", s.getStats)

	r.Route("/v1/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Put("/", s.upsertGroup)
		r.Post("/{name}/enable", s.setGroupEnabled(true))
		r.Post("/{name}/disable", s.setGroupEnabled(false))
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Ping(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.stats.CountByStatus(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count tasks")
		return
	}
	for status, n := range counts {
		metrics.SetBacklog(status, n)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tasks": counts})
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.groups.ListEnabled(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list groups")
		return
	}
	if groups == nil {
		groups = []monitor.Group{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (s *Server) upsertGroup(w http.ResponseWriter, r *http.Request) {
	var g monitor.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if g.Name == "" {
		s.writeError(w, http.StatusBadRequest, "group name required")
		return
	}
	if err := s.groups.Upsert(r.Context(), g); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"group": g.Name})
}

func (s *Server) setGroupEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := s.groups.SetEnabled(r.Context(), name, enabled); err != nil {
			s.writeError(w, http.StatusNotFound, "group not found")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"group": name, "enabled": enabled})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal server error"}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
