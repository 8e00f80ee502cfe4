// Package api exposes the HTTP interface for the measurement service:
// health probes, Prometheus metrics, and read-only run/schedule lookups.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/localrank/gridrank/internal/rank"
)

// RunReader is the read-only run surface the API serves.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (rank.Run, error)
	CountUnmeasured(ctx context.Context, runID string) (int, error)
}

// ScheduleReader is the read-only schedule surface the API serves.
type ScheduleReader interface {
	Get(ctx context.Context, businessID string) (rank.Schedule, error)
}

// Server wires HTTP handlers to the stores.
type Server struct {
	router    chi.Router
	runs      RunReader
	schedules ScheduleReader
	log       *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(runs RunReader, schedules ScheduleReader, log *zap.Logger) *Server {
	s := &Server{
		runs:      runs,
		schedules: schedules,
		log:       log,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs/{run_id}", s.getRun)
		r.Get("/schedules/{business_id}", s.getSchedule)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")
	run, err := s.runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, rank.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}
	remaining, err := s.runs.CountUnmeasured(r.Context(), runID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to count points")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run":               run,
		"unmeasured_points": remaining,
	})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	sched, err := s.schedules.Get(r.Context(), businessID)
	if err != nil {
		if errors.Is(err, rank.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to fetch schedule")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedule": sched})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.log.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
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

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
