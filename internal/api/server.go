// Package api serves the read-only HTTP surface of `snowpulse serve`.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"snowpulse/internal/observability"
	"snowpulse/internal/scheduler"
	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// QualityReader reads the latest result per check and table
type QualityReader interface {
	Latest(ctx context.Context) ([]models.CheckResult, error)
}

// AlertReader reads the newest alerts
type AlertReader interface {
	Recent(ctx context.Context, limit int) ([]models.AlertRecord, error)
}

// JobLister reports scheduled job state
type JobLister interface {
	Jobs() []scheduler.JobState
}

// Deps are the read models behind the endpoints. Nil Jobs and Health are allowed.
type Deps struct {
	Quality QualityReader
	Alerts  AlertReader
	Jobs    JobLister
	Health  *observability.HealthManager
	Metrics *observability.Metrics
	Logger  *observability.Logger
}

type Server struct {
	router chi.Router
	deps   Deps
	logger *observability.Logger
}

type qualityResponse struct {
	CheckedAt *time.Time            `json:"checked_at,omitempty"`
	Counts    map[models.Status]int `json:"counts"`
	Results   []models.CheckResult  `json:"results"`
}

type alertsResponse struct {
	Alerts []models.AlertRecord `json:"alerts"`
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		logger: logger.WithField("component", "api"),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			s.logger.WithFields(map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("Request served")
		})
	})

	if s.deps.Health != nil {
		s.router.Get("/healthz", s.deps.Health.HealthHandler())
	} else {
		s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
		})
	}
	s.router.Handle("/metrics", s.deps.Metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/quality/latest", s.handleQualityLatest)
		r.Get("/alerts", s.handleAlerts)
		r.Get("/jobs", s.handleJobs)
	})
}

func (s *Server) handleQualityLatest(w http.ResponseWriter, r *http.Request) {
	results, err := s.deps.Quality.Latest(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := qualityResponse{
		Counts:  map[models.Status]int{models.StatusPass: 0, models.StatusWarn: 0, models.StatusFail: 0},
		Results: results,
	}
	if resp.Results == nil {
		resp.Results = []models.CheckResult{}
	}
	for i, res := range results {
		resp.Counts[res.Status]++
		if resp.CheckedAt == nil || res.CheckedAt.After(*resp.CheckedAt) {
			resp.CheckedAt = &results[i].CheckedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest,
				errors.ValidationError("limit", raw, "must be a positive integer"))
			return
		}
		limit = n
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	alerts, err := s.deps.Alerts.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if alerts == nil {
		alerts = []models.AlertRecord{}
	}
	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobState{}
	if s.deps.Jobs != nil {
		jobs = s.deps.Jobs.Jobs()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
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
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeServiceUnavailable, fmt.Sprintf("HTTP server on %s failed", addr))
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	log := s.logger.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Warn("Request failed")
	}
	writeJSON(w, status, map[string]string{
		"error": errors.Summarize(err),
		"code":  string(errors.GetErrorCode(err)),
	})
}
