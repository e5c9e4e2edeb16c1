package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/ctxlog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/secmon-lab/cyberscope/pkg/domain/model"
	"github.com/secmon-lab/cyberscope/pkg/domain/types"
	"github.com/secmon-lab/cyberscope/pkg/usecase"
)

// Server represents the HTTP server serving the dashboard API
type Server struct {
	*http.Server
	router    chi.Router
	dashboard *usecase.Dashboard
	scheduler *usecase.Scheduler
}

// NewServer creates a new HTTP server
func NewServer(ctx context.Context, addr string, dashboard *usecase.Dashboard, scheduler *usecase.Scheduler) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggingMiddleware(ctx))
	router.Use(middleware.Recoverer)

	s := &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
		},
		router:    router,
		dashboard: dashboard,
		scheduler: scheduler,
	}

	router.Get("/health", handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/summary", s.handleSummary)
			r.Get("/trends", s.handleTrends)
			r.Get("/categories", s.handleCategories)
			r.Get("/threats", s.handleListThreats)
			r.Get("/threat/{id}", s.handleThreatDetail)
		})
		r.Post("/collect", s.handleCollect)
	})

	return s
}

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "cyberscope",
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.dashboard.GetSummary(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, summary)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "30d"
	}

	trend, err := s.dashboard.GetTrend(r.Context(), period)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, trend)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	counts, err := s.dashboard.GetCategoryDistribution(r.Context())
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, counts)
}

func (s *Server) handleListThreats(w http.ResponseWriter, r *http.Request) {
	filter := parseThreatFilter(r)

	threats, total, err := s.dashboard.ListThreats(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	writeJSON(r.Context(), w, http.StatusOK, map[string]any{
		"items": threats,
		"total": total,
	})
}

func (s *Server) handleThreatDetail(w http.ResponseWriter, r *http.Request) {
	id := types.ThreatID(chi.URLParam(r, "id"))

	detail, err := s.dashboard.GetThreatDetail(r.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrThreatNotFound) {
			writeJSON(r.Context(), w, http.StatusNotFound, map[string]string{"error": "threat not found"})
			return
		}
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, detail)
}

// handleCollect triggers an on-demand ingestion cycle. The cycle runs
// in the background; the response only acknowledges the trigger.
func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Trigger()
	writeJSON(r.Context(), w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func parseThreatFilter(r *http.Request) model.ThreatFilter {
	filter := model.ThreatFilter{Limit: 20}

	query := r.URL.Query()
	if tier := types.SeverityTier(query.Get("severity")); tier.IsValid() {
		filter.Tier = tier
	}
	if limit := query.Get("limit"); limit != "" {
		if n, err := parsePositiveInt(limit, 100); err == nil {
			filter.Limit = n
		}
	}
	if offset := query.Get("offset"); offset != "" {
		if n, err := parsePositiveInt(offset, 0); err == nil {
			filter.Offset = n
		}
	}
	if days := query.Get("days"); days != "" {
		if n, err := parsePositiveInt(days, 90); err == nil {
			filter.Since = time.Now().UTC().AddDate(0, 0, -n)
		}
	}

	return filter
}

// parsePositiveInt parses a non-negative integer, clamped to max when
// max is positive
func parsePositiveInt(value string, max int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		n = 0
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		ctxlog.From(ctx).Error("Failed to encode response", "error", err)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	ctxlog.From(ctx).Error("Request failed", "error", err)
	writeJSON(ctx, w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}
