package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/nwsannounce/internal/models"
	"github.com/lox/nwsannounce/internal/scheduler"
	"github.com/lox/nwsannounce/internal/store"
)

// Scheduler is the part of *scheduler.Scheduler the API needs.
type Scheduler interface {
	State() scheduler.State
	Alerts() models.AlertSet
	Forecast() *models.ForecastSnapshot
	TriggerNow(ctx context.Context) (bool, error)
	UpdateConfig(ctx context.Context, cfg models.ScheduleConfig) error
}

type Server struct {
	store     *store.Store
	scheduler Scheduler
	port      string
	logger    *slog.Logger
	now       func() time.Time
}

func NewServer(store *store.Store, sched Scheduler, port string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		scheduler: sched,
		port:      port,
		logger:    logger.With("component", "api"),
		now:       time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	mux.HandleFunc("GET /api/alerts", s.handleAPIAlerts)
	mux.HandleFunc("GET /api/forecast", s.handleAPIForecast)
	mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	mux.HandleFunc("DELETE /api/history", s.handleAPIClearHistory)
	mux.HandleFunc("GET /api/cycles", s.handleAPICycles)
	mux.HandleFunc("GET /api/payloads", s.handleAPIPayloadStats)
	mux.HandleFunc("GET /api/payloads/{id}", s.handleAPIPayload)
	mux.HandleFunc("POST /api/check", s.handleAPICheck)
	mux.HandleFunc("PUT /api/config", s.handleAPIConfig)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// HealthStatus is "ok" unless checks are enabled and the last successful
// fetch is older than three intervals.
type HealthStatus struct {
	Status      string    `json:"status"`
	Phase       string    `json:"phase"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	AgeSeconds  int       `json:"age_seconds,omitempty"`
	Errors      []string  `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.scheduler.State()
	now := s.now()

	health := HealthStatus{
		Status:      "ok",
		Phase:       st.Phase.String(),
		LastSuccess: st.LastSuccess,
	}

	if !st.LastSuccess.IsZero() {
		health.AgeSeconds = int(now.Sub(st.LastSuccess).Seconds())
	}

	stale := 3 * st.Config.EffectiveInterval()
	switch {
	case !st.Config.Active():
	case st.LastSuccess.IsZero() && st.CycleCount > 0:
		health.Status = "degraded"
	case !st.LastSuccess.IsZero() && now.Sub(st.LastSuccess) > stale:
		health.Status = "degraded"
	}
	if st.LastFailure != nil && health.Status == "degraded" {
		health.Errors = append(health.Errors, string(st.LastFailure.Stage)+": "+st.LastFailure.Error)
	}

	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
