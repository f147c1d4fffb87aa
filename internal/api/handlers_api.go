package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/lox/nwsannounce/internal/alerts"
	"github.com/lox/nwsannounce/internal/store"
)

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st := s.scheduler.State()
	writeJSON(w, http.StatusOK, StatusData{
		Phase:            st.Phase.String(),
		NextFire:         st.NextFire,
		RemainingSeconds: int(st.Remaining(s.now()).Seconds()),
		LastSuccess:      st.LastSuccess,
		InFlight:         st.InFlight,
		CycleCount:       st.CycleCount,
		LastFailure:      st.LastFailure,
		IntervalLabel:    st.Config.Interval.String(),
		Config:           st.Config,
		ActiveAlerts:     len(s.scheduler.Alerts()),
	})
}

func (s *Server) handleAPIAlerts(w http.ResponseWriter, r *http.Request) {
	sorted := alerts.Sorted(s.scheduler.Alerts())
	views := make([]AlertView, 0, len(sorted))
	for _, a := range sorted {
		views = append(views, newAlertView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIForecast(w http.ResponseWriter, r *http.Request) {
	snap := s.scheduler.Forecast()
	if snap == nil {
		writeError(w, http.StatusNotFound, "no forecast fetched yet")
		return
	}
	writeJSON(w, http.StatusOK, newForecastData(snap))
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.store.History(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]HistoryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, HistoryView{
			AlertID:   e.AlertID,
			Event:     e.Event,
			Headline:  e.Headline,
			Severity:  e.Severity.String(),
			Location:  e.Location,
			Announced: e.Announced,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIClearHistory(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.ClearHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("alert history cleared", "entries", n)
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleAPICycles(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("summary"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 1 || days > 365 {
			writeError(w, http.StatusBadRequest, "summary must be a number of days between 1 and 365")
			return
		}
		summary, err := s.store.CycleHealth(r.Context(), days)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if summary == nil {
			summary = []store.CycleHealthSummary{}
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	failedOnly := r.URL.Query().Get("failed") == "true"
	cycles, err := s.store.RecentCycles(r.Context(), 50, failedOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (s *Server) handleAPIPayloadStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRawPayloadStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAPIPayload returns an archived response body as it was received.
func (s *Server) handleAPIPayload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload id")
		return
	}
	body, err := s.store.GetRawPayload(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "payload not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	contentType := "application/geo+json"
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("<")) {
		contentType = "application/atom+xml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(body)
}

func (s *Server) handleAPICheck(w http.ResponseWriter, r *http.Request) {
	accepted, err := s.scheduler.TriggerNow(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !accepted {
		writeJSON(w, http.StatusConflict, map[string]any{
			"accepted": false,
			"phase":    s.scheduler.State().Phase.String(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	var patch ConfigPatch
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid config: "+err.Error())
		return
	}
	if patch.LocationID != nil && strings.TrimSpace(*patch.LocationID) == "" {
		writeError(w, http.StatusBadRequest, "location_id must not be empty")
		return
	}

	cfg := patch.Apply(s.scheduler.State().Config)
	if err := s.scheduler.UpdateConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Info("config updated", "location", cfg.LocationID, "interval", cfg.Interval.String(),
		"announce", cfg.Announce, "auto_refresh", cfg.AutoRefresh)
	writeJSON(w, http.StatusOK, cfg)
}
