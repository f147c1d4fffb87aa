package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lox/nwsannounce/internal/alerts"
	"github.com/lox/nwsannounce/internal/location"
	"github.com/lox/nwsannounce/internal/metrics"
	"github.com/lox/nwsannounce/internal/models"
	"github.com/lox/nwsannounce/internal/nws"
)

type stageError struct {
	stage Stage
	err   error
}

type cycleResult struct {
	cfg      models.ScheduleConfig
	forecast *models.ForecastSnapshot
	alerts   models.AlertSet
	alertsOK bool
	failures []stageError
}

func (r *cycleResult) fail(stage Stage, err error) {
	r.failures = append(r.failures, stageError{stage: stage, err: err})
}

// execute runs the staged fetch. Stages are sequential because each feeds
// the next; a resolve or point failure ends the cycle.
func (s *Scheduler) execute(ctx context.Context, cfg models.ScheduleConfig) cycleResult {
	res := cycleResult{cfg: cfg}

	loc, err := s.resolver.Resolve(ctx, cfg.LocationID)
	if err != nil {
		res.fail(StageResolve, err)
		return res
	}

	point, err := s.fetcher.FetchPoint(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		res.fail(StagePoint, err)
		return res
	}

	snap, err := s.fetcher.FetchForecast(ctx, point)
	if err != nil {
		res.fail(StageForecast, err)
	} else {
		res.forecast = snap
	}

	set, err := s.fetcher.FetchAlerts(ctx, loc)
	if err != nil {
		res.fail(StageAlerts, err)
		return res
	}
	if set == nil {
		set = models.AlertSet{}
	}
	res.alerts = set
	res.alertsOK = true
	return res
}

// complete applies a finished cycle: swaps snapshots, diffs alerts and
// records the outcome. It returns the events to deliver, in order.
func (s *Scheduler) complete(ctx context.Context, cur *inflight, res cycleResult) []Event {
	now := s.clock.Now()
	var events []Event

	rec := models.CycleRecord{
		ID:         cur.id,
		Trigger:    string(cur.trigger),
		StartedAt:  cur.started,
		FinishedAt: now,
		Success:    len(res.failures) == 0,
	}

	for _, f := range res.failures {
		kind := errorKind(f.err)
		metrics.CycleFailures.WithLabelValues(string(f.stage), kind).Inc()
		s.logger.Warn("check cycle stage failed",
			"cycle", cur.id, "stage", f.stage, "kind", kind, "error", f.err)
		s.lastFailure = &Failure{CycleID: cur.id, Stage: f.stage, Kind: kind, Error: f.err.Error(), At: now}
		if rec.FailedStage == "" {
			rec.FailedStage = string(f.stage)
			rec.ErrorKind = kind
			rec.Error = f.err.Error()
		}
		events = append(events, CycleFailed{CycleID: cur.id, Stage: f.stage, Kind: kind, Err: f.err})
	}

	if res.forecast != nil {
		s.forecast.Store(res.forecast)
		if s.cfg.AutoRefresh {
			events = append(events, ForecastsUpdated{CycleID: cur.id, Snapshot: res.forecast})
		}
	}

	if res.alertsOK {
		diff := alerts.Diff(s.Alerts(), res.alerts, res.cfg.Thresholds)
		current := res.alerts
		s.alerts.Store(&current)
		s.lastSuccess = now

		rec.NewAlerts = len(diff.New)
		rec.Expired = len(diff.Expired)
		rec.Active = len(current)
		metrics.ActiveAlerts.Set(float64(len(current)))
		metrics.NewAlertsTotal.Add(float64(len(diff.New)))

		for _, a := range diff.New {
			s.logger.Info("new alert", "cycle", cur.id, "id", a.ID, "event", a.Event, "severity", a.Severity.String())
		}
		for _, a := range diff.Expired {
			s.logger.Info("alert expired", "cycle", cur.id, "id", a.ID, "event", a.Event)
		}

		events = append(events, AlertsUpdated{
			CycleID: cur.id,
			Alerts:  alerts.Sorted(current),
			New:     diff.New,
			Expired: diff.Expired,
		})

		if s.cfg.Announce && (len(diff.New) > 0 || strings.TrimSpace(res.cfg.Repeater) != "") {
			due := announcement(cur.id, diff.New, res.cfg)
			if due.HighPriority {
				s.logger.Warn("high priority alert", "cycle", cur.id, "headline", due.Texts[0])
			}
			events = append(events, due)
			// A one-shot cycle only returns its events; the caller decides
			// whether anything was spoken.
			if cur.trigger != TriggerOnce {
				s.appendHistory(ctx, HistoryEntries(diff.New, res.cfg.LocationLabel(), now))
			}
		}

		if s.recorder != nil {
			if err := s.recorder.ReplaceActiveAlerts(ctx, current); err != nil {
				s.logger.Error("save active alerts", "error", err)
			}
		}
	}

	s.cycles++
	outcome := "success"
	if !rec.Success {
		outcome = "failure"
	}
	metrics.CyclesTotal.WithLabelValues(string(cur.trigger), outcome).Inc()
	metrics.CycleDuration.Observe(now.Sub(cur.started).Seconds())
	s.recordCycle(ctx, rec)

	s.logger.Info("check cycle finished",
		"cycle", cur.id, "outcome", outcome,
		"new", rec.NewAlerts, "expired", rec.Expired, "active", rec.Active,
		"duration", now.Sub(cur.started))

	return events
}

// announcement builds what should be spoken for fresh alerts: one text per
// alert, optionally prefixed with the location name and followed by the
// summary, then the repeater message.
func announcement(cycleID string, fresh []models.AlertRecord, cfg models.ScheduleConfig) AnnouncementDue {
	due := AnnouncementDue{CycleID: cycleID, Alerts: fresh}
	name := strings.TrimSpace(cfg.LocationName)
	for _, a := range fresh {
		text := a.Headline
		if text == "" {
			text = a.Event
		}
		if name != "" {
			text = "For " + name + ", " + text
		}
		if summary := strings.TrimSpace(a.Summary); cfg.ReadSummary && summary != "" {
			text = strings.TrimRight(text, ". ") + ". " + summary
		}
		due.Texts = append(due.Texts, text)
		if alerts.IsHighPriority(a) {
			due.HighPriority = true
		}
	}
	if r := strings.TrimSpace(cfg.Repeater); r != "" {
		due.Texts = append(due.Texts, r)
	}
	return due
}

// HistoryEntries converts announced alerts into history rows.
func HistoryEntries(announced []models.AlertRecord, location string, at time.Time) []models.HistoryEntry {
	entries := make([]models.HistoryEntry, 0, len(announced))
	for _, a := range announced {
		entries = append(entries, models.HistoryEntry{
			AlertID:   a.ID,
			Event:     a.Event,
			Headline:  a.Headline,
			Severity:  a.Severity,
			Location:  location,
			Announced: at,
		})
	}
	return entries
}

func (s *Scheduler) appendHistory(ctx context.Context, entries []models.HistoryEntry) {
	if s.recorder == nil || len(entries) == 0 {
		return
	}
	if err := s.recorder.AppendHistory(ctx, entries); err != nil {
		s.logger.Error("append alert history", "error", err)
	}
}

func (s *Scheduler) recordCycle(ctx context.Context, rec models.CycleRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordCycle(ctx, rec); err != nil {
		s.logger.Error("record cycle", "cycle", rec.ID, "error", err)
	}
}

func errorKind(err error) string {
	var rerr *location.ResolutionError
	if errors.As(err, &rerr) {
		return rerr.Kind.String()
	}
	if kind := nws.ErrorKind(err); kind != "unknown" {
		return kind
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "unknown"
}
