package api

import (
	"strings"
	"time"

	"github.com/lox/nwsannounce/internal/models"
	"github.com/lox/nwsannounce/internal/scheduler"
)

// StatusData is the scheduler state as reported by /api/status.
type StatusData struct {
	Phase            string                `json:"phase"`
	NextFire         time.Time             `json:"next_fire,omitzero"`
	RemainingSeconds int                   `json:"remaining_seconds"`
	LastSuccess      time.Time             `json:"last_success,omitzero"`
	InFlight         bool                  `json:"in_flight"`
	CycleCount       int                   `json:"cycle_count"`
	LastFailure      *scheduler.Failure    `json:"last_failure,omitempty"`
	IntervalLabel    string                `json:"interval_label"`
	Config           models.ScheduleConfig `json:"config"`
	ActiveAlerts     int                   `json:"active_alerts"`
}

type AlertView struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Severity  string    `json:"severity"`
	Certainty string    `json:"certainty"`
	Urgency   string    `json:"urgency"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary,omitempty"`
	Area      string    `json:"area,omitempty"`
	Effective time.Time `json:"effective,omitzero"`
	Expires   time.Time `json:"expires,omitzero"`
}

func newAlertView(a models.AlertRecord) AlertView {
	return AlertView{
		ID:        a.ID,
		Event:     a.Event,
		Severity:  a.Severity.String(),
		Certainty: a.Certainty.String(),
		Urgency:   a.Urgency.String(),
		Headline:  a.Headline,
		Summary:   a.Summary,
		Area:      a.Area,
		Effective: a.Effective,
		Expires:   a.Expires,
	}
}

type ForecastData struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Short     []ShortPeriodView `json:"short"`
	Daily     []DailyPeriodView `json:"daily"`
}

type ShortPeriodView struct {
	Label        string    `json:"label"`
	StartTime    time.Time `json:"start_time"`
	Temperature  int       `json:"temperature"`
	Unit         string    `json:"unit"`
	Wind         string    `json:"wind"`
	PrecipChance int       `json:"precip_chance"`
	Narrative    string    `json:"narrative"`
}

type DailyPeriodView struct {
	Label       string `json:"label"`
	TempLabel   string `json:"temp_label"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Short       string `json:"short"`
	Narrative   string `json:"narrative"`
}

func newForecastData(snap *models.ForecastSnapshot) ForecastData {
	data := ForecastData{
		FetchedAt: snap.FetchedAt,
		Short:     make([]ShortPeriodView, 0, len(snap.Short)),
		Daily:     make([]DailyPeriodView, 0, len(snap.Daily)),
	}
	for _, p := range snap.Short {
		data.Short = append(data.Short, ShortPeriodView{
			Label:        p.Label,
			StartTime:    p.StartTime,
			Temperature:  p.Temperature,
			Unit:         p.Unit,
			Wind:         p.Wind,
			PrecipChance: p.PrecipChance,
			Narrative:    p.Narrative,
		})
	}
	for _, p := range snap.Daily {
		data.Daily = append(data.Daily, DailyPeriodView{
			Label:       p.Label,
			TempLabel:   p.TempLabel(),
			Temperature: p.Temperature,
			Unit:        p.Unit,
			Short:       p.Short,
			Narrative:   p.Narrative,
		})
	}
	return data
}

type HistoryView struct {
	AlertID   string    `json:"alert_id"`
	Event     string    `json:"event"`
	Headline  string    `json:"headline"`
	Severity  string    `json:"severity"`
	Location  string    `json:"location"`
	Announced time.Time `json:"announced"`
}

// ConfigPatch is a partial ScheduleConfig; nil fields are left unchanged.
type ConfigPatch struct {
	LocationID   *string            `json:"location_id"`
	LocationName *string            `json:"location_name"`
	Interval     *models.Interval   `json:"interval"`
	Announce     *bool              `json:"announce"`
	AutoRefresh  *bool              `json:"auto_refresh"`
	ReadSummary  *bool              `json:"read_summary"`
	Repeater     *string            `json:"repeater"`
	Thresholds   *models.Thresholds `json:"thresholds"`
}

func (p ConfigPatch) Apply(cfg models.ScheduleConfig) models.ScheduleConfig {
	if p.LocationID != nil {
		cfg.LocationID = *p.LocationID
	}
	if p.LocationName != nil {
		cfg.LocationName = strings.TrimSpace(*p.LocationName)
	}
	if p.Interval != nil {
		cfg.Interval = *p.Interval
	}
	if p.Announce != nil {
		cfg.Announce = *p.Announce
	}
	if p.AutoRefresh != nil {
		cfg.AutoRefresh = *p.AutoRefresh
	}
	if p.ReadSummary != nil {
		cfg.ReadSummary = *p.ReadSummary
	}
	if p.Repeater != nil {
		cfg.Repeater = *p.Repeater
	}
	if p.Thresholds != nil {
		cfg.Thresholds = *p.Thresholds
	}
	return cfg
}
