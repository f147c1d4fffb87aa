package models

import (
	"time"
)

type LocationKind int

const (
	PostalCode LocationKind = iota
	StationCode
)

func (k LocationKind) String() string {
	if k == PostalCode {
		return "postal_code"
	}
	return "station_code"
}

// Location is a resolved user location. It is immutable once resolved.
type Location struct {
	RawID     string
	Kind      LocationKind
	Latitude  float64
	Longitude float64
	StationID string // empty for postal codes
}

type AlertRecord struct {
	ID        string
	Event     string // e.g., "Tornado Warning", "Flood Advisory"
	Severity  Severity
	Certainty Certainty
	Urgency   Urgency
	Headline  string
	Summary   string
	Area      string
	Effective time.Time
	Expires   time.Time
}

// AlertSet is the set of alerts active as of the last successful fetch,
// keyed by alert ID. It is replaced wholesale, never merged.
type AlertSet map[string]AlertRecord

// IDs returns the set's identifiers in no particular order.
func (s AlertSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// NewAlertSet builds a set from records. Later duplicates replace earlier ones.
func NewAlertSet(records ...AlertRecord) AlertSet {
	set := make(AlertSet, len(records))
	for _, r := range records {
		set[r.ID] = r
	}
	return set
}

type ShortPeriod struct {
	Label        string // e.g., "3 PM"
	StartTime    time.Time
	Temperature  int
	Unit         string
	Wind         string
	PrecipChance int
	Narrative    string
}

type DailyPeriod struct {
	Label       string // e.g., "Tonight", "Wednesday"
	IsDaytime   bool
	Temperature int
	Unit        string
	Short       string
	Narrative   string
}

// TempLabel reports whether the period temperature is the day's high or
// the night's low.
func (p DailyPeriod) TempLabel() string {
	if p.IsDaytime {
		return "High"
	}
	return "Low"
}

type ForecastSnapshot struct {
	FetchedAt time.Time
	Short     []ShortPeriod
	Daily     []DailyPeriod
}

// PointMeta holds the gridpoint metadata for a coordinate.
type PointMeta struct {
	Latitude          float64
	Longitude         float64
	GridID            string
	GridX             int
	GridY             int
	ForecastURL       string
	ForecastHourlyURL string
	City              string
	State             string
	TimeZone          string
}

type StationMeta struct {
	StationID string
	Name      string
	Latitude  float64
	Longitude float64
	TimeZone  string
}

// HistoryEntry is an announced alert, kept for review after the fact.
type HistoryEntry struct {
	AlertID   string
	Event     string
	Headline  string
	Severity  Severity
	Location  string
	Announced time.Time
}

type CycleRecord struct {
	ID          string
	Trigger     string // "startup", "timer", "manual", "once"
	StartedAt   time.Time
	FinishedAt  time.Time
	Success     bool
	Discarded   bool
	FailedStage string
	ErrorKind   string
	Error       string
	NewAlerts   int
	Expired     int
	Active      int
}
