package models

import (
	"fmt"
	"strings"
	"time"
)

// Interval is one of the supported check intervals.
type Interval time.Duration

const (
	Interval1Min  = Interval(1 * time.Minute)
	Interval5Min  = Interval(5 * time.Minute)
	Interval10Min = Interval(10 * time.Minute)
	Interval15Min = Interval(15 * time.Minute)
	Interval30Min = Interval(30 * time.Minute)
	Interval1Hour = Interval(time.Hour)

	DefaultInterval = Interval15Min
)

var intervalLabels = []struct {
	label    string
	interval Interval
}{
	{"1 Minute", Interval1Min},
	{"5 Minutes", Interval5Min},
	{"10 Minutes", Interval10Min},
	{"15 Minutes", Interval15Min},
	{"30 Minutes", Interval30Min},
	{"1 Hour", Interval1Hour},
}

func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) String() string {
	for _, l := range intervalLabels {
		if l.interval == i {
			return l.label
		}
	}
	return time.Duration(i).String()
}

// IntervalLabels lists the interval options in ascending order.
func IntervalLabels() []string {
	labels := make([]string, len(intervalLabels))
	for i, l := range intervalLabels {
		labels[i] = l.label
	}
	return labels
}

// ParseInterval accepts either a label ("15 Minutes") or a Go duration
// ("15m"). The result must be one of the supported options.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	for _, l := range intervalLabels {
		if strings.EqualFold(s, l.label) {
			return l.interval, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("unknown interval %q", s)
	}
	for _, l := range intervalLabels {
		if l.interval == Interval(d) {
			return l.interval, nil
		}
	}
	return 0, fmt.Errorf("unsupported interval %s (options: %s)", d, strings.Join(IntervalLabels(), ", "))
}

func (i Interval) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *Interval) UnmarshalText(b []byte) error {
	v, err := ParseInterval(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Thresholds are the inclusive minimum levels an alert must meet on every
// axis to be announced.
type Thresholds struct {
	MinSeverity  Severity  `json:"min_severity"`
	MinCertainty Certainty `json:"min_certainty"`
	MinUrgency   Urgency   `json:"min_urgency"`
}

// DefaultThresholds admit everything the alerts feed marks as actionable:
// severity Minor+, certainty Possible+, urgency Future+.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSeverity:  SeverityMinor,
		MinCertainty: CertaintyPossible,
		MinUrgency:   UrgencyFuture,
	}
}

// Admits reports whether a meets the thresholds on every axis.
func (t Thresholds) Admits(a AlertRecord) bool {
	return a.Severity >= t.MinSeverity &&
		a.Certainty >= t.MinCertainty &&
		a.Urgency >= t.MinUrgency
}

// ScheduleConfig is supplied by the settings collaborator and read at the
// start of each cycle. The core never mutates it.
type ScheduleConfig struct {
	LocationID   string     `json:"location_id"`
	LocationName string     `json:"location_name,omitempty"`
	Interval     Interval   `json:"interval"`
	Announce     bool       `json:"announce"`
	AutoRefresh  bool       `json:"auto_refresh"`
	ReadSummary  bool       `json:"read_summary"`
	Repeater     string     `json:"repeater"`
	Thresholds   Thresholds `json:"thresholds"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		Interval:   DefaultInterval,
		Thresholds: DefaultThresholds(),
	}
}

// LocationLabel is the name announcements and history use for the location.
func (c ScheduleConfig) LocationLabel() string {
	if name := strings.TrimSpace(c.LocationName); name != "" {
		return name
	}
	return c.LocationID
}

// Active reports whether the check timer should be armed.
func (c ScheduleConfig) Active() bool {
	return c.Announce || c.AutoRefresh
}

// EffectiveInterval falls back to the default for a zero interval.
func (c ScheduleConfig) EffectiveInterval() time.Duration {
	if c.Interval <= 0 {
		return DefaultInterval.Duration()
	}
	return c.Interval.Duration()
}
