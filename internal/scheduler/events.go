package scheduler

import (
	"time"

	"github.com/lox/nwsannounce/internal/models"
)

// Event is emitted on the scheduler's event channel.
type Event interface {
	Name() string
}

// AlertsUpdated follows every successful alert fetch. Alerts is the full
// active set in severity order.
type AlertsUpdated struct {
	CycleID string
	Alerts  []models.AlertRecord
	New     []models.AlertRecord
	Expired []models.AlertRecord
}

// ForecastsUpdated follows a successful forecast fetch when auto refresh
// is enabled.
type ForecastsUpdated struct {
	CycleID  string
	Snapshot *models.ForecastSnapshot
}

// AnnouncementDue lists what should be spoken, in order. Texts holds the
// new alerts' headlines followed by the repeater message, if any.
type AnnouncementDue struct {
	CycleID      string
	Alerts       []models.AlertRecord
	Texts        []string
	HighPriority bool
}

// CountdownTick reports the time left until the next cycle while waiting.
type CountdownTick struct {
	Remaining time.Duration
}

// CycleFailed reports a failed stage. A failed forecast stage does not stop
// the alerts stage from running.
type CycleFailed struct {
	CycleID string
	Stage   Stage
	Kind    string
	Err     error
}

func (AlertsUpdated) Name() string    { return "alerts_updated" }
func (ForecastsUpdated) Name() string { return "forecasts_updated" }
func (AnnouncementDue) Name() string  { return "announcement_due" }
func (CountdownTick) Name() string    { return "countdown_tick" }
func (CycleFailed) Name() string      { return "cycle_failed" }
