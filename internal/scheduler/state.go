package scheduler

import (
	"fmt"
	"time"

	"github.com/lox/nwsannounce/internal/models"
)

type Phase int

const (
	Idle Phase = iota
	Waiting
	Running
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*p = Idle
	case "waiting":
		*p = Waiting
	case "running":
		*p = Running
	default:
		return fmt.Errorf("unknown phase %q", b)
	}
	return nil
}

// PhaseFor is the phase a scheduler with no cycle in flight settles into
// for cfg.
func PhaseFor(cfg models.ScheduleConfig) Phase {
	if cfg.Active() {
		return Waiting
	}
	return Idle
}

type Stage string

const (
	StageResolve  Stage = "resolve"
	StagePoint    Stage = "point"
	StageForecast Stage = "forecast"
	StageAlerts   Stage = "alerts"
)

type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerTimer   Trigger = "timer"
	TriggerManual  Trigger = "manual"
	TriggerOnce    Trigger = "once"
)

type Failure struct {
	CycleID string    `json:"cycle_id"`
	Stage   Stage     `json:"stage"`
	Kind    string    `json:"kind"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// State is a point-in-time copy of the scheduler's cycle state.
type State struct {
	Phase       Phase                 `json:"phase"`
	NextFire    time.Time             `json:"next_fire,omitzero"`
	LastSuccess time.Time             `json:"last_success,omitzero"`
	InFlight    bool                  `json:"in_flight"`
	CycleCount  int                   `json:"cycle_count"`
	LastFailure *Failure              `json:"last_failure,omitempty"`
	Config      models.ScheduleConfig `json:"config"`
}

// Remaining returns the time left before the next cycle, or zero when no
// cycle is scheduled.
func (s State) Remaining(now time.Time) time.Duration {
	if s.Phase != Waiting || s.NextFire.IsZero() {
		return 0
	}
	if d := s.NextFire.Sub(now); d > 0 {
		return d
	}
	return 0
}
