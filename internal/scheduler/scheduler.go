package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lox/nwsannounce/internal/metrics"
	"github.com/lox/nwsannounce/internal/models"
)

const (
	eventBuffer  = 64
	tickInterval = time.Second
)

var ErrStopped = errors.New("scheduler stopped")

// Resolver turns the configured location identifier into coordinates.
type Resolver interface {
	Resolve(ctx context.Context, rawID string) (models.Location, error)
	Invalidate(rawID string)
}

// Fetcher performs the remote stages of a cycle; *nws.Client implements it.
type Fetcher interface {
	FetchPoint(ctx context.Context, lat, lon float64) (*models.PointMeta, error)
	FetchForecast(ctx context.Context, point *models.PointMeta) (*models.ForecastSnapshot, error)
	FetchAlerts(ctx context.Context, loc models.Location) (models.AlertSet, error)
}

// Recorder persists the outcome of completed cycles.
type Recorder interface {
	RecordCycle(ctx context.Context, rec models.CycleRecord) error
	ReplaceActiveAlerts(ctx context.Context, set models.AlertSet) error
	AppendHistory(ctx context.Context, entries []models.HistoryEntry) error
}

// Scheduler decides when check cycles run. A single loop goroutine owns the
// cycle state and the timer; fetches run on their own goroutine so countdown
// ticks keep flowing while a cycle is in flight.
type Scheduler struct {
	resolver Resolver
	fetcher  Fetcher
	recorder Recorder
	clock    clockwork.Clock
	logger   *slog.Logger

	events    chan Event
	configCh  chan models.ScheduleConfig
	triggerCh chan chan bool
	doneCh    chan cycleResult
	stopped   chan struct{}

	alerts   atomic.Pointer[models.AlertSet]
	forecast atomic.Pointer[models.ForecastSnapshot]
	state    atomic.Pointer[State]

	// Owned by the loop once Run starts.
	cfg         models.ScheduleConfig
	phase       Phase
	timer       clockwork.Timer
	deadline    time.Time
	current     *inflight
	lastSuccess time.Time
	cycles      int
	lastFailure *Failure
}

type inflight struct {
	id      string
	trigger Trigger
	started time.Time
	cancel  context.CancelFunc
	discard bool
}

func New(resolver Resolver, fetcher Fetcher, cfg models.ScheduleConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		resolver:  resolver,
		fetcher:   fetcher,
		clock:     clockwork.NewRealClock(),
		logger:    logger.With("component", "scheduler"),
		events:    make(chan Event, eventBuffer),
		configCh:  make(chan models.ScheduleConfig),
		triggerCh: make(chan chan bool),
		doneCh:    make(chan cycleResult, 1),
		stopped:   make(chan struct{}),
		cfg:       cfg,
	}
	empty := models.AlertSet{}
	s.alerts.Store(&empty)
	s.publish()
	return s
}

// SetClock replaces the real clock. Call before Run.
func (s *Scheduler) SetClock(clock clockwork.Clock) {
	s.clock = clock
}

// SetRecorder configures where completed cycles are persisted. Call before Run.
func (s *Scheduler) SetRecorder(r Recorder) {
	s.recorder = r
}

// Seed sets the previous alert set so alerts seen before a restart are not
// announced again. Call before Run.
func (s *Scheduler) Seed(set models.AlertSet) {
	seeded := make(models.AlertSet, len(set))
	for id, a := range set {
		seeded[id] = a
	}
	s.alerts.Store(&seeded)
}

// Events returns the channel events are delivered on. It has a single
// consumer.
func (s *Scheduler) Events() <-chan Event {
	return s.events
}

// Alerts returns the active set from the last successful fetch. Callers
// must not modify it.
func (s *Scheduler) Alerts() models.AlertSet {
	return *s.alerts.Load()
}

// Forecast returns the last successful forecast, or nil.
func (s *Scheduler) Forecast() *models.ForecastSnapshot {
	return s.forecast.Load()
}

func (s *Scheduler) State() State {
	return *s.state.Load()
}

// UpdateConfig hands a new configuration to the loop.
func (s *Scheduler) UpdateConfig(ctx context.Context, cfg models.ScheduleConfig) error {
	select {
	case s.configCh <- cfg:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerNow requests an immediate cycle. It reports false when the request
// was ignored because a cycle is already running or scheduling is idle.
func (s *Scheduler) TriggerNow(ctx context.Context) (bool, error) {
	reply := make(chan bool, 1)
	select {
	case s.triggerCh <- reply:
	case <-s.stopped:
		return false, ErrStopped
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case ok := <-reply:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Run drives the scheduler until ctx is cancelled. The first cycle starts
// immediately when either toggle is enabled. Run must only be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.stopped)

	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	defer s.stopTimer()

	s.logger.Info("scheduler started",
		"location", s.cfg.LocationID,
		"interval", s.cfg.Interval.String(),
		"announce", s.cfg.Announce,
		"auto_refresh", s.cfg.AutoRefresh)

	if s.cfg.Active() {
		s.startCycle(ctx, TriggerStartup)
	} else {
		s.setPhase(Idle)
	}

	for {
		select {
		case <-ctx.Done():
			if s.current != nil {
				s.current.cancel()
			}
			s.logger.Info("scheduler shutting down")
			return nil
		case cfg := <-s.configCh:
			s.applyConfig(cfg)
		case reply := <-s.triggerCh:
			reply <- s.manualTrigger(ctx)
		case <-s.timerChan():
			s.timer = nil
			s.startCycle(ctx, TriggerTimer)
		case <-ticker.Chan():
			s.tick()
		case res := <-s.doneCh:
			s.finishCycle(ctx, res)
		}
	}
}

// RunOnce executes a single cycle synchronously and returns the events it
// produced instead of delivering them. It must not be used alongside Run.
func (s *Scheduler) RunOnce(ctx context.Context) []Event {
	cur := &inflight{id: uuid.NewString(), trigger: TriggerOnce, started: s.clock.Now()}
	res := s.execute(ctx, s.cfg)
	events := s.complete(ctx, cur, res)
	s.publish()
	return events
}

func (s *Scheduler) applyConfig(cfg models.ScheduleConfig) {
	old := s.cfg
	s.cfg = cfg

	if old.LocationID != cfg.LocationID {
		s.resolver.Invalidate(old.LocationID)
		s.logger.Info("location changed", "from", old.LocationID, "to", cfg.LocationID)
	}

	switch s.phase {
	case Idle:
		if !cfg.Active() {
			break
		}
		if s.current != nil {
			s.current.discard = false
			s.setPhase(Running)
			s.logger.Info("re-adopted in-flight cycle", "cycle", s.current.id)
			break
		}
		s.arm(cfg.EffectiveInterval())
	case Waiting:
		if !cfg.Active() {
			s.stopTimer()
			s.setPhase(Idle)
		} else if cfg.EffectiveInterval() != old.EffectiveInterval() {
			s.arm(cfg.EffectiveInterval())
		}
	case Running:
		if !cfg.Active() {
			s.current.discard = true
			s.setPhase(Idle)
			s.logger.Info("scheduling disabled mid-cycle, result will be discarded", "cycle", s.current.id)
		}
	}
	s.publish()
}

func (s *Scheduler) manualTrigger(ctx context.Context) bool {
	switch s.phase {
	case Waiting:
		s.startCycle(ctx, TriggerManual)
		return true
	case Running:
		s.logger.Debug("manual check ignored, cycle already running")
	default:
		s.logger.Debug("manual check ignored, scheduling is idle")
	}
	return false
}

func (s *Scheduler) startCycle(ctx context.Context, trigger Trigger) {
	s.stopTimer()

	cctx, cancel := context.WithCancel(ctx)
	cur := &inflight{
		id:      uuid.NewString(),
		trigger: trigger,
		started: s.clock.Now(),
		cancel:  cancel,
	}
	s.current = cur
	s.setPhase(Running)

	cfg := s.cfg
	s.logger.Info("check cycle started", "cycle", cur.id, "trigger", trigger, "location", cfg.LocationID)

	go func() {
		res := s.execute(cctx, cfg)
		select {
		case s.doneCh <- res:
		case <-ctx.Done():
		}
	}()
}

func (s *Scheduler) finishCycle(ctx context.Context, res cycleResult) {
	cur := s.current
	s.current = nil
	cur.cancel()

	if cur.discard {
		now := s.clock.Now()
		s.logger.Info("discarded result of cycle that finished while idle", "cycle", cur.id)
		metrics.CyclesTotal.WithLabelValues(string(cur.trigger), "discarded").Inc()
		s.recordCycle(ctx, models.CycleRecord{
			ID:         cur.id,
			Trigger:    string(cur.trigger),
			StartedAt:  cur.started,
			FinishedAt: now,
			Discarded:  true,
		})
		s.publish()
		return
	}

	events := s.complete(ctx, cur, res)

	if s.cfg.Active() {
		s.arm(s.cfg.EffectiveInterval())
	} else {
		s.setPhase(Idle)
	}
	s.publish()

	for _, ev := range events {
		s.emit(ctx, ev)
	}
}

func (s *Scheduler) arm(d time.Duration) {
	s.stopTimer()
	s.timer = s.clock.NewTimer(d)
	s.deadline = s.clock.Now().Add(d)
	s.setPhase(Waiting)
	s.logger.Debug("next check scheduled", "at", s.deadline, "in", d)
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

func (s *Scheduler) timerChan() <-chan time.Time {
	if s.timer == nil {
		return nil
	}
	return s.timer.Chan()
}

func (s *Scheduler) tick() {
	if s.phase != Waiting {
		return
	}
	remaining := s.deadline.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	select {
	case s.events <- CountdownTick{Remaining: remaining}:
	default:
	}
}

func (s *Scheduler) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

func (s *Scheduler) setPhase(p Phase) {
	s.phase = p
	metrics.SchedulerPhase.Set(float64(p))
	s.publish()
}

func (s *Scheduler) publish() {
	st := State{
		Phase:       s.phase,
		NextFire:    s.deadline,
		LastSuccess: s.lastSuccess,
		InFlight:    s.current != nil,
		CycleCount:  s.cycles,
		Config:      s.cfg,
	}
	if s.lastFailure != nil {
		f := *s.lastFailure
		st.LastFailure = &f
	}
	s.state.Store(&st)
}
