package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jonboulle/clockwork"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/lox/nwsannounce/internal/api"
	"github.com/lox/nwsannounce/internal/location"
	"github.com/lox/nwsannounce/internal/logging"
	"github.com/lox/nwsannounce/internal/models"
	"github.com/lox/nwsannounce/internal/nws"
	"github.com/lox/nwsannounce/internal/scheduler"
	"github.com/lox/nwsannounce/internal/speech"
	"github.com/lox/nwsannounce/internal/store"
)

var version = "dev"

type Globals struct {
	DB       string `name:"db" env:"DB_PATH" default:"data/nwsannounce.db" help:"SQLite database path."`
	LogLevel string `env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level (${enum})."`
	LogMode  string `env:"LOG_MODE" default:"auto" enum:"auto,dev,json" help:"Log format: dev for colored text, json otherwise."`
}

// CheckFlags configure the alert and forecast checks.
type CheckFlags struct {
	Location     string           `short:"l" env:"NWS_LOCATION" required:"" help:"Station code (KSLO, SLO) or 5-digit postal code."`
	LocationName string           `env:"NWS_LOCATION_NAME" help:"Name spoken before each alert (\"For Home, ...\")."`
	Interval     models.Interval  `env:"NWS_INTERVAL" default:"15 Minutes" help:"Check interval (1 Minute, 5 Minutes, 10 Minutes, 15 Minutes, 30 Minutes, 1 Hour)."`
	Announce     bool             `env:"NWS_ANNOUNCE" default:"true" negatable:"" help:"Speak new alerts."`
	AutoRefresh  bool             `env:"NWS_AUTO_REFRESH" default:"true" negatable:"" help:"Refresh the forecast every cycle."`
	ReadSummary  bool             `env:"NWS_READ_SUMMARY" default:"true" negatable:"" help:"Speak each alert's summary after its headline."`
	Repeater     string           `env:"NWS_REPEATER" help:"Message spoken after new alerts."`
	MinSeverity  models.Severity  `env:"NWS_MIN_SEVERITY" default:"Minor" help:"Minimum severity to announce."`
	MinCertainty models.Certainty `env:"NWS_MIN_CERTAINTY" default:"Possible" help:"Minimum certainty to announce."`
	MinUrgency   models.Urgency   `env:"NWS_MIN_URGENCY" default:"Future" help:"Minimum urgency to announce."`
	UserAgent    string           `env:"NWS_USER_AGENT" default:"nwsannounce/${version}" help:"User-Agent sent to api.weather.gov."`
	Timeout      time.Duration    `env:"NWS_TIMEOUT" default:"10s" help:"Per-request timeout."`
	Archive      bool             `env:"NWS_ARCHIVE_PAYLOADS" help:"Store raw NWS responses in the database."`
}

func (f CheckFlags) scheduleConfig() models.ScheduleConfig {
	return models.ScheduleConfig{
		LocationID:   f.Location,
		LocationName: f.LocationName,
		Interval:     f.Interval,
		Announce:     f.Announce,
		AutoRefresh:  f.AutoRefresh,
		ReadSummary:  f.ReadSummary,
		Repeater:     f.Repeater,
		Thresholds: models.Thresholds{
			MinSeverity:  f.MinSeverity,
			MinCertainty: f.MinCertainty,
			MinUrgency:   f.MinUrgency,
		},
	}
}

type CLI struct {
	Globals

	Run               RunCmd           `cmd:"" default:"withargs" help:"Poll for alerts and announce them (default)."`
	Once              OnceCmd          `cmd:"" help:"Run a single check, print the result and exit."`
	ImportPostalCodes ImportCmd        `cmd:"" name:"import-postal-codes" help:"Load a zip,latitude,longitude CSV into the geocode table."`
	History           HistoryCmd       `cmd:"" help:"Show or clear announced alert history."`
	Version           kong.VersionFlag `help:"Print version and exit."`
}

// app carries what every command needs once flags are parsed.
type app struct {
	ctx    context.Context
	logger *slog.Logger
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("nwsannounce"),
		kong.Description("Poll api.weather.gov for active alerts near a location and speak the new ones."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.Vars{"version": version},
	)

	level, err := logging.ParseLevel(cli.LogLevel)
	if err != nil {
		kctx.Fatalf("%v", err)
	}
	mode := cli.LogMode
	if mode == "auto" {
		mode = "json"
		if version == "dev" {
			mode = "dev"
		}
	}
	logger := logging.New(os.Stderr, mode, level, version)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kctx.Run(&app{ctx: ctx, logger: logger}, &cli.Globals); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "error", err)
		cancel()
		os.Exit(1)
	}
}

func (g *Globals) openStore(logger *slog.Logger) (*store.Store, error) {
	if dir := filepath.Dir(g.DB); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(g.DB)
	if err != nil {
		return nil, err
	}
	st := store.New(db, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database migrated", "path", g.DB)
	return st, nil
}

// newScheduler wires the NWS client, resolver and store into a scheduler
// seeded with the alerts that were active at last shutdown.
func newScheduler(a *app, st *store.Store, flags CheckFlags) (*scheduler.Scheduler, error) {
	client := nws.NewClient(nws.Config{
		UserAgent: flags.UserAgent,
		Timeout:   flags.Timeout,
	}, a.logger)
	if flags.Archive {
		client.SetPayloadSink(st.PayloadSink())
	}

	table, err := st.LoadPostalCodes(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("load postal codes: %w", err)
	}
	a.logger.Debug("geocode table loaded", "postal_codes", len(table))
	resolver := location.NewResolver(location.StaticTable(table), client, a.logger)

	sched := scheduler.New(resolver, client, flags.scheduleConfig(), a.logger)
	sched.SetRecorder(st)

	seed, err := st.LoadActiveAlerts(a.ctx)
	if err != nil {
		return nil, fmt.Errorf("load active alerts: %w", err)
	}
	sched.Seed(seed)
	return sched, nil
}

type RunCmd struct {
	CheckFlags

	Port                 string `env:"PORT" default:"8080" help:"HTTP listen port."`
	NoServer             bool   `help:"Do not start the HTTP API."`
	TTSCommand           string `name:"tts-command" env:"TTS_COMMAND" help:"Speech command; the text is passed as the last argument (e.g. espeak-ng)."`
	Mute                 bool   `env:"MUTE" help:"Log announcements instead of speaking them."`
	PayloadRetentionDays int    `env:"PAYLOAD_RETENTION_DAYS" default:"30" help:"Days to keep archived NWS responses (0 keeps them forever)."`
	CycleRetentionDays   int    `env:"CYCLE_RETENTION_DAYS" default:"90" help:"Days to keep cycle run records (0 keeps them forever)."`
}

func (c *RunCmd) Run(a *app, g *Globals) error {
	st, err := g.openStore(a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sched, err := newScheduler(a, st, c.CheckFlags)
	if err != nil {
		return err
	}

	go st.RunRetention(a.ctx, clockwork.NewRealClock(), store.RetentionPolicy{
		PayloadDays: c.PayloadRetentionDays,
		CycleDays:   c.CycleRetentionDays,
	})

	announcer := speech.NewAnnouncer(speech.Select(c.TTSCommand, c.Mute, a.logger), a.logger)
	go announcer.Run(a.ctx)
	go dispatch(a.ctx, sched.Events(), announcer, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- sched.Run(a.ctx) }()

	a.logger.Info("starting", "location", c.Location, "interval", c.Interval.String(),
		"announce", c.Announce, "auto_refresh", c.AutoRefresh)

	if c.NoServer {
		a.logger.Info("http api disabled (--no-server)")
		return <-errCh
	}
	if err := api.NewServer(st, sched, c.Port, a.logger).Run(a.ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return <-errCh
}

// dispatch hands announcements to the announcer and logs everything else.
func dispatch(ctx context.Context, events <-chan scheduler.Event, announcer *speech.Announcer, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			switch e := ev.(type) {
			case scheduler.AnnouncementDue:
				if !announcer.Enqueue(e.Texts) {
					logger.Warn("announcement dropped, speech queue full", "cycle", e.CycleID, "items", len(e.Texts))
				}
			case scheduler.AlertsUpdated:
				logger.Info("alerts updated", "cycle", e.CycleID, "active", len(e.Alerts),
					"new", len(e.New), "expired", len(e.Expired))
			case scheduler.ForecastsUpdated:
				logger.Info("forecast refreshed", "cycle", e.CycleID,
					"short", len(e.Snapshot.Short), "daily", len(e.Snapshot.Daily))
			case scheduler.CountdownTick:
				if e.Remaining%time.Minute < time.Second {
					logger.Debug("next check", "in", e.Remaining.Round(time.Second).String())
				}
			case scheduler.CycleFailed:
				logger.Debug("cycle failed", "cycle", e.CycleID, "stage", e.Stage, "kind", e.Kind)
			}
		}
	}
}

type OnceCmd struct {
	CheckFlags

	Speak      bool   `help:"Speak the announcement and record it in history."`
	TTSCommand string `name:"tts-command" env:"TTS_COMMAND" help:"Speech command used with --speak."`
}

func (c *OnceCmd) Run(a *app, g *Globals) error {
	st, err := g.openStore(a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sched, err := newScheduler(a, st, c.CheckFlags)
	if err != nil {
		return err
	}

	var failed *scheduler.CycleFailed
	for _, ev := range sched.RunOnce(a.ctx) {
		switch e := ev.(type) {
		case scheduler.ForecastsUpdated:
			printForecast(e.Snapshot)
		case scheduler.AlertsUpdated:
			printAlerts(e)
		case scheduler.AnnouncementDue:
			fmt.Println()
			for _, text := range e.Texts {
				fmt.Println("announce:", text)
			}
			if !c.Speak {
				break
			}
			announcer := speech.NewAnnouncer(speech.Select(c.TTSCommand, false, a.logger), a.logger)
			announcer.Announce(a.ctx, e.Texts)
			entries := scheduler.HistoryEntries(e.Alerts, c.scheduleConfig().LocationLabel(), time.Now())
			if err := st.AppendHistory(a.ctx, entries); err != nil {
				a.logger.Error("append alert history", "error", err)
			}
		case scheduler.CycleFailed:
			fmt.Fprintf(os.Stderr, "%s failed (%s): %v\n", e.Stage, e.Kind, e.Err)
			if e.Stage != scheduler.StageForecast {
				failed = &e
			}
		}
	}
	if failed != nil {
		return fmt.Errorf("check failed at %s: %w", failed.Stage, failed.Err)
	}
	return nil
}

func printForecast(snap *models.ForecastSnapshot) {
	if snap == nil {
		return
	}
	fmt.Printf("Forecast (fetched %s)\n", snap.FetchedAt.Local().Format(time.Kitchen))
	for _, p := range snap.Daily {
		fmt.Printf("  %-16s %s %d°%s  %s\n", p.Label, p.TempLabel(), p.Temperature, p.Unit, p.Short)
	}
}

func printAlerts(e scheduler.AlertsUpdated) {
	fmt.Printf("\nActive alerts: %d (new %d, expired %d)\n", len(e.Alerts), len(e.New), len(e.Expired))
	for _, a := range e.Alerts {
		fmt.Printf("  [%s] %s\n", a.Severity, a.Headline)
	}
}

type ImportCmd struct {
	File string `arg:"" type:"existingfile" help:"CSV with zip,latitude,longitude columns."`
}

func (c *ImportCmd) Run(a *app, g *Globals) error {
	st, err := g.openStore(a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := st.ImportPostalCodesCSV(a.ctx, f)
	if err != nil {
		return fmt.Errorf("import %s: %w", c.File, err)
	}
	a.logger.Info("postal codes imported", "file", c.File, "rows", n)
	return nil
}

type HistoryCmd struct {
	Limit int  `short:"n" default:"20" help:"Number of entries to show (max 100)."`
	Clear bool `help:"Delete all history."`
}

func (c *HistoryCmd) Run(a *app, g *Globals) error {
	st, err := g.openStore(a.logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if c.Clear {
		n, err := st.ClearHistory(a.ctx)
		if err != nil {
			return err
		}
		fmt.Printf("cleared %d entries\n", n)
		return nil
	}

	entries, err := st.History(a.ctx, c.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no announced alerts")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-8s  %-6s  %s\n", e.Announced.Local().Format("2006-01-02 15:04"), e.Severity, e.Location, e.Headline)
	}
	return nil
}
