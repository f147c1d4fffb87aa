package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/nwsannounce/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

var effective = time.Date(2025, 6, 4, 18, 5, 0, 0, time.UTC)

func TestMigrationVersion(t *testing.T) {
	store := setupTestStore(t)

	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("version = %d, want %d", version, len(migrations))
	}

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestReplaceAndLoadActiveAlerts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	first := models.NewAlertSet(
		models.AlertRecord{
			ID:        "urn:oid:1",
			Event:     "Flood Warning",
			Severity:  models.SeveritySevere,
			Certainty: models.CertaintyLikely,
			Urgency:   models.UrgencyExpected,
			Headline:  "Flood Warning issued June 4",
			Summary:   "The river is expected to rise.",
			Area:      "Marion, IL",
			Effective: effective,
			Expires:   effective.Add(6 * time.Hour),
		},
		models.AlertRecord{ID: "urn:oid:2", Event: "Heat Advisory", Severity: models.SeverityMinor},
	)
	if err := store.ReplaceActiveAlerts(ctx, first); err != nil {
		t.Fatalf("ReplaceActiveAlerts: %v", err)
	}

	got, err := store.LoadActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("LoadActiveAlerts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	flood := got["urn:oid:1"]
	if flood.Severity != models.SeveritySevere || flood.Certainty != models.CertaintyLikely || flood.Urgency != models.UrgencyExpected {
		t.Errorf("levels = %v/%v/%v", flood.Severity, flood.Certainty, flood.Urgency)
	}
	if !flood.Effective.Equal(effective) || !flood.Expires.Equal(effective.Add(6*time.Hour)) {
		t.Errorf("times = %v..%v", flood.Effective, flood.Expires)
	}
	if flood.Area != "Marion, IL" {
		t.Errorf("Area = %q", flood.Area)
	}
	if heat := got["urn:oid:2"]; !heat.Effective.IsZero() {
		t.Errorf("missing effective should load as zero, got %v", heat.Effective)
	}

	second := models.NewAlertSet(models.AlertRecord{ID: "urn:oid:3", Event: "Tornado Watch", Severity: models.SeverityExtreme})
	if err := store.ReplaceActiveAlerts(ctx, second); err != nil {
		t.Fatalf("ReplaceActiveAlerts: %v", err)
	}
	got, err = store.LoadActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("LoadActiveAlerts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("set should be replaced wholesale, got %v", got.IDs())
	}
	if _, ok := got["urn:oid:3"]; !ok {
		t.Errorf("missing urn:oid:3, got %v", got.IDs())
	}

	if err := store.ReplaceActiveAlerts(ctx, models.AlertSet{}); err != nil {
		t.Fatalf("ReplaceActiveAlerts(empty): %v", err)
	}
	got, _ = store.LoadActiveAlerts(ctx)
	if len(got) != 0 {
		t.Errorf("expected empty set, got %v", got.IDs())
	}
}

func TestHistory_AppendTrimAndClear(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < HistoryLimit+20; i++ {
		entry := models.HistoryEntry{
			AlertID:   fmt.Sprintf("alert-%03d", i),
			Event:     "Flood Advisory",
			Headline:  "Headline",
			Severity:  models.SeverityModerate,
			Location:  "62881",
			Announced: effective.Add(time.Duration(i) * time.Minute),
		}
		if err := store.AppendHistory(ctx, []models.HistoryEntry{entry}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}

	entries, err := store.History(ctx, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != HistoryLimit {
		t.Fatalf("len = %d, want %d", len(entries), HistoryLimit)
	}
	if entries[0].AlertID != "alert-119" {
		t.Errorf("newest = %q, want alert-119", entries[0].AlertID)
	}
	if entries[len(entries)-1].AlertID != "alert-020" {
		t.Errorf("oldest = %q, want alert-020", entries[len(entries)-1].AlertID)
	}
	if entries[0].Severity != models.SeverityModerate || entries[0].Location != "62881" {
		t.Errorf("unexpected entry %+v", entries[0])
	}

	limited, err := store.History(ctx, 5)
	if err != nil {
		t.Fatalf("History(5): %v", err)
	}
	if len(limited) != 5 {
		t.Errorf("len = %d, want 5", len(limited))
	}

	n, err := store.ClearHistory(ctx)
	if err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	if n != HistoryLimit {
		t.Errorf("cleared = %d, want %d", n, HistoryLimit)
	}
	entries, _ = store.History(ctx, 0)
	if len(entries) != 0 {
		t.Errorf("history not cleared: %d entries", len(entries))
	}
}

func TestRecordCycle_AndRecentCycles(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	records := []models.CycleRecord{
		{ID: "c1", Trigger: "startup", StartedAt: effective, FinishedAt: effective.Add(time.Second), Success: true, NewAlerts: 2, Active: 2},
		{ID: "c2", Trigger: "timer", StartedAt: effective.Add(15 * time.Minute), FinishedAt: effective.Add(15*time.Minute + 10*time.Second),
			FailedStage: "point", ErrorKind: "timeout", Error: "GET /points: timeout"},
		{ID: "c3", Trigger: "manual", StartedAt: effective.Add(20 * time.Minute), FinishedAt: effective.Add(21 * time.Minute), Discarded: true},
	}
	for _, r := range records {
		if err := store.RecordCycle(ctx, r); err != nil {
			t.Fatalf("RecordCycle(%s): %v", r.ID, err)
		}
	}

	all, err := store.RecentCycles(ctx, 10, false)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(all) != 3 || all[0].ID != "c3" || all[2].ID != "c1" {
		t.Fatalf("unexpected order: %+v", all)
	}
	if all[2].NewAlerts != 2 || !all[2].Success {
		t.Errorf("c1 = %+v", all[2])
	}

	failed, err := store.RecentCycles(ctx, 10, true)
	if err != nil {
		t.Fatalf("RecentCycles(failed): %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("len(failed) = %d, want 1", len(failed))
	}
	if failed[0].FailedStage != "point" || failed[0].ErrorKind != "timeout" {
		t.Errorf("failed = %+v", failed[0])
	}
	if !failed[0].StartedAt.Equal(effective.Add(15 * time.Minute)) {
		t.Errorf("StartedAt = %v", failed[0].StartedAt)
	}
}

func TestRawPayload_DedupesByHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	payload := []byte(`{"properties":{"forecast":"https://api.weather.gov/gridpoints/PAH/65,63/forecast"}}`)

	id, err := store.StoreRawPayload(ctx, "points", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a payload id")
	}

	dup, err := store.StoreRawPayload(ctx, "points", payload)
	if err != nil {
		t.Fatalf("StoreRawPayload duplicate: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetRawPayload(ctx, id)
	if err != nil {
		t.Fatalf("GetRawPayload: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q", got)
	}

	store.PayloadSink()("alerts", []byte("<feed/>"))

	stats, err := store.GetRawPayloadStats(ctx)
	if err != nil {
		t.Fatalf("GetRawPayloadStats: %v", err)
	}
	if stats.TotalCount != 2 || stats.CountByEndpoint["points"] != 1 || stats.CountByEndpoint["alerts"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImportPostalCodesCSV(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	input := strings.Join([]string{
		"zip,latitude,longitude",
		"62881, 38.6265, -88.9456",
		"501,40.8154,-73.0451",
		"62881,38.63,-88.95",
	}, "\n")

	n, err := store.ImportPostalCodesCSV(ctx, strings.NewReader(input))
	if err != nil {
		t.Fatalf("ImportPostalCodesCSV: %v", err)
	}
	if n != 3 {
		t.Errorf("imported = %d, want 3", n)
	}

	table, err := store.LoadPostalCodes(ctx)
	if err != nil {
		t.Fatalf("LoadPostalCodes: %v", err)
	}
	if len(table) != 2 {
		t.Fatalf("len(table) = %d, want 2", len(table))
	}
	if got := table["62881"]; got != [2]float64{38.63, -88.95} {
		t.Errorf("62881 = %v, later row should win", got)
	}
	if _, ok := table["00501"]; !ok {
		t.Error("short codes should be zero padded")
	}
}

func TestImportPostalCodesCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few fields", "62881,38.6\n"},
		{"bad coordinates after header", "zip,lat,lon\n62881,north,west\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			if _, err := store.ImportPostalCodesCSV(context.Background(), strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func countRows(t *testing.T, store *Store, table string) int {
	t.Helper()
	var n int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func waitForRows(t *testing.T, store *Store, table string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if countRows(t, store, table) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s rows = %d, want %d", table, countRows(t, store, table), want)
}

func TestApplyRetention(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := effective.AddDate(0, 0, 60)

	for i, at := range []time.Time{effective, now.AddDate(0, 0, -1)} {
		if _, err := store.storeRawPayloadAt(ctx, "alerts", []byte(fmt.Sprintf("<feed id=%d/>", i)), at); err != nil {
			t.Fatalf("storeRawPayloadAt: %v", err)
		}
		rec := models.CycleRecord{ID: fmt.Sprintf("c%d", i), Trigger: "timer", StartedAt: at, FinishedAt: at.Add(time.Second), Success: true}
		if err := store.RecordCycle(ctx, rec); err != nil {
			t.Fatalf("RecordCycle: %v", err)
		}
	}

	res, err := store.ApplyRetention(ctx, now, RetentionPolicy{PayloadDays: 30, CycleDays: 30})
	if err != nil {
		t.Fatalf("ApplyRetention: %v", err)
	}
	if res.Payloads != 1 || res.Cycles != 1 {
		t.Errorf("pruned = %+v, want 1 payload and 1 cycle", res)
	}

	cycles, err := store.RecentCycles(ctx, 10, false)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 1 || cycles[0].ID != "c1" {
		t.Errorf("remaining cycles = %+v", cycles)
	}
	if n := countRows(t, store, "raw_payloads"); n != 1 {
		t.Errorf("raw_payloads = %d, want 1", n)
	}

	res, err = store.ApplyRetention(ctx, now, RetentionPolicy{})
	if err != nil || res != (PruneResult{}) {
		t.Errorf("zero policy: res = %+v, err = %v", res, err)
	}
}

func TestRunRetention_Daily(t *testing.T) {
	store := setupTestStore(t)
	now := effective.AddDate(0, 0, 60)
	clock := clockwork.NewFakeClockAt(now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := []models.CycleRecord{
		{ID: "old", Trigger: "timer", StartedAt: effective, Success: true},
		{ID: "aging", Trigger: "timer", StartedAt: now.Add(-29*24*time.Hour - 12*time.Hour), Success: true},
		{ID: "fresh", Trigger: "timer", StartedAt: now.Add(-time.Hour), Success: true},
	}
	for _, r := range records {
		if err := store.RecordCycle(ctx, r); err != nil {
			t.Fatalf("RecordCycle: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.RunRetention(ctx, clock, RetentionPolicy{CycleDays: 30})
	}()

	waitForRows(t, store, "cycle_runs", 2)

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(24 * time.Hour)
	waitForRows(t, store, "cycle_runs", 1)

	cancel()
	<-done
}

func TestCycleHealth(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []models.CycleRecord{
		{ID: "ok", Trigger: "timer", StartedAt: now, Success: true, NewAlerts: 2},
		{ID: "failed", Trigger: "timer", StartedAt: now, FailedStage: "point", ErrorKind: "timeout"},
		{ID: "discarded", Trigger: "manual", StartedAt: now, Discarded: true},
		{ID: "ancient", Trigger: "timer", StartedAt: now.AddDate(0, 0, -30), Success: true},
	}
	for _, r := range records {
		if err := store.RecordCycle(ctx, r); err != nil {
			t.Fatalf("RecordCycle: %v", err)
		}
	}

	days, err := store.CycleHealth(ctx, 7)
	if err != nil {
		t.Fatalf("CycleHealth: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("days = %+v, want one day", days)
	}
	got := days[0]
	if got.Date != now.Format("2006-01-02") {
		t.Errorf("date = %q", got.Date)
	}
	if got.Total != 3 || got.Succeeded != 1 || got.Failed != 1 || got.Discarded != 1 || got.NewAlerts != 2 {
		t.Errorf("summary = %+v", got)
	}
}
