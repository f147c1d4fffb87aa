package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/nwsannounce/internal/models"
)

// RecordCycle stores the audit row for a completed or discarded cycle.
func (s *Store) RecordCycle(ctx context.Context, rec models.CycleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (
			id, trigger_source, started_at, finished_at, success, discarded,
			failed_stage, error_kind, error_message,
			new_alerts, expired_alerts, active_alerts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			success = excluded.success,
			discarded = excluded.discarded,
			failed_stage = excluded.failed_stage,
			error_kind = excluded.error_kind,
			error_message = excluded.error_message,
			new_alerts = excluded.new_alerts,
			expired_alerts = excluded.expired_alerts,
			active_alerts = excluded.active_alerts
	`,
		rec.ID, rec.Trigger, rec.StartedAt.UTC(), nullTime(rec.FinishedAt), rec.Success, rec.Discarded,
		nullString(rec.FailedStage), nullString(rec.ErrorKind), nullString(rec.Error),
		rec.NewAlerts, rec.Expired, rec.Active,
	)
	return err
}

// RecentCycles returns the most recent cycles, newest first. When failedOnly
// is set only unsuccessful, non-discarded cycles are returned.
func (s *Store) RecentCycles(ctx context.Context, limit int, failedOnly bool) ([]models.CycleRecord, error) {
	query := `
		SELECT id, trigger_source, started_at, finished_at, success, discarded,
		       failed_stage, error_kind, error_message,
		       new_alerts, expired_alerts, active_alerts
		FROM cycle_runs`
	if failedOnly {
		query += ` WHERE success = FALSE AND discarded = FALSE`
	}
	query += ` ORDER BY started_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.CycleRecord
	for rows.Next() {
		var r models.CycleRecord
		var finished sql.NullTime
		var stage, kind, msg sql.NullString
		if err := rows.Scan(&r.ID, &r.Trigger, &r.StartedAt, &finished, &r.Success, &r.Discarded,
			&stage, &kind, &msg, &r.NewAlerts, &r.Expired, &r.Active); err != nil {
			return nil, err
		}
		r.StartedAt = r.StartedAt.UTC()
		if finished.Valid {
			r.FinishedAt = finished.Time.UTC()
		}
		r.FailedStage, r.ErrorKind, r.Error = stage.String, kind.String, msg.String
		results = append(results, r)
	}
	return results, rows.Err()
}

// PruneCycles deletes cycle runs started before cutoff.
func (s *Store) PruneCycles(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM cycle_runs
		WHERE SUBSTR(started_at, 1, 19) < ?
	`, sqliteTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CycleHealthSummary aggregates cycle outcomes for one day.
type CycleHealthSummary struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Discarded int    `json:"discarded"`
	NewAlerts int    `json:"new_alerts"`
}

// CycleHealth returns per-day cycle summaries for the last days days.
func (s *Store) CycleHealth(ctx context.Context, days int) ([]CycleHealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) AS date,
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			SUM(CASE WHEN NOT success AND NOT discarded THEN 1 ELSE 0 END),
			SUM(CASE WHEN discarded THEN 1 ELSE 0 END),
			COALESCE(SUM(new_alerts), 0)
		FROM cycle_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date
		ORDER BY date DESC
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CycleHealthSummary
	for rows.Next() {
		var h CycleHealthSummary
		if err := rows.Scan(&h.Date, &h.Total, &h.Succeeded, &h.Failed, &h.Discarded, &h.NewAlerts); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
