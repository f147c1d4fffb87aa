package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/nwsannounce/internal/models"
)

// HistoryLimit is the number of announced alerts kept in alert_history.
const HistoryLimit = 100

// ReplaceActiveAlerts swaps the stored active set for set in one transaction.
func (s *Store) ReplaceActiveAlerts(ctx context.Context, set models.AlertSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_alerts`); err != nil {
		return fmt.Errorf("clear active alerts: %w", err)
	}

	now := time.Now().UTC()
	for _, a := range set {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO active_alerts (
				id, event, severity, certainty, urgency, headline, summary, area,
				effective, expires, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, a.Event, a.Severity.String(), a.Certainty.String(), a.Urgency.String(),
			a.Headline, a.Summary, a.Area,
			nullTime(a.Effective), nullTime(a.Expires), now,
		)
		if err != nil {
			return fmt.Errorf("insert alert %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// LoadActiveAlerts returns the set saved by the last successful cycle.
func (s *Store) LoadActiveAlerts(ctx context.Context) (models.AlertSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event, severity, certainty, urgency, headline, summary, area, effective, expires
		FROM active_alerts
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := models.AlertSet{}
	for rows.Next() {
		var a models.AlertRecord
		var severity, certainty, urgency string
		var headline, summary, area sql.NullString
		var effective, expires sql.NullTime
		if err := rows.Scan(&a.ID, &a.Event, &severity, &certainty, &urgency,
			&headline, &summary, &area, &effective, &expires); err != nil {
			return nil, err
		}
		a.Severity = models.ParseSeverity(severity)
		a.Certainty = models.ParseCertainty(certainty)
		a.Urgency = models.ParseUrgency(urgency)
		a.Headline, a.Summary, a.Area = headline.String, summary.String, area.String
		if effective.Valid {
			a.Effective = effective.Time.UTC()
		}
		if expires.Valid {
			a.Expires = expires.Time.UTC()
		}
		set[a.ID] = a
	}
	return set, rows.Err()
}

// AppendHistory records announced alerts and trims the table to the most
// recent HistoryLimit entries.
func (s *Store) AppendHistory(ctx context.Context, entries []models.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alert_history (alert_id, event, headline, severity, location, announced_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, e.AlertID, e.Event, e.Headline, e.Severity.String(), e.Location, e.Announced.UTC())
		if err != nil {
			return fmt.Errorf("insert history for %s: %w", e.AlertID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM alert_history
		WHERE id NOT IN (SELECT id FROM alert_history ORDER BY id DESC LIMIT ?)
	`, HistoryLimit); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	return tx.Commit()
}

// History returns announced alerts, most recent first.
func (s *Store) History(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, event, headline, severity, location, announced_at
		FROM alert_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		var event, headline, severity, location sql.NullString
		if err := rows.Scan(&e.AlertID, &event, &headline, &severity, &location, &e.Announced); err != nil {
			return nil, err
		}
		e.Event, e.Headline, e.Location = event.String, headline.String, location.String
		e.Severity = models.ParseSeverity(severity.String)
		e.Announced = e.Announced.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory deletes all announced alert history and returns the number
// of rows removed.
func (s *Store) ClearHistory(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM alert_history`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
