package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// StoreRawPayload archives a compressed copy of an api.weather.gov response.
// Returns the payload ID, or 0 if an identical payload is already stored.
func (s *Store) StoreRawPayload(ctx context.Context, endpoint string, payload []byte) (int64, error) {
	return s.storeRawPayloadAt(ctx, endpoint, payload, time.Now())
}

func (s *Store) storeRawPayloadAt(ctx context.Context, endpoint string, payload []byte, fetchedAt time.Time) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_payloads (fetched_at, endpoint, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, fetchedAt.UTC(), endpoint, buf.Bytes(), hex.EncodeToString(hash[:]))
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil || n == 0 {
		return 0, err
	}
	return result.LastInsertId()
}

// PayloadSink returns a callback that archives every fetched payload.
// Failures are logged and never reach the caller.
func (s *Store) PayloadSink() func(endpoint string, body []byte) {
	return func(endpoint string, body []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.StoreRawPayload(ctx, endpoint, body); err != nil {
			s.logger.Warn("archive payload", "endpoint", endpoint, "error", err)
		}
	}
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(ctx context.Context, id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

type RawPayloadStats struct {
	TotalCount      int              `json:"total_count"`
	TotalSizeBytes  int64            `json:"total_size_bytes"`
	OldestFetchedAt time.Time        `json:"oldest_fetched_at,omitzero"`
	NewestFetchedAt time.Time        `json:"newest_fetched_at,omitzero"`
	CountByEndpoint map[string]int   `json:"count_by_endpoint"`
	SizeByEndpoint  map[string]int64 `json:"size_by_endpoint"`
}

func (s *Store) GetRawPayloadStats(ctx context.Context) (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountByEndpoint: make(map[string]int),
		SizeByEndpoint:  make(map[string]int64),
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0),
		       MIN(fetched_at), MAX(fetched_at)
		FROM raw_payloads
	`)
	var oldest, newest sql.NullTime
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes, &oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		stats.OldestFetchedAt = oldest.Time
	}
	if newest.Valid {
		stats.NewestFetchedAt = newest.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT endpoint, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads
		GROUP BY endpoint
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var endpoint string
		var count int
		var size int64
		if err := rows.Scan(&endpoint, &count, &size); err != nil {
			return nil, err
		}
		stats.CountByEndpoint[endpoint] = count
		stats.SizeByEndpoint[endpoint] = size
	}

	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes payloads fetched before cutoff and returns
// the number removed.
func (s *Store) CleanupOldRawPayloads(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM raw_payloads
		WHERE SUBSTR(fetched_at, 1, 19) < ?
	`, sqliteTime(cutoff))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
