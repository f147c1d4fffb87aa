package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type PostalCode struct {
	Zip       string
	Latitude  float64
	Longitude float64
}

// UpsertPostalCodes writes codes in a single transaction.
func (s *Store) UpsertPostalCodes(ctx context.Context, codes []PostalCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO postal_codes (zip, latitude, longitude) VALUES (?, ?, ?)
		ON CONFLICT(zip) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx, c.Zip, c.Latitude, c.Longitude); err != nil {
			return fmt.Errorf("upsert %s: %w", c.Zip, err)
		}
	}
	return tx.Commit()
}

// LoadPostalCodes returns the whole geocode table keyed by 5-digit code.
func (s *Store) LoadPostalCodes(ctx context.Context) (map[string][2]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT zip, latitude, longitude FROM postal_codes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	table := make(map[string][2]float64)
	for rows.Next() {
		var zip string
		var lat, lon float64
		if err := rows.Scan(&zip, &lat, &lon); err != nil {
			return nil, err
		}
		table[zip] = [2]float64{lat, lon}
	}
	return table, rows.Err()
}

// ImportPostalCodesCSV reads zip,latitude,longitude rows, with an optional
// header, and upserts them. It returns the number of codes imported.
func (s *Store) ImportPostalCodesCSV(ctx context.Context, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var codes []PostalCode
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv: %w", err)
		}
		line++
		if len(rec) < 3 {
			return 0, fmt.Errorf("line %d: want 3 fields, got %d", line, len(rec))
		}

		zip := strings.TrimSpace(rec[0])
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if latErr != nil || lonErr != nil {
			if line == 1 {
				continue // header
			}
			return 0, fmt.Errorf("line %d: invalid coordinates %q,%q", line, rec[1], rec[2])
		}
		if len(zip) < 5 {
			zip = strings.Repeat("0", 5-len(zip)) + zip
		}
		codes = append(codes, PostalCode{Zip: zip, Latitude: lat, Longitude: lon})
	}

	if err := s.UpsertPostalCodes(ctx, codes); err != nil {
		return 0, err
	}
	s.logger.Info("imported postal codes", "count", len(codes))
	return len(codes), nil
}
