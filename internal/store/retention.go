package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const retentionInterval = 24 * time.Hour

// RetentionPolicy bounds how long archived payloads and cycle runs are kept.
// Zero keeps rows forever.
type RetentionPolicy struct {
	PayloadDays int
	CycleDays   int
}

func (p RetentionPolicy) Enabled() bool {
	return p.PayloadDays > 0 || p.CycleDays > 0
}

type PruneResult struct {
	Payloads int64
	Cycles   int64
}

// ApplyRetention deletes rows older than the policy allows, relative to now.
func (s *Store) ApplyRetention(ctx context.Context, now time.Time, p RetentionPolicy) (PruneResult, error) {
	var res PruneResult
	if p.PayloadDays > 0 {
		n, err := s.CleanupOldRawPayloads(ctx, now.AddDate(0, 0, -p.PayloadDays))
		if err != nil {
			return res, fmt.Errorf("prune raw payloads: %w", err)
		}
		res.Payloads = n
	}
	if p.CycleDays > 0 {
		n, err := s.PruneCycles(ctx, now.AddDate(0, 0, -p.CycleDays))
		if err != nil {
			return res, fmt.Errorf("prune cycle runs: %w", err)
		}
		res.Cycles = n
	}
	return res, nil
}

// RunRetention applies p immediately and then once a day until ctx is done.
func (s *Store) RunRetention(ctx context.Context, clock clockwork.Clock, p RetentionPolicy) {
	if !p.Enabled() {
		return
	}
	ticker := clock.NewTicker(retentionInterval)
	defer ticker.Stop()

	s.retain(ctx, clock.Now(), p)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.retain(ctx, clock.Now(), p)
		}
	}
}

func (s *Store) retain(ctx context.Context, now time.Time, p RetentionPolicy) {
	res, err := s.ApplyRetention(ctx, now, p)
	if err != nil {
		s.logger.Error("retention pass failed", "error", err)
		return
	}
	s.logger.Info("retention pass complete", "payloads_deleted", res.Payloads, "cycles_deleted", res.Cycles)

	if p.PayloadDays > 0 {
		stats, err := s.GetRawPayloadStats(ctx)
		if err != nil {
			s.logger.Warn("raw payload stats", "error", err)
			return
		}
		s.logger.Info("raw payload archive", "payloads", stats.TotalCount, "bytes", stats.TotalSizeBytes)
	}
}
