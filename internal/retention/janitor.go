// Package retention prunes observation day logs older than the configured
// retention window. When an archiver is registered, a day is archived first
// and deleted only if archiving succeeded.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/agentoven/companion/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultRetentionDays applies when none is configured.
const DefaultRetentionDays = 30

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Archived int
	Purged   int
	Errors   []error
}

// Janitor periodically removes expired day logs.
type Janitor struct {
	log      store.Log
	days     int
	interval time.Duration
	archiver Archiver
	now      func() time.Time
}

// NewJanitor creates a janitor. retentionDays <= 0 uses the default.
func NewJanitor(l store.Log, retentionDays int, interval time.Duration) *Janitor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if interval < time.Minute {
		interval = time.Hour // minimum 1 hour
	}
	return &Janitor{log: l, days: retentionDays, interval: interval, now: time.Now}
}

// SetArchiver registers the archive backend.
func (j *Janitor) SetArchiver(a Archiver) { j.archiver = a }

// Start runs the janitor until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("retention_days", j.days).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	now := j.now()
	cutoff := time.Date(now.Year(), now.Month(), now.Day()-j.days, 0, 0, 0, 0, now.Location())

	days, err := j.log.Days(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list days")
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	for _, day := range days {
		if !day.Before(cutoff) {
			continue
		}
		if j.archiver != nil && !j.archive(ctx, day, &stats) {
			log.Warn().Str("day", store.DayKey(day)).Msg("Archive failed, skipping purge")
			continue
		}
		if err := j.log.DeleteDay(ctx, day); err != nil {
			log.Warn().Err(err).Str("day", store.DayKey(day)).Msg("Failed to delete expired day")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Purged++
	}

	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("purged_days", stats.Purged).
			Int("archived_days", stats.Archived).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) archive(ctx context.Context, day time.Time, stats *CycleStats) bool {
	records, err := j.log.ReadDay(ctx, day)
	if errors.Is(err, store.ErrLogMissing) {
		return true
	}
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return false
	}
	uri, err := j.archiver.ArchiveDay(ctx, day, records)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return false
	}
	stats.Archived++
	log.Debug().Str("uri", uri).Str("backend", j.archiver.Kind()).Msg("Day archived")
	return true
}
