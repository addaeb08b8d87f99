// Package store provides the per-day observation log and its implementations.
// JSONL files are the default; SQLite and in-memory backends share the
// same interface so the summary and retention code never care which one runs.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/models"
)

// ErrLogMissing is returned by ReadDay when nothing was ever logged for the day.
var ErrLogMissing = errors.New("observation log missing")

// Log is the observation log with the extra operations retention needs.
type Log interface {
	Append(ctx context.Context, rec models.ObservationRecord) error
	ReadDay(ctx context.Context, day time.Time) ([]models.ObservationRecord, error)
	// Days lists the calendar days that have a log, oldest first.
	Days(ctx context.Context) ([]time.Time, error)
	// DeleteDay removes the log of one day. Deleting a missing day is not an error.
	DeleteDay(ctx context.Context, day time.Time) error
	Close() error
}

// DayKey formats the local calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.Local().Format(dayLayout)
}

const dayLayout = "2006-01-02"

func parseDayKey(key string) (time.Time, error) {
	return time.ParseInLocation(dayLayout, key, time.Local)
}

// Open creates the log selected by cfg.Backend.
func Open(cfg config.StoreConfig) (Log, error) {
	switch cfg.Backend {
	case "", "jsonl":
		return NewJSONLLog(cfg.Dir)
	case "sqlite":
		return NewSQLiteLog(cfg.SQLitePath)
	case "memory":
		return NewMemoryLog(), nil
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
