package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS observations (
	id             TEXT PRIMARY KEY,
	day            TEXT NOT NULL,
	ts             TEXT NOT NULL,
	behavior_code  TEXT NOT NULL,
	behavior_label TEXT NOT NULL,
	emotion_label  TEXT NOT NULL,
	raw_analysis   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_observations_day ON observations(day, ts);
`

// SQLiteLog stores observations in a single SQLite table indexed by day.
// A day without rows reads as ErrLogMissing.
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog opens (or creates) the database at path and applies the schema.
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	if path == "" {
		path = "observations.db"
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	log.Info().Str("path", path).Msg("💾 SQLite observation log ready")
	return &SQLiteLog{db: db}, nil
}

func (s *SQLiteLog) Append(ctx context.Context, rec models.ObservationRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO observations (id, day, ts, behavior_code, behavior_label, emotion_label, raw_analysis)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, DayKey(rec.Timestamp), rec.Timestamp.Format(time.RFC3339Nano),
		rec.BehaviorCode, rec.BehaviorLabel, rec.EmotionLabel, rec.RawAnalysis)
	if err != nil {
		return fmt.Errorf("insert observation %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteLog) ReadDay(ctx context.Context, day time.Time) ([]models.ObservationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, behavior_code, behavior_label, emotion_label, raw_analysis
		 FROM observations WHERE day = ? ORDER BY rowid`, DayKey(day))
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var recs []models.ObservationRecord
	for rows.Next() {
		var rec models.ObservationRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.BehaviorCode, &rec.BehaviorLabel, &rec.EmotionLabel, &rec.RawAnalysis); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrLogMissing
	}
	return recs, nil
}

func (s *SQLiteLog) Days(ctx context.Context) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT day FROM observations ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("query days: %w", err)
	}
	defer rows.Close()

	var days []time.Time
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if d, err := parseDayKey(key); err == nil {
			days = append(days, d)
		}
	}
	return days, rows.Err()
}

func (s *SQLiteLog) DeleteDay(ctx context.Context, day time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM observations WHERE day = ?`, DayKey(day)); err != nil {
		return fmt.Errorf("delete day: %w", err)
	}
	return nil
}

func (s *SQLiteLog) Close() error { return s.db.Close() }
