package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	filePrefix = "observations-"
	fileSuffix = ".jsonl"
)

// JSONLLog appends one JSON object per line to a file per calendar day:
//
//	{dir}/observations-2026-03-01.jsonl
type JSONLLog struct {
	dir string
	mu  sync.Mutex
}

// NewJSONLLog creates the directory if needed.
func NewJSONLLog(dir string) (*JSONLLog, error) {
	if dir == "" {
		dir = "observations"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &JSONLLog{dir: dir}, nil
}

// Path returns the file that holds day's records.
func (l *JSONLLog) Path(day time.Time) string {
	return filepath.Join(l.dir, filePrefix+DayKey(day)+fileSuffix)
}

func (l *JSONLLog) Append(_ context.Context, rec models.ObservationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.Path(rec.Timestamp), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open day log: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("encode observation %s: %w", rec.ID, err)
	}
	return nil
}

// ReadDay skips malformed lines rather than failing the whole day.
func (l *JSONLLog) ReadDay(ctx context.Context, day time.Time) ([]models.ObservationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.Path(day))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrLogMissing
	}
	if err != nil {
		return nil, fmt.Errorf("open day log: %w", err)
	}
	defer f.Close()

	recs := []models.ObservationRecord{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec models.ObservationRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			log.Warn().Err(err).Int("line", line).Str("path", f.Name()).Msg("Skipping malformed observation line")
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read day log: %w", err)
	}
	return recs, nil
}

func (l *JSONLLog) Days(_ context.Context) ([]time.Time, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list log dir: %w", err)
	}
	var days []time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		d, err := parseDayKey(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

func (l *JSONLLog) DeleteDay(_ context.Context, day time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.Remove(l.Path(day)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete day log: %w", err)
	}
	return nil
}

func (l *JSONLLog) Close() error { return nil }
