package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

// MemoryLog keeps records in maps keyed by day. Used in tests and when no
// persistence is wanted.
type MemoryLog struct {
	mu   sync.RWMutex
	days map[string][]models.ObservationRecord
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{days: make(map[string][]models.ObservationRecord)}
}

func (m *MemoryLog) Append(_ context.Context, rec models.ObservationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := DayKey(rec.Timestamp)
	m.days[key] = append(m.days[key], rec)
	return nil
}

// Touch creates an empty log for day if none exists.
func (m *MemoryLog) Touch(day time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := DayKey(day)
	if _, ok := m.days[key]; !ok {
		m.days[key] = []models.ObservationRecord{}
	}
}

func (m *MemoryLog) ReadDay(_ context.Context, day time.Time) ([]models.ObservationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.days[DayKey(day)]
	if !ok {
		return nil, ErrLogMissing
	}
	out := make([]models.ObservationRecord, len(recs))
	copy(out, recs)
	return out, nil
}

func (m *MemoryLog) Days(_ context.Context) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.days))
	for k := range m.days {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	days := make([]time.Time, 0, len(keys))
	for _, k := range keys {
		d, err := parseDayKey(k)
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days, nil
}

func (m *MemoryLog) DeleteDay(_ context.Context, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.days, DayKey(day))
	return nil
}

func (m *MemoryLog) Close() error { return nil }
