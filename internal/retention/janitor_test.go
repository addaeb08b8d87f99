package retention

import (
	"compress/gzip"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/agentoven/companion/internal/store"
	"github.com/agentoven/companion/pkg/models"
)

type failingArchiver struct{}

func (failingArchiver) Kind() string { return "broken" }
func (failingArchiver) ArchiveDay(context.Context, time.Time, []models.ObservationRecord) (string, error) {
	return "", errors.New("disk full")
}

func seed(t *testing.T, lg store.Log, days ...time.Time) {
	t.Helper()
	for i, d := range days {
		if err := lg.Append(context.Background(), models.ObservationRecord{ID: string(rune('a' + i)), Timestamp: d}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestRunCycle_PurgesExpiredDays(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.Local)
	lg := store.NewMemoryLog()
	seed(t, lg, now.AddDate(0, 0, -40), now.AddDate(0, 0, -31), now.AddDate(0, 0, -30), now)

	j := NewJanitor(lg, 30, time.Hour)
	j.now = func() time.Time { return now }
	stats := j.RunCycle(context.Background())

	if stats.Purged != 2 {
		t.Errorf("Purged = %d, want 2", stats.Purged)
	}
	days, _ := lg.Days(context.Background())
	if len(days) != 2 {
		t.Errorf("remaining days = %d, want 2", len(days))
	}
}

func TestRunCycle_ArchiveThenPurge(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.Local)
	old := now.AddDate(0, 0, -45)
	lg := store.NewMemoryLog()
	seed(t, lg, old)

	dir := t.TempDir()
	j := NewJanitor(lg, 30, time.Hour)
	j.now = func() time.Time { return now }
	j.SetArchiver(NewLocalFileArchiver(dir, true))

	stats := j.RunCycle(context.Background())
	if stats.Archived != 1 || stats.Purged != 1 {
		t.Fatalf("stats = %+v, want 1 archived and 1 purged", stats)
	}

	f, err := os.Open(dir + "/observations-" + old.Format("2006-01-02") + ".jsonl.gz")
	if err != nil {
		t.Fatalf("archive file missing: %v", err)
	}
	defer f.Close()
	if _, err := gzip.NewReader(f); err != nil {
		t.Errorf("archive is not gzip: %v", err)
	}
}

func TestRunCycle_ArchiveFailureKeepsData(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.Local)
	lg := store.NewMemoryLog()
	seed(t, lg, now.AddDate(0, 0, -60))

	j := NewJanitor(lg, 30, time.Hour)
	j.now = func() time.Time { return now }
	j.SetArchiver(failingArchiver{})

	stats := j.RunCycle(context.Background())
	if stats.Purged != 0 {
		t.Errorf("Purged = %d, want 0", stats.Purged)
	}
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want one", stats.Errors)
	}
	days, _ := lg.Days(context.Background())
	if len(days) != 1 {
		t.Errorf("day was deleted despite archive failure")
	}
}

func TestLocalFileArchiver_NoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	a := NewLocalFileArchiver(dir, false)
	day := time.Date(2026, 2, 20, 0, 0, 0, 0, time.Local)

	path, err := a.ArchiveDay(context.Background(), day, []models.ObservationRecord{{ID: "a"}, {ID: "b"}})
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}
	if path != a.Path(day) {
		t.Errorf("path = %q, want %q", path, a.Path(day))
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the archive", len(entries))
	}
	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Errorf("archive has %d lines, want 2", got)
	}
}
