package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Archiver keeps expired day logs somewhere durable before they are deleted.
type Archiver interface {
	Kind() string
	ArchiveDay(ctx context.Context, day time.Time, records []models.ObservationRecord) (string, error)
}

// LocalFileArchiver writes one JSONL file per expired day:
//
//	{dir}/observations-2026-02-20.jsonl[.gz]
//
// Files are written under a temporary name and renamed when complete, so a
// failed run never leaves a truncated archive that looks finished.
type LocalFileArchiver struct {
	dir      string
	compress bool
}

// NewLocalFileArchiver archives into dir, or ~/.companion/archive when dir
// is empty.
func NewLocalFileArchiver(dir string, compress bool) *LocalFileArchiver {
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".companion", "archive")
		} else {
			dir = filepath.Join(os.TempDir(), "companion", "archive")
		}
	}
	return &LocalFileArchiver{dir: dir, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

// Path returns where the archive for day is written.
func (a *LocalFileArchiver) Path(day time.Time) string {
	name := "observations-" + day.Format("2006-01-02") + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	return filepath.Join(a.dir, name)
}

func (a *LocalFileArchiver) ArchiveDay(ctx context.Context, day time.Time, records []models.ObservationRecord) (string, error) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dst := a.Path(day)
	tmp, err := os.CreateTemp(a.dir, ".archive-*")
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if err := a.write(ctx, tmp, records); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("finalize archive: %w", err)
	}

	log.Debug().
		Str("path", dst).
		Int("count", len(records)).
		Msg("Archived observation day to local file")
	return dst, nil
}

func (a *LocalFileArchiver) write(ctx context.Context, w io.Writer, records []models.ObservationRecord) (err error) {
	if a.compress {
		gw := gzip.NewWriter(w)
		defer func() { err = errors.Join(err, gw.Close()) }()
		w = gw
	}
	enc := json.NewEncoder(w)
	for _, r := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode observation %s: %w", r.ID, err)
		}
	}
	return nil
}
