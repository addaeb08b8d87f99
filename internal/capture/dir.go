package capture

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true}

// DirSource reads the newest image file in a directory on every grab.
type DirSource struct {
	dir string
}

// NewDirSource creates a directory-backed source.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) Capture(ctx context.Context, n int, spacing time.Duration) ([]models.Frame, *models.Frame, error) {
	return burst(ctx, n, spacing, s.grab)
}

func (s *DirSource) grab(_ context.Context) (models.Frame, error) {
	path, mod, err := s.newest()
	if err != nil {
		return models.Frame{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	return models.Frame{
		Data:       data,
		MIMEType:   mimeFor(path),
		CapturedAt: mod,
	}, nil
}

func (s *DirSource) newest() (string, time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("list frames: %w", err)
	}
	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = e.Name(), info.ModTime()
		}
	}
	if best == "" {
		return "", time.Time{}, fmt.Errorf("no frame available in %s", s.dir)
	}
	return filepath.Join(s.dir, best), bestMod, nil
}

func mimeFor(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "image/jpeg"
}
