// Package capture provides frame sources for the observation loop.
//
// A camera process outside the companion writes frames somewhere the
// companion can read them: a directory (DirSource) or an HTTP snapshot
// endpoint (SnapshotSource). Each Capture call grabs a short burst.
package capture

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
	"github.com/rs/zerolog/log"
)

// New returns the frame source selected by cfg.Source.
func New(cfg config.CaptureConfig) (contracts.FrameSource, error) {
	switch cfg.Source {
	case "", "dir":
		return NewDirSource(cfg.Dir), nil
	case "snapshot":
		if cfg.SnapshotURL == "" {
			return nil, fmt.Errorf("capture: snapshot source needs capture.snapshot_url")
		}
		return NewSnapshotSource(cfg.SnapshotURL, &http.Client{Timeout: cfg.Timeout}), nil
	default:
		return nil, fmt.Errorf("capture: unknown source %q", cfg.Source)
	}
}

// grabFunc reads a single frame.
type grabFunc func(ctx context.Context) (models.Frame, error)

// burst calls grab n times, spacing apart. Failed grabs are skipped; the
// burst fails only if no frame was read at all.
func burst(ctx context.Context, n int, spacing time.Duration, grab grabFunc) ([]models.Frame, *models.Frame, error) {
	if n <= 0 {
		n = 1
	}
	frames := make([]models.Frame, 0, n)
	var lastErr error
	for i := 0; i < n; i++ {
		if i > 0 && spacing > 0 {
			select {
			case <-time.After(spacing):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		f, err := grab(ctx)
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int("frame", i).Msg("Frame grab failed")
			continue
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no frames")
		}
		return nil, nil, lastErr
	}
	latest := frames[len(frames)-1]
	return frames, &latest, nil
}
