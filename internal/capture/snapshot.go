package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentoven/companion/pkg/models"
)

// maxSnapshotBytes bounds a single snapshot body.
const maxSnapshotBytes = 16 << 20

// SnapshotSource fetches frames from an HTTP endpoint that returns the
// current camera image, such as an IP camera's snapshot URL.
type SnapshotSource struct {
	url    string
	client *http.Client
}

// NewSnapshotSource creates an HTTP-backed source.
func NewSnapshotSource(url string, client *http.Client) *SnapshotSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &SnapshotSource{url: url, client: client}
}

func (s *SnapshotSource) Capture(ctx context.Context, n int, spacing time.Duration) ([]models.Frame, *models.Frame, error) {
	return burst(ctx, n, spacing, s.grab)
}

func (s *SnapshotSource) grab(ctx context.Context) (models.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return models.Frame{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return models.Frame{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Frame{}, fmt.Errorf("snapshot returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return models.Frame{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return models.Frame{}, fmt.Errorf("empty snapshot")
	}
	mt := resp.Header.Get("Content-Type")
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return models.Frame{Data: data, MIMEType: mt, CapturedAt: time.Now()}, nil
}
