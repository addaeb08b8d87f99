// Package upload makes captured frames reachable by the vision analyzer,
// either inline as data: URLs or through an S3-compatible bucket.
package upload

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/contracts"
	"github.com/agentoven/companion/pkg/models"
)

// New returns the uploader selected by cfg.Backend.
func New(ctx context.Context, cfg config.UploadConfig) (contracts.Uploader, error) {
	switch cfg.Backend {
	case "", "inline":
		return InlineUploader{}, nil
	case "s3":
		return NewS3Uploader(ctx, cfg)
	default:
		return nil, fmt.Errorf("upload: unknown backend %q", cfg.Backend)
	}
}

// InlineUploader embeds frames as base64 data: URLs. No network involved.
type InlineUploader struct{}

func (InlineUploader) Upload(_ context.Context, frames []models.Frame) ([]models.ImageRef, error) {
	refs := make([]models.ImageRef, 0, len(frames))
	for _, f := range frames {
		if len(f.Data) == 0 {
			continue
		}
		mt := f.MIMEType
		if mt == "" {
			mt = "image/jpeg"
		}
		refs = append(refs, models.ImageRef{
			URL:      "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(f.Data),
			MIMEType: mt,
			Data:     f.Data,
		})
	}
	if len(refs) == 0 {
		return nil, fmt.Errorf("no frame data to upload")
	}
	return refs, nil
}
