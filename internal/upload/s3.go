package upload

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/agentoven/companion/internal/config"
	"github.com/agentoven/companion/pkg/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PutObjectAPI is the subset of the S3 client the uploader uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts frames into an S3-compatible bucket (AWS, OSS, MinIO) and
// returns their public URLs.
type S3Uploader struct {
	client   PutObjectAPI
	bucket   string
	prefix   string
	endpoint string
	region   string
	now      func() time.Time
}

// NewS3Uploader builds an uploader with static credentials from cfg.
func NewS3Uploader(_ context.Context, cfg config.UploadConfig) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("upload: s3 backend needs upload.bucket")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3Uploader(client, cfg.Bucket, cfg.Prefix, cfg.Endpoint, region), nil
}

func newS3Uploader(client PutObjectAPI, bucket, prefix, endpoint, region string) *S3Uploader {
	return &S3Uploader{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		endpoint: endpoint,
		region:   region,
		now:      time.Now,
	}
}

func (u *S3Uploader) Upload(ctx context.Context, frames []models.Frame) ([]models.ImageRef, error) {
	refs := make([]models.ImageRef, 0, len(frames))
	stamp := u.now().Format("20060102-150405")
	for i, f := range frames {
		key := path.Join(u.prefix, fmt.Sprintf("%s_%d_%s%s", stamp, i, uuid.NewString()[:8], extFor(f.MIMEType)))
		_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(u.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(f.Data),
			ContentType: aws.String(f.MIMEType),
		})
		if err != nil {
			return nil, fmt.Errorf("put %s: %w", key, err)
		}
		refs = append(refs, models.ImageRef{URL: u.publicURL(key), MIMEType: f.MIMEType, Data: f.Data})
	}
	log.Debug().Int("frames", len(refs)).Str("bucket", u.bucket).Msg("Frames uploaded")
	return refs, nil
}

// publicURL uses virtual-hosted style: https://{bucket}.{endpoint-host}/{key}.
func (u *S3Uploader) publicURL(key string) string {
	host := u.endpoint
	if host == "" {
		host = "s3." + u.region + ".amazonaws.com"
	}
	host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
	return "https://" + u.bucket + "." + strings.TrimSuffix(host, "/") + "/" + key
}

func extFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
