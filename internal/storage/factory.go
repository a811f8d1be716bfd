package storage

import (
	"context"
	"fmt"

	"github.com/andresuchdata/batchsync/internal/config"
)

// New builds the destination store selected by cfg.Backend.
func New(ctx context.Context, cfg config.DestinationConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case "gcs", "":
		return NewGCSClient(ctx, GCSConfig{
			ProjectID:       cfg.ProjectID,
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
		})
	case "s3":
		return NewS3Client(S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown destination backend %q", cfg.Backend)
	}
}
