package storage

import (
	"context"
	"fmt"

	"github.com/framix/framix-worker/internal/domain/port"
)

const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

type Config struct {
	Backend string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOUseSSL    bool

	S3Region    string
	S3AccessKey string
	S3SecretKey string

	GCSProject         string
	GCSCredentialsJSON string
}

// New builds the artifact store selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (port.ArtifactStore, error) {
	switch cfg.Backend {
	case BackendMinIO:
		return NewMinIOStore(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
	case BackendS3:
		return NewS3Store(cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey), nil
	case BackendGCS:
		return NewGCSStore(ctx, cfg.GCSProject, cfg.GCSCredentialsJSON)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
