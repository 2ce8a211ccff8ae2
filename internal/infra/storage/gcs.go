package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type GCSStore struct {
	client  *gcstorage.Client
	project string
}

// NewGCSStore authenticates with the inline service-account JSON when
// provided, otherwise with application default credentials.
func NewGCSStore(ctx context.Context, project, credentialsJSON string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, project: project}, nil
}

func (s *GCSStore) Download(ctx context.Context, bucket, objectKey, destPath string) error {
	rc, err := s.client.Bucket(bucket).Object(objectKey).NewReader(ctx)
	if err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	defer rc.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	return nil
}

func (s *GCSStore) Upload(ctx context.Context, localPath, bucket, objectKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &entity.StorageError{Op: "upload", Err: err}
	}
	defer f.Close()

	wc := s.client.Bucket(bucket).Object(objectKey).NewWriter(ctx)
	wc.ContentType = "application/zip"
	if _, err := io.Copy(wc, f); err != nil {
		wc.Close()
		return &entity.StorageError{Op: "upload", Err: err}
	}
	if err := wc.Close(); err != nil {
		return &entity.StorageError{Op: "upload", Err: err}
	}
	return nil
}

func (s *GCSStore) PublicURL(bucket, objectKey string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, objectKey)
}

func (s *GCSStore) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.Bucket(bucket).Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gcstorage.ErrBucketNotExist) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if s.project == "" {
		return fmt.Errorf("bucket %s does not exist and no project is configured to create it", bucket)
	}
	if err := s.client.Bucket(bucket).Create(ctx, s.project, nil); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}
