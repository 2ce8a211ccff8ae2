package storage

import (
	"context"
	"fmt"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type MinIOStore struct {
	client   *miniogo.Client
	endpoint string
	useSSL   bool
}

func NewMinIOStore(endpoint, accessKey, secretKey string, useSSL bool) (*MinIOStore, error) {
	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinIOStore{client: client, endpoint: endpoint, useSSL: useSSL}, nil
}

func (s *MinIOStore) Download(ctx context.Context, bucket, objectKey, destPath string) error {
	if err := s.client.FGetObject(ctx, bucket, objectKey, destPath, miniogo.GetObjectOptions{}); err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	return nil
}

func (s *MinIOStore) Upload(ctx context.Context, localPath, bucket, objectKey string) error {
	_, err := s.client.FPutObject(ctx, bucket, objectKey, localPath, miniogo.PutObjectOptions{
		ContentType: "application/zip",
	})
	if err != nil {
		return &entity.StorageError{Op: "upload", Err: err}
	}
	return nil
}

func (s *MinIOStore) PublicURL(bucket, objectKey string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, bucket, objectKey)
}

func (s *MinIOStore) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}
