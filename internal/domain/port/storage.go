package port

import "context"

// ArtifactStore moves byte blobs between local disk and a durable object
// bucket. Transfer failures are reported as *entity.StorageError.
type ArtifactStore interface {
	Download(ctx context.Context, bucket, objectKey, destPath string) error
	Upload(ctx context.Context, localPath, bucket, objectKey string) error
	// PublicURL returns the durable address of an object, independent of
	// whether the object exists yet.
	PublicURL(bucket, objectKey string) string
	EnsureBucket(ctx context.Context, bucket string) error
}
