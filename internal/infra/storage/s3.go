package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/framix/framix-worker/internal/domain/entity"
)

type S3Store struct {
	client *s3.Client
	region string
}

func NewS3Store(region, accessKey, secretKey string) *S3Store {
	client := s3.New(s3.Options{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
	})
	return &S3Store{client: client, region: region}
}

func (s *S3Store) Download(ctx context.Context, bucket, objectKey, destPath string) error {
	f, err := os.Create(destPath)
	if err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	defer f.Close()

	downloader := manager.NewDownloader(s.client)
	_, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return &entity.StorageError{Op: "download", Err: err}
	}
	return nil
}

func (s *S3Store) Upload(ctx context.Context, localPath, bucket, objectKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &entity.StorageError{Op: "upload", Err: err}
	}
	defer f.Close()

	uploader := manager.NewUploader(s.client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(objectKey),
		Body:        f,
		ContentType: aws.String("application/zip"),
	})
	if err != nil {
		return &entity.StorageError{Op: "upload", Err: err}
	}
	return nil
}

func (s *S3Store) PublicURL(bucket, objectKey string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", bucket, objectKey)
}

func (s *S3Store) EnsureBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(bucket)}
	if s.region != "us-east-1" {
		in.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, in); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	return nil
}
