package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioUploader stores export artifacts in an object storage bucket.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

// NewMinioUploader connects to MinIO and ensures the bucket exists.
func NewMinioUploader(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &MinioUploader{client: client, bucket: bucket}, nil
}

// Upload stores the rendered export and returns its artifact descriptor.
func (u *MinioUploader) Upload(ctx context.Context, data []byte, contentType string) (Artifact, error) {
	key := fmt.Sprintf("board/%s/%s.csv", time.Now().UTC().Format("2006-01-02"), uuid.NewString())

	_, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("put object %s: %w", key, err)
	}

	return Artifact{
		Key:         key,
		Bucket:      u.bucket,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}
