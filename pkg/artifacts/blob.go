package artifacts

import (
	"context"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cyroid/cyroid/pkg/models"
)

// BlobStore is the object storage behind the artifact library. Object
// names are slash-separated keys scoped to a single bucket.
type BlobStore interface {
	// Ensure creates the backing bucket if it does not exist yet.
	Ensure(ctx context.Context) error
	// Put streams r into objectName and returns the byte count stored.
	Put(ctx context.Context, objectName, contentType string, r io.Reader) (int64, error)
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	Remove(ctx context.Context, objectName string) error
}

// MinIOStore keeps artifact blobs in a MinIO bucket. Any S3-compatible
// endpoint works.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinIOStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinIOStore{client: client, bucket: bucket}, nil
}

func (s *MinIOStore) Ensure(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// Put uploads with unknown length so large artifacts go up in multipart
// chunks instead of buffering in memory.
func (s *MinIOStore) Put(ctx context.Context, objectName, contentType string, r io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.bucket, objectName, r, -1,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *MinIOStore) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	// GetObject defers errors to the first read; stat up front so a
	// missing key reports as not found instead of a mid-stream error.
	if _, err := s.client.StatObject(ctx, s.bucket, objectName, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, models.NotFoundf("blob %s", objectName)
		}
		return nil, err
	}
	return s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
}

func (s *MinIOStore) Remove(ctx context.Context, objectName string) error {
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}
