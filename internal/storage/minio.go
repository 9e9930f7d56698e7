// Package storage uploads finished recordings to S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Options configures the uploader.
type Options struct {
	Endpoint  string // host:port, a scheme prefix is stripped
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
	Region    string
}

// Uploader puts recordings into one bucket.
type Uploader struct {
	client *minio.Client
	bucket string
}

// New creates an uploader. It does not contact the server.
func New(opts Options) (*Uploader, error) {
	endpoint := opts.Endpoint
	secure := opts.Secure
	if strings.HasPrefix(endpoint, "https://") {
		secure = true
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	endpoint = strings.TrimRight(endpoint, "/")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Uploader{client: client, bucket: opts.Bucket}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	slog.Info("Creating recordings bucket", "bucket", u.bucket)
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey is the object name of a recording: {username}/{session_id}/{file}.
func ObjectKey(username, sessionID, localPath string) string {
	return path.Join(username, sessionID, filepath.Base(localPath))
}

// Upload stores localPath under key and returns "/{bucket}/{key}".
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("recording not found: %w", err)
	}

	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}

	slog.Debug("Uploaded recording", "bucket", u.bucket, "key", key, "size", info.Size)
	return fmt.Sprintf("/%s/%s", u.bucket, key), nil
}
