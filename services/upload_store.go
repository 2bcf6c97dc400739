package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// UploadStore persists an uploaded CSV and returns the path a job reads it from.
type UploadStore interface {
	Save(ctx context.Context, jobID string, body io.Reader) (string, error)
}

// LocalUploadStore writes uploads into a directory shared with the workers.
type LocalUploadStore struct {
	dir string
}

func NewLocalUploadStore(dir string) (*LocalUploadStore, error) {
	if dir == "" {
		dir = "./data/uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &LocalUploadStore{dir: dir}, nil
}

func (s *LocalUploadStore) Save(_ context.Context, jobID string, body io.Reader) (string, error) {
	dst := filepath.Join(s.dir, jobID+".csv")
	file, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		_ = os.Remove(dst)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close upload file: %w", err)
	}
	return dst, nil
}

// ObjectUploader stores an object and returns its s3:// uri.
type ObjectUploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) (string, error)
}

// S3UploadStore writes uploads to a bucket so workers on other hosts can read them.
type S3UploadStore struct {
	uploader ObjectUploader
	bucket   string
	prefix   string
}

func NewS3UploadStore(uploader ObjectUploader, bucket, prefix string) *S3UploadStore {
	if prefix == "" {
		prefix = "imports/"
	}
	return &S3UploadStore{uploader: uploader, bucket: bucket, prefix: prefix}
}

func (s *S3UploadStore) Save(ctx context.Context, jobID string, body io.Reader) (string, error) {
	key := path.Join(s.prefix, jobID+".csv")
	uri, err := s.uploader.Upload(ctx, s.bucket, key, body)
	if err != nil {
		return "", fmt.Errorf("failed to upload csv: %w", err)
	}
	return uri, nil
}
