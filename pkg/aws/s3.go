package aws

import (
	"context"
	"fmt"
	"io"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Scheme prefixes object locations handed to the import job runner.
const S3Scheme = "s3://"

// NewS3Client creates a path-style S3 client, which LocalStack requires.
func NewS3Client(cfg sdkaws.Config) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// ParseS3URI splits s3://bucket/key into its parts.
func ParseS3URI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, S3Scheme) {
		return "", "", fmt.Errorf("not an s3 uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, S3Scheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 uri must be s3://bucket/key: %q", uri)
	}
	return bucket, key, nil
}

// S3Store reads and writes CSV objects.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
}

func NewS3Store(cfg sdkaws.Config) *S3Store {
	client := NewS3Client(cfg)
	return &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = 16 * 1024 * 1024
		}),
	}
}

// Open streams the object behind an s3:// uri. The caller closes the body.
func (s *S3Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", uri, err)
	}
	return out.Body, nil
}

// Upload stores body under bucket/key with multipart uploads for large files
// and returns the s3:// uri of the object.
func (s *S3Store) Upload(ctx context.Context, bucket, key string, body io.Reader) (string, error) {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        body,
		ContentType: sdkaws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s/%s: %w", bucket, key, err)
	}
	return S3Scheme + bucket + "/" + key, nil
}
