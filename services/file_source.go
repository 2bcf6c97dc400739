package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	aws_pkg "product-importer/pkg/aws"
)

// Source opens the CSV bytes behind a job's file path.
type Source interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// ObjectOpener streams objects addressed by s3:// uris.
type ObjectOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// FileSource opens local paths from disk and s3:// uris through S3.
type FileSource struct {
	objects ObjectOpener
}

// NewFileSource builds a source. objects may be nil when S3 is not configured.
func NewFileSource(objects ObjectOpener) *FileSource {
	return &FileSource{objects: objects}
}

func (f *FileSource) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if strings.HasPrefix(path, aws_pkg.S3Scheme) {
		if f.objects == nil {
			return nil, fmt.Errorf("cannot open %s: s3 is not configured", path)
		}
		return f.objects.Open(ctx, path)
	}

	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	return file, nil
}
