package frames

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/media-recap/internal/s3util"
)

// Sink stores sampled frame images under their artifact keys.
type Sink interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
}

// S3Sink reads and writes frames in the results bucket.
type S3Sink struct {
	Client *s3.Client
	Bucket string
}

var _ Sink = (*S3Sink)(nil)

func (s *S3Sink) Store(ctx context.Context, key string, data []byte, contentType string) error {
	return s3util.UploadBytes(ctx, s.Client, s.Bucket, key, data, contentType)
}

// Load fetches a stored frame back, for attaching to model requests.
func (s *S3Sink) Load(ctx context.Context, key string) ([]byte, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get frame s3://%s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read frame s3://%s/%s: %w", s.Bucket, key, err)
	}
	return data, nil
}

// DirSink reads and writes frames under a local directory, mirroring the S3
// key layout. Used by the local pipeline runs.
type DirSink struct {
	Root string
}

var _ Sink = (*DirSink)(nil)

func (s *DirSink) Store(_ context.Context, key string, data []byte, _ string) error {
	path := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write frame %s: %w", path, err)
	}
	return nil
}

// Load fetches a stored frame back, for attaching to model requests.
func (s *DirSink) Load(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", path, err)
	}
	return data, nil
}
