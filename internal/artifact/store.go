package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/s3util"
)

// Store persists recap artifacts. Save returns the result key recorded on
// the job and the claim.
type Store interface {
	Save(ctx context.Context, a *Artifact) (string, error)
	Load(ctx context.Context, jobID string) (*Artifact, error)
}

// --- S3 store ---

// S3Store keeps artifacts in the results bucket.
type S3Store struct {
	client *s3.Client
	bucket string
}

var _ Store = (*S3Store)(nil)

// NewS3Store builds a store writing to the given bucket.
func NewS3Store(client *s3.Client, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

func (s *S3Store) Save(ctx context.Context, a *Artifact) (string, error) {
	data, err := Encode(a)
	if err != nil {
		return "", err
	}

	key := RecapKey(a.JobID)
	if err := s3util.UploadBytes(ctx, s.client, s.bucket, key, data, ContentType); err != nil {
		return "", err
	}

	log.Info().
		Str("jobId", a.JobID).
		Str("key", key).
		Int("compressedBytes", len(data)).
		Int("windows", len(a.Windows)).
		Msg("Recap artifact persisted")
	return key, nil
}

func (s *S3Store) Load(ctx context.Context, jobID string) (*Artifact, error) {
	key := RecapKey(jobID)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject %s/%s: %w", s.bucket, key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return Decode(data)
}

// --- Directory store ---

// DirStore keeps artifacts under a local directory, mirroring the S3 key
// layout. Used by the local pipeline runs.
type DirStore struct {
	Root string
}

var _ Store = (*DirStore)(nil)

func (s *DirStore) Save(_ context.Context, a *Artifact) (string, error) {
	data, err := Encode(a)
	if err != nil {
		return "", err
	}

	key := RecapKey(a.JobID)
	path := filepath.Join(s.Root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}

	log.Info().Str("jobId", a.JobID).Str("path", path).Msg("Recap artifact written")
	return key, nil
}

func (s *DirStore) Load(_ context.Context, jobID string) (*Artifact, error) {
	path := filepath.Join(s.Root, filepath.FromSlash(RecapKey(jobID)))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", path, err)
	}
	return Decode(data)
}
