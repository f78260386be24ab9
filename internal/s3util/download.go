// Package s3util provides the S3 access helpers shared by the pipeline and
// the status API: staging media downloads, artifact and frame uploads, and
// presigned read URLs.
package s3util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// DownloadToTempFile stages an S3 object into a new temp file, preserving
// the key's extension so ffprobe and ffmpeg can sniff the container. Returns
// the local path and a cleanup function that removes it.
func DownloadToTempFile(ctx context.Context, client *s3.Client, bucket, key string) (string, func(), error) {
	tmpFile, err := os.CreateTemp("", "media-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}

	start := time.Now()
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("S3 GetObject %s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	written, err := io.Copy(tmpFile, result.Body)
	if closeErr := tmpFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", nil, fmt.Errorf("stage %s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Str("localPath", tmpFile.Name()).
		Int64("bytes", written).
		Dur("elapsed", time.Since(start)).
		Msg("Object staged from S3")

	cleanup := func() { os.Remove(tmpFile.Name()) }
	return tmpFile.Name(), cleanup, nil
}

// HeadETag returns the ETag of an S3 object with surrounding quotes
// stripped. Single-part uploads make this the content MD5, which is what
// the notification path uses as the content fingerprint.
func HeadETag(ctx context.Context, client *s3.Client, bucket, key string) (string, error) {
	result, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return "", fmt.Errorf("S3 HeadObject %s/%s: %w", bucket, key, err)
	}
	if result.ETag == nil {
		return "", fmt.Errorf("S3 HeadObject %s/%s returned no ETag", bucket, key)
	}
	etag := *result.ETag
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		etag = etag[1 : len(etag)-1]
	}
	return etag, nil
}
