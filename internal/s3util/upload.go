package s3util

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded object tagging string applied to everything
// the pipeline writes, for cost allocation.
const projectTag = "Project=media-recap"

// UploadBytes writes data to S3 under the given key with the content type
// and the project cost-allocation tag.
func UploadBytes(ctx context.Context, client *s3.Client, bucket, key string, data []byte, contentType string) error {
	tagging := projectTag
	start := time.Now()
	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		Tagging:     &tagging,
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s/%s: %w", bucket, key, err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(data)).
		Str("contentType", contentType).
		Dur("elapsed", time.Since(start)).
		Msg("Object uploaded to S3")
	return nil
}
