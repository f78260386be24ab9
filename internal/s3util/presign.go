package s3util

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultPresignExpiry bounds how long a shared artifact or frame link
// stays readable.
const DefaultPresignExpiry = 15 * time.Minute

// GeneratePresignedURL creates a pre-signed GET URL for an S3 object. The
// status API hands these out for recap artifacts and frame images so the
// bucket never needs public reads.
func GeneratePresignedURL(ctx context.Context, presignClient *s3.PresignClient, bucket, key string, expiry time.Duration) (string, error) {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	result, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s/%s: %w", bucket, key, err)
	}
	return result.URL, nil
}
