// Package ingest parses upload notifications off the dispatch queue.
//
// The upload path announces each stored media object at least once, in no
// particular order. Two body shapes arrive on the queue: the native
// notification JSON written by the upload API, and raw S3 event envelopes
// from bucket notification rules, where the object ETag stands in as the
// content fingerprint.
package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// UploadNotification is one upload announcement. Immutable; consumed once by
// the dispatcher (modulo queue redelivery).
type UploadNotification struct {
	ObjectKey          string `json:"objectKey"`
	ContentFingerprint string `json:"contentFingerprint"`
	ArrivalTimeMs      int64  `json:"arrivalTimeMs"`
}

// FingerprintKey derives the idempotency key identifying this physical
// artifact: objectKey + "|" + contentFingerprint.
func (n UploadNotification) FingerprintKey() string {
	return n.ObjectKey + "|" + n.ContentFingerprint
}

// Validate reports whether the notification carries both identity fields.
func (n UploadNotification) Validate() error {
	if n.ObjectKey == "" {
		return fmt.Errorf("notification missing objectKey")
	}
	if n.ContentFingerprint == "" {
		return fmt.Errorf("notification for %s missing contentFingerprint", n.ObjectKey)
	}
	return nil
}

// messageProbe sniffs which body shape a queue message carries.
type messageProbe struct {
	ObjectKey string            `json:"objectKey"`
	Records   []json.RawMessage `json:"Records"`
}

// ParseMessage decodes one SQS message body into upload notifications.
// Native bodies yield exactly one notification; S3 event envelopes yield one
// per record. Records without an ETag are rejected rather than claimed under
// an empty fingerprint.
func ParseMessage(body string) ([]UploadNotification, error) {
	var probe messageProbe
	if err := json.Unmarshal([]byte(body), &probe); err != nil {
		return nil, fmt.Errorf("decode queue message: %w", err)
	}

	if len(probe.Records) > 0 {
		return parseS3Event(body)
	}

	var n UploadNotification
	if err := json.Unmarshal([]byte(body), &n); err != nil {
		return nil, fmt.Errorf("decode upload notification: %w", err)
	}
	if n.ArrivalTimeMs == 0 {
		n.ArrivalTimeMs = time.Now().UnixMilli()
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return []UploadNotification{n}, nil
}

func parseS3Event(body string) ([]UploadNotification, error) {
	var evt events.S3Event
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return nil, fmt.Errorf("decode S3 event envelope: %w", err)
	}

	notifications := make([]UploadNotification, 0, len(evt.Records))
	for _, record := range evt.Records {
		n := UploadNotification{
			ObjectKey: record.S3.Object.Key,
			// HeadObject returns ETags quoted; event records usually do not.
			ContentFingerprint: strings.Trim(record.S3.Object.ETag, `"`),
			ArrivalTimeMs:      record.EventTime.UnixMilli(),
		}
		if n.ArrivalTimeMs <= 0 {
			n.ArrivalTimeMs = time.Now().UnixMilli()
		}
		if err := n.Validate(); err != nil {
			return nil, fmt.Errorf("S3 event record: %w", err)
		}
		notifications = append(notifications, n)
	}

	if len(notifications) == 0 {
		return nil, fmt.Errorf("S3 event envelope carried no records")
	}
	return notifications, nil
}
