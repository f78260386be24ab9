// Package store provides persistent state for upload claims and recap jobs.
// It carries the two records the dispatcher and pipeline agree through:
// the idempotency claim keyed by fingerprint, and the job record keyed by
// job ID with an append-only status history.
//
// The package uses a single-table DynamoDB design. Claims live under
// CLAIM#{fingerprintKey}/META, jobs under JOB#{jobId}/META, and history
// entries under JOB#{jobId}/HIST#{seq}. Claim and job records carry no TTL:
// the claim table is the exactly-once guarantee and must outlive any media
// lifecycle policy.
package store

import (
	"context"
	"errors"
)

// --- Claim states ---

// ClaimState is the lifecycle of an idempotency claim. The only legal
// transition is claimed to processed; a processed claim never regresses.
type ClaimState string

const (
	// ClaimClaimed marks a fingerprint owned by an in-flight or failed job.
	// Claimed is provisional: a redelivered notification may relaunch or
	// take over the claim, but never create a parallel second job.
	ClaimClaimed ClaimState = "claimed"

	// ClaimProcessed marks a fingerprint whose recap completed. Terminal.
	ClaimProcessed ClaimState = "processed"
)

// Claim is the idempotency record for one physical upload, keyed by
// fingerprint key (objectKey + "|" + contentFingerprint). JobID names the
// single job that owns the claim; ResultKey is set once processed.
type Claim struct {
	FingerprintKey string     `json:"fingerprintKey" dynamodbav:"-"` // Derived from PK
	State          ClaimState `json:"state" dynamodbav:"state"`
	JobID          string     `json:"jobId" dynamodbav:"jobId"`
	ResultKey      string     `json:"resultKey,omitempty" dynamodbav:"resultKey,omitempty"`
	ClaimedAt      int64      `json:"claimedAt" dynamodbav:"claimedAt"`
	ProcessedAt    int64      `json:"processedAt,omitempty" dynamodbav:"processedAt,omitempty"`
}

// --- Job statuses ---

// JobStatus is one state of the job machine:
// queued -> dispatched -> processing -> completed | failed.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusDispatched JobStatus = "dispatched"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions may leave this status.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal job transition.
// The dispatcher writes only queued; the executing task owns every edge
// after that. Dispatched jobs may fail directly when setup work (download,
// probe) breaks before the processing transition.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusQueued:
		return to == StatusDispatched
	case StatusDispatched:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Job is one recap attempt for a claimed upload. Timestamps are Unix
// milliseconds. Error is set only on failed jobs; ResultKey only once the
// artifact is persisted.
type Job struct {
	ID             string    `json:"jobId" dynamodbav:"-"` // Derived from PK
	FingerprintKey string    `json:"fingerprintKey" dynamodbav:"fingerprintKey"`
	ObjectKey      string    `json:"objectKey" dynamodbav:"objectKey"`
	Status         JobStatus `json:"status" dynamodbav:"status"`
	Error          string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ResultKey      string    `json:"resultKey,omitempty" dynamodbav:"resultKey,omitempty"`
	CreatedAt      int64     `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt      int64     `json:"updatedAt" dynamodbav:"updatedAt"`
}

// HistoryEntry is one recorded status transition of a job.
type HistoryEntry struct {
	Seq   int       `json:"seq" dynamodbav:"-"` // Derived from SK
	From  JobStatus `json:"from" dynamodbav:"from"`
	To    JobStatus `json:"to" dynamodbav:"to"`
	Error string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	At    int64     `json:"at" dynamodbav:"at"`
}

// --- Errors ---

var (
	// ErrClaimExists is returned by InsertClaim when the fingerprint is
	// already claimed or processed. Benign: the caller skips the upload.
	ErrClaimExists = errors.New("claim already exists")

	// ErrClaimConflict is returned by TakeOverClaim when the claim changed
	// under the caller (processed, or re-owned by another job).
	ErrClaimConflict = errors.New("claim changed concurrently")

	// ErrJobExists is returned by CreateJob when the job ID is taken.
	ErrJobExists = errors.New("job already exists")

	// ErrStatusConflict is returned by TransitionJob when the job is missing
	// or not in the expected from-status.
	ErrStatusConflict = errors.New("job status conflict")
)

// --- Store interfaces ---

// ClaimStore is the idempotency store: a durable fingerprint-to-state map
// with atomic conditional writes. The conditional insert is the only
// serialization point between concurrent notifications for one fingerprint.
//
// Get methods return (nil, nil) when the requested record does not exist.
type ClaimStore interface {
	// InsertClaim atomically creates a claim if and only if no record exists
	// for its fingerprint key. Returns ErrClaimExists otherwise.
	InsertClaim(ctx context.Context, claim *Claim) error

	// GetClaim retrieves a claim. Returns nil, nil if not found.
	GetClaim(ctx context.Context, fingerprintKey string) (*Claim, error)

	// MarkProcessed overwrites the claim to processed with the result
	// pointer. Unconditional: processed supersedes claimed, and only one
	// job per fingerprint ever reaches this call.
	MarkProcessed(ctx context.Context, fingerprintKey, resultKey string) error

	// TakeOverClaim re-owns a still-claimed record for a new job attempt.
	// Atomic on (state=claimed AND jobId=previousJobID); returns
	// ErrClaimConflict if the claim moved on.
	TakeOverClaim(ctx context.Context, fingerprintKey, previousJobID, newJobID string) error
}

// JobStore persists job records and their status history.
//
// Get methods return (nil, nil) when the requested record does not exist.
type JobStore interface {
	// CreateJob writes a new job record. Returns ErrJobExists when the ID
	// is already present.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob retrieves a job. Returns nil, nil if not found.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// TransitionJob atomically moves a job from one status to another and
	// appends a history entry. errMsg is stored on the job for transitions
	// into failed. Returns ErrStatusConflict when the job is not currently
	// in the from status, which also defuses duplicate launches of the
	// same job ID racing on queued -> dispatched.
	TransitionJob(ctx context.Context, jobID string, from, to JobStatus, errMsg string) error

	// SetJobResult records the persisted artifact key on the job.
	SetJobResult(ctx context.Context, jobID, resultKey string) error

	// GetJobHistory returns the job's transitions in append order.
	GetJobHistory(ctx context.Context, jobID string) ([]HistoryEntry, error)
}
