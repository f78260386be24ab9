// Package dispatch turns at-least-once upload notifications into at-most-one
// active recap job per physical artifact.
//
// The conditional claim insert is the sole serialization point between
// notifications racing on one fingerprint: whoever wins the insert owns the
// job. Redeliveries resolve against the claim and the owning job record, so
// a launch that was never acknowledged is retried with the same job ID while
// live or completed work is skipped. Per-job single execution is enforced by
// the queued -> dispatched conditional transition inside the pipeline task,
// not by the launcher.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/ingest"
	"github.com/fpang/media-recap/internal/jobs"
	"github.com/fpang/media-recap/internal/launch"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/store"
)

// Outcome is the dispatcher's verdict on one notification.
type Outcome string

const (
	// OutcomeDispatched means a pipeline execution was launched (fresh claim
	// or legitimate relaunch). The notification may be acknowledged.
	OutcomeDispatched Outcome = "dispatched"

	// OutcomeSkipped means the fingerprint is already owned or done. Benign;
	// the notification may be acknowledged.
	OutcomeSkipped Outcome = "skipped"

	// OutcomeFailed means a transient failure (storage or launch). The
	// notification must stay on the queue for redelivery.
	OutcomeFailed Outcome = "failed"
)

// Dispatcher consumes upload notifications, claims fingerprints, creates job
// records, and launches pipeline executions.
type Dispatcher struct {
	claims   store.ClaimStore
	jobs     store.JobStore
	launcher launch.Launcher
}

// New creates a Dispatcher over the given stores and launcher.
func New(claims store.ClaimStore, jobStore store.JobStore, launcher launch.Launcher) *Dispatcher {
	return &Dispatcher{
		claims:   claims,
		jobs:     jobStore,
		launcher: launcher,
	}
}

// Handle processes one notification. OutcomeFailed always carries an error;
// the other outcomes never do.
func (d *Dispatcher) Handle(ctx context.Context, n ingest.UploadNotification) (Outcome, error) {
	start := time.Now()
	fk := n.FingerprintKey()

	outcome, err := d.handle(ctx, n, fk)

	rec := metrics.ForOperation("Dispatch").
		Count(metricName(outcome)).
		Timing("HandleLatencyMs", start).
		Property("fingerprintKey", fk)
	if err != nil {
		rec.Property("error", err.Error())
	}
	rec.Flush()

	return outcome, err
}

func (d *Dispatcher) handle(ctx context.Context, n ingest.UploadNotification, fk string) (Outcome, error) {
	jobID := jobs.GenerateID("job-")

	err := d.claims.InsertClaim(ctx, &store.Claim{
		FingerprintKey: fk,
		State:          store.ClaimClaimed,
		JobID:          jobID,
	})
	switch {
	case err == nil:
		return d.createAndLaunch(ctx, jobID, fk, n.ObjectKey)
	case errors.Is(err, store.ErrClaimExists):
		return d.resolveExisting(ctx, fk, n.ObjectKey)
	default:
		return OutcomeFailed, fmt.Errorf("claim %s: %w", fk, err)
	}
}

// createAndLaunch writes the queued job record and fires the launcher.
// Any failure leaves the claim in place; the unacknowledged notification
// comes back and resolveExisting picks the attempt up where it stopped.
func (d *Dispatcher) createAndLaunch(ctx context.Context, jobID, fk, objectKey string) (Outcome, error) {
	job := &store.Job{
		ID:             jobID,
		FingerprintKey: fk,
		ObjectKey:      objectKey,
		Status:         store.StatusQueued,
	}
	if err := d.jobs.CreateJob(ctx, job); err != nil && !errors.Is(err, store.ErrJobExists) {
		return OutcomeFailed, fmt.Errorf("create job %s: %w", jobID, err)
	}

	return d.launchJob(ctx, jobID, fk, objectKey)
}

func (d *Dispatcher) launchJob(ctx context.Context, jobID, fk, objectKey string) (Outcome, error) {
	err := d.launcher.Launch(ctx, launch.Params{
		JobID:          jobID,
		ObjectKey:      objectKey,
		FingerprintKey: fk,
	})
	if err != nil {
		return OutcomeFailed, fmt.Errorf("launch job %s: %w", jobID, err)
	}

	log.Info().
		Str("jobId", jobID).
		Str("objectKey", objectKey).
		Str("fingerprintKey", fk).
		Msg("Job dispatched")
	return OutcomeDispatched, nil
}

// resolveExisting decides what a redelivered (or racing) notification means
// given the current claim and the job that owns it.
func (d *Dispatcher) resolveExisting(ctx context.Context, fk, objectKey string) (Outcome, error) {
	claim, err := d.claims.GetClaim(ctx, fk)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read claim %s: %w", fk, err)
	}
	if claim == nil {
		// Insert said the claim exists but the read missed it. Claims are
		// never deleted, so this is a storage consistency blip; retry later.
		return OutcomeFailed, fmt.Errorf("claim %s reported existing but not readable", fk)
	}

	if claim.State == store.ClaimProcessed {
		log.Debug().Str("fingerprintKey", fk).Str("resultKey", claim.ResultKey).Msg("Fingerprint already processed, skipping")
		return OutcomeSkipped, nil
	}

	job, err := d.jobs.GetJob(ctx, claim.JobID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("read job %s for claim %s: %w", claim.JobID, fk, err)
	}

	switch {
	case job == nil:
		// Claimed, but the owner crashed before writing its job record.
		// The claim is the durable intent; finish the interrupted attempt.
		log.Info().Str("jobId", claim.JobID).Str("fingerprintKey", fk).Msg("Claim without job record, completing interrupted dispatch")
		return d.createAndLaunch(ctx, claim.JobID, fk, objectKey)

	case job.Status == store.StatusQueued:
		// Launched never happened or was never acknowledged. Relaunching the
		// same job ID is safe: the pipeline's conditional queued ->
		// dispatched transition lets only one execution proceed.
		log.Info().Str("jobId", job.ID).Str("fingerprintKey", fk).Msg("Job still queued, relaunching")
		return d.launchJob(ctx, job.ID, fk, objectKey)

	case job.Status == store.StatusDispatched || job.Status == store.StatusProcessing:
		log.Debug().Str("jobId", job.ID).Str("status", string(job.Status)).Msg("Job already running, skipping")
		return OutcomeSkipped, nil

	case job.Status == store.StatusCompleted:
		// The pipeline finished but died before flipping the claim. Repair
		// so later notifications short-circuit on the claim alone.
		if err := d.claims.MarkProcessed(ctx, fk, job.ResultKey); err != nil {
			return OutcomeFailed, fmt.Errorf("repair processed claim %s: %w", fk, err)
		}
		log.Info().Str("jobId", job.ID).Str("fingerprintKey", fk).Msg("Repaired claim for completed job, skipping")
		return OutcomeSkipped, nil

	case job.Status == store.StatusFailed:
		return d.retryFailed(ctx, claim, fk, objectKey)

	default:
		return OutcomeFailed, fmt.Errorf("job %s in unknown status %q", job.ID, job.Status)
	}
}

// retryFailed starts a fresh attempt for a fingerprint whose previous job
// failed. The takeover is conditional on the claim still naming the failed
// job, so concurrent retries elect exactly one new owner.
func (d *Dispatcher) retryFailed(ctx context.Context, claim *store.Claim, fk, objectKey string) (Outcome, error) {
	newJobID := jobs.GenerateID("job-")

	err := d.claims.TakeOverClaim(ctx, fk, claim.JobID, newJobID)
	switch {
	case errors.Is(err, store.ErrClaimConflict):
		log.Debug().Str("fingerprintKey", fk).Msg("Claim takeover lost to a concurrent retry, skipping")
		return OutcomeSkipped, nil
	case err != nil:
		return OutcomeFailed, fmt.Errorf("take over claim %s: %w", fk, err)
	}

	log.Info().
		Str("fingerprintKey", fk).
		Str("failedJobId", claim.JobID).
		Str("jobId", newJobID).
		Msg("Retrying failed job under new job ID")
	return d.createAndLaunch(ctx, newJobID, fk, objectKey)
}

func metricName(o Outcome) string {
	switch o {
	case OutcomeDispatched:
		return "Dispatched"
	case OutcomeSkipped:
		return "Skipped"
	default:
		return "Failed"
	}
}
