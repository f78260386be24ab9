// Package finalize writes the terminal state of a recap job.
//
// Completion order is load-bearing: the artifact is made durable first,
// then the job record gets its result pointer and terminal status, and the
// idempotency claim flips to processed last. A crash between the last two
// writes leaves a completed job behind a still-claimed fingerprint, which
// the dispatcher repairs on the next notification. The claim is never
// flipped before the artifact exists.
//
// Failure never touches the claim. A failed job leaves the fingerprint
// claimed so a later notification can take the claim over and retry.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/artifact"
	"github.com/fpang/media-recap/internal/events"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/store"
)

// maxStoredError caps the error text written to the job record. Phase
// errors embed tool output (ffmpeg stderr) that can run long.
const maxStoredError = 2048

// Finalizer owns every terminal job and claim write.
type Finalizer struct {
	claims    store.ClaimStore
	jobs      store.JobStore
	artifacts artifact.Store
	emitter   *events.Emitter
}

// New wires a finalizer. A nil emitter disables lifecycle events.
func New(claims store.ClaimStore, jobStore store.JobStore, artifacts artifact.Store, emitter *events.Emitter) *Finalizer {
	return &Finalizer{
		claims:    claims,
		jobs:      jobStore,
		artifacts: artifacts,
		emitter:   emitter,
	}
}

// Complete persists the artifact and flips the job and its claim to their
// terminal success states. Returns the stored result key. Any error here is
// a persistence failure: the job is still live and the caller routes the
// error through Fail.
func (f *Finalizer) Complete(ctx context.Context, fingerprintKey string, a *artifact.Artifact) (string, error) {
	start := time.Now()

	resultKey, err := f.artifacts.Save(ctx, a)
	if err != nil {
		return "", fmt.Errorf("persist artifact for job %s: %w", a.JobID, err)
	}

	if err := f.jobs.SetJobResult(ctx, a.JobID, resultKey); err != nil {
		return "", fmt.Errorf("set result on job %s: %w", a.JobID, err)
	}
	if err := f.jobs.TransitionJob(ctx, a.JobID, store.StatusProcessing, store.StatusCompleted, ""); err != nil {
		return "", fmt.Errorf("complete job %s: %w", a.JobID, err)
	}
	if err := f.claims.MarkProcessed(ctx, fingerprintKey, resultKey); err != nil {
		return "", fmt.Errorf("mark claim %s processed: %w", fingerprintKey, err)
	}

	metrics.ForOperation("Finalize").
		Count("JobsCompleted").
		Timing("CompleteLatencyMs", start).
		Property("jobId", a.JobID).
		Property("resultKey", resultKey).
		Flush()

	if err := f.emitter.JobCompleted(ctx, a.JobID, a.ObjectKey, resultKey, a.Degraded.Any()); err != nil {
		log.Warn().Err(err).Str("jobId", a.JobID).Msg("Completed event emission failed")
	}

	log.Info().
		Str("jobId", a.JobID).
		Str("fingerprintKey", fingerprintKey).
		Str("resultKey", resultKey).
		Bool("degraded", a.Degraded.Any()).
		Msg("Job completed")

	return resultKey, nil
}

// Fail moves the job from its current live status into failed, recording
// the cause. The claim is deliberately left claimed. Returns
// store.ErrStatusConflict unchanged when the job is not in the expected
// from status, so callers can tell a lost race from a storage fault.
func (f *Finalizer) Fail(ctx context.Context, jobID, objectKey string, from store.JobStatus, cause error) error {
	phase := phaseOf(cause)
	errMsg := truncate(cause.Error(), maxStoredError)

	if err := f.jobs.TransitionJob(ctx, jobID, from, store.StatusFailed, errMsg); err != nil {
		if errors.Is(err, store.ErrStatusConflict) {
			log.Warn().Str("jobId", jobID).Str("from", string(from)).Msg("Job left its expected status before failure write")
			return err
		}
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}

	metrics.ForOperation("Finalize").
		Count("JobsFailed").
		Property("jobId", jobID).
		Property("phase", phase).
		Flush()

	if err := f.emitter.JobFailed(ctx, jobID, objectKey, phase, errMsg); err != nil {
		log.Warn().Err(err).Str("jobId", jobID).Msg("Failed event emission failed")
	}

	log.Error().
		Str("jobId", jobID).
		Str("phase", phase).
		Str("error", errMsg).
		Msg("Job failed")

	return nil
}

// phaseOf extracts the failing phase identity, empty when the cause carries
// none (setup faults before any phase ran).
func phaseOf(cause error) string {
	var perr *pipeline.PhaseError
	if errors.As(cause, &perr) {
		return perr.Phase
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
