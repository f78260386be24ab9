package finalize

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fpang/media-recap/internal/artifact"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/store"
	"github.com/fpang/media-recap/internal/timeline"
)

const (
	testJobID = "job-finalize-1"
	testFK    = "uploads/standup.mp4|etag-1"
	testKey   = "uploads/standup.mp4"
)

func seedLiveJob(t *testing.T, mem *store.MemoryStore, status store.JobStatus) {
	t.Helper()
	ctx := context.Background()

	if err := mem.InsertClaim(ctx, &store.Claim{
		FingerprintKey: testFK,
		State:          store.ClaimClaimed,
		JobID:          testJobID,
	}); err != nil {
		t.Fatal(err)
	}
	if err := mem.CreateJob(ctx, &store.Job{
		ID:             testJobID,
		FingerprintKey: testFK,
		ObjectKey:      testKey,
		Status:         store.StatusQueued,
	}); err != nil {
		t.Fatal(err)
	}

	if err := mem.TransitionJob(ctx, testJobID, store.StatusQueued, store.StatusDispatched, ""); err != nil {
		t.Fatal(err)
	}
	if status == store.StatusProcessing {
		if err := mem.TransitionJob(ctx, testJobID, store.StatusDispatched, store.StatusProcessing, ""); err != nil {
			t.Fatal(err)
		}
	}
}

func testArtifact() *artifact.Artifact {
	return &artifact.Artifact{
		JobID:      testJobID,
		ObjectKey:  testKey,
		DurationMs: 30000,
		CreatedAt:  time.Now().UnixMilli(),
		Windows:    []timeline.ContextWindow{{StartMs: 0, EndMs: 30000}},
		Summaries:  []artifact.WindowSummary{{StartMs: 0, EndMs: 30000, Summary: "One window."}},
		Overall:    "A short clip.",
	}
}

func TestCompleteFlipsJobAndClaim(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	arts := &artifact.DirStore{Root: t.TempDir()}
	seedLiveJob(t, mem, store.StatusProcessing)

	f := New(mem, mem, arts, nil)

	resultKey, err := f.Complete(ctx, testFK, testArtifact())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resultKey != artifact.RecapKey(testJobID) {
		t.Errorf("resultKey = %q", resultKey)
	}

	job, err := mem.GetJob(ctx, testJobID)
	if err != nil || job == nil {
		t.Fatalf("GetJob: %v, %v", job, err)
	}
	if job.Status != store.StatusCompleted {
		t.Errorf("job status = %q, want completed", job.Status)
	}
	if job.ResultKey != resultKey {
		t.Errorf("job resultKey = %q, want %q", job.ResultKey, resultKey)
	}

	claim, err := mem.GetClaim(ctx, testFK)
	if err != nil || claim == nil {
		t.Fatalf("GetClaim: %v, %v", claim, err)
	}
	if claim.State != store.ClaimProcessed {
		t.Errorf("claim state = %q, want processed", claim.State)
	}
	if claim.ResultKey != resultKey {
		t.Errorf("claim resultKey = %q, want %q", claim.ResultKey, resultKey)
	}

	// The artifact must actually be readable at the recorded key.
	stored, err := arts.Load(ctx, testJobID)
	if err != nil {
		t.Fatalf("Load stored artifact: %v", err)
	}
	if stored.Overall != "A short clip." {
		t.Errorf("stored overall = %q", stored.Overall)
	}
}

type failingArtifacts struct{}

func (failingArtifacts) Save(context.Context, *artifact.Artifact) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingArtifacts) Load(context.Context, string) (*artifact.Artifact, error) {
	return nil, errors.New("bucket unavailable")
}

// A persistence failure must leave the job live and the claim claimed so the
// failure path and a later retry stay possible.
func TestCompletePersistenceFailureLeavesStateLive(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedLiveJob(t, mem, store.StatusProcessing)

	f := New(mem, mem, failingArtifacts{}, nil)

	if _, err := f.Complete(ctx, testFK, testArtifact()); err == nil {
		t.Fatal("Complete succeeded against a failing artifact store")
	}

	job, _ := mem.GetJob(ctx, testJobID)
	if job.Status != store.StatusProcessing {
		t.Errorf("job status = %q, want still processing", job.Status)
	}
	claim, _ := mem.GetClaim(ctx, testFK)
	if claim.State != store.ClaimClaimed {
		t.Errorf("claim state = %q, want still claimed", claim.State)
	}
}

func TestFailRecordsPhaseAndKeepsClaim(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedLiveJob(t, mem, store.StatusProcessing)

	f := New(mem, mem, &artifact.DirStore{Root: t.TempDir()}, nil)

	cause := &pipeline.PhaseError{Phase: pipeline.PhaseTranscribe, Err: errors.New("model unavailable")}
	if err := f.Fail(ctx, testJobID, testKey, store.StatusProcessing, cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	job, _ := mem.GetJob(ctx, testJobID)
	if job.Status != store.StatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
	if !strings.Contains(job.Error, pipeline.PhaseTranscribe) {
		t.Errorf("job error %q does not name the phase", job.Error)
	}

	claim, _ := mem.GetClaim(ctx, testFK)
	if claim.State != store.ClaimClaimed {
		t.Errorf("claim state = %q, failed jobs must stay retryable", claim.State)
	}
}

// Setup faults fail the job straight out of dispatched, before the
// processing transition ever happened.
func TestFailFromDispatched(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seedLiveJob(t, mem, store.StatusDispatched)

	f := New(mem, mem, &artifact.DirStore{Root: t.TempDir()}, nil)

	if err := f.Fail(ctx, testJobID, testKey, store.StatusDispatched, errors.New("download failed")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	job, _ := mem.GetJob(ctx, testJobID)
	if job.Status != store.StatusFailed {
		t.Errorf("job status = %q, want failed", job.Status)
	}
}

func TestFailOnTerminalJobReturnsStatusConflict(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	arts := &artifact.DirStore{Root: t.TempDir()}
	seedLiveJob(t, mem, store.StatusProcessing)

	f := New(mem, mem, arts, nil)
	if _, err := f.Complete(ctx, testFK, testArtifact()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	err := f.Fail(ctx, testJobID, testKey, store.StatusProcessing, errors.New("late failure"))
	if !errors.Is(err, store.ErrStatusConflict) {
		t.Fatalf("Fail after Complete = %v, want ErrStatusConflict", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxStoredError+100)
	got := truncate(long, maxStoredError)
	if len(got) != maxStoredError+3 {
		t.Errorf("truncated length = %d", len(got))
	}
	if truncate("short", maxStoredError) != "short" {
		t.Error("short strings must pass through")
	}
}
