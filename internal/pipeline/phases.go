// Package pipeline runs the analysis phases for one claimed job and joins
// their outputs into the context-window timeline.
//
// Transcription is mandatory: its failure fails the whole job. Scene
// detection and frame sampling are granularity and enrichment; their
// failures degrade the output instead of failing it. The asymmetry is
// deliberate: losing scene cuts costs chunking quality, losing the
// transcript costs the meaning of the recap.
package pipeline

import (
	"context"
	"fmt"

	"github.com/fpang/media-recap/internal/timeline"
)

// Phase names used for error attribution and metrics dimensions.
const (
	PhaseProbe       = "probe"
	PhaseTranscribe  = "transcription"
	PhaseScenes      = "sceneDetection"
	PhaseFrames      = "frameSampling"
	PhaseSynchronize = "synchronization"
	PhaseSummarize   = "summarization"
	PhaseFinalize    = "finalization"
)

// PhaseError carries the identity of the phase that failed so the failure
// policy and the stored job error can dispatch on it.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// wrapPhase attaches phase identity to err. Returns nil for nil err.
func wrapPhase(phase string, err error) error {
	if err == nil {
		return nil
	}
	return &PhaseError{Phase: phase, Err: err}
}

// Media is one staged input: the local copy of the uploaded object plus the
// probe results the phases need. HasVideo and HasAudio let the visual and
// audio phases skip cleanly on single-track media instead of failing into
// the degradation path.
type Media struct {
	JobID      string
	ObjectKey  string
	Path       string
	DurationMs int64
	HasVideo   bool
	HasAudio   bool
}

// Transcriber converts the audio track into diarized, transcribed segments.
type Transcriber interface {
	Transcribe(ctx context.Context, media Media) ([]timeline.AudioSegment, error)
}

// SceneDetector finds scene-change instants. An empty result with a nil
// error is valid and means one whole-duration window downstream.
type SceneDetector interface {
	DetectScenes(ctx context.Context, media Media) ([]timeline.SceneBoundary, error)
}

// FrameSampler picks representative keyframes, guided by scene boundaries
// when available.
type FrameSampler interface {
	SampleFrames(ctx context.Context, media Media, boundaries []timeline.SceneBoundary) ([]timeline.VideoFrame, error)
}

// Summarizer generates one recap text per context window.
type Summarizer interface {
	Summarize(ctx context.Context, media Media, windows []timeline.ContextWindow) ([]string, error)
}
