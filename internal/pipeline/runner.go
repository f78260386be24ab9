package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/timeline"
)

// Runner fans the analysis phases out over one staged media file and joins
// their outputs into context windows.
type Runner struct {
	transcriber Transcriber
	scenes      SceneDetector
	frames      FrameSampler

	// transcriptOptional downgrades transcription failures from fatal to
	// degraded. Off by default; enabled per deployment via
	// RECAP_TRANSCRIPT_OPTIONAL for corpora where silent footage is normal.
	transcriptOptional bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithOptionalTranscript makes transcription failures degrade the recap
// instead of failing the job.
func WithOptionalTranscript() Option {
	return func(r *Runner) { r.transcriptOptional = true }
}

// TranscriptOptionalFromEnv reads the RECAP_TRANSCRIPT_OPTIONAL deployment
// switch. Anything other than "true"/"1" keeps transcription mandatory.
func TranscriptOptionalFromEnv() bool {
	v := os.Getenv("RECAP_TRANSCRIPT_OPTIONAL")
	return v == "true" || v == "1"
}

// NewRunner wires the three analysis phases.
func NewRunner(t Transcriber, s SceneDetector, f FrameSampler, opts ...Option) *Runner {
	r := &Runner{transcriber: t, scenes: s, frames: f}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeline is the joined result of the analysis phases.
type Timeline struct {
	Windows []timeline.ContextWindow

	// SceneFallback is set when scene detection failed and the whole
	// duration became a single window.
	SceneFallback bool
	// TranscriptDegraded is set when transcription failed but the run was
	// configured to tolerate it. The windows then carry no segments.
	TranscriptDegraded bool
	// FramesDegraded is set when frame sampling failed. The windows then
	// carry no frames.
	FramesDegraded bool
}

// Degraded reports whether any phase fell back.
func (t *Timeline) Degraded() bool {
	return t.SceneFallback || t.TranscriptDegraded || t.FramesDegraded
}

// BuildTimeline runs transcription concurrently with scene detection and
// frame sampling, joins both arms, applies the failure policy, and cuts the
// joined outputs into context windows.
//
// A transcription error is fatal unless the runner tolerates it. Scene and
// frame errors are logged and degrade the result. The returned error, when
// non-nil, is always a *PhaseError naming the phase that sank the job.
func (r *Runner) BuildTimeline(ctx context.Context, media Media) (*Timeline, error) {
	logger := log.With().Str("jobId", media.JobID).Str("objectKey", media.ObjectKey).Logger()
	rec := metrics.ForOperation("Pipeline").Property("jobId", media.JobID)
	defer rec.Flush()

	var (
		wg sync.WaitGroup

		segments      []timeline.AudioSegment
		transcribeErr error
		transcribeMs  int64

		boundaries []timeline.SceneBoundary
		frames     []timeline.VideoFrame
		scenesErr  error
		framesErr  error
		scenesMs   int64
		framesMs   int64
	)

	// The recorder is not goroutine-safe, so each arm measures into its own
	// variables and the timings are recorded after the join.
	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		segments, transcribeErr = r.transcriber.Transcribe(ctx, media)
		transcribeMs = time.Since(start).Milliseconds()
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		boundaries, scenesErr = r.scenes.DetectScenes(ctx, media)
		scenesMs = time.Since(start).Milliseconds()
		if scenesErr != nil {
			return
		}
		start = time.Now()
		frames, framesErr = r.frames.SampleFrames(ctx, media, boundaries)
		framesMs = time.Since(start).Milliseconds()
	}()
	wg.Wait()

	rec.Metric("TranscribeLatencyMs", float64(transcribeMs), metrics.UnitMilliseconds)
	rec.Metric("SceneDetectLatencyMs", float64(scenesMs), metrics.UnitMilliseconds)

	result := &Timeline{}

	if transcribeErr != nil {
		if !r.transcriptOptional {
			rec.Count("MandatoryPhaseFailure")
			return nil, wrapPhase(PhaseTranscribe, transcribeErr)
		}
		logger.Warn().Err(transcribeErr).Msg("Transcription failed, continuing without transcript")
		rec.Count("TranscriptDegraded")
		segments = nil
		result.TranscriptDegraded = true
	}

	if scenesErr != nil {
		logger.Warn().Err(scenesErr).Msg("Scene detection failed, falling back to a single window")
		rec.Count("SceneFallback")
		boundaries = nil
		result.SceneFallback = true

		// Frames never ran on the degraded arm. Sample against the
		// whole-duration window so the recap still gets visuals.
		start := time.Now()
		frames, framesErr = r.frames.SampleFrames(ctx, media, nil)
		framesMs = time.Since(start).Milliseconds()
	}
	rec.Metric("FrameSampleLatencyMs", float64(framesMs), metrics.UnitMilliseconds)

	if framesErr != nil {
		logger.Warn().Err(framesErr).Msg("Frame sampling failed, continuing without frames")
		rec.Count("FramesDegraded")
		frames = nil
		result.FramesDegraded = true
	}

	windows, err := timeline.Synchronize(segments, frames, boundaries, media.DurationMs)
	if err != nil {
		return nil, wrapPhase(PhaseSynchronize, err)
	}
	result.Windows = windows

	logger.Info().
		Int("windows", len(windows)).
		Int("segments", len(segments)).
		Int("frames", len(frames)).
		Bool("degraded", result.Degraded()).
		Msg("Timeline built")
	rec.Count("TimelineBuilt")
	return result, nil
}
