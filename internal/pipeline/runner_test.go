package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fpang/media-recap/internal/timeline"
)

// --- Phase fakes ---

type fakeTranscriber struct {
	segments []timeline.AudioSegment
	err      error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ Media) ([]timeline.AudioSegment, error) {
	return f.segments, f.err
}

type fakeSceneDetector struct {
	boundaries []timeline.SceneBoundary
	err        error
}

func (f *fakeSceneDetector) DetectScenes(_ context.Context, _ Media) ([]timeline.SceneBoundary, error) {
	return f.boundaries, f.err
}

type fakeFrameSampler struct {
	mu     sync.Mutex
	frames []timeline.VideoFrame
	err    error
	seen   [][]timeline.SceneBoundary
}

func (f *fakeFrameSampler) SampleFrames(_ context.Context, _ Media, boundaries []timeline.SceneBoundary) ([]timeline.VideoFrame, error) {
	f.mu.Lock()
	f.seen = append(f.seen, boundaries)
	f.mu.Unlock()
	return f.frames, f.err
}

func (f *fakeFrameSampler) calls() [][]timeline.SceneBoundary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

func testMedia() Media {
	return Media{
		JobID:      "job-test",
		ObjectKey:  "uploads/episode.mp4",
		Path:       "/tmp/episode.mp4",
		DurationMs: 20_000,
		HasAudio:   true,
	}
}

// --- Tests ---

func TestBuildTimeline_HappyPath(t *testing.T) {
	transcriber := &fakeTranscriber{segments: []timeline.AudioSegment{
		{Speaker: "S1", StartMs: 1_000, EndMs: 4_000, Text: "hello"},
		{Speaker: "S2", StartMs: 12_000, EndMs: 15_000, Text: "world"},
	}}
	scenes := &fakeSceneDetector{boundaries: []timeline.SceneBoundary{10_000}}
	frames := &fakeFrameSampler{frames: []timeline.VideoFrame{
		{TimestampMs: 5_000, ImageKey: "frames/a.jpg"},
		{TimestampMs: 15_000, ImageKey: "frames/b.jpg"},
	}}

	runner := NewRunner(transcriber, scenes, frames)
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	if result.Degraded() {
		t.Errorf("result degraded: %+v", result)
	}
	if len(result.Windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(result.Windows))
	}
	first, second := result.Windows[0], result.Windows[1]
	if len(first.Segments) != 1 || first.Segments[0].Text != "hello" {
		t.Errorf("first window segments = %+v", first.Segments)
	}
	if len(second.Segments) != 1 || second.Segments[0].Text != "world" {
		t.Errorf("second window segments = %+v", second.Segments)
	}
	if len(first.Frames) != 1 || first.Frames[0].ImageKey != "frames/a.jpg" {
		t.Errorf("first window frames = %+v", first.Frames)
	}
	if len(second.Frames) != 1 || second.Frames[0].ImageKey != "frames/b.jpg" {
		t.Errorf("second window frames = %+v", second.Frames)
	}
	if got := frames.calls(); len(got) != 1 {
		t.Errorf("frame sampler called %d times, want 1", len(got))
	}
}

func TestBuildTimeline_TranscriptionFailureIsFatal(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("no audio stream")}
	scenes := &fakeSceneDetector{boundaries: []timeline.SceneBoundary{10_000}}
	frames := &fakeFrameSampler{}

	runner := NewRunner(transcriber, scenes, frames)
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err == nil {
		t.Fatal("expected error for mandatory phase failure")
	}
	if result != nil {
		t.Errorf("expected nil result, got %+v", result)
	}
	var pe *PhaseError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a *PhaseError", err)
	}
	if pe.Phase != PhaseTranscribe {
		t.Errorf("phase = %q, want %q", pe.Phase, PhaseTranscribe)
	}
}

func TestBuildTimeline_TranscriptionOptional(t *testing.T) {
	transcriber := &fakeTranscriber{err: errors.New("no audio stream")}
	scenes := &fakeSceneDetector{boundaries: []timeline.SceneBoundary{10_000}}
	frames := &fakeFrameSampler{frames: []timeline.VideoFrame{
		{TimestampMs: 5_000, ImageKey: "frames/a.jpg"},
	}}

	runner := NewRunner(transcriber, scenes, frames, WithOptionalTranscript())
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	if !result.TranscriptDegraded {
		t.Error("expected TranscriptDegraded")
	}
	if len(result.Windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(result.Windows))
	}
	for i, w := range result.Windows {
		if len(w.Segments) != 0 {
			t.Errorf("window %d has %d segments, want 0", i, len(w.Segments))
		}
	}
	if len(result.Windows[0].Frames) != 1 {
		t.Errorf("frames missing from degraded timeline: %+v", result.Windows[0])
	}
}

func TestBuildTimeline_SceneFailureFallsBack(t *testing.T) {
	transcriber := &fakeTranscriber{segments: []timeline.AudioSegment{
		{Speaker: "S1", StartMs: 1_000, EndMs: 4_000, Text: "hello"},
	}}
	scenes := &fakeSceneDetector{err: errors.New("ffmpeg exited 1")}
	frames := &fakeFrameSampler{frames: []timeline.VideoFrame{
		{TimestampMs: 10_000, ImageKey: "frames/mid.jpg"},
	}}

	runner := NewRunner(transcriber, scenes, frames)
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	if !result.SceneFallback {
		t.Error("expected SceneFallback")
	}
	if len(result.Windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(result.Windows))
	}
	w := result.Windows[0]
	if w.StartMs != 0 || w.EndMs != 20_000 {
		t.Errorf("fallback window = [%d,%d), want [0,20000)", w.StartMs, w.EndMs)
	}
	if len(w.Segments) != 1 || len(w.Frames) != 1 {
		t.Errorf("fallback window lost content: %+v", w)
	}

	calls := frames.calls()
	if len(calls) != 1 {
		t.Fatalf("frame sampler called %d times, want 1", len(calls))
	}
	if calls[0] != nil {
		t.Errorf("fallback sampling got boundaries %v, want nil", calls[0])
	}
}

func TestBuildTimeline_FrameFailureDegrades(t *testing.T) {
	transcriber := &fakeTranscriber{segments: []timeline.AudioSegment{
		{Speaker: "S1", StartMs: 1_000, EndMs: 4_000, Text: "hello"},
	}}
	scenes := &fakeSceneDetector{boundaries: []timeline.SceneBoundary{10_000}}
	frames := &fakeFrameSampler{err: errors.New("thumbnail encode failed")}

	runner := NewRunner(transcriber, scenes, frames)
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	if !result.FramesDegraded {
		t.Error("expected FramesDegraded")
	}
	if result.SceneFallback {
		t.Error("scene fallback should not trip on frame failure")
	}
	if len(result.Windows) != 2 {
		t.Fatalf("got %d windows, want 2", len(result.Windows))
	}
	for i, w := range result.Windows {
		if len(w.Frames) != 0 {
			t.Errorf("window %d has %d frames, want 0", i, len(w.Frames))
		}
	}
	if len(result.Windows[0].Segments) != 1 {
		t.Error("segments lost on frame degradation")
	}
}

func TestBuildTimeline_SceneAndFrameBothFail(t *testing.T) {
	transcriber := &fakeTranscriber{segments: []timeline.AudioSegment{
		{Speaker: "S1", StartMs: 1_000, EndMs: 4_000, Text: "hello"},
	}}
	scenes := &fakeSceneDetector{err: errors.New("ffmpeg exited 1")}
	frames := &fakeFrameSampler{err: errors.New("no keyframes")}

	runner := NewRunner(transcriber, scenes, frames)
	result, err := runner.BuildTimeline(context.Background(), testMedia())
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	if !result.SceneFallback || !result.FramesDegraded {
		t.Errorf("flags = %+v, want both scene and frame degradation", result)
	}
	if len(result.Windows) != 1 || len(result.Windows[0].Segments) != 1 {
		t.Errorf("degraded timeline = %+v", result.Windows)
	}
}

func TestBuildTimeline_InvalidDuration(t *testing.T) {
	runner := NewRunner(&fakeTranscriber{}, &fakeSceneDetector{}, &fakeFrameSampler{})
	media := testMedia()
	media.DurationMs = 0

	_, err := runner.BuildTimeline(context.Background(), media)
	if !errors.Is(err, timeline.ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != PhaseSynchronize {
		t.Errorf("err = %v, want synchronization phase error", err)
	}
}

func TestPhaseError_Message(t *testing.T) {
	err := wrapPhase(PhaseTranscribe, errors.New("boom"))
	if got, want := err.Error(), "transcription failed: boom"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if wrapPhase(PhaseTranscribe, nil) != nil {
		t.Error("wrapPhase(nil) should be nil")
	}
}

func TestTranscriptOptionalFromEnv(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"false", false},
		{"0", false},
		{"true", true},
		{"1", true},
	}
	for _, tc := range cases {
		t.Run("value="+tc.value, func(t *testing.T) {
			t.Setenv("RECAP_TRANSCRIPT_OPTIONAL", tc.value)
			if got := TranscriptOptionalFromEnv(); got != tc.want {
				t.Errorf("TranscriptOptionalFromEnv() = %v, want %v", got, tc.want)
			}
		})
	}
}
