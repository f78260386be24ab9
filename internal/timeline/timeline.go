// Package timeline merges independently produced media time series — diarized
// audio segments, scene-change boundaries, sampled video frames — into an
// ordered sequence of context windows that partition the media duration.
//
// All timestamps are integer stream-relative milliseconds. Producers that
// work in float seconds convert at their own boundary so that window
// assignment never depends on float comparison.
package timeline

import (
	"errors"
	"fmt"
	"sort"
)

// SpeakerUnresolved labels segments whose speaker could not be attributed.
// It is a valid, degraded value: such segments stay in the timeline.
const SpeakerUnresolved = "unresolved"

// AudioSegment is one diarized, transcribed span of the audio track.
// EndMs is exclusive and always greater than StartMs.
type AudioSegment struct {
	Speaker string `json:"speaker"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
	Text    string `json:"text,omitempty"`
}

// SceneBoundary is a scene-change instant in stream milliseconds.
type SceneBoundary int64

// VideoFrame is a detector-selected keyframe and its capture instant.
// ImageKey points at the stored JPEG for the frame.
type VideoFrame struct {
	TimestampMs int64  `json:"timestampMs"`
	ImageKey    string `json:"imageKey"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// ContextWindow is one time-bounded slice of the media: every audio segment
// overlapping [StartMs, EndMs) and every frame captured inside it. Windows
// partition [0, duration) with no gaps and no overlaps; an empty window is a
// valid output marking a silent or static interval.
type ContextWindow struct {
	StartMs  int64          `json:"startMs"`
	EndMs    int64          `json:"endMs"`
	Segments []AudioSegment `json:"segments,omitempty"`
	Frames   []VideoFrame   `json:"frames,omitempty"`
}

// ErrInvalidDuration is returned when the media duration is zero or negative.
// A zero-length timeline has no representable window partition.
var ErrInvalidDuration = errors.New("media duration must be positive")

// Synchronize builds the ordered context-window partition of [0, durationMs).
//
// Boundaries are normalized first: clamped into [0, durationMs], sorted,
// deduplicated, with 0 and durationMs always present. An empty boundary list
// therefore yields exactly one window spanning the whole duration, which is
// the degraded policy when scene detection reports nothing.
//
// Each window [lo, hi) carries every segment with StartMs < hi and EndMs > lo
// (a segment spanning a boundary appears in every window it overlaps, never
// split) and every frame with lo <= TimestampMs < hi. A frame sitting exactly
// on a boundary belongs to the later window.
func Synchronize(segments []AudioSegment, frames []VideoFrame, boundaries []SceneBoundary, durationMs int64) ([]ContextWindow, error) {
	if durationMs <= 0 {
		return nil, fmt.Errorf("%w: got %dms", ErrInvalidDuration, durationMs)
	}

	cuts := Cuts(boundaries, durationMs)

	// Clone and stable-sort the inputs so window contents are chronological
	// regardless of producer ordering, with producer order kept for ties.
	segs := make([]AudioSegment, len(segments))
	copy(segs, segments)
	sort.SliceStable(segs, func(i, j int) bool {
		if segs[i].StartMs != segs[j].StartMs {
			return segs[i].StartMs < segs[j].StartMs
		}
		return segs[i].EndMs < segs[j].EndMs
	})

	frms := make([]VideoFrame, len(frames))
	copy(frms, frames)
	sort.SliceStable(frms, func(i, j int) bool {
		return frms[i].TimestampMs < frms[j].TimestampMs
	})

	windows := make([]ContextWindow, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		lo, hi := cuts[i], cuts[i+1]
		w := ContextWindow{StartMs: lo, EndMs: hi}

		for _, s := range segs {
			if s.StartMs < hi && s.EndMs > lo {
				w.Segments = append(w.Segments, s)
			}
		}
		for _, f := range frms {
			if f.TimestampMs >= lo && f.TimestampMs < hi {
				w.Frames = append(w.Frames, f)
			}
		}

		windows = append(windows, w)
	}

	return windows, nil
}

// Cuts returns the sorted, deduplicated cut list of the window partition:
// every boundary clamped into [0, durationMs], plus the implicit 0 and
// durationMs cuts. Exported so frame sampling can target the exact windows
// Synchronize will build.
func Cuts(boundaries []SceneBoundary, durationMs int64) []int64 {
	cuts := make([]int64, 0, len(boundaries)+2)
	cuts = append(cuts, 0, durationMs)
	for _, b := range boundaries {
		v := int64(b)
		if v < 0 {
			v = 0
		}
		if v > durationMs {
			v = durationMs
		}
		cuts = append(cuts, v)
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i] < cuts[j] })

	// Dedupe in place; cuts has at least the two implicit entries.
	out := cuts[:1]
	for _, c := range cuts[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}
