// Package artifact defines the recap result document, its compressed wire
// form, and the stores that persist it.
//
// One artifact per job, written exactly once by the finalizer. Everything a
// job produced lives under one key prefix so results can be listed, shared,
// and expired together:
//
//	recaps/{jobId}/recap.json.zst
//	recaps/{jobId}/frames/frame-{timestampMs}.jpg
package artifact

import (
	"fmt"

	"github.com/fpang/media-recap/internal/timeline"
)

// ContentType is the MIME type of the stored recap document.
const ContentType = "application/zstd"

// WindowSummary is the generated recap text for one context window.
type WindowSummary struct {
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
	Summary string `json:"summary"`
}

// Degradation records which analysis phases fell back. A degraded artifact
// is still a completed recap; consumers decide how loudly to caveat it.
type Degradation struct {
	SceneFallback     bool `json:"sceneFallback,omitempty"`
	TranscriptMissing bool `json:"transcriptMissing,omitempty"`
	FramesMissing     bool `json:"framesMissing,omitempty"`
}

// Any reports whether any phase degraded.
func (d Degradation) Any() bool {
	return d.SceneFallback || d.TranscriptMissing || d.FramesMissing
}

// Artifact is the complete recap result for one job: the ordered context
// windows with their evidence, the per-window summaries, and the overall
// recap. CreatedAt is Unix milliseconds.
type Artifact struct {
	JobID      string                   `json:"jobId"`
	ObjectKey  string                   `json:"objectKey"`
	DurationMs int64                    `json:"durationMs"`
	CreatedAt  int64                    `json:"createdAt"`
	Model      string                   `json:"model,omitempty"`
	Windows    []timeline.ContextWindow `json:"windows"`
	Summaries  []WindowSummary          `json:"summaries,omitempty"`
	Overall    string                   `json:"overall,omitempty"`
	Degraded   Degradation              `json:"degraded"`
}

// KeyPrefix is the S3 prefix holding everything a job produced.
func KeyPrefix(jobID string) string {
	return "recaps/" + jobID + "/"
}

// RecapKey is the object key of a job's recap document.
func RecapKey(jobID string) string {
	return KeyPrefix(jobID) + "recap.json.zst"
}

// FrameKey is the object key of one sampled frame, addressed by its capture
// instant. Zero-padded so keys list in stream order.
func FrameKey(jobID string, timestampMs int64) string {
	return fmt.Sprintf("%sframes/frame-%010d.jpg", KeyPrefix(jobID), timestampMs)
}
