// Package frames samples one representative keyframe per context window.
//
// The sampler seeks to each window's midpoint, extracts a single high
// quality JPEG with ffmpeg, downscales it, and stores it under the job's
// artifact prefix. The midpoints come from the same cut list the timeline
// builds, so a successful sample always lands inside the window it
// represents.
package frames

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/media-recap/internal/artifact"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/timeline"
)

const (
	// FrameJPEGQuality is ffmpeg's qscale for extracted frames. 2 is high
	// quality (~95% JPEG); the visible loss happens in the downscale, not
	// the extraction.
	FrameJPEGQuality = 2

	// MaxFrameDimension bounds the longer edge of stored frames. Summaries
	// read frames at thumbnail scale; full 4K keyframes only slow the
	// model upload down.
	MaxFrameDimension = 1024

	// encodeQuality is the JPEG quality of the stored, downscaled frame.
	encodeQuality = 80

	// MaxFrames caps samples per job. Windows beyond the cap go without a
	// frame, which the timeline treats as a valid empty visual.
	MaxFrames = 256
)

// Sampler extracts and stores one keyframe per window interval.
type Sampler struct {
	sink Sink
}

var _ pipeline.FrameSampler = (*Sampler)(nil)

// NewSampler builds a sampler storing frames in the given sink.
func NewSampler(sink Sink) *Sampler {
	return &Sampler{sink: sink}
}

// SampleFrames extracts one frame per window of the partition the given
// boundaries produce. Audio-only media samples nothing and returns nil, nil.
// Individual frame failures are skipped; the phase fails only when every
// attempted sample failed.
func (s *Sampler) SampleFrames(ctx context.Context, media pipeline.Media, boundaries []timeline.SceneBoundary) ([]timeline.VideoFrame, error) {
	if !media.HasVideo {
		log.Debug().Str("jobId", media.JobID).Msg("No video track, skipping frame sampling")
		return nil, nil
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	midpoints := Midpoints(boundaries, media.DurationMs)
	if len(midpoints) > MaxFrames {
		log.Warn().
			Str("jobId", media.JobID).
			Int("windows", len(midpoints)).
			Int("cap", MaxFrames).
			Msg("Window count exceeds frame cap, sampling a subset")
		midpoints = thinMidpoints(midpoints, MaxFrames)
	}

	start := time.Now()
	var frames []timeline.VideoFrame
	var failures int
	for _, mid := range midpoints {
		frame, err := s.sampleOne(ctx, ffmpegPath, media, mid)
		if err != nil {
			failures++
			log.Warn().
				Err(err).
				Str("jobId", media.JobID).
				Int64("timestampMs", mid).
				Msg("Frame sample failed, skipping")
			continue
		}
		frames = append(frames, frame)
	}

	metrics.ForOperation("FrameSample").
		Metric("FramesSampled", float64(len(frames)), metrics.UnitCount).
		Metric("FrameFailures", float64(failures), metrics.UnitCount).
		Metric("FrameSampleMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Property("jobId", media.JobID).
		Flush()

	if len(frames) == 0 && len(midpoints) > 0 {
		return nil, fmt.Errorf("all %d frame samples failed", len(midpoints))
	}

	log.Info().
		Str("jobId", media.JobID).
		Int("frames", len(frames)).
		Int("failures", failures).
		Msg("Frame sampling complete")
	return frames, nil
}

// sampleOne extracts, downscales, and stores the frame at timestampMs.
func (s *Sampler) sampleOne(ctx context.Context, ffmpegPath string, media pipeline.Media, timestampMs int64) (timeline.VideoFrame, error) {
	var zero timeline.VideoFrame

	tmpFile, err := os.CreateTemp("", "frame-*.jpg")
	if err != nil {
		return zero, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	// -ss before -i seeks on the demuxer, which is what makes per-frame
	// extraction viable on hour-long inputs.
	args := []string{
		"-y",
		"-v", "error",
		"-ss", formatSeconds(timestampMs),
		"-i", media.Path,
		"-frames:v", "1",
		"-qscale:v", strconv.Itoa(FrameJPEGQuality),
		tmpPath,
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return zero, fmt.Errorf("ffmpeg frame extraction: %w (output: %s)", err, string(output))
	}

	raw, err := os.ReadFile(tmpPath)
	if err != nil {
		return zero, fmt.Errorf("read extracted frame: %w", err)
	}
	if len(raw) == 0 {
		return zero, fmt.Errorf("extraction produced an empty frame at %dms", timestampMs)
	}

	data, width, height, err := downscaleJPEG(raw, MaxFrameDimension)
	if err != nil {
		return zero, fmt.Errorf("downscale frame at %dms: %w", timestampMs, err)
	}

	key := artifact.FrameKey(media.JobID, timestampMs)
	if err := s.sink.Store(ctx, key, data, "image/jpeg"); err != nil {
		return zero, fmt.Errorf("store frame %s: %w", key, err)
	}

	return timeline.VideoFrame{
		TimestampMs: timestampMs,
		ImageKey:    key,
		Width:       width,
		Height:      height,
	}, nil
}

// Midpoints returns the midpoint instant of each window in the partition
// the boundaries produce over [0, durationMs). Non-positive durations yield
// nothing.
func Midpoints(boundaries []timeline.SceneBoundary, durationMs int64) []int64 {
	if durationMs <= 0 {
		return nil
	}
	cuts := timeline.Cuts(boundaries, durationMs)
	mids := make([]int64, 0, len(cuts)-1)
	for i := 0; i+1 < len(cuts); i++ {
		mids = append(mids, cuts[i]+(cuts[i+1]-cuts[i])/2)
	}
	return mids
}

// thinMidpoints keeps an evenly spread subset of at most max midpoints.
func thinMidpoints(mids []int64, max int) []int64 {
	if len(mids) <= max {
		return mids
	}
	out := make([]int64, 0, max)
	for i := 0; i < max; i++ {
		out = append(out, mids[i*len(mids)/max])
	}
	return out
}

// downscaleJPEG re-encodes raw so its longer edge is at most maxDim,
// preserving aspect ratio. Returns the encoded bytes and final dimensions.
func downscaleJPEG(raw []byte, maxDim int) ([]byte, int, int, error) {
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	width, height := frameDimensions(bounds.Dx(), bounds.Dy(), maxDim)

	if width != bounds.Dx() || height != bounds.Dy() {
		resized := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		img = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: encodeQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// frameDimensions scales (width, height) so the longer edge fits maxDim,
// preserving aspect ratio. Smaller images pass through unchanged.
func frameDimensions(width, height, maxDim int) (int, int) {
	if width <= maxDim && height <= maxDim {
		return width, height
	}
	if width > height {
		return maxDim, int(float64(height) * float64(maxDim) / float64(width))
	}
	return int(float64(width) * float64(maxDim) / float64(height)), maxDim
}

// formatSeconds renders a millisecond instant as ffmpeg's seconds syntax.
func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
