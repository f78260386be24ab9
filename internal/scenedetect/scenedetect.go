// Package scenedetect finds scene-change instants in a video track using
// ffmpeg's scene filter. The boundaries cut the media into context windows;
// finding none is a valid result and collapses the recap into one window.
package scenedetect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/timeline"
)

// DefaultThreshold is the scene filter score above which a frame counts as
// a cut. 0.4 catches hard cuts in screen shares and camera switches without
// firing on speaker movement.
const DefaultThreshold = 0.4

// MaxBoundaries caps the number of cuts one job will honor. Slideshows and
// strobe-heavy footage can fire the filter thousands of times; past the cap
// the extra cuts add windows without adding recap value.
const MaxBoundaries = 512

// showinfo writes one line per selected frame to stderr, e.g.
// [Parsed_showinfo_1 @ 0x5598] n:   0 pts:  90090 pts_time:3.003 ...
var ptsTimeRe = regexp.MustCompile(`pts_time:\s*([0-9]+(?:\.[0-9]+)?)`)

// Detector runs the ffmpeg scene filter over a staged media file.
type Detector struct {
	threshold float64
}

var _ pipeline.SceneDetector = (*Detector)(nil)

// NewDetector builds a detector with the given cut threshold; values outside
// (0, 1) fall back to DefaultThreshold.
func NewDetector(threshold float64) *Detector {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// ThresholdFromEnv reads the RECAP_SCENE_THRESHOLD override, returning
// DefaultThreshold when unset or unparseable.
func ThresholdFromEnv() float64 {
	v := os.Getenv("RECAP_SCENE_THRESHOLD")
	if v == "" {
		return DefaultThreshold
	}
	t, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("value", v).Msg("Unparseable RECAP_SCENE_THRESHOLD, using default")
		return DefaultThreshold
	}
	return t
}

// DetectScenes returns the cut instants of the media's video track in
// stream milliseconds, ascending. Audio-only media yields no boundaries
// and no error.
func (d *Detector) DetectScenes(ctx context.Context, media pipeline.Media) ([]timeline.SceneBoundary, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	filter := fmt.Sprintf("select='gt(scene,%g)',showinfo", d.threshold)
	args := []string{
		"-v", "info",
		"-i", media.Path,
		"-vf", filter,
		"-an",
		"-f", "null",
		"-",
	}

	log.Debug().
		Str("jobId", media.JobID).
		Str("filter", filter).
		Msg("Running scene detection")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	// All filter output lands on stderr together with ffmpeg's own chatter.
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection failed: %w (output: %s)",
			err, tail(string(output), 512))
	}

	boundaries := ParseShowinfo(strings.NewReader(string(output)))

	if len(boundaries) > MaxBoundaries {
		log.Warn().
			Str("jobId", media.JobID).
			Int("detected", len(boundaries)).
			Int("cap", MaxBoundaries).
			Msg("Scene cut count exceeds cap, truncating")
		boundaries = boundaries[:MaxBoundaries]
	}

	log.Info().
		Str("jobId", media.JobID).
		Int("boundaries", len(boundaries)).
		Dur("elapsed", elapsed).
		Msg("Scene detection complete")

	metrics.ForOperation("SceneDetect").
		Metric("SceneFilterMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("SceneBoundaries", float64(len(boundaries)), metrics.UnitCount).
		Property("jobId", media.JobID).
		Flush()

	return boundaries, nil
}

// ParseShowinfo extracts pts_time values from ffmpeg showinfo output and
// converts them to millisecond boundaries, preserving stream order.
func ParseShowinfo(r io.Reader) []timeline.SceneBoundary {
	var boundaries []timeline.SceneBoundary

	scanner := bufio.NewScanner(r)
	// Frame lines can exceed bufio's default token size on long filter
	// chains.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "Parsed_showinfo") {
			continue
		}
		m := ptsTimeRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		sec, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		boundaries = append(boundaries, timeline.SceneBoundary(int64(math.Round(sec*1000))))
	}

	return boundaries
}

// tail returns at most the last n bytes of s for error context.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
