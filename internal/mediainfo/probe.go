// Package mediainfo probes staged media files and prepares derived inputs
// for the analysis phases.
//
// Probing goes through ffprobe rather than a pure Go demuxer: the uploads
// prefix receives every container phones produce (MP4, MOV, MKV, WebM, plus
// bare audio), and ffprobe's JSON output normalizes all of them. Camera
// stills dropped next to the videos are caught before ffprobe runs so the
// job fails with a usable message instead of a missing-duration error.
package mediainfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// Info describes the playable content of one staged media file.
// DurationMs is the stream duration in integer milliseconds; every
// downstream timestamp is relative to it.
type Info struct {
	DurationMs int64
	HasVideo   bool
	HasAudio   bool
	Width      int
	Height     int
	FrameRate  float64
	Container  string
}

var (
	// ErrStillImage marks an upload that is a photo, not time-based media.
	// There is nothing to recap; the job fails at the probe phase.
	ErrStillImage = errors.New("upload is a still image")

	// ErrNoDuration marks media whose container reports no playable
	// duration. Covers truncated uploads and single-frame pseudo-videos.
	ErrNoDuration = errors.New("media reports no playable duration")
)

// probeOutput is the subset of ffprobe's JSON document the pipeline reads.
type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

type probeStream struct {
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	RFrameRate string `json:"r_frame_rate"`
}

// Probe inspects the file at path and returns its playable properties.
//
// Returns ErrStillImage for camera photos and ErrNoDuration when the
// container carries no usable duration. Both are permanent input defects,
// not transient failures.
func Probe(ctx context.Context, path string) (*Info, error) {
	if still, desc := detectStillImage(path); still {
		return nil, fmt.Errorf("%w: %s", ErrStillImage, desc)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", filepath.Base(path), err)
	}

	info, err := parseProbe(output)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("path", path).
		Int64("durationMs", info.DurationMs).
		Bool("hasVideo", info.HasVideo).
		Bool("hasAudio", info.HasAudio).
		Int("width", info.Width).
		Int("height", info.Height).
		Float64("frameRate", info.FrameRate).
		Str("container", info.Container).
		Msg("Media probed")

	return info, nil
}

// parseProbe decodes ffprobe JSON into an Info and validates the duration.
func parseProbe(raw []byte) (*Info, error) {
	var probe probeOutput
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{Container: probe.Format.FormatName}

	if probe.Format.Duration != "" {
		if sec, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.DurationMs = int64(math.Round(sec * 1000))
		}
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			// mjpeg "video" streams in audio containers are cover art,
			// not footage.
			if stream.CodecName == "mjpeg" || stream.CodecName == "png" {
				continue
			}
			info.HasVideo = true
			if info.Width == 0 {
				info.Width = stream.Width
				info.Height = stream.Height
			}
			if info.FrameRate == 0 && stream.RFrameRate != "" {
				info.FrameRate = parseFrameRate(stream.RFrameRate)
			}
		case "audio":
			info.HasAudio = true
		}
	}

	if info.DurationMs <= 0 {
		return nil, fmt.Errorf("%w (container %q)", ErrNoDuration, probe.Format.FormatName)
	}
	return info, nil
}

// parseFrameRate parses ffprobe's rational frame rate ("30000/1001").
func parseFrameRate(s string) float64 {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}

// detectStillImage reports whether path is a camera photo. Photos carry
// EXIF; a successful metadata decode is the signal. Videos, audio files,
// and EXIF-less files all fail the decode and fall through to ffprobe.
func detectStillImage(path string) (bool, string) {
	f, err := os.Open(path)
	if err != nil {
		return false, ""
	}
	defer f.Close()

	exifData, err := imagemeta.Decode(f)
	if err != nil {
		return false, ""
	}

	desc := "camera photo"
	device := strings.TrimSpace(exifData.Make + " " + exifData.Model)
	if device != "" {
		desc += " from " + device
	}
	if !exifData.DateTimeOriginal().IsZero() {
		desc += " taken " + exifData.DateTimeOriginal().Format("2006-01-02")
	}

	log.Warn().Str("path", path).Str("detail", desc).Msg("Still image rejected before probe")
	return true, desc
}
