package mediainfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Audio track extraction settings. AAC at 96k mono keeps an hour of
// meeting audio around 40 MB, well under the model file-upload ceiling,
// without hurting diarization.
const (
	audioCodec   = "aac"
	audioBitrate = "96k"
	audioRate    = "44100"
)

// ExtractAudioTrack transcodes the audio track of the media at path into a
// standalone M4A temp file and returns its path plus a cleanup function.
//
// Transcription only needs audio; uploading the full video multiplies
// transfer time and model processing for no transcript gain.
func ExtractAudioTrack(ctx context.Context, path string) (string, func(), error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "audio-*.m4a")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	outPath := tmpFile.Name()
	tmpFile.Close()

	args := []string{
		"-y",
		"-v", "error",
		"-i", path,
		"-vn",
		"-c:a", audioCodec,
		"-b:a", audioBitrate,
		"-ar", audioRate,
		"-movflags", "+faststart",
		outPath,
	}

	log.Debug().
		Str("input", path).
		Str("output", outPath).
		Strs("args", args).
		Msg("Extracting audio track")

	start := time.Now()
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(outPath)
		return "", nil, fmt.Errorf("ffmpeg audio extraction failed for %s: %w (output: %s)",
			filepath.Base(path), err, string(output))
	}

	stat, err := os.Stat(outPath)
	if err != nil || stat.Size() == 0 {
		os.Remove(outPath)
		return "", nil, fmt.Errorf("audio extraction produced no output for %s", filepath.Base(path))
	}

	log.Debug().
		Str("output", outPath).
		Int64("sizeBytes", stat.Size()).
		Dur("elapsed", time.Since(start)).
		Msg("Audio track extracted")

	cleanup := func() { os.Remove(outPath) }
	return outPath, cleanup, nil
}
