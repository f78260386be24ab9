// Package transcribe produces the diarized transcript of a media file's
// audio track.
//
// The audio track is extracted locally, pushed through the Gemini Files
// API, and transcribed in one structured-output call. The model reports
// float seconds; everything returned from this package is integer stream
// milliseconds, sorted, with unattributable speech labelled rather than
// dropped.
package transcribe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/media-recap/internal/assets"
	"github.com/fpang/media-recap/internal/gemini"
	"github.com/fpang/media-recap/internal/jsonutil"
	"github.com/fpang/media-recap/internal/mediainfo"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/timeline"
)

// audioMIMEType matches the M4A container ExtractAudioTrack produces.
const audioMIMEType = "audio/mp4"

// Engine transcribes and diarizes via Gemini audio understanding.
type Engine struct {
	client *genai.Client
	model  string
}

var _ pipeline.Transcriber = (*Engine)(nil)

// New builds an engine on the shared client, using the deployment's
// configured model.
func New(client *genai.Client) *Engine {
	return &Engine{client: client, model: gemini.GetModelName()}
}

// rawSegment is the model's reply shape, in float seconds.
type rawSegment struct {
	Speaker      string  `json:"speaker"`
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
	Text         string  `json:"text"`
}

type transcriptDoc struct {
	Segments []rawSegment `json:"segments"`
}

// Transcribe extracts the audio track, uploads it, and returns the
// normalized diarized segments. An empty result with a nil error is valid:
// it means the track carries no speech. Media without an audio track is an
// error; whether that fails the job is the runner's policy.
func (e *Engine) Transcribe(ctx context.Context, media pipeline.Media) ([]timeline.AudioSegment, error) {
	if !media.HasAudio {
		return nil, fmt.Errorf("media %s has no audio track", media.ObjectKey)
	}

	audioPath, cleanup, err := mediainfo.ExtractAudioTrack(ctx, media.Path)
	if err != nil {
		return nil, fmt.Errorf("extract audio track: %w", err)
	}
	defer cleanup()

	file, err := gemini.UploadFile(ctx, e.client, audioPath, audioMIMEType)
	if err != nil {
		return nil, fmt.Errorf("upload audio track: %w", err)
	}
	defer gemini.DeleteFile(ctx, e.client, file)

	durationSeconds := formatSeconds(media.DurationMs)
	prompt := assets.RenderTranscriptionPrompt(assets.TranscriptionPromptData{
		DurationSeconds: durationSeconds,
	})

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.TranscriptionSystemPrompt}},
		},
	}
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{FileData: &genai.FileData{MIMEType: file.MIMEType, FileURI: file.URI}},
			{Text: prompt},
		},
	}}

	log.Info().
		Str("jobId", media.JobID).
		Str("model", e.model).
		Str("durationSeconds", durationSeconds).
		Msg("Requesting diarized transcription")

	geminiStart := time.Now()
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	geminiElapsed := time.Since(geminiStart)

	m := metrics.ForOperation("Transcribe").
		Metric("GeminiApiLatencyMs", float64(geminiElapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("GeminiApiCalls").
		Property("jobId", media.JobID)
	if err != nil {
		m.Count("GeminiApiErrors")
	}
	if resp != nil && resp.UsageMetadata != nil {
		m.Metric("GeminiInputTokens", float64(resp.UsageMetadata.PromptTokenCount), metrics.UnitCount)
		m.Metric("GeminiOutputTokens", float64(resp.UsageMetadata.CandidatesTokenCount), metrics.UnitCount)
	}
	m.Flush()

	if err != nil {
		return nil, fmt.Errorf("transcription call: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty transcription response")
	}

	doc, err := jsonutil.DecodeModel[transcriptDoc](resp.Text())
	if err != nil {
		return nil, fmt.Errorf("parse transcription reply: %w", err)
	}

	segments := normalizeSegments(doc.Segments, media.DurationMs)
	log.Info().
		Str("jobId", media.JobID).
		Int("raw", len(doc.Segments)).
		Int("kept", len(segments)).
		Dur("elapsed", geminiElapsed).
		Msg("Transcription complete")

	return segments, nil
}

// normalizeSegments converts the model's float-second segments into the
// timeline contract: integer milliseconds, clamped to the media duration,
// sorted by start, unattributable speakers labelled, degenerate spans and
// empty text dropped.
func normalizeSegments(raw []rawSegment, durationMs int64) []timeline.AudioSegment {
	segments := make([]timeline.AudioSegment, 0, len(raw))
	var dropped int

	for _, r := range raw {
		startMs := int64(math.Round(r.StartSeconds * 1000))
		endMs := int64(math.Round(r.EndSeconds * 1000))

		if startMs < 0 {
			startMs = 0
		}
		if endMs > durationMs {
			endMs = durationMs
		}

		text := strings.TrimSpace(r.Text)
		if endMs <= startMs || startMs >= durationMs || text == "" {
			dropped++
			continue
		}

		speaker := strings.TrimSpace(r.Speaker)
		if speaker == "" {
			speaker = timeline.SpeakerUnresolved
		}

		segments = append(segments, timeline.AudioSegment{
			Speaker: speaker,
			StartMs: startMs,
			EndMs:   endMs,
			Text:    text,
		})
	}

	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Dropped degenerate transcript segments")
	}

	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].StartMs != segments[j].StartMs {
			return segments[i].StartMs < segments[j].StartMs
		}
		return segments[i].EndMs < segments[j].EndMs
	})

	return segments
}

// formatSeconds renders a millisecond duration as seconds text for prompts.
func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
