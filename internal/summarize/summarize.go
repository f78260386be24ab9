// Package summarize turns a synchronized context-window timeline into the
// recap text: one summary per window plus an overall recap, produced by a
// single structured Gemini call.
//
// The whole timeline goes out in one request so the model can keep
// cross-window references coherent (who S1 is, what was decided earlier).
// Frames are attached inline, first frame per window, capped to bound the
// request size.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/media-recap/internal/assets"
	"github.com/fpang/media-recap/internal/gemini"
	"github.com/fpang/media-recap/internal/jsonutil"
	"github.com/fpang/media-recap/internal/metrics"
	"github.com/fpang/media-recap/internal/pipeline"
	"github.com/fpang/media-recap/internal/timeline"
)

// MaxFrameAttachments caps inline images per request. Windows past the cap
// are summarized from their transcript lines alone.
const MaxFrameAttachments = 24

const frameMIMEType = "image/jpeg"

// Fallback text stored when the reply skips a window or the overall recap
// despite the prompt contract. Keeps summaries index-aligned with windows
// instead of discarding a paid call.
const (
	missingWindowText  = "No summary was produced for this interval."
	missingOverallText = "No overall recap was produced."
)

// FrameLoader fetches a stored frame image by its artifact key.
type FrameLoader interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// Engine generates recaps via Gemini. A nil FrameLoader disables frame
// attachment and the recap is written from the transcript alone.
type Engine struct {
	client *genai.Client
	model  string
	frames FrameLoader
}

var _ pipeline.Summarizer = (*Engine)(nil)

// New builds an engine on the shared client, using the deployment's
// configured model.
func New(client *genai.Client, frames FrameLoader) *Engine {
	return &Engine{client: client, model: gemini.GetModelName(), frames: frames}
}

// Recap is the model's full output: window summaries index-aligned with the
// input windows, plus the overall recap paragraph.
type Recap struct {
	Windows []string
	Overall string
}

// rawWindowSummary is one entry of the model's reply shape.
type rawWindowSummary struct {
	Index   int    `json:"index"`
	Summary string `json:"summary"`
}

type recapDoc struct {
	Windows []rawWindowSummary `json:"windows"`
	Overall string             `json:"overall"`
}

// Summarize satisfies the pipeline contract with the per-window texts.
// Callers that also want the overall recap use Generate directly.
func (e *Engine) Summarize(ctx context.Context, media pipeline.Media, windows []timeline.ContextWindow) ([]string, error) {
	rec, err := e.Generate(ctx, media, windows)
	if err != nil {
		return nil, err
	}
	return rec.Windows, nil
}

// Generate renders the timeline into the recap prompt, attaches frames, and
// normalizes the structured reply. Every input window gets a summary slot;
// windows the model skipped carry fallback text rather than failing the job.
func (e *Engine) Generate(ctx context.Context, media pipeline.Media, windows []timeline.ContextWindow) (*Recap, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("no context windows for %s", media.ObjectKey)
	}

	block, attachments := e.renderTimeline(ctx, windows)
	prompt := assets.RenderSummaryPrompt(assets.SummaryPromptData{
		ObjectKey:       media.ObjectKey,
		DurationSeconds: formatSeconds(media.DurationMs),
		WindowCount:     len(windows),
		LastIndex:       len(windows) - 1,
		TimelineBlock:   block,
	})

	parts := make([]*genai.Part, 0, len(attachments)+1)
	parts = append(parts, &genai.Part{Text: prompt})
	parts = append(parts, attachments...)

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: assets.SummarySystemPrompt}},
		},
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	log.Info().
		Str("jobId", media.JobID).
		Str("model", e.model).
		Int("windows", len(windows)).
		Int("frameAttachments", len(attachments)).
		Msg("Requesting recap")

	geminiStart := time.Now()
	resp, err := e.client.Models.GenerateContent(ctx, e.model, contents, config)
	geminiElapsed := time.Since(geminiStart)

	m := metrics.ForOperation("Summarize").
		Metric("GeminiApiLatencyMs", float64(geminiElapsed.Milliseconds()), metrics.UnitMilliseconds).
		Metric("WindowCount", float64(len(windows)), metrics.UnitCount).
		Metric("FrameAttachments", float64(len(attachments)), metrics.UnitCount).
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
		return nil, fmt.Errorf("recap call: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty recap response")
	}

	doc, err := jsonutil.DecodeModel[recapDoc](resp.Text())
	if err != nil {
		return nil, fmt.Errorf("parse recap reply: %w", err)
	}

	summaries, overall := alignSummaries(doc, len(windows))
	if overall == "" {
		log.Warn().Str("jobId", media.JobID).Msg("Recap reply omitted the overall summary")
		overall = missingOverallText
	}

	log.Info().
		Str("jobId", media.JobID).
		Int("windows", len(windows)).
		Dur("elapsed", geminiElapsed).
		Msg("Recap complete")

	return &Recap{Windows: summaries, Overall: overall}, nil
}

// renderTimeline writes the window-by-window prompt block and collects the
// inline frame attachments it references. Attachment numbers in the text are
// 1-based and match the order of the returned parts.
func (e *Engine) renderTimeline(ctx context.Context, windows []timeline.ContextWindow) (string, []*genai.Part) {
	var b strings.Builder
	var attachments []*genai.Part

	for i, w := range windows {
		fmt.Fprintf(&b, "Window %d (%ss to %ss):\n", i, formatSeconds(w.StartMs), formatSeconds(w.EndMs))

		if len(w.Segments) == 0 {
			b.WriteString("  (no transcript)\n")
		}
		for _, s := range w.Segments {
			fmt.Fprintf(&b, "  %s [%ss-%ss]: %s\n",
				s.Speaker, formatSeconds(s.StartMs), formatSeconds(s.EndMs), s.Text)
		}

		if part, capturedMs, ok := e.attachFrame(ctx, w, len(attachments)); ok {
			attachments = append(attachments, part)
			fmt.Fprintf(&b, "  Frame: attachment %d (captured at %ss)\n",
				len(attachments), formatSeconds(capturedMs))
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n"), attachments
}

// attachFrame loads the window's first frame as an inline part. A load
// failure skips the attachment rather than failing the recap.
func (e *Engine) attachFrame(ctx context.Context, w timeline.ContextWindow, attached int) (*genai.Part, int64, bool) {
	if e.frames == nil || len(w.Frames) == 0 || attached >= MaxFrameAttachments {
		return nil, 0, false
	}

	f := w.Frames[0]
	data, err := e.frames.Load(ctx, f.ImageKey)
	if err != nil {
		log.Warn().Err(err).Str("imageKey", f.ImageKey).Msg("Skipping frame attachment")
		return nil, 0, false
	}

	return &genai.Part{InlineData: &genai.Blob{MIMEType: frameMIMEType, Data: data}}, f.TimestampMs, true
}

// alignSummaries maps the reply windows onto the input windows by index.
// Out-of-range and duplicate indices are ignored; skipped windows get the
// fallback text so the result stays index-aligned.
func alignSummaries(doc recapDoc, windowCount int) ([]string, string) {
	out := make([]string, windowCount)
	var ignored int

	for _, w := range doc.Windows {
		if w.Index < 0 || w.Index >= windowCount {
			ignored++
			continue
		}
		s := strings.TrimSpace(w.Summary)
		if s == "" {
			continue
		}
		if out[w.Index] != "" {
			ignored++
			continue
		}
		out[w.Index] = s
	}

	var missing int
	for i, s := range out {
		if s == "" {
			out[i] = missingWindowText
			missing++
		}
	}
	if ignored > 0 || missing > 0 {
		log.Warn().Int("ignored", ignored).Int("missing", missing).Msg("Recap reply did not cover windows cleanly")
	}

	return out, strings.TrimSpace(doc.Overall)
}

// formatSeconds renders a millisecond instant as seconds text for prompts.
func formatSeconds(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}
