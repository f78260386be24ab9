// Package assets provides the prompt templates embedded into the binaries.
//
// Prompts are stored as text files under prompts/ and embedded at compile
// time, so wording changes stay reviewable as prose instead of Go string
// diffs.
package assets

import (
	"bytes"
	_ "embed"
	"text/template"
)

// --- Static system instructions ---

// TranscriptionSystemPrompt instructs the model to produce a diarized,
// speaker-attributed transcript as structured JSON.
//
//go:embed prompts/transcription-system.txt
var TranscriptionSystemPrompt string

// SummarySystemPrompt instructs the model to write per-window summaries and
// an overall recap as structured JSON.
//
//go:embed prompts/summary-system.txt
var SummarySystemPrompt string

// --- Dynamic user prompts ---

//go:embed prompts/transcription-user.txt
var transcriptionUserTemplate string

//go:embed prompts/summary-user.txt
var summaryUserTemplate string

// Pre-parsed templates. template.Must panics on malformed templates, which
// surfaces at init time rather than mid-job.
var (
	transcriptionUserTmpl = template.Must(template.New("transcription-user").Parse(transcriptionUserTemplate))
	summaryUserTmpl       = template.Must(template.New("summary-user").Parse(summaryUserTemplate))
)

// TranscriptionPromptData feeds the transcription user prompt.
type TranscriptionPromptData struct {
	// DurationSeconds is the recording length, pre-formatted ("300.500").
	DurationSeconds string
}

// SummaryPromptData feeds the summary user prompt.
type SummaryPromptData struct {
	ObjectKey       string
	DurationSeconds string
	WindowCount     int
	LastIndex       int
	// TimelineBlock is the rendered window-by-window timeline text.
	TimelineBlock string
}

// RenderTranscriptionPrompt renders the transcription user prompt.
func RenderTranscriptionPrompt(data TranscriptionPromptData) string {
	return renderTemplate(transcriptionUserTmpl, data)
}

// RenderSummaryPrompt renders the summary user prompt.
func RenderSummaryPrompt(data SummaryPromptData) string {
	return renderTemplate(summaryUserTmpl, data)
}

func renderTemplate(tmpl *template.Template, data interface{}) string {
	var buf bytes.Buffer
	// Execution cannot fail on these templates short of a struct/template
	// field mismatch, which the package test pins down.
	_ = tmpl.Execute(&buf, data)
	return buf.String()
}
