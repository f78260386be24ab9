package assets

import (
	"strings"
	"testing"
)

func TestSystemPromptsEmbedded(t *testing.T) {
	if !strings.Contains(TranscriptionSystemPrompt, `"segments"`) {
		t.Error("transcription system prompt does not pin the reply shape")
	}
	if !strings.Contains(SummarySystemPrompt, `"windows"`) || !strings.Contains(SummarySystemPrompt, `"overall"`) {
		t.Error("summary system prompt does not pin the reply shape")
	}
}

func TestRenderTranscriptionPrompt(t *testing.T) {
	got := RenderTranscriptionPrompt(TranscriptionPromptData{DurationSeconds: "300.500"})
	if !strings.Contains(got, "300.500 seconds") {
		t.Errorf("duration not injected: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unrendered template action in %q", got)
	}
}

func TestRenderSummaryPrompt(t *testing.T) {
	got := RenderSummaryPrompt(SummaryPromptData{
		ObjectKey:       "uploads/standup.mp4",
		DurationSeconds: "40.000",
		WindowCount:     3,
		LastIndex:       2,
		TimelineBlock:   "## Window 0 [0.000s - 10.000s]\nS1: hello",
	})
	for _, want := range []string{"uploads/standup.mp4", "3 windows", "index from 0 to 2", "S1: hello"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unrendered template action in %q", got)
	}
}
