package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

// Local runs construct no emitter at all; every call must be a safe no-op.
func TestNilEmitterSkips(t *testing.T) {
	var e *Emitter
	if err := e.JobDispatched(context.Background(), "job-1", "uploads/a.mp4"); err != nil {
		t.Fatalf("nil emitter returned %v", err)
	}
}

func TestEmitterWithoutClientSkips(t *testing.T) {
	e := New(nil, "recap-bus")
	if err := e.JobCompleted(context.Background(), "job-1", "uploads/a.mp4", "recaps/job-1/recap.json.zst", false); err != nil {
		t.Fatalf("clientless emitter returned %v", err)
	}
	if err := e.JobFailed(context.Background(), "job-1", "uploads/a.mp4", "transcription", "boom"); err != nil {
		t.Fatalf("clientless emitter returned %v", err)
	}
}

func TestJobEventDetailShape(t *testing.T) {
	detail, err := json.Marshal(JobEvent{JobID: "job-1", ObjectKey: "uploads/a.mp4"})
	if err != nil {
		t.Fatal(err)
	}

	s := string(detail)
	for _, key := range []string{`"jobId":"job-1"`, `"objectKey":"uploads/a.mp4"`} {
		if !strings.Contains(s, key) {
			t.Errorf("detail missing %s: %s", key, s)
		}
	}
	// Success-only and failure-only fields stay out of unrelated events.
	for _, absent := range []string{"resultKey", "phase", "error", "degraded"} {
		if strings.Contains(s, absent) {
			t.Errorf("detail carries empty field %q: %s", absent, s)
		}
	}
}
