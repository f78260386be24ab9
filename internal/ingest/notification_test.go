package ingest

import "testing"

func TestParseMessage_Native(t *testing.T) {
	body := `{"objectKey":"uploads/meeting.mp4","contentFingerprint":"sha256:9f2a","arrivalTimeMs":1712345678901}`

	got, err := ParseMessage(body)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	n := got[0]
	if n.ObjectKey != "uploads/meeting.mp4" {
		t.Errorf("objectKey = %q", n.ObjectKey)
	}
	if n.ContentFingerprint != "sha256:9f2a" {
		t.Errorf("fingerprint = %q", n.ContentFingerprint)
	}
	if n.ArrivalTimeMs != 1712345678901 {
		t.Errorf("arrivalTimeMs = %d", n.ArrivalTimeMs)
	}
	if want := "uploads/meeting.mp4|sha256:9f2a"; n.FingerprintKey() != want {
		t.Errorf("FingerprintKey() = %q, want %q", n.FingerprintKey(), want)
	}
}

func TestParseMessage_NativeDefaultsArrival(t *testing.T) {
	got, err := ParseMessage(`{"objectKey":"uploads/a.mp4","contentFingerprint":"fp"}`)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got[0].ArrivalTimeMs == 0 {
		t.Error("arrival time not defaulted")
	}
}

func TestParseMessage_S3Envelope(t *testing.T) {
	body := `{
		"Records": [
			{
				"eventTime": "2026-04-05T17:34:38.901Z",
				"s3": {
					"bucket": {"name": "recap-media"},
					"object": {"key": "uploads/standup.mp4", "eTag": "\"d41d8cd98f00b204e9800998ecf8427e\"", "size": 1048576}
				}
			},
			{
				"eventTime": "2026-04-05T17:35:02.000Z",
				"s3": {
					"bucket": {"name": "recap-media"},
					"object": {"key": "uploads/retro.mp4", "eTag": "aabbccddeeff00112233445566778899"}
				}
			}
		]
	}`

	got, err := ParseMessage(body)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].ContentFingerprint != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("quoted eTag not normalized: %q", got[0].ContentFingerprint)
	}
	if got[1].ObjectKey != "uploads/retro.mp4" {
		t.Errorf("objectKey = %q", got[1].ObjectKey)
	}
	if got[0].ArrivalTimeMs <= 0 {
		t.Errorf("eventTime not converted: %d", got[0].ArrivalTimeMs)
	}
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"garbage", "not json"},
		{"missing objectKey", `{"contentFingerprint":"fp"}`},
		{"missing fingerprint", `{"objectKey":"uploads/a.mp4"}`},
		{"record without eTag", `{"Records":[{"eventTime":"2026-04-05T17:34:38Z","s3":{"object":{"key":"uploads/a.mp4"}}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage(tt.body); err == nil {
				t.Error("expected error")
			}
		})
	}
}
