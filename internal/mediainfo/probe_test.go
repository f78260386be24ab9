package mediainfo

import (
	"errors"
	"math"
	"testing"
)

func TestParseProbeVideoWithAudio(t *testing.T) {
	raw := []byte(`{
		"format": {"filename": "meeting.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "300.500000"},
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "r_frame_rate": "30000/1001"},
			{"codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}
		]
	}`)

	info, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.DurationMs != 300500 {
		t.Errorf("DurationMs = %d, want 300500", info.DurationMs)
	}
	if !info.HasVideo || !info.HasAudio {
		t.Errorf("HasVideo=%v HasAudio=%v, want both true", info.HasVideo, info.HasAudio)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Errorf("dimensions = %dx%d, want 1920x1080", info.Width, info.Height)
	}
	if math.Abs(info.FrameRate-29.97) > 0.01 {
		t.Errorf("FrameRate = %f, want ~29.97", info.FrameRate)
	}
}

func TestParseProbeAudioOnlyWithCoverArt(t *testing.T) {
	// MP3s with embedded cover art report an mjpeg "video" stream. That is
	// artwork, not footage; the file must probe as audio-only.
	raw := []byte(`{
		"format": {"format_name": "mp3", "duration": "1845.123"},
		"streams": [
			{"codec_type": "audio", "codec_name": "mp3", "sample_rate": "44100", "channels": 2},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 600, "height": 600}
		]
	}`)

	info, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.HasVideo {
		t.Error("cover art stream counted as video")
	}
	if !info.HasAudio {
		t.Error("HasAudio = false, want true")
	}
	if info.DurationMs != 1845123 {
		t.Errorf("DurationMs = %d, want 1845123", info.DurationMs)
	}
}

func TestParseProbeRoundsDuration(t *testing.T) {
	raw := []byte(`{"format": {"format_name": "mp4", "duration": "12.3456"}, "streams": [{"codec_type": "audio"}]}`)
	info, err := parseProbe(raw)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if info.DurationMs != 12346 {
		t.Errorf("DurationMs = %d, want 12346 (rounded)", info.DurationMs)
	}
}

func TestParseProbeNoDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"missing", `{"format": {"format_name": "image2"}, "streams": [{"codec_type": "video", "codec_name": "png"}]}`},
		{"zero", `{"format": {"format_name": "mp4", "duration": "0.000000"}, "streams": []}`},
		{"unparseable", `{"format": {"format_name": "mp4", "duration": "N/A"}, "streams": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseProbe([]byte(tt.raw))
			if !errors.Is(err, ErrNoDuration) {
				t.Errorf("err = %v, want ErrNoDuration", err)
			}
		})
	}
}

func TestParseProbeMalformedJSON(t *testing.T) {
	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("expected error for malformed output")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"0/0", 0},
		{"garbage", 0},
		{"25", 0},
	}
	for _, tt := range tests {
		if got := parseFrameRate(tt.in); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("parseFrameRate(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}
