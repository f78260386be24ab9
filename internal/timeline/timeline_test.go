package timeline

import (
	"errors"
	"testing"
)

func seg(start, end int64, speaker string) AudioSegment {
	return AudioSegment{Speaker: speaker, StartMs: start, EndMs: end}
}

func frame(ts int64) VideoFrame {
	return VideoFrame{TimestampMs: ts, ImageKey: "frames/f.jpg"}
}

// speakersOf flattens a window's segments to their speaker labels.
func speakersOf(w ContextWindow) []string {
	out := make([]string, 0, len(w.Segments))
	for _, s := range w.Segments {
		out = append(out, s.Speaker)
	}
	return out
}

func TestSynchronize_IncludeOnAnyOverlap(t *testing.T) {
	segments := []AudioSegment{
		seg(2_000, 8_000, "A"),
		seg(9_000, 30_000, "B"),
	}
	boundaries := []SceneBoundary{0, 10_000, 25_000, 40_000}

	windows, err := Synchronize(segments, nil, boundaries, 40_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}

	want := []struct {
		start, end int64
		speakers   []string
	}{
		{0, 10_000, []string{"A", "B"}},
		{10_000, 25_000, []string{"B"}},
		{25_000, 40_000, []string{"B"}},
	}

	for i, w := range windows {
		if w.StartMs != want[i].start || w.EndMs != want[i].end {
			t.Errorf("window %d span = [%d,%d), want [%d,%d)", i, w.StartMs, w.EndMs, want[i].start, want[i].end)
		}
		got := speakersOf(w)
		if len(got) != len(want[i].speakers) {
			t.Fatalf("window %d speakers = %v, want %v", i, got, want[i].speakers)
		}
		for j := range got {
			if got[j] != want[i].speakers[j] {
				t.Errorf("window %d speakers = %v, want %v", i, got, want[i].speakers)
				break
			}
		}
	}

	// A segment spanning a boundary is included whole, never time-sliced.
	b := windows[1].Segments[0]
	if b.StartMs != 9_000 || b.EndMs != 30_000 {
		t.Errorf("segment B was clipped: [%d,%d)", b.StartMs, b.EndMs)
	}
}

func TestSynchronize_PartitionCoverage(t *testing.T) {
	tests := []struct {
		name       string
		boundaries []SceneBoundary
		durationMs int64
	}{
		{"no boundaries", nil, 60_000},
		{"single interior boundary", []SceneBoundary{30_000}, 60_000},
		{"boundaries include endpoints", []SceneBoundary{0, 15_000, 60_000}, 60_000},
		{"duplicates", []SceneBoundary{10_000, 10_000, 20_000, 20_000}, 60_000},
		{"unsorted", []SceneBoundary{45_000, 5_000, 30_000}, 60_000},
		{"out of range clamped", []SceneBoundary{-5_000, 30_000, 90_000}, 60_000},
		{"dense", []SceneBoundary{1, 2, 3, 4, 5}, 10},
	}

	segments := []AudioSegment{seg(0, 12_000, "A"), seg(11_000, 59_000, "B")}
	frames := []VideoFrame{frame(0), frame(29_999), frame(59_999)}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := Synchronize(segments, frames, tt.boundaries, tt.durationMs)
			if err != nil {
				t.Fatalf("Synchronize: %v", err)
			}
			if len(windows) == 0 {
				t.Fatal("expected at least one window")
			}
			if windows[0].StartMs != 0 {
				t.Errorf("first window starts at %d, want 0", windows[0].StartMs)
			}
			if last := windows[len(windows)-1]; last.EndMs != tt.durationMs {
				t.Errorf("last window ends at %d, want %d", last.EndMs, tt.durationMs)
			}
			for i, w := range windows {
				if w.EndMs <= w.StartMs {
					t.Errorf("window %d is empty-spanned: [%d,%d)", i, w.StartMs, w.EndMs)
				}
				if i > 0 && w.StartMs != windows[i-1].EndMs {
					t.Errorf("gap or overlap between window %d and %d: %d != %d",
						i-1, i, windows[i-1].EndMs, w.StartMs)
				}
			}
		})
	}
}

func TestSynchronize_EmptyBoundariesSingleWindow(t *testing.T) {
	windows, err := Synchronize(nil, nil, nil, 120_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("expected exactly 1 window, got %d", len(windows))
	}
	if windows[0].StartMs != 0 || windows[0].EndMs != 120_000 {
		t.Errorf("window span = [%d,%d), want [0,120000)", windows[0].StartMs, windows[0].EndMs)
	}
}

func TestSynchronize_FrameOnBoundary(t *testing.T) {
	frames := []VideoFrame{frame(10_000)}
	windows, err := Synchronize(nil, frames, []SceneBoundary{10_000}, 20_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected 2 windows, got %d", len(windows))
	}
	if len(windows[0].Frames) != 0 {
		t.Errorf("frame on boundary leaked into earlier window")
	}
	if len(windows[1].Frames) != 1 {
		t.Errorf("frame on boundary missing from later window")
	}
}

func TestSynchronize_FrameAtDurationDropped(t *testing.T) {
	// The partition covers [0, duration); an instant at exactly duration
	// has no window.
	frames := []VideoFrame{frame(20_000)}
	windows, err := Synchronize(nil, frames, nil, 20_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if n := len(windows[0].Frames); n != 0 {
		t.Errorf("expected frame at duration to be excluded, got %d frames", n)
	}
}

func TestSynchronize_EmptyWindowsKept(t *testing.T) {
	// Audio only in the first third; the silent middle and end windows must
	// still be emitted.
	segments := []AudioSegment{seg(0, 9_000, "A")}
	windows, err := Synchronize(segments, nil, []SceneBoundary{10_000, 20_000}, 30_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	if len(windows[1].Segments) != 0 || len(windows[2].Segments) != 0 {
		t.Error("silent windows should carry no segments")
	}
	if len(windows[1].Frames) != 0 || len(windows[2].Frames) != 0 {
		t.Error("static windows should carry no frames")
	}
}

func TestSynchronize_InvalidDuration(t *testing.T) {
	for _, d := range []int64{0, -1, -40_000} {
		_, err := Synchronize(nil, nil, nil, d)
		if !errors.Is(err, ErrInvalidDuration) {
			t.Errorf("duration %d: err = %v, want ErrInvalidDuration", d, err)
		}
	}
}

func TestSynchronize_SortsUnorderedInputs(t *testing.T) {
	segments := []AudioSegment{
		seg(8_000, 12_000, "late"),
		seg(0, 4_000, "early"),
		seg(4_000, 8_000, "middle"),
	}
	frames := []VideoFrame{frame(9_000), frame(1_000), frame(5_000)}

	windows, err := Synchronize(segments, frames, nil, 15_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	w := windows[0]
	if got := speakersOf(w); got[0] != "early" || got[1] != "middle" || got[2] != "late" {
		t.Errorf("segments not chronological: %v", got)
	}
	for i := 1; i < len(w.Frames); i++ {
		if w.Frames[i].TimestampMs < w.Frames[i-1].TimestampMs {
			t.Errorf("frames not chronological: %v then %v",
				w.Frames[i-1].TimestampMs, w.Frames[i].TimestampMs)
		}
	}
}

func TestSynchronize_TouchingSegmentsExcluded(t *testing.T) {
	// A segment that only touches a window edge does not overlap it:
	// [0,10000) ends exactly where the window starts, [20000,30000) starts
	// exactly where it ends.
	segments := []AudioSegment{
		seg(0, 10_000, "before"),
		seg(20_000, 30_000, "after"),
	}
	windows, err := Synchronize(segments, nil, []SceneBoundary{10_000, 20_000}, 30_000)
	if err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if n := len(windows[1].Segments); n != 0 {
		t.Errorf("middle window should be empty, has %d segments: %v",
			n, speakersOf(windows[1]))
	}
}
