package export

import (
	"strings"
	"testing"

	"github.com/heimdex/reelforge/internal/studio"
)

func TestGenerateEDL_Sequence(t *testing.T) {
	clips := []Clip{
		{Name: "001 Intro", SourceURL: "https://cdn.example.com/u1.mp4", DurationMs: 7000},
		{Name: "002 Product", SourceURL: "https://cdn.example.com/u2.mp4", DurationMs: 8500},
	}

	edl := GenerateEDL(clips, "Launch Spot", 30)

	for _, want := range []string{
		"TITLE: Launch Spot\n",
		"FCM: NON-DROP FRAME\n",
		"001  AX       V     C        00:00:00:00 00:00:07:00 00:00:00:00 00:00:07:00\n",
		"* FROM CLIP NAME:  001 Intro\n",
		"* SOURCE FILE:  https://cdn.example.com/u1.mp4\n",
		"002  AX       V     C        00:00:00:00 00:00:08:15 00:00:07:00 00:00:15:15\n",
	} {
		if !strings.Contains(edl, want) {
			t.Errorf("EDL missing %q:\n%s", want, edl)
		}
	}
}

func TestGenerateEDL_Defaults(t *testing.T) {
	edl := GenerateEDL(nil, "  ", 0)
	if !strings.HasPrefix(edl, "TITLE: reelforge\nFCM: NON-DROP FRAME\n") {
		t.Errorf("unexpected header: %q", edl)
	}

	if edl := GenerateEDL(nil, "Drop", 29.97); !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Errorf("expected drop frame header: %q", edl)
	}
}

func TestTimecode(t *testing.T) {
	tests := []struct {
		frames int
		fps    int
		want   string
	}{
		{0, 30, "00:00:00:00"},
		{15, 30, "00:00:00:15"},
		{30, 30, "00:00:01:00"},
		{30 * 60, 30, "00:01:00:00"},
		{30 * 3600, 30, "01:00:00:00"},
		{25*61 + 3, 25, "00:01:01:03"},
	}

	for _, tt := range tests {
		if got := timecode(tt.frames, tt.fps); got != tt.want {
			t.Errorf("timecode(%d, %d) = %q, want %q", tt.frames, tt.fps, got, tt.want)
		}
	}
}

func TestClipsFromUnits(t *testing.T) {
	units := []*studio.VideoUnit{
		{Order: 1, Objective: "Meet the\nbottle.", ResultURL: "https://cdn.example.com/u1.mp4", Duration: 7},
		{Order: 3, ResultURL: "https://cdn.example.com/u3.mp4", Duration: 8},
	}

	clips := ClipsFromUnits(units)
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %d", len(clips))
	}
	if clips[0].Name != "001 Meet the bottle." || clips[0].DurationMs != 7000 {
		t.Errorf("unexpected first clip %+v", clips[0])
	}
	if clips[1].Name != "003 Unit 3" || clips[1].SourceURL != "https://cdn.example.com/u3.mp4" {
		t.Errorf("unexpected second clip %+v", clips[1])
	}
}
