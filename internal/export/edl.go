// Package export renders an approved unit sequence as a CMX3600 edit
// decision list so it can be conformed in an external editor.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/heimdex/reelforge/internal/studio"
)

const (
	DefaultFrameRate = 30.0
	maxTitleLen      = 70
	maxClipNameLen   = 120
)

// Clip is one event of the list: a whole generated clip placed on the
// record timeline.
type Clip struct {
	Name       string
	SourceURL  string
	DurationMs int
}

// ClipsFromUnits converts approved units, already in order, into clips.
func ClipsFromUnits(units []*studio.VideoUnit) []Clip {
	clips := make([]Clip, 0, len(units))
	for _, u := range units {
		name := SanitizeName(u.Objective, maxClipNameLen)
		if name == "" {
			name = fmt.Sprintf("Unit %d", u.Order)
		}
		clips = append(clips, Clip{
			Name:       fmt.Sprintf("%03d %s", u.Order, name),
			SourceURL:  u.ResultURL,
			DurationMs: u.Duration * 1000,
		})
	}
	return clips
}

// GenerateEDL writes one video event per clip. Sources always start at
// zero; record times follow each other without gaps.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	fps := int(math.Round(frameRate))

	title = SanitizeName(title, maxTitleLen)
	if title == "" {
		title = "reelforge"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", title)
	if isDropFrame(frameRate) {
		b.WriteString("FCM: DROP FRAME\n")
	} else {
		b.WriteString("FCM: NON-DROP FRAME\n")
	}
	b.WriteString("\n")

	record := 0
	for i, clip := range clips {
		frames := msToFrames(clip.DurationMs, fps)
		fmt.Fprintf(&b, "%03d  %-8s %-5s C        %s %s %s %s\n",
			i+1, "AX", "V",
			timecode(0, fps), timecode(frames, fps),
			timecode(record, fps), timecode(record+frames, fps),
		)
		fmt.Fprintf(&b, "* FROM CLIP NAME:  %s\n", clip.Name)
		fmt.Fprintf(&b, "* SOURCE FILE:  %s\n", clip.SourceURL)
		record += frames
	}
	return b.String()
}

func isDropFrame(rate float64) bool {
	return math.Abs(rate-29.97) < 0.01 || math.Abs(rate-59.94) < 0.01
}

// msToFrames rounds to the nearest frame. Record offsets are summed in
// frames so rounding never accumulates across events.
func msToFrames(ms, fps int) int {
	return int(math.Round(float64(ms) * float64(fps) / 1000.0))
}

func timecode(frames, fps int) string {
	ff := frames % fps
	secs := frames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", secs/3600, secs/60%60, secs%60, ff)
}
