package studio

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/profiles"
)

// SegmentRequest describes how a section is cut into units. Zero values fall
// back to the section's target duration, the registry default model and a
// fresh random base seed.
type SegmentRequest struct {
	SectionID     string `json:"-"`
	TotalDuration int    `json:"total_duration"`
	Language      string `json:"language"`
	ModelID       string `json:"model_id"`
	UnitCount     int    `json:"unit_count"`
	BaseSeed      *int64 `json:"base_seed"`
}

// Segment replaces every unit of the section with a fresh plan.
func (s *Service) Segment(ctx context.Context, req SegmentRequest) ([]*VideoUnit, error) {
	section, err := s.GetSection(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(section.Content) == "" {
		return nil, validationf("section content is empty")
	}

	total := req.TotalDuration
	if total == 0 {
		total = section.TargetDuration
	}
	if total <= 0 {
		return nil, validationf("total duration must be positive")
	}
	if req.UnitCount < 0 {
		return nil, validationf("unit count must not be negative")
	}

	profile := s.registry.Default()
	if req.ModelID != "" {
		p, ok := s.registry.Get(req.ModelID)
		if !ok {
			return nil, validationf("unknown model %q", req.ModelID)
		}
		profile = p
	}
	if profile == nil {
		return nil, validationf("no model profile available")
	}

	durations, err := PlanDurations(total, profile, req.UnitCount)
	if err != nil {
		return nil, err
	}

	baseSeed := s.baseSeed()
	if req.BaseSeed != nil {
		baseSeed = *req.BaseSeed
	}
	language := req.Language
	if language == "" {
		language = section.Language
	}

	now := s.now()
	chunks := SplitNarrative(section.Content, len(durations))
	units := make([]*VideoUnit, len(durations))
	start := 0
	for i, d := range durations {
		chunk := chunks[i]
		units[i] = &VideoUnit{
			ID:                NewID(),
			SectionID:         section.ID,
			Order:             i + 1,
			StartTime:         start,
			EndTime:           start + d,
			Duration:          d,
			Objective:         objectiveOf(chunk),
			VoiceoverText:     chunk,
			VisualDescription: chunk,
			ModelID:           profile.ID,
			Seed:              baseSeed + int64(i),
			Status:            UnitPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		start += d
	}

	section.TargetDuration = total
	section.Language = language
	section.ModelID = profile.ID
	section.BaseSeed = baseSeed
	section.UpdatedAt = now

	if err := s.repo.ReplaceUnits(ctx, section, units); err != nil {
		return nil, fmt.Errorf("replace units: %w", err)
	}

	logging.WithSectionID(s.logger, section.ID).Info("section segmented",
		"model", profile.ID,
		"units", len(units),
		"total_duration", total,
		"base_seed", baseSeed,
	)
	return units, nil
}

// PlanDurations splits total seconds into integer unit durations that sum
// exactly to total. Every unit gets total/n and the last one absorbs the
// remainder. With count zero the number of units starts at
// ceil(total/unit_duration) and moves to the nearest count whose units all
// fit the profile's min and max durations.
func PlanDurations(total int, p *profiles.Profile, count int) ([]int, error) {
	if total < p.MinDuration {
		return nil, validationf("total duration %ds is shorter than one %s unit (%ds)", total, p.ID, p.MinDuration)
	}

	if count > 0 {
		if !durationsFit(total, count, p) {
			return nil, validationf("%ds in %d units does not fit %s durations %d-%ds", total, count, p.ID, p.MinDuration, p.MaxDuration)
		}
		return splitDurations(total, count), nil
	}

	initial := (total + p.UnitDuration - 1) / p.UnitDuration
	upper := total / p.MinDuration
	for n := initial; n <= upper; n++ {
		if durationsFit(total, n, p) {
			return splitDurations(total, n), nil
		}
	}
	for n := initial - 1; n >= 1; n-- {
		if durationsFit(total, n, p) {
			return splitDurations(total, n), nil
		}
	}
	return nil, validationf("%ds cannot be split into %s units of %d-%ds", total, p.ID, p.MinDuration, p.MaxDuration)
}

func durationsFit(total, n int, p *profiles.Profile) bool {
	if n < 1 {
		return false
	}
	base := total / n
	last := total - base*(n-1)
	return base >= p.MinDuration && last <= p.MaxDuration
}

func splitDurations(total, n int) []int {
	base := total / n
	out := make([]int, n)
	for i := range out {
		out[i] = base
	}
	out[n-1] = total - base*(n-1)
	return out
}

// SplitNarrative cuts text into n contiguous chunks on sentence boundaries,
// balancing the chunks by word count. Text with fewer sentences than n is
// split on words instead; if there are fewer words than units, the trailing
// chunks repeat the last piece of text.
func SplitNarrative(text string, n int) []string {
	if n <= 0 {
		return nil
	}
	pieces := splitSentences(text)
	if len(pieces) < n {
		pieces = strings.Fields(text)
	}

	chunks := make([]string, 0, n)
	if len(pieces) < n {
		chunks = append(chunks, pieces...)
		last := strings.TrimSpace(text)
		if len(chunks) > 0 {
			last = chunks[len(chunks)-1]
		}
		for len(chunks) < n {
			chunks = append(chunks, last)
		}
		return chunks
	}

	weights := make([]int, len(pieces))
	totalWords := 0
	for i, p := range pieces {
		weights[i] = max(1, len(strings.Fields(p)))
		totalWords += weights[i]
	}

	var cur []string
	acc := 0
	for i, p := range pieces {
		cur = append(cur, p)
		acc += weights[i]

		left := len(pieces) - i - 1
		need := n - len(chunks) - 1
		if need == 0 {
			continue
		}
		target := float64(totalWords) * float64(len(chunks)+1) / float64(n)
		if left == need || float64(acc) >= target {
			chunks = append(chunks, strings.Join(cur, " "))
			cur = nil
		}
	}
	return append(chunks, strings.Join(cur, " "))
}

// splitSentences breaks text after terminal punctuation that is followed by
// whitespace or the end of the text.
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var out []string
	start := 0
	for i, r := range runes {
		if !isTerminal(r) {
			continue
		}
		next := i + 1
		if next < len(runes) && isTerminal(runes[next]) {
			continue
		}
		if next < len(runes) && !unicode.IsSpace(runes[next]) && !isWideTerminal(r) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:next])); s != "" {
			out = append(out, strings.Join(strings.Fields(s), " "))
		}
		start = next
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, strings.Join(strings.Fields(s), " "))
	}
	return out
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return isWideTerminal(r)
}

// Full-width terminators end a sentence even without a following space.
func isWideTerminal(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

const maxObjectiveLen = 120

// objectiveOf is the first sentence of a chunk, shortened for display.
func objectiveOf(chunk string) string {
	first := chunk
	if sentences := splitSentences(chunk); len(sentences) > 0 {
		first = sentences[0]
	}
	runes := []rune(first)
	if len(runes) <= maxObjectiveLen {
		return first
	}
	return strings.TrimSpace(string(runes[:maxObjectiveLen-1])) + "…"
}
