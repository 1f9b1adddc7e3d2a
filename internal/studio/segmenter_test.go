package studio

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/heimdex/reelforge/internal/profiles"
)

func testProfile(t *testing.T, id string) *profiles.Profile {
	t.Helper()
	reg, err := profiles.Load("")
	if err != nil {
		t.Fatalf("failed to load profiles: %v", err)
	}
	p, ok := reg.Get(id)
	if !ok {
		t.Fatalf("profile %s missing", id)
	}
	return p
}

func TestPlanDurations(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		total   int
		count   int
		want    []int
		wantErr bool
	}{
		{"last absorbs remainder", "google/veo-3", 22, 0, []int{7, 7, 8}, false},
		{"single unit", "google/veo-3", 8, 0, []int{8}, false},
		{"minimum duration", "google/veo-3", 4, 0, []int{4}, false},
		{"below minimum", "google/veo-3", 3, 0, nil, true},
		{"two short units", "google/veo-3", 9, 0, []int{4, 5}, false},
		{"uneven split", "google/veo-3", 17, 0, []int{5, 5, 7}, false},
		{"exact multiple", "kwaivgi/kling-v2.1", 100, 0, []int{10, 10, 10, 10, 10, 10, 10, 10, 10, 10}, false},
		{"fewer units when minimum is large", "minimax/hailuo-02", 13, 0, []int{6, 7}, false},
		{"explicit count", "google/veo-3", 22, 3, []int{7, 7, 8}, false},
		{"explicit count too small", "google/veo-3", 22, 2, nil, true},
		{"explicit count too large", "google/veo-3", 22, 6, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PlanDurations(tt.total, testProfile(t, tt.model), tt.count)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v (%v)", err, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("PlanDurations(%d) = %v, want %v", tt.total, got, tt.want)
			}
		})
	}
}

func TestPlanDurations_Properties(t *testing.T) {
	p := testProfile(t, "google/veo-3")

	for total := p.MinDuration; total <= 120; total++ {
		got, err := PlanDurations(total, p, 0)
		if err != nil {
			t.Fatalf("total %d: %v", total, err)
		}
		sum := 0
		for i, d := range got {
			sum += d
			if d < p.MinDuration || d > p.MaxDuration {
				t.Errorf("total %d: unit %d has duration %d outside %d-%d", total, i+1, d, p.MinDuration, p.MaxDuration)
			}
			if i < len(got)-1 && d != got[0] {
				t.Errorf("total %d: only the last unit may differ, got %v", total, got)
			}
		}
		if sum != total {
			t.Errorf("total %d: durations %v sum to %d", total, got, sum)
		}
		if got[len(got)-1] < got[0] {
			t.Errorf("total %d: last unit should absorb the remainder, got %v", total, got)
		}
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"basic", "Hi! How are you? Fine... ok", []string{"Hi!", "How are you?", "Fine...", "ok"}},
		{"decimal stays", "Version 1.2 is out. Try it.", []string{"Version 1.2 is out.", "Try it."}},
		{"collapses whitespace", "One  line\nbreaks. Two.", []string{"One line breaks.", "Two."}},
		{"full width", "你好。世界。", []string{"你好。", "世界。"}},
		{"empty", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitSentences(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitSentences(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitNarrative(t *testing.T) {
	text := "One two three. Four five six. Seven eight nine. Ten."

	tests := []struct {
		name string
		text string
		n    int
		want []string
	}{
		{"balanced by words", text, 2, []string{"One two three. Four five six.", "Seven eight nine. Ten."}},
		{"one sentence per unit", text, 4, []string{"One two three.", "Four five six.", "Seven eight nine.", "Ten."}},
		{"single chunk", text, 1, []string{text}},
		{"falls back to words", "Hello big world", 3, []string{"Hello", "big", "world"}},
		{"repeats when short", "Hello world", 3, []string{"Hello", "world", "world"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitNarrative(tt.text, tt.n)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitNarrative(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestSegment_CreatesOrderedUnits(t *testing.T) {
	env := setupService(t)
	section, units := env.segmented(t)

	wantDurations := []int{7, 7, 8}
	start := 0
	for i, u := range units {
		if u.Order != i+1 {
			t.Errorf("unit %d: order %d", i, u.Order)
		}
		if u.Duration != wantDurations[i] {
			t.Errorf("unit %d: duration %d, want %d", i+1, u.Duration, wantDurations[i])
		}
		if u.StartTime != start || u.EndTime != start+u.Duration {
			t.Errorf("unit %d: times %d-%d not contiguous", i+1, u.StartTime, u.EndTime)
		}
		start = u.EndTime
		if u.Seed != 1000+int64(i) {
			t.Errorf("unit %d: seed %d, want %d", i+1, u.Seed, 1000+i)
		}
		if u.Status != UnitPending {
			t.Errorf("unit %d: status %s", i+1, u.Status)
		}
		if u.ModelID != "google/veo-3" {
			t.Errorf("unit %d: model %s", i+1, u.ModelID)
		}
		if u.VoiceoverText == "" || u.VisualDescription != u.VoiceoverText || u.OptimizedPrompt != "" {
			t.Errorf("unit %d: unexpected script fields %+v", i+1, u)
		}
	}

	got, err := env.svc.GetSection(context.Background(), section.ID)
	if err != nil {
		t.Fatalf("GetSection: %v", err)
	}
	if got.BaseSeed != 1000 || got.ModelID != "google/veo-3" {
		t.Errorf("section not updated with segmentation parameters: %+v", got)
	}
}

func TestSegment_ReplacesEverything(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	section, old := env.segmented(t)

	res, err := env.svc.Dispatch(ctx, old[0].ID, DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	run, err := env.svc.StartSequence(ctx, section.ID)
	if err != nil {
		t.Fatalf("StartSequence: %v", err)
	}

	seed := int64(5)
	units, err := env.svc.Segment(ctx, SegmentRequest{SectionID: section.ID, TotalDuration: 16, UnitCount: 2, BaseSeed: &seed})
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	if len(units) != 2 || units[0].Seed != 5 || units[1].Seed != 6 {
		t.Fatalf("unexpected units after re-segmentation: %+v", units)
	}

	for _, u := range old {
		if got, _ := env.repo.GetUnit(ctx, u.ID); got != nil {
			t.Errorf("old unit %d still present", u.Order)
		}
	}
	if job, _ := env.repo.GetJob(ctx, res.JobID); job != nil {
		t.Error("old generation job still present")
	}
	list, _ := env.svc.ListUnits(ctx, section.ID)
	if len(list) != 2 {
		t.Errorf("expected 2 units, got %d", len(list))
	}
	gotRun, _ := env.svc.GetRun(ctx, run.ID)
	if gotRun.Status != RunFailed {
		t.Errorf("expected active run failed by re-segmentation, got %s", gotRun.Status)
	}
}

func TestSegment_Validation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	section, err := env.svc.CreateSection(ctx, NewSection{Content: testScript, TargetDuration: 22})
	if err != nil {
		t.Fatalf("CreateSection: %v", err)
	}

	tests := []struct {
		name    string
		req     SegmentRequest
		wantErr error
	}{
		{"unknown model", SegmentRequest{SectionID: section.ID, ModelID: "acme/none"}, ErrValidation},
		{"too short", SegmentRequest{SectionID: section.ID, TotalDuration: 3}, ErrValidation},
		{"negative count", SegmentRequest{SectionID: section.ID, UnitCount: -1}, ErrValidation},
		{"missing section", SegmentRequest{SectionID: "nope"}, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.svc.Segment(ctx, tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	units, _ := env.svc.ListUnits(ctx, section.ID)
	if len(units) != 0 {
		t.Errorf("failed segmentation must not write units, got %d", len(units))
	}
}
