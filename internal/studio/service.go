// Package studio is the sequential generation pipeline: segmenting a script
// section into units, dispatching them to the provider one after another,
// reconciling provider webhooks, approving results and compiling the
// approved sequence.
package studio

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/heimdex/reelforge/internal/concat"
	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/profiles"
	"github.com/heimdex/reelforge/internal/provider"
)

const (
	defaultDispatchTimeout = 30 * time.Second
	defaultCompileTimeout  = 10 * time.Minute
	defaultLanguage        = "en"
)

type StudioService interface {
	CreateSection(ctx context.Context, in NewSection) (*Section, error)
	GetSection(ctx context.Context, id string) (*Section, error)
	Segment(ctx context.Context, req SegmentRequest) ([]*VideoUnit, error)

	ListUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error)
	GetUnit(ctx context.Context, id string) (*VideoUnit, error)
	UpdateUnitScript(ctx context.Context, id string, upd ScriptUpdate) (*VideoUnit, error)
	ListJobs(ctx context.Context, unitID string) ([]*GenerationJob, error)

	Dispatch(ctx context.Context, unitID string, opts DispatchOptions) (*DispatchResult, error)
	Regenerate(ctx context.Context, unitID string, opts RegenerateOptions) (*RegenerateResult, error)
	HandleWebhook(ctx context.Context, headers http.Header, body []byte, jobHint string) (Outcome, error)
	Approve(ctx context.Context, unitID string) (*VideoUnit, error)

	ListApprovedUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error)
	Compile(ctx context.Context, sectionID string, opts CompileOptions) (*CompiledArtifact, error)
	ListArtifacts(ctx context.Context, sectionID string) ([]*CompiledArtifact, error)

	StartSequence(ctx context.Context, sectionID string) (*SequenceRun, error)
	GetRun(ctx context.Context, id string) (*SequenceRun, error)
}

// SignatureVerifier authenticates inbound provider webhooks.
type SignatureVerifier interface {
	Verify(h http.Header, body []byte) error
}

type Options struct {
	Registry  *profiles.Registry
	Generator provider.Generator
	Verifier  SignatureVerifier
	Concat    concat.Provider

	// WebhookBaseURL is the public address the provider calls back, without
	// the /webhooks path.
	WebhookBaseURL  string
	DispatchTimeout time.Duration
	CompileTimeout  time.Duration
	Logger          *slog.Logger
}

type Service struct {
	repo      Repository
	registry  *profiles.Registry
	generator provider.Generator
	verifier  SignatureVerifier
	concat    concat.Provider

	webhookBaseURL  string
	dispatchTimeout time.Duration
	compileTimeout  time.Duration
	logger          *slog.Logger

	now      func() time.Time
	baseSeed func() int64
}

func NewService(repo Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = defaultDispatchTimeout
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = defaultCompileTimeout
	}
	return &Service{
		repo:            repo,
		registry:        opts.Registry,
		generator:       opts.Generator,
		verifier:        opts.Verifier,
		concat:          opts.Concat,
		webhookBaseURL:  strings.TrimRight(opts.WebhookBaseURL, "/"),
		dispatchTimeout: opts.DispatchTimeout,
		compileTimeout:  opts.CompileTimeout,
		logger:          logging.WithComponent(opts.Logger, "studio"),
		now:             func() time.Time { return time.Now().UTC() },
		baseSeed:        func() int64 { return rand.Int63n(1 << 31) },
	}
}

// NewSection is the input of CreateSection.
type NewSection struct {
	ProjectID      string `json:"project_id"`
	Content        string `json:"content"`
	TargetDuration int    `json:"target_duration"`
	Language       string `json:"language"`
}

func (s *Service) CreateSection(ctx context.Context, in NewSection) (*Section, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, validationf("section content is empty")
	}
	if in.TargetDuration < 0 {
		return nil, validationf("target duration must not be negative")
	}
	if in.Language == "" {
		in.Language = defaultLanguage
	}

	now := s.now()
	section := &Section{
		ID:             NewID(),
		ProjectID:      in.ProjectID,
		Content:        in.Content,
		TargetDuration: in.TargetDuration,
		Language:       in.Language,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateSection(ctx, section); err != nil {
		return nil, err
	}

	s.logger.Info("section created", "section_id", section.ID, "project_id", section.ProjectID)
	return section, nil
}

func (s *Service) GetSection(ctx context.Context, id string) (*Section, error) {
	section, err := s.repo.GetSection(ctx, id)
	if err != nil {
		return nil, err
	}
	if section == nil {
		return nil, notFound("section", id)
	}
	return section, nil
}

func (s *Service) ListUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error) {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}
	return s.repo.ListUnits(ctx, sectionID)
}

func (s *Service) GetUnit(ctx context.Context, id string) (*VideoUnit, error) {
	unit, err := s.repo.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if unit == nil {
		return nil, notFound("unit", id)
	}
	return unit, nil
}

func (s *Service) ListJobs(ctx context.Context, unitID string) ([]*GenerationJob, error) {
	if _, err := s.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return s.repo.ListJobsForUnit(ctx, unitID)
}

// ScriptUpdate holds the editable unit fields; nil fields are left as they
// are.
type ScriptUpdate struct {
	Objective         *string `json:"objective"`
	VoiceoverText     *string `json:"voiceover_text"`
	VisualDescription *string `json:"visual_description"`
	OptimizedPrompt   *string `json:"optimized_prompt"`
	ModelID           *string `json:"model_id"`
	ReferenceImageURL *string `json:"reference_image_url"`
}

// UpdateUnitScript edits a unit that has not been submitted yet, or whose
// last attempt failed.
func (s *Service) UpdateUnitScript(ctx context.Context, id string, upd ScriptUpdate) (*VideoUnit, error) {
	unit, err := s.GetUnit(ctx, id)
	if err != nil {
		return nil, err
	}
	if !unit.Status.Dispatchable() {
		return nil, &StateError{UnitID: id, Status: unit.Status, Action: "edit", Allowed: []UnitStatus{UnitPending, UnitFailed}}
	}

	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&unit.Objective, upd.Objective)
	set(&unit.VoiceoverText, upd.VoiceoverText)
	set(&unit.VisualDescription, upd.VisualDescription)
	set(&unit.OptimizedPrompt, upd.OptimizedPrompt)
	set(&unit.ReferenceImageURL, upd.ReferenceImageURL)
	if upd.ModelID != nil {
		if _, ok := s.registry.Get(*upd.ModelID); !ok {
			return nil, validationf("unknown model %q", *upd.ModelID)
		}
		unit.ModelID = *upd.ModelID
	}
	unit.UpdatedAt = s.now()

	ok, err := s.repo.UpdateUnitScript(ctx, unit)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.GetUnit(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &StateError{UnitID: id, Status: current.Status, Action: "edit", Allowed: []UnitStatus{UnitPending, UnitFailed}}
	}
	return unit, nil
}

// RegenerateOptions control a regeneration. A nil Seed keeps the unit's
// current seed.
type RegenerateOptions struct {
	Seed            *int64         `json:"seed"`
	OptimizedPrompt *string        `json:"optimized_prompt"`
	Dispatch        bool           `json:"dispatch"`
	Overrides       map[string]any `json:"overrides"`
}

type RegenerateResult struct {
	Unit     *VideoUnit      `json:"unit"`
	Dispatch *DispatchResult `json:"dispatch,omitempty"`
	// StaleReferences lists downstream units still chained to the thumbnail
	// this regeneration discarded.
	StaleReferences []string `json:"stale_references,omitempty"`
}

// Regenerate resets a unit to pending, clearing its previous result, and
// optionally dispatches it again right away.
func (s *Service) Regenerate(ctx context.Context, unitID string, opts RegenerateOptions) (*RegenerateResult, error) {
	unit, err := s.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.Status.InFlight() {
		return nil, &StateError{
			UnitID:  unitID,
			Status:  unit.Status,
			Action:  "regenerate",
			Allowed: []UnitStatus{UnitPending, UnitCompleted, UnitFailed, UnitCanceled, UnitApproved},
		}
	}

	seed := unit.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}
	prompt := unit.OptimizedPrompt
	if opts.OptimizedPrompt != nil {
		prompt = strings.TrimSpace(*opts.OptimizedPrompt)
	}

	ok, err := s.repo.ResetUnit(ctx, unitID, seed, prompt, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.GetUnit(ctx, unitID)
		if err != nil {
			return nil, err
		}
		return nil, &StateError{UnitID: unitID, Status: current.Status, Action: "regenerate"}
	}

	logger := logging.WithUnitID(s.logger, unitID)
	result := &RegenerateResult{}

	if unit.ThumbnailURL != "" {
		units, err := s.repo.ListUnits(ctx, unit.SectionID)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			if u.Order > unit.Order && u.ReferenceImageURL == unit.ThumbnailURL {
				result.StaleReferences = append(result.StaleReferences, u.ID)
			}
		}
		if len(result.StaleReferences) > 0 {
			logger.Warn("regenerated unit is still referenced downstream",
				"stale_units", result.StaleReferences,
			)
		}
	}

	logger.Info("unit reset for regeneration", "seed", seed)

	if opts.Dispatch {
		res, err := s.Dispatch(ctx, unitID, DispatchOptions{Overrides: opts.Overrides})
		if err != nil {
			return nil, err
		}
		result.Dispatch = res
		result.Unit = res.Unit
		return result, nil
	}

	if result.Unit, err = s.GetUnit(ctx, unitID); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) ListArtifacts(ctx context.Context, sectionID string) ([]*CompiledArtifact, error) {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}
	return s.repo.ListArtifacts(ctx, sectionID)
}

func (s *Service) ListApprovedUnits(ctx context.Context, sectionID string) ([]*VideoUnit, error) {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}
	return s.repo.ListApprovedUnits(ctx, sectionID)
}

// StartSequence queues a run that dispatches every remaining unit of the
// section in order. An active run for the section is returned as is.
func (s *Service) StartSequence(ctx context.Context, sectionID string) (*SequenceRun, error) {
	if _, err := s.GetSection(ctx, sectionID); err != nil {
		return nil, err
	}

	active, err := s.repo.GetActiveRun(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return active, nil
	}

	units, err := s.repo.ListUnits(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, validationf("section %s has no units; segment it first", sectionID)
	}

	now := s.now()
	run := &SequenceRun{
		ID:        NewID(),
		SectionID: sectionID,
		Status:    RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	s.logger.Info("sequence run queued", "run_id", run.ID, "section_id", sectionID, "units", len(units))
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, id string) (*SequenceRun, error) {
	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, notFound("run", id)
	}
	return run, nil
}
