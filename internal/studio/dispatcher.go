package studio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/profiles"
	"github.com/heimdex/reelforge/internal/provider"
)

// DispatchOptions are per-dispatch operator inputs. Overrides are merged
// over the profile defaults before validation.
type DispatchOptions struct {
	Seed      *int64         `json:"seed"`
	Overrides map[string]any `json:"overrides"`
}

type DispatchResult struct {
	JobID         string     `json:"job_id"`
	CorrelationID string     `json:"correlation_id"`
	EstimatedCost float64    `json:"estimated_cost"`
	EstimatedTime int        `json:"estimated_time"`
	Unit          *VideoUnit `json:"unit"`
}

var dispatchableStatuses = []UnitStatus{UnitPending, UnitFailed}

// Dispatch submits one unit to the generation provider. The call returns as
// soon as the provider has accepted or rejected the job; the result arrives
// later through HandleWebhook.
func (s *Service) Dispatch(ctx context.Context, unitID string, opts DispatchOptions) (*DispatchResult, error) {
	unit, err := s.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	logger := logging.WithUnitID(s.logger, unit.ID)

	if !unit.Status.Dispatchable() {
		return nil, &StateError{UnitID: unit.ID, Status: unit.Status, Action: "dispatch", Allowed: dispatchableStatuses}
	}

	profile, ok := s.registry.Get(unit.ModelID)
	if !ok {
		return nil, validationf("unit %s uses unknown model %q", unit.ID, unit.ModelID)
	}

	if unit.Order > 1 {
		prev, err := s.repo.GetUnitByOrder(ctx, unit.SectionID, unit.Order-1)
		if err != nil {
			return nil, err
		}
		if prev != nil && !prev.Status.Settled() {
			return nil, fmt.Errorf("%w: unit %d is %s", ErrPredecessorNotReady, prev.Order, prev.Status)
		}
	}

	ref, err := s.ResolveReference(ctx, unit, profile)
	if err != nil {
		return nil, err
	}

	seed := unit.Seed
	if opts.Seed != nil {
		seed = *opts.Seed
	}

	prompt := unit.Prompt()
	if prompt == "" {
		return nil, validationf("unit %s has no prompt or visual description", unit.ID)
	}
	params, err := s.registry.BuildParameters(profile, profiles.UnitInput{
		Prompt:            prompt,
		Seed:              seed,
		Duration:          unit.Duration,
		ReferenceImageURL: ref.URL,
		Overrides:         opts.Overrides,
	})
	if err != nil {
		if errors.Is(err, profiles.ErrInvalidParameter) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}

	now := s.now()
	claimed, err := s.repo.ClaimUnit(ctx, unit.ID, seed, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := s.GetUnit(ctx, unit.ID)
		if err != nil {
			return nil, err
		}
		return nil, &StateError{UnitID: unit.ID, Status: current.Status, Action: "dispatch", Allowed: dispatchableStatuses}
	}
	unit.Status = UnitDispatched
	unit.Seed = seed

	if ref.Chained {
		if err := s.repo.SetReferenceImage(ctx, unit.ID, ref.URL, now); err != nil {
			s.failDispatch(ctx, "", unit.ID, "persist reference image: "+err.Error())
			return nil, err
		}
		unit.ReferenceImageURL = ref.URL
		logger.Info("reference image chained from previous unit", "reference_image_url", ref.URL)
	}

	job := &GenerationJob{
		ID:             NewID(),
		UnitID:         unit.ID,
		Status:         JobDispatched,
		Parameters:     string(payload),
		EstimatedCost:  float64(unit.Duration) * profile.CostPerSecond,
		EstimatedTimeS: profile.GenerationTime,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.failDispatch(ctx, "", unit.ID, "record job: "+err.Error())
		return nil, err
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	sub, err := s.generator.Submit(submitCtx, provider.SubmitRequest{
		Model:      profile.ID,
		Version:    profile.Version,
		Input:      params,
		WebhookURL: s.webhookURL(job.ID),
	})
	if err == nil && sub.CorrelationID == "" {
		err = errors.New("provider accepted the job without an id")
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(submitCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("provider did not accept the job within %s", s.dispatchTimeout)
		}
		s.failDispatch(ctx, job.ID, unit.ID, msg)
		logger.Warn("dispatch rejected", "job_id", job.ID, "error", msg)
		return nil, fmt.Errorf("%w: %s", ErrDispatchRejected, msg)
	}

	if err := s.repo.MarkAccepted(ctx, job.ID, unit.ID, sub.CorrelationID, s.now()); err != nil {
		// Without a stored correlation id neither polling nor a late webhook
		// can settle the job, so release the claim. A job a webhook already
		// settled is left as is.
		s.failDispatch(ctx, job.ID, unit.ID, fmt.Sprintf("record acceptance of %s: %v", sub.CorrelationID, err))
		logger.Error("failed to record acceptance", "job_id", job.ID, "correlation_id", sub.CorrelationID, "error", err)
		return nil, fmt.Errorf("record acceptance of %s: %w", sub.CorrelationID, err)
	}

	logging.WithCorrelationID(logger, sub.CorrelationID).Info("unit dispatched",
		"job_id", job.ID,
		"model", profile.ID,
		"seed", seed,
		"duration", unit.Duration,
	)

	updated, err := s.GetUnit(ctx, unit.ID)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		JobID:         job.ID,
		CorrelationID: sub.CorrelationID,
		EstimatedCost: job.EstimatedCost,
		EstimatedTime: job.EstimatedTimeS,
		Unit:          updated,
	}, nil
}

// failDispatch moves the claimed unit (and its job, if written) to failed.
// It runs detached from ctx so a canceled request still releases the claim.
func (s *Service) failDispatch(ctx context.Context, jobID, unitID, msg string) {
	if err := s.repo.MarkDispatchFailed(context.WithoutCancel(ctx), jobID, unitID, msg, s.now()); err != nil {
		s.logger.Error("failed to record dispatch failure", "unit_id", unitID, "job_id", jobID, "error", err)
	}
}

func (s *Service) webhookURL(jobID string) string {
	if s.webhookBaseURL == "" {
		return ""
	}
	return s.webhookBaseURL + "/webhooks/generation?job_id=" + url.QueryEscape(jobID)
}
