package studio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/provider"
)

// Outcome describes what a webhook delivery did.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicate          Outcome = "duplicate"
	OutcomeIgnored            Outcome = "ignored"
	OutcomeUnknownCorrelation Outcome = "unknown_correlation"
	OutcomeUnitMissing        Outcome = "unit_missing"
	OutcomeMalformed          Outcome = "malformed"
	OutcomeError              Outcome = "error"
)

// HandleWebhook authenticates and applies one provider callback. Only an
// authentication failure is returned as an error; every other outcome is
// acknowledged so the provider stops redelivering. jobHint is the local job
// id carried in the callback URL.
func (s *Service) HandleWebhook(ctx context.Context, headers http.Header, body []byte, jobHint string) (Outcome, error) {
	if s.verifier == nil {
		s.logger.Warn("webhook rejected: no verifier configured", "security_event", true)
		return "", fmt.Errorf("%w: %v", ErrWebhookAuth, provider.ErrNoSecret)
	}
	if err := s.verifier.Verify(headers, body); err != nil {
		s.logger.Warn("webhook signature rejected",
			"security_event", true,
			"webhook_id", headers.Get(provider.HeaderWebhookID),
			"error", err,
		)
		return "", fmt.Errorf("%w: %v", ErrWebhookAuth, err)
	}

	ev, err := provider.ParseEvent(body)
	if err != nil {
		s.logger.Error("malformed webhook payload", "error", err, "job_hint", jobHint)
		return OutcomeMalformed, nil
	}

	outcome, err := s.Apply(ctx, ev, jobHint)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownCorrelation):
	default:
		logging.WithCorrelationID(s.logger, ev.ID).Error("failed to apply webhook", "error", err)
		return OutcomeError, nil
	}
	return outcome, nil
}

// Apply reconciles one provider event with the stored job and unit. Only
// terminal events change state, and only for rows that are still in flight,
// so repeated or reordered deliveries are harmless.
func (s *Service) Apply(ctx context.Context, ev *provider.Event, jobHint string) (Outcome, error) {
	logger := logging.WithCorrelationID(s.logger, ev.ID)

	if !ev.Status.IsTerminal() {
		logger.Debug("non-terminal provider status acknowledged", "status", ev.Status)
		return OutcomeIgnored, nil
	}

	job, err := s.lookupJob(ctx, ev.ID, jobHint)
	if err != nil {
		return OutcomeError, err
	}
	if job == nil {
		logger.Warn("webhook for unknown correlation id", "status", ev.Status, "job_hint", jobHint)
		return OutcomeUnknownCorrelation, fmt.Errorf("%w: %s", ErrUnknownCorrelation, ev.ID)
	}

	var unit *VideoUnit
	if job.UnitID != "" {
		if unit, err = s.repo.GetUnit(ctx, job.UnitID); err != nil {
			return OutcomeError, err
		}
	}

	res := TerminalResult{
		JobID:         job.ID,
		CorrelationID: ev.ID,
		At:            s.now(),
	}
	switch ev.Status {
	case provider.StatusSucceeded:
		res.JobStatus, res.UnitStatus = JobCompleted, UnitCompleted
		res.ResultURL = ev.Output.First()
		res.ThumbnailURL = ev.Output.Second()
		if res.ResultURL == "" {
			res.JobStatus, res.UnitStatus = JobFailed, UnitFailed
			res.ErrorMessage = "provider reported success without an output"
		}
	case provider.StatusFailed:
		res.JobStatus, res.UnitStatus = JobFailed, UnitFailed
		res.ErrorMessage = string(ev.Error)
		if res.ErrorMessage == "" {
			res.ErrorMessage = "generation failed"
		}
	case provider.StatusCanceled:
		res.JobStatus, res.UnitStatus = JobCanceled, UnitCanceled
		res.ErrorMessage = string(ev.Error)
		if res.ErrorMessage == "" {
			res.ErrorMessage = "generation canceled"
		}
	}

	if ev.Metrics.PredictTime != nil {
		predict := *ev.Metrics.PredictTime
		res.ProcessingTimeMs = int64(math.Round(predict * 1000))
		if unit != nil {
			if profile, ok := s.registry.Get(unit.ModelID); ok {
				res.ActualCost = predict * profile.CostPerSecond
			}
		}
	}
	if unit != nil {
		res.UnitID = unit.ID
	}

	applied, err := s.repo.ApplyTerminalResult(ctx, res)
	if err != nil {
		return OutcomeError, err
	}
	if !applied.JobUpdated {
		logger.Info("duplicate terminal webhook ignored", "job_id", job.ID, "job_status", job.Status)
		return OutcomeDuplicate, nil
	}
	if unit == nil {
		logger.Warn("job settled but its unit no longer exists", "job_id", job.ID, "status", res.JobStatus)
		return OutcomeUnitMissing, nil
	}

	logging.WithUnitID(logger, unit.ID).Info("generation settled",
		"job_id", job.ID,
		"status", res.UnitStatus,
		"processing_time_ms", res.ProcessingTimeMs,
		"unit_updated", applied.UnitUpdated,
	)
	return OutcomeApplied, nil
}

// lookupJob resolves an event by correlation id, falling back to the job id
// from the callback URL for webhooks that beat the acceptance write.
func (s *Service) lookupJob(ctx context.Context, correlationID, jobHint string) (*GenerationJob, error) {
	job, err := s.repo.GetJobByCorrelationID(ctx, correlationID)
	if err != nil || job != nil || jobHint == "" {
		return job, err
	}

	job, err = s.repo.GetJob(ctx, jobHint)
	if err != nil || job == nil {
		return nil, err
	}
	if job.CorrelationID != "" && job.CorrelationID != correlationID {
		return nil, nil
	}
	return job, nil
}
