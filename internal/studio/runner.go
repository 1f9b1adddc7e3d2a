package studio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/heimdex/reelforge/internal/logging"
	"github.com/heimdex/reelforge/internal/provider"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultStaleAfter   = 15 * time.Minute
)

// Runner advances sequence runs one unit at a time and polls the provider
// for jobs whose webhook never arrived.
type Runner struct {
	service      *Service
	repo         Repository
	fetcher      provider.StatusFetcher
	logger       *slog.Logger
	pollInterval time.Duration
	staleAfter   time.Duration
	running      atomic.Bool
	paused       atomic.Bool
}

// NewRunner builds a runner. fetcher may be nil, which disables stale job
// recovery.
func NewRunner(service *Service, repo Repository, fetcher provider.StatusFetcher, interval, staleAfter time.Duration, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		service:      service,
		repo:         repo,
		fetcher:      fetcher,
		logger:       logging.WithComponent(logger, "runner"),
		pollInterval: interval,
		staleAfter:   staleAfter,
	}
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("sequence runner started", "interval", r.pollInterval.String())

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sequence runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
			if !r.paused.Load() {
				r.tick(ctx)
			}
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("sequence runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("sequence runner resumed")
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

func (r *Runner) tick(ctx context.Context) {
	r.recoverStaleJobs(ctx)
	r.advanceRuns(ctx)
}

func (r *Runner) advanceRuns(ctx context.Context) {
	runs, err := r.repo.ListActiveRuns(ctx)
	if err != nil {
		r.logger.Error("failed to list active runs", "error", err)
		return
	}
	for _, run := range runs {
		if err := r.advance(ctx, run); err != nil {
			r.logger.Error("failed to advance run", "run_id", run.ID, "error", err)
		}
	}
}

// advance moves a run forward by at most one dispatch. The run waits while
// its current unit is with the provider and stops at the first unit that
// fails after the run dispatched it.
func (r *Runner) advance(ctx context.Context, run *SequenceRun) error {
	logger := logging.WithSectionID(r.logger, run.SectionID).With("run_id", run.ID)

	units, err := r.repo.ListUnits(ctx, run.SectionID)
	if err != nil {
		return err
	}

	prevStatus, prevCurrent := run.Status, run.CurrentUnitID
	if run.Status == RunPending {
		run.Status = RunRunning
	}

	var next *VideoUnit
	for _, u := range units {
		if u.Status != UnitCompleted && u.Status != UnitApproved {
			next = u
			break
		}
	}

	switch {
	case len(units) == 0:
		r.finish(run, RunFailed, "section has no units")
	case next == nil:
		r.finish(run, RunCompleted, "")
		run.CurrentUnitID = ""
	case next.Status.InFlight():
		run.CurrentUnitID = next.ID
	case next.Status == UnitCanceled:
		r.finish(run, RunFailed, fmt.Sprintf("unit %d was canceled", next.Order))
	case next.Status == UnitFailed && run.CurrentUnitID == next.ID:
		r.finish(run, RunFailed, fmt.Sprintf("unit %d failed: %s", next.Order, next.ErrorMessage))
	default:
		run.CurrentUnitID = next.ID
		if _, err := r.service.Dispatch(ctx, next.ID, DispatchOptions{}); err != nil {
			r.finish(run, RunFailed, fmt.Sprintf("dispatch of unit %d failed: %v", next.Order, err))
		} else {
			logger.Info("run dispatched unit", "unit_id", next.ID, "order", next.Order)
		}
	}

	if run.Status == prevStatus && run.CurrentUnitID == prevCurrent {
		return nil
	}
	run.UpdatedAt = r.service.now()
	if err := r.repo.UpdateRun(ctx, run); err != nil {
		return err
	}

	switch run.Status {
	case RunCompleted:
		logger.Info("sequence run completed", "units", len(units))
	case RunFailed:
		logger.Warn("sequence run failed", "error", run.Error)
	}
	return nil
}

func (r *Runner) finish(run *SequenceRun, status RunStatus, msg string) {
	run.Status = status
	run.Error = msg
}

// recoverStaleJobs asks the provider about jobs that have been generating
// for longer than staleAfter and feeds the answer through the webhook path.
// A permanent lookup refusal settles the job as failed.
func (r *Runner) recoverStaleJobs(ctx context.Context) {
	if r.fetcher == nil {
		return
	}

	jobs, err := r.repo.ListStaleJobs(ctx, r.service.now().Add(-r.staleAfter))
	if err != nil {
		r.logger.Error("failed to list stale jobs", "error", err)
		return
	}

	for _, job := range jobs {
		logger := logging.WithCorrelationID(r.logger, job.CorrelationID).With("job_id", job.ID)

		ev, err := r.fetcher.Fetch(ctx, job.CorrelationID)
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) && !rejected.IsRetryable() {
			// the provider will never report this prediction
			logger.Warn("stale job status lookup refused", "status_code", rejected.StatusCode)
			ev, err = &provider.Event{
				ID:     job.CorrelationID,
				Status: provider.StatusFailed,
				Error:  provider.ErrorText(fmt.Sprintf("provider refused status lookup: HTTP %d", rejected.StatusCode)),
			}, nil
		}
		if err != nil {
			logger.Warn("stale job status fetch failed", "error", err)
			continue
		}
		if ev.ID == "" {
			ev.ID = job.CorrelationID
		}

		outcome, err := r.service.Apply(ctx, ev, job.ID)
		if err != nil {
			logger.Error("failed to apply polled status", "error", err)
			continue
		}
		if outcome == OutcomeIgnored {
			if err := r.repo.TouchJob(ctx, job.ID, r.service.now()); err != nil {
				logger.Error("failed to touch stale job", "error", err)
			}
			continue
		}
		logger.Info("stale job reconciled by polling", "outcome", outcome, "status", ev.Status)
	}
}
