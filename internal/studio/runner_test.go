package studio

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/heimdex/reelforge/internal/provider"
)

type fakeFetcher struct {
	mu     sync.Mutex
	events map[string]*provider.Event
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(ctx context.Context, correlationID string) (*provider.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ev, ok := f.events[correlationID]
	if !ok {
		return &provider.Event{ID: correlationID, Status: provider.StatusProcessing}, nil
	}
	return ev, nil
}

func setupRunner(t *testing.T) (*testEnv, *Runner, *fakeFetcher) {
	t.Helper()
	env := setupService(t)
	fetcher := &fakeFetcher{events: map[string]*provider.Event{}}
	return env, NewRunner(env.svc, env.repo, fetcher, time.Second, 0, nil), fetcher
}

func TestRunner_AdvancesSequentially(t *testing.T) {
	env, runner, _ := setupRunner(t)
	ctx := context.Background()
	section, units := env.segmented(t)

	run, err := env.svc.StartSequence(ctx, section.ID)
	if err != nil {
		t.Fatalf("StartSequence: %v", err)
	}

	for i, u := range units {
		runner.tick(ctx)

		got, _ := env.svc.GetRun(ctx, run.ID)
		if got.Status != RunRunning || got.CurrentUnitID != u.ID {
			t.Fatalf("step %d: expected running on unit %d, got %s %s", i+1, u.Order, got.Status, got.CurrentUnitID)
		}
		if env.gen.count() != i+1 {
			t.Fatalf("step %d: expected %d submissions, got %d", i+1, i+1, env.gen.count())
		}

		// the run waits while the unit is generating
		runner.tick(ctx)
		if env.gen.count() != i+1 {
			t.Fatalf("step %d: runner dispatched while unit %d was in flight", i+1, u.Order)
		}

		jobs, _ := env.repo.ListJobsForUnit(ctx, u.ID)
		env.deliver(t, succeededEvent(jobs[0].CorrelationID, "https://cdn.example.com/v.mp4", "https://cdn.example.com/v.jpg"), "")
	}

	runner.tick(ctx)
	got, _ := env.svc.GetRun(ctx, run.ID)
	if got.Status != RunCompleted || got.CurrentUnitID != "" {
		t.Errorf("expected completed run, got %+v", got)
	}

	active, _ := env.repo.ListActiveRuns(ctx)
	if len(active) != 0 {
		t.Errorf("expected no active runs, got %d", len(active))
	}
}

func TestRunner_FailsRunWhenUnitFails(t *testing.T) {
	env, runner, _ := setupRunner(t)
	ctx := context.Background()
	section, units := env.segmented(t)

	run, err := env.svc.StartSequence(ctx, section.ID)
	if err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	runner.tick(ctx)

	jobs, _ := env.repo.ListJobsForUnit(ctx, units[0].ID)
	env.deliver(t, `{"id":"`+jobs[0].CorrelationID+`","status":"failed","error":"quota exceeded"}`, "")

	runner.tick(ctx)
	got, _ := env.svc.GetRun(ctx, run.ID)
	if got.Status != RunFailed || !strings.Contains(got.Error, "unit 1 failed: quota exceeded") {
		t.Errorf("expected failed run, got %s %q", got.Status, got.Error)
	}
	if env.gen.count() != 1 {
		t.Errorf("failed run must not dispatch further units, got %d submissions", env.gen.count())
	}
}

func TestRunner_FailsRunWhenDispatchRejected(t *testing.T) {
	env, runner, _ := setupRunner(t)
	ctx := context.Background()
	section, _ := env.segmented(t)

	env.gen.err = errors.New("connection refused")
	run, err := env.svc.StartSequence(ctx, section.ID)
	if err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	runner.tick(ctx)

	got, _ := env.svc.GetRun(ctx, run.ID)
	if got.Status != RunFailed || !strings.Contains(got.Error, "dispatch of unit 1 failed") {
		t.Errorf("expected failed run, got %s %q", got.Status, got.Error)
	}
}

func TestRunner_RetriesUnitThatFailedBeforeRun(t *testing.T) {
	env, runner, _ := setupRunner(t)
	ctx := context.Background()
	section, units := env.segmented(t)

	env.gen.err = errors.New("connection refused")
	if _, err := env.svc.Dispatch(ctx, units[0].ID, DispatchOptions{}); !errors.Is(err, ErrDispatchRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	env.gen.err = nil

	if _, err := env.svc.StartSequence(ctx, section.ID); err != nil {
		t.Fatalf("StartSequence: %v", err)
	}
	runner.tick(ctx)

	u, _ := env.svc.GetUnit(ctx, units[0].ID)
	if u.Status != UnitGenerating {
		t.Errorf("expected failed unit to be dispatched again, got %s", u.Status)
	}
}

func TestRunner_RecoversStaleJobs(t *testing.T) {
	env, runner, fetcher := setupRunner(t)
	ctx := context.Background()
	_, units := env.segmented(t)

	res, err := env.svc.Dispatch(ctx, units[0].ID, DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	before, _ := env.repo.GetJob(ctx, res.JobID)

	// still processing: the job is touched and left generating
	later := time.Now().UTC().Add(time.Hour)
	env.svc.now = func() time.Time { return later }
	runner.recoverStaleJobs(ctx)

	job, _ := env.repo.GetJob(ctx, res.JobID)
	if job.Status != JobGenerating || !job.UpdatedAt.After(before.UpdatedAt) {
		t.Errorf("expected touched generating job, got %s %v", job.Status, job.UpdatedAt)
	}
	runner.recoverStaleJobs(ctx)
	if fetcher.calls != 1 {
		t.Errorf("touched job should not be polled again yet, got %d fetches", fetcher.calls)
	}

	predict := 10.0
	fetcher.events[res.CorrelationID] = &provider.Event{
		ID:      res.CorrelationID,
		Status:  provider.StatusSucceeded,
		Output:  provider.Output{"https://cdn.example.com/polled.mp4"},
		Metrics: provider.Metrics{PredictTime: &predict},
	}
	evenLater := later.Add(time.Hour)
	env.svc.now = func() time.Time { return evenLater }
	runner.recoverStaleJobs(ctx)

	u, _ := env.svc.GetUnit(ctx, units[0].ID)
	if u.Status != UnitCompleted || u.ResultURL != "https://cdn.example.com/polled.mp4" || u.ProcessingTimeMs != 10000 {
		t.Errorf("expected unit completed by polling, got %+v", u)
	}
}

func TestRunner_FetchErrorLeavesJob(t *testing.T) {
	env, runner, fetcher := setupRunner(t)
	ctx := context.Background()
	_, units := env.segmented(t)

	res, err := env.svc.Dispatch(ctx, units[0].ID, DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	before, _ := env.repo.GetJob(ctx, res.JobID)

	fetcher.err = errors.New("provider unavailable")
	env.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	runner.recoverStaleJobs(ctx)

	job, _ := env.repo.GetJob(ctx, res.JobID)
	if job.Status != JobGenerating || !job.UpdatedAt.Equal(before.UpdatedAt) {
		t.Errorf("failed fetch must leave the job alone, got %+v", job)
	}
}

func TestRunner_PermanentFetchRefusalFailsJob(t *testing.T) {
	env, runner, fetcher := setupRunner(t)
	ctx := context.Background()
	_, units := env.segmented(t)

	res, err := env.svc.Dispatch(ctx, units[0].ID, DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	env.svc.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }

	// rate limiting is transient
	fetcher.err = &provider.RejectedError{StatusCode: 429, Body: "slow down"}
	runner.recoverStaleJobs(ctx)
	if job, _ := env.repo.GetJob(ctx, res.JobID); job.Status != JobGenerating {
		t.Fatalf("retryable refusal must leave the job, got %s", job.Status)
	}

	fetcher.err = &provider.RejectedError{StatusCode: 404, Body: "not found"}
	runner.recoverStaleJobs(ctx)

	job, _ := env.repo.GetJob(ctx, res.JobID)
	if job.Status != JobFailed {
		t.Errorf("expected failed job, got %s", job.Status)
	}
	u, _ := env.svc.GetUnit(ctx, units[0].ID)
	if u.Status != UnitFailed || !strings.Contains(u.ErrorMessage, "HTTP 404") {
		t.Errorf("expected unit failed by refused lookup, got %s %q", u.Status, u.ErrorMessage)
	}
}

func TestRunner_PauseResume(t *testing.T) {
	env := setupService(t)
	runner := NewRunner(env.svc, env.repo, nil, 10*time.Millisecond, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for !runner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !runner.IsRunning() {
		t.Fatal("runner did not start")
	}

	runner.Pause()
	if !runner.IsPaused() {
		t.Error("expected paused")
	}
	runner.Resume()
	if runner.IsPaused() {
		t.Error("expected resumed")
	}

	cancel()
	<-done
	if runner.IsRunning() {
		t.Error("expected runner stopped after cancel")
	}
}
