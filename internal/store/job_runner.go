package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/metrics"
)

// JobHandler processes the JSON payload of one job. A returned error schedules a retry.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner polls for due session-log and refresher jobs and dispatches them by kind.
type JobRunner struct {
	repo           JobRepo
	handlers       map[string]JobHandler
	mu             sync.RWMutex
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewJobRunner creates a new JobRunner.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
	}
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", "kind", kind)
}

// RecoverStaleJobs requeues jobs left running by a crashed process.
func (r *JobRunner) RecoverStaleJobs(ctx context.Context) error {
	staleBefore := time.Now().Add(-r.staleThreshold)
	n, err := r.repo.RequeueStaleRunningJobs(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverStaleJobs: requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls until ctx is canceled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce claims and executes one batch of due jobs.
func (r *JobRunner) RunOnce(ctx context.Context) {
	now := time.Now()
	jobs, err := r.repo.ClaimDueJobs(ctx, now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.RunOnce: claim failed", "error", err)
		return
	}
	for _, job := range jobs {
		outcome := r.execute(ctx, job, now)
		metrics.ObserveJob(job.Kind, outcome)
	}
}

// execute runs one claimed job and records its result. It returns the metrics outcome.
func (r *JobRunner) execute(ctx context.Context, job Job, now time.Time) string {
	r.mu.RLock()
	handler, ok := r.handlers[job.Kind]
	r.mu.RUnlock()

	if !ok {
		slog.Warn("JobRunner.execute: no handler for job kind", "kind", job.Kind, "id", job.ID)
		r.fail(ctx, job, "no handler registered for kind: "+job.Kind, now.Add(time.Minute))
		return "unhandled"
	}

	slog.Debug("JobRunner.execute: running job", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt)
	if err := handler(ctx, job.PayloadJSON); err != nil {
		slog.Error("JobRunner.execute: job failed", "id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "error", err)
		r.fail(ctx, job, err.Error(), now.Add(jobBackoff(job.Attempt)))
		return "failed"
	}
	if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
		slog.Error("JobRunner.execute: complete job error", "id", job.ID, "error", err)
	}
	return "done"
}

func (r *JobRunner) fail(ctx context.Context, job Job, msg string, nextRunAt time.Time) {
	if err := r.repo.FailJob(ctx, job.ID, msg, nextRunAt); err != nil {
		slog.Error("JobRunner.fail: fail job error", "id", job.ID, "error", err)
	}
}

// maxJobBackoff caps the retry delay of a failed job.
const maxJobBackoff = 30 * time.Minute

// jobBackoff returns 30s * 2^attempt, capped at maxJobBackoff.
func jobBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxJobBackoff
	}
	d := time.Duration(30*(1<<attempt)) * time.Second
	if d > maxJobBackoff {
		return maxJobBackoff
	}
	return d
}
