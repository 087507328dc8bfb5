// Package scheduler runs periodic maintenance for RobotFeed on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Maintenance defaults.
const (
	DefaultMaintenanceCron = "17 3 * * *"
	DefaultRetention       = 14 * 24 * time.Hour
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Pruner deletes finished durable jobs and delivered outbox messages.
type Pruner interface {
	PruneFinishedJobs(ctx context.Context, cutoff time.Time) (int, error)
	PruneSentOutboxMessages(ctx context.Context, cutoff time.Time) (int, error)
}

// Prune removes jobs and outbox messages that finished before now-retention.
func Prune(ctx context.Context, p Pruner, now time.Time, retention time.Duration) error {
	cutoff := now.Add(-retention)
	jobs, err := p.PruneFinishedJobs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	messages, err := p.PruneSentOutboxMessages(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune outbox: %w", err)
	}
	slog.Info("scheduler.Prune: maintenance done", "jobs", jobs, "outboxMessages", messages, "cutoff", cutoff)
	return nil
}

// AddMaintenance schedules Prune on expr.
func (s *Scheduler) AddMaintenance(ctx context.Context, expr string, p Pruner, retention time.Duration) error {
	if expr == "" {
		expr = DefaultMaintenanceCron
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if err := s.AddJob(expr, func() {
		if err := Prune(ctx, p, time.Now(), retention); err != nil {
			slog.Error("Scheduler.AddMaintenance: prune failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", expr, err)
	}
	slog.Debug("Scheduler.AddMaintenance: scheduled", "cron", expr, "retention", retention)
	return nil
}
