package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/util"
)

// Compile-time check that Store implements JobRepo.
var _ JobRepo = (*Store)(nil)

const jobColumns = `id, kind, run_at, COALESCE(payload_json, '') AS payload_json, status, attempt, max_attempts,
	COALESCE(last_error, '') AS last_error, locked_at, COALESCE(dedupe_key, '') AS dedupe_key, created_at, updated_at`

func (s *Store) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		found, err := s.get(ctx, &existingID,
			`SELECT id FROM jobs WHERE dedupe_key = :key AND status NOT IN ('done', 'canceled', 'failed') LIMIT 1`,
			map[string]interface{}{"key": dedupeKey})
		if err != nil {
			return "", fmt.Errorf("dedupe check failed: %w", err)
		}
		if found {
			slog.Debug("Store.EnqueueJob: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
	}

	id := util.GenerateJobID()
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO jobs (id, kind, run_at, payload_json, status, attempt, max_attempts, dedupe_key, created_at, updated_at)
		 VALUES (:id, :kind, :run_at, :payload, 'queued', 0, :max_attempts, :dedupe_key, :now, :now)`,
		map[string]interface{}{
			"id":           id,
			"kind":         kind,
			"run_at":       runAt.UTC(),
			"payload":      payloadJSON,
			"max_attempts": DefaultJobMaxAttempts,
			"dedupe_key":   nilIfEmpty(dedupeKey),
			"now":          now,
		})
	if err != nil {
		return "", fmt.Errorf("enqueue job failed: %w", err)
	}
	slog.Debug("Store.EnqueueJob", "id", id, "kind", kind, "runAt", runAt)
	return id, nil
}

func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	now = now.UTC()
	params := map[string]interface{}{"now": now, "limit": limit}

	if s.driver == DriverPostgres {
		var jobs []Job
		err := s.selectAll(ctx, &jobs,
			`UPDATE jobs SET status = 'running', locked_at = :now, updated_at = :now
			 WHERE id IN (
			   SELECT id FROM jobs WHERE status = 'queued' AND run_at <= :now
			   ORDER BY run_at ASC LIMIT :limit
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+jobColumns, params)
		if err != nil {
			return nil, fmt.Errorf("claim due jobs failed: %w", err)
		}
		return jobs, nil
	}

	var jobs []Job
	err := s.selectAll(ctx, &jobs,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'queued' AND run_at <= :now ORDER BY run_at ASC LIMIT :limit`,
		params)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs query failed: %w", err)
	}
	for i := range jobs {
		_, err := s.exec(ctx,
			`UPDATE jobs SET status = 'running', locked_at = :now, updated_at = :now WHERE id = :id`,
			map[string]interface{}{"now": now, "id": jobs[i].ID})
		if err != nil {
			return nil, fmt.Errorf("mark job running failed: %w", err)
		}
		jobs[i].Status = JobStatusRunning
		lockedAt := now
		jobs[i].LockedAt = &lockedAt
	}
	return jobs, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE jobs SET status = 'done', locked_at = NULL, updated_at = :now WHERE id = :id`,
		map[string]interface{}{"now": time.Now().UTC(), "id": id})
	if err != nil {
		return fmt.Errorf("complete job failed: %w", err)
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error {
	var counts struct {
		Attempt     int `db:"attempt"`
		MaxAttempts int `db:"max_attempts"`
	}
	found, err := s.get(ctx, &counts, `SELECT attempt, max_attempts FROM jobs WHERE id = :id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return fmt.Errorf("fail job lookup failed: %w", err)
	}
	if !found {
		return fmt.Errorf("fail job lookup failed: job %s not found", id)
	}

	params := map[string]interface{}{
		"id":       id,
		"attempt":  counts.Attempt + 1,
		"error":    errMsg,
		"next_run": nextRunAt.UTC(),
		"now":      time.Now().UTC(),
	}
	if counts.Attempt+1 >= counts.MaxAttempts {
		_, err = s.exec(ctx,
			`UPDATE jobs SET status = 'failed', attempt = :attempt, last_error = :error, locked_at = NULL, updated_at = :now WHERE id = :id`,
			params)
	} else {
		_, err = s.exec(ctx,
			`UPDATE jobs SET status = 'queued', attempt = :attempt, last_error = :error, run_at = :next_run, locked_at = NULL, updated_at = :now WHERE id = :id`,
			params)
	}
	if err != nil {
		return fmt.Errorf("fail job update failed: %w", err)
	}
	return nil
}

func (s *Store) CancelJob(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE jobs SET status = 'canceled', locked_at = NULL, updated_at = :now WHERE id = :id`,
		map[string]interface{}{"now": time.Now().UTC(), "id": id})
	if err != nil {
		return fmt.Errorf("cancel job failed: %w", err)
	}
	return nil
}

func (s *Store) RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error) {
	n, err := s.exec(ctx,
		`UPDATE jobs SET status = 'queued', locked_at = NULL, updated_at = :now WHERE status = 'running' AND locked_at < :stale_before`,
		map[string]interface{}{"now": time.Now().UTC(), "stale_before": staleBefore.UTC()})
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs failed: %w", err)
	}
	if n > 0 {
		slog.Info("Store.RequeueStaleRunningJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *Store) PruneFinishedJobs(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.exec(ctx,
		`DELETE FROM jobs WHERE status IN ('done', 'canceled') AND updated_at < :cutoff`,
		map[string]interface{}{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, fmt.Errorf("prune jobs failed: %w", err)
	}
	return int(n), nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	found, err := s.get(ctx, &j, `SELECT `+jobColumns+` FROM jobs WHERE id = :id`, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get job failed: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &j, nil
}
