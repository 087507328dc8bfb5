package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/util"
)

// Compile-time check that Store implements OutboxRepo.
var _ OutboxRepo = (*Store)(nil)

const outboxColumns = `id, user_id, kind, COALESCE(payload_json, '') AS payload_json, status, attempts, next_attempt_at,
	COALESCE(dedupe_key, '') AS dedupe_key, locked_at, COALESCE(last_error, '') AS last_error, created_at, updated_at`

func (s *Store) EnqueueOutboxMessage(ctx context.Context, userID, kind, payloadJSON, dedupeKey string) (string, error) {
	if dedupeKey != "" {
		var existingID string
		found, err := s.get(ctx, &existingID,
			`SELECT id FROM outbox_messages WHERE dedupe_key = :key AND status <> 'canceled' LIMIT 1`,
			map[string]interface{}{"key": dedupeKey})
		if err != nil {
			return "", fmt.Errorf("outbox dedupe check failed: %w", err)
		}
		if found {
			slog.Debug("Store.EnqueueOutboxMessage: dedupe hit", "dedupeKey", dedupeKey, "existingID", existingID)
			return existingID, nil
		}
	}

	id := util.GenerateOutboxID()
	now := time.Now().UTC()
	_, err := s.exec(ctx,
		`INSERT INTO outbox_messages (id, user_id, kind, payload_json, status, attempts, dedupe_key, created_at, updated_at)
		 VALUES (:id, :user_id, :kind, :payload, 'queued', 0, :dedupe_key, :now, :now)`,
		map[string]interface{}{
			"id":         id,
			"user_id":    userID,
			"kind":       kind,
			"payload":    payloadJSON,
			"dedupe_key": nilIfEmpty(dedupeKey),
			"now":        now,
		})
	if err != nil {
		return "", fmt.Errorf("enqueue outbox message failed: %w", err)
	}
	slog.Debug("Store.EnqueueOutboxMessage", "id", id, "userID", userID, "kind", kind)
	return id, nil
}

func (s *Store) ClaimDueOutboxMessages(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error) {
	now = now.UTC()
	params := map[string]interface{}{"now": now, "limit": limit}

	if s.driver == DriverPostgres {
		var msgs []OutboxMessage
		err := s.selectAll(ctx, &msgs,
			`UPDATE outbox_messages SET status = 'sending', locked_at = :now, updated_at = :now
			 WHERE id IN (
			   SELECT id FROM outbox_messages WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= :now)
			   ORDER BY created_at ASC LIMIT :limit
			   FOR UPDATE SKIP LOCKED
			 )
			 RETURNING `+outboxColumns, params)
		if err != nil {
			return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
		}
		return msgs, nil
	}

	var msgs []OutboxMessage
	err := s.selectAll(ctx, &msgs,
		`SELECT `+outboxColumns+` FROM outbox_messages
		 WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= :now)
		 ORDER BY created_at ASC LIMIT :limit`, params)
	if err != nil {
		return nil, fmt.Errorf("claim due outbox messages failed: %w", err)
	}
	for i := range msgs {
		_, err := s.exec(ctx,
			`UPDATE outbox_messages SET status = 'sending', locked_at = :now, updated_at = :now WHERE id = :id`,
			map[string]interface{}{"now": now, "id": msgs[i].ID})
		if err != nil {
			return nil, fmt.Errorf("mark outbox sending failed: %w", err)
		}
		msgs[i].Status = OutboxStatusSending
		lockedAt := now
		msgs[i].LockedAt = &lockedAt
	}
	return msgs, nil
}

func (s *Store) MarkOutboxMessageSent(ctx context.Context, id string) error {
	_, err := s.exec(ctx,
		`UPDATE outbox_messages SET status = 'sent', locked_at = NULL, updated_at = :now WHERE id = :id`,
		map[string]interface{}{"now": time.Now().UTC(), "id": id})
	if err != nil {
		return fmt.Errorf("mark outbox sent failed: %w", err)
	}
	return nil
}

func (s *Store) FailOutboxMessage(ctx context.Context, id string, errMsg string, nextAttemptAt time.Time) error {
	_, err := s.exec(ctx,
		`UPDATE outbox_messages
		 SET status = CASE WHEN attempts + 1 >= :max_attempts THEN 'failed' ELSE 'queued' END,
		     attempts = attempts + 1, last_error = :error, next_attempt_at = :next_attempt, locked_at = NULL, updated_at = :now
		 WHERE id = :id`,
		map[string]interface{}{
			"max_attempts": DefaultOutboxMaxAttempts,
			"error":        errMsg,
			"next_attempt": nextAttemptAt.UTC(),
			"now":          time.Now().UTC(),
			"id":           id,
		})
	if err != nil {
		return fmt.Errorf("fail outbox message failed: %w", err)
	}
	return nil
}

func (s *Store) RequeueStaleSendingMessages(ctx context.Context, staleBefore time.Time) (int, error) {
	n, err := s.exec(ctx,
		`UPDATE outbox_messages SET status = 'queued', locked_at = NULL, updated_at = :now WHERE status = 'sending' AND locked_at < :stale_before`,
		map[string]interface{}{"now": time.Now().UTC(), "stale_before": staleBefore.UTC()})
	if err != nil {
		return 0, fmt.Errorf("requeue stale outbox messages failed: %w", err)
	}
	if n > 0 {
		slog.Info("Store.RequeueStaleSendingMessages", "requeued", n)
	}
	return int(n), nil
}

func (s *Store) PruneSentOutboxMessages(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.exec(ctx,
		`DELETE FROM outbox_messages WHERE status = 'sent' AND updated_at < :cutoff`,
		map[string]interface{}{"cutoff": cutoff.UTC()})
	if err != nil {
		return 0, fmt.Errorf("prune outbox messages failed: %w", err)
	}
	return int(n), nil
}
