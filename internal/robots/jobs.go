package robots

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/notify"
	"github.com/BTreeMap/RobotFeed/internal/store"
)

// Job kinds enqueued by the selection engine.
const (
	JobKindSessionLog          = "session_log"
	JobKindInactivityRefresher = "inactivity_refresher"
)

// OutboxKindRefresher is the outbox kind of inactivity refresher messages.
const OutboxKindRefresher = "refresher"

// SessionLogPayload is the JSON payload for session_log jobs.
type SessionLogPayload struct {
	ID     string      `json:"id"`
	UserID string      `json:"user_id"`
	Date   string      `json:"date"`
	Page   models.Page `json:"page,omitempty"`
	At     time.Time   `json:"at"`
}

// InactivityRefresherPayload is the JSON payload for inactivity_refresher jobs.
type InactivityRefresherPayload struct {
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Days   int    `json:"days"`
	Locale string `json:"locale,omitempty"`
}

// SessionRecorder persists session activity.
type SessionRecorder interface {
	RecordSessionLog(ctx context.Context, id, userID, date string, page models.Page, at time.Time) (*models.UserSessionLog, error)
}

// UserLoader loads user profiles.
type UserLoader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// OutboxEnqueuer queues outgoing messages.
type OutboxEnqueuer interface {
	EnqueueOutboxMessage(ctx context.Context, userID, kind, payloadJSON, dedupeKey string) (string, error)
}

// RegisterJobHandlers registers the robot job handlers with the given JobRunner.
func RegisterJobHandlers(runner *store.JobRunner, sessions SessionRecorder, users UserLoader, outbox OutboxEnqueuer, tr Translator) {
	runner.RegisterHandler(JobKindSessionLog, makeSessionLogHandler(sessions))
	runner.RegisterHandler(JobKindInactivityRefresher, makeInactivityRefresherHandler(users, outbox, tr))
}

func makeSessionLogHandler(sessions SessionRecorder) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p SessionLogPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid session_log payload: %w", err)
		}
		l, err := sessions.RecordSessionLog(ctx, p.ID, p.UserID, p.Date, p.Page, p.At)
		if err != nil {
			return fmt.Errorf("failed to record session log: %w", err)
		}
		slog.Debug("JobHandler.session_log: recorded", "userID", p.UserID, "date", p.Date, "page", p.Page, "id", l.ID)
		return nil
	}
}

func makeInactivityRefresherHandler(users UserLoader, outbox OutboxEnqueuer, tr Translator) store.JobHandler {
	return func(ctx context.Context, payload string) error {
		var p InactivityRefresherPayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return fmt.Errorf("invalid inactivity_refresher payload: %w", err)
		}
		user, err := users.GetUser(ctx, p.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil || user.Phone == "" {
			slog.Info("JobHandler.inactivity_refresher: no phone on file, skipping", "userID", p.UserID)
			return nil
		}

		locale := p.Locale
		if locale == "" {
			locale = user.Locale
		}
		body := tr.Translate("refresher.message", map[string]string{
			"name": userName(user),
			"days": strconv.Itoa(p.Days),
		}, locale)
		data, err := json.Marshal(notify.Message{To: user.Phone, Body: body})
		if err != nil {
			return fmt.Errorf("failed to marshal refresher message: %w", err)
		}
		id, err := outbox.EnqueueOutboxMessage(ctx, p.UserID, OutboxKindRefresher, string(data), refresherDedupeKey(p.UserID, p.Date))
		if err != nil {
			return fmt.Errorf("failed to enqueue refresher message: %w", err)
		}
		slog.Info("JobHandler.inactivity_refresher: message queued", "userID", p.UserID, "days", p.Days, "outboxID", id)
		return nil
	}
}

func (e *Engine) enqueueSessionLog(ctx context.Context, id string, req Request, at time.Time) error {
	data, err := json.Marshal(SessionLogPayload{
		ID:     id,
		UserID: req.UserID,
		Date:   req.day(),
		Page:   req.Page,
		At:     at,
	})
	if err != nil {
		return fmt.Errorf("marshal session_log payload: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s:%s", JobKindSessionLog, req.UserID, req.day(), req.Page)
	_, err = e.jobs.EnqueueJob(ctx, JobKindSessionLog, at, string(data), key)
	return err
}

func (e *Engine) enqueueInactivityRefresher(ctx context.Context, req Request, days int) error {
	data, err := json.Marshal(InactivityRefresherPayload{
		UserID: req.UserID,
		Date:   req.day(),
		Days:   days,
		Locale: req.Locale,
	})
	if err != nil {
		return fmt.Errorf("marshal inactivity_refresher payload: %w", err)
	}
	_, err = e.jobs.EnqueueJob(ctx, JobKindInactivityRefresher, e.opts.Now(), string(data), refresherDedupeKey(req.UserID, req.day()))
	return err
}

func refresherDedupeKey(userID, date string) string {
	return fmt.Sprintf("%s:%s:%s", JobKindInactivityRefresher, userID, date)
}

func fullName(u *models.User) string {
	if u == nil {
		return ""
	}
	return u.FullName()
}

// userName is the informal name used in tips and messages.
func userName(u *models.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

func joinWords(a, b string) string {
	return strings.TrimSpace(a + " " + b)
}
