package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

const sessionLogColumns = `id, user_id, date, page, first_active, last_active`

// GetSessionLog returns the session log for (user, date, page), or nil when absent.
func (s *Store) GetSessionLog(ctx context.Context, userID, date string, page models.Page) (*models.UserSessionLog, error) {
	var l models.UserSessionLog
	found, err := s.get(ctx, &l,
		`SELECT `+sessionLogColumns+` FROM user_session_logs WHERE user_id = :user_id AND date = :date AND page = :page`,
		map[string]interface{}{"user_id": userID, "date": date, "page": string(page)})
	if err != nil {
		return nil, fmt.Errorf("get session log: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &l, nil
}

// LastSessionLogBefore returns the user's most recent session log dated
// strictly before date on any page, or nil when the user has none.
func (s *Store) LastSessionLogBefore(ctx context.Context, userID, date string) (*models.UserSessionLog, error) {
	var l models.UserSessionLog
	found, err := s.get(ctx, &l,
		`SELECT `+sessionLogColumns+` FROM user_session_logs
		 WHERE user_id = :user_id AND date < :date
		 ORDER BY date DESC, last_active DESC LIMIT 1`,
		map[string]interface{}{"user_id": userID, "date": date})
	if err != nil {
		return nil, fmt.Errorf("get last session log: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &l, nil
}

// RecordSessionLog inserts the session log for (user, date, page) under id
// if it does not exist yet and moves last_active forward to at. Concurrent
// first visits collapse onto one row through the unique index, so the stored
// id may differ from the one passed in. An empty id is generated.
func (s *Store) RecordSessionLog(ctx context.Context, id, userID, date string, page models.Page, at time.Time) (*models.UserSessionLog, error) {
	if id == "" {
		id = uuid.NewString()
	}
	params := map[string]interface{}{
		"id":      id,
		"user_id": userID,
		"date":    date,
		"page":    string(page),
		"at":      at.UTC(),
	}
	inserted, err := s.exec(ctx,
		`INSERT INTO user_session_logs (id, user_id, date, page, first_active, last_active)
		 VALUES (:id, :user_id, :date, :page, :at, :at)
		 ON CONFLICT (user_id, date, page) DO NOTHING`, params)
	if err != nil {
		return nil, fmt.Errorf("insert session log: %w", err)
	}
	if inserted == 0 {
		if _, err := s.exec(ctx,
			`UPDATE user_session_logs SET last_active = :at
			 WHERE user_id = :user_id AND date = :date AND page = :page AND last_active < :at`, params); err != nil {
			return nil, fmt.Errorf("touch session log: %w", err)
		}
	}
	slog.Debug("Store.RecordSessionLog", "userID", userID, "date", date, "page", page, "inserted", inserted == 1)
	return s.GetSessionLog(ctx, userID, date, page)
}

// HasRobotLog reports whether a robot log matching q exists.
func (s *Store) HasRobotLog(ctx context.Context, q models.RobotLogQuery) (bool, error) {
	where := []string{"user_id = :user_id"}
	params := map[string]interface{}{"user_id": q.UserID}
	if q.RobotType != "" {
		where = append(where, "robot_type = :robot_type")
		params["robot_type"] = string(q.RobotType)
	}
	if q.RobotID != "" {
		where = append(where, "robot_id = :robot_id")
		params["robot_id"] = q.RobotID
	}
	if q.Date != "" {
		where = append(where, "date = :date")
		params["date"] = q.Date
	}
	if !q.AnyPage {
		where = append(where, "page = :page")
		params["page"] = string(q.Page)
	}

	found, err := s.exists(ctx,
		`SELECT 1 FROM user_robot_logs WHERE `+strings.Join(where, " AND ")+` LIMIT 1`, params)
	if err != nil {
		return false, fmt.Errorf("check robot log: %w", err)
	}
	return found, nil
}

// InsertRobotLog appends a robot log, assigning its ID and creation time.
func (s *Store) InsertRobotLog(ctx context.Context, l *models.UserRobotLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO user_robot_logs (id, user_id, robot_type, robot_id, start_node_id, date, session_log_id, page, created_at)
		 VALUES (:id, :user_id, :robot_type, :robot_id, :start_node_id, :date, :session_log_id, :page, :created_at)`,
		map[string]interface{}{
			"id":             l.ID,
			"user_id":        l.UserID,
			"robot_type":     string(l.RobotType),
			"robot_id":       nilIfEmpty(l.RobotID),
			"start_node_id":  nilIfEmpty(l.StartNodeID),
			"date":           l.Date,
			"session_log_id": nilIfEmpty(l.SessionLogID),
			"page":           string(l.Page),
			"created_at":     l.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("insert robot log: %w", err)
	}
	slog.Debug("Store.InsertRobotLog", "userID", l.UserID, "robotType", l.RobotType, "robotID", l.RobotID)
	return nil
}
