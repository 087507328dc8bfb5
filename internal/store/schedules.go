package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// scheduleMatchesDay selects schedules of alias s that are due on :date.
// repeat_days holds comma-wrapped weekdays (",0,3," with Sunday = 0) and
// repeat_per_month comma-wrapped days of the month. A disabled schedule stays
// due until its end date passes.
const scheduleMatchesDay = `
	s.start_date <= :date
	AND (s.end_date IS NULL OR s.end_date >= :date)
	AND (s.is_schedule_disabled = :disabled OR s.end_date IS NOT NULL)
	AND (s.schedule_type = 'DAILY'
		OR (s.schedule_type = 'ONE_TIME' AND s.schedule_for = :date)
		OR (s.schedule_type = 'WEEKLY' AND s.repeat_days LIKE :weekday)
		OR (s.schedule_type = 'MONTHLY' AND s.repeat_per_month LIKE :day_of_month))`

const scheduledToolkitColumns = `s.id AS schedule_id, s.schedule_type, COALESCE(s.goal_id, '') AS goal_id,
	t.id AS tool_kit_id, t.title AS toolkit_title, t.tool_kit_type, t.tool_kit_category,
	t.translations AS toolkit_translations`

// dayParams returns the named parameters used by scheduleMatchesDay.
func dayParams(userID string, day time.Time) map[string]interface{} {
	return map[string]interface{}{
		"user_id":      userID,
		"date":         day.Format(models.DateLayout),
		"disabled":     false,
		"weekday":      "%," + strconv.Itoa(int(day.Weekday())) + ",%",
		"day_of_month": "%," + strconv.Itoa(day.Day()) + ",%",
	}
}

// HasToolkitSessionOn reports whether the user logged a session on date for
// any toolkit of the given types.
func (s *Store) HasToolkitSessionOn(ctx context.Context, userID, date string, toolkitTypes []string) (bool, error) {
	if len(toolkitTypes) == 0 {
		return false, nil
	}
	found, err := s.exists(ctx,
		`SELECT 1 FROM schedule_sessions ss
		 JOIN toolkits t ON t.id = ss.tool_kit_id
		 WHERE ss.user_id = :user_id AND ss.session_date = :date AND t.tool_kit_type IN (:types)
		 LIMIT 1`,
		map[string]interface{}{"user_id": userID, "date": date, "types": toolkitTypes})
	if err != nil {
		return false, fmt.Errorf("check toolkit session: %w", err)
	}
	return found, nil
}

// ActiveScheduledToolkit returns the user's earliest created schedule due on
// day whose toolkit is one of toolkitTypes, or nil when none is due.
func (s *Store) ActiveScheduledToolkit(ctx context.Context, userID string, day time.Time, toolkitTypes []string) (*models.ScheduledToolkit, error) {
	if len(toolkitTypes) == 0 {
		return nil, nil
	}
	params := dayParams(userID, day)
	params["types"] = toolkitTypes

	var st models.ScheduledToolkit
	found, err := s.get(ctx, &st,
		`SELECT `+scheduledToolkitColumns+`, '' AS reminder_time
		 FROM schedules s
		 JOIN toolkits t ON t.id = s.tool_kit_id
		 WHERE s.user_id = :user_id AND t.tool_kit_type IN (:types) AND `+scheduleMatchesDay+`
		 ORDER BY s.created_at ASC, s.id ASC
		 LIMIT 1`, params)
	if err != nil {
		return nil, fmt.Errorf("get active scheduled toolkit: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &st, nil
}

// NextReminder returns the earliest reminder due on day at or after clock
// (HH:MM) whose schedule has no session logged that day, or nil.
func (s *Store) NextReminder(ctx context.Context, userID string, day time.Time, clock string) (*models.ScheduledToolkit, error) {
	params := dayParams(userID, day)
	params["clock"] = clock

	var st models.ScheduledToolkit
	found, err := s.get(ctx, &st,
		`SELECT `+scheduledToolkitColumns+`, r.reminder_time
		 FROM schedule_reminders r
		 JOIN schedules s ON s.id = r.schedule_id
		 JOIN toolkits t ON t.id = s.tool_kit_id
		 WHERE r.user_id = :user_id AND r.reminder_time >= :clock AND `+scheduleMatchesDay+`
		   AND NOT EXISTS (
		     SELECT 1 FROM schedule_sessions ss
		     WHERE ss.schedule_id = s.id AND ss.user_id = :user_id AND ss.session_date = :date)
		 ORDER BY r.reminder_time ASC, r.id ASC
		 LIMIT 1`, params)
	if err != nil {
		return nil, fmt.Errorf("get next reminder: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &st, nil
}

// HasScheduleOn reports whether any of the user's schedules is due on day.
func (s *Store) HasScheduleOn(ctx context.Context, userID string, day time.Time) (bool, error) {
	found, err := s.exists(ctx,
		`SELECT 1 FROM schedules s WHERE s.user_id = :user_id AND `+scheduleMatchesDay+` LIMIT 1`,
		dayParams(userID, day))
	if err != nil {
		return false, fmt.Errorf("check schedules on day: %w", err)
	}
	return found, nil
}

// LatestSessionDate returns the most recent session date logged for the
// user's schedule, or "" when none was logged.
func (s *Store) LatestSessionDate(ctx context.Context, userID, scheduleID string) (string, error) {
	var date string
	found, err := s.get(ctx, &date,
		`SELECT session_date FROM schedule_sessions
		 WHERE user_id = :user_id AND schedule_id = :schedule_id
		 ORDER BY session_date DESC LIMIT 1`,
		map[string]interface{}{"user_id": userID, "schedule_id": scheduleID})
	if err != nil {
		return "", fmt.Errorf("get latest session date: %w", err)
	}
	if !found {
		return "", nil
	}
	return date, nil
}
