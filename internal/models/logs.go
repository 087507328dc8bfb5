package models

import "time"

// UserRobotLog records that a robot was shown to (or completed by) a user.
// Rows are append-only.
type UserRobotLog struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	RobotType    RobotType `json:"robot_type" db:"robot_type"`
	RobotID      string    `json:"robot_id,omitempty" db:"robot_id"`
	StartNodeID  string    `json:"start_node_id,omitempty" db:"start_node_id"`
	Date         string    `json:"date" db:"date"`
	SessionLogID string    `json:"session_log_id,omitempty" db:"session_log_id"`
	Page         Page      `json:"page,omitempty" db:"page"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RobotLogQuery selects robot logs for an existence check. Empty fields are
// not filtered on.
type RobotLogQuery struct {
	UserID    string
	RobotType RobotType
	RobotID   string
	Date      string
	Page      Page
	// AnyPage disables the page filter; by default an empty Page matches
	// only logs written without a page.
	AnyPage bool
}

// UserSessionLog is the per-user-per-day activity marker.
type UserSessionLog struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	Date        string    `json:"date" db:"date"`
	Page        Page      `json:"page,omitempty" db:"page"`
	FirstActive time.Time `json:"first_active" db:"first_active"`
	LastActive  time.Time `json:"last_active" db:"last_active"`
}
