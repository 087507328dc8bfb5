package models

import (
	"strings"
	"time"
)

// DateLayout is the storage and wire format of calendar dates.
const DateLayout = "2006-01-02"

// User is the subset of the app user profile the robot feed needs.
type User struct {
	ID            string    `json:"id" db:"id"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	UserName      string    `json:"user_name" db:"user_name"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	Locale        string    `json:"locale,omitempty" db:"locale"`
	CurrentGoalID string    `json:"current_goal_id,omitempty" db:"current_goal_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// FullName joins first and last name, skipping empty parts.
func (u User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// Toolkit is an activity a user can schedule and log.
type Toolkit struct {
	ID              string       `json:"id" db:"id"`
	Title           string       `json:"title" db:"title"`
	ToolKitType     string       `json:"tool_kit_type" db:"tool_kit_type"`
	ToolKitCategory string       `json:"tool_kit_category" db:"tool_kit_category"`
	Translations    Translations `json:"translations,omitempty" db:"translations"`
}

// Goal is a user-selectable wellbeing goal.
type Goal struct {
	ID           string       `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Translations Translations `json:"translations,omitempty" db:"translations"`
}

// ServiceCompany resolves a service to the company that offers it.
type ServiceCompany struct {
	ServiceID   string `json:"service_id" db:"service_id"`
	CompanyID   string `json:"company_id" db:"company_id"`
	CompanyName string `json:"company_name" db:"company_name"`
}

// Toolkit types that require a daily check-in.
const (
	ToolkitTypeMedication    = "MEDICATION"
	ToolkitTypeSleepCheck    = "SLEEP_CHECK"
	ToolkitTypeBloodPressure = "BLOOD_PRESSURE"
	ToolkitTypeHeartRate     = "HEART_RATE"
	ToolkitTypeSteps         = "STEPS"
	ToolkitTypeWeight        = "WEIGHT"
)

// CheckinToolkitTypes lists the toolkit types covered by the mandatory check-in.
var CheckinToolkitTypes = []string{
	ToolkitTypeMedication,
	ToolkitTypeSleepCheck,
	ToolkitTypeBloodPressure,
	ToolkitTypeHeartRate,
	ToolkitTypeSteps,
	ToolkitTypeWeight,
}

// ScheduleType describes how a schedule repeats.
type ScheduleType string

const (
	ScheduleTypeOneTime ScheduleType = "ONE_TIME"
	ScheduleTypeDaily   ScheduleType = "DAILY"
	ScheduleTypeWeekly  ScheduleType = "WEEKLY"
	ScheduleTypeMonthly ScheduleType = "MONTHLY"
)

// ScheduledToolkit is a schedule joined with its toolkit, as read by the
// check-in and reminder stages.
type ScheduledToolkit struct {
	ScheduleID          string       `json:"schedule_id" db:"schedule_id"`
	ScheduleType        ScheduleType `json:"schedule_type" db:"schedule_type"`
	GoalID              string       `json:"goal_id,omitempty" db:"goal_id"`
	ReminderTime        string       `json:"reminder_time,omitempty" db:"reminder_time"`
	ToolKitID           string       `json:"tool_kit_id" db:"tool_kit_id"`
	ToolkitTitle        string       `json:"toolkit_title" db:"toolkit_title"`
	ToolKitType         string       `json:"tool_kit_type" db:"tool_kit_type"`
	ToolKitCategory     string       `json:"tool_kit_category" db:"tool_kit_category"`
	ToolkitTranslations Translations `json:"-" db:"toolkit_translations"`
}

// Toolkit returns the toolkit half of the join.
func (s ScheduledToolkit) Toolkit() Toolkit {
	return Toolkit{
		ID:              s.ToolKitID,
		Title:           s.ToolkitTitle,
		ToolKitType:     s.ToolKitType,
		ToolKitCategory: s.ToolKitCategory,
		Translations:    s.ToolkitTranslations,
	}
}

// NotificationTypeTreatmentTimeline is the notification type surfaced by the
// treatment-timeline robot.
const NotificationTypeTreatmentTimeline = "TREATMENT_TIMELINE"

// UserNotification is a notification joined with the doctor who sent it.
type UserNotification struct {
	ID              string    `json:"id" db:"id"`
	UserID          string    `json:"user_id" db:"user_id"`
	Type            string    `json:"type" db:"type"`
	IsRobotRead     bool      `json:"is_robot_read" db:"is_robot_read"`
	DoctorFirstName string    `json:"doctor_first_name" db:"doctor_first_name"`
	DoctorLastName  string    `json:"doctor_last_name" db:"doctor_last_name"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// DoctorName formats the sending doctor as shown in robot bodies.
func (n UserNotification) DoctorName() string {
	return "Dr." + strings.TrimSpace(n.DoctorFirstName+" "+n.DoctorLastName)
}
