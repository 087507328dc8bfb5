// Package robots selects the assistant robots shown in a user's feed and
// manages flow-chart robots and treatment-timeline robot state.
package robots

import (
	"context"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/deeplink"
	"github.com/BTreeMap/RobotFeed/internal/models"
)

// Repository is the persistence the selection engine reads and writes.
// Lookups return nil without an error when nothing matches.
type Repository interface {
	DailyRobots(ctx context.Context, robotType models.RobotType, page models.Page) ([]models.Robot, error)
	TopTipRobots(ctx context.Context, date string, page models.Page) ([]models.Robot, error)
	HaveNiceDayRobot(ctx context.Context) (*models.Robot, error)

	HasRobotLog(ctx context.Context, q models.RobotLogQuery) (bool, error)
	InsertRobotLog(ctx context.Context, l *models.UserRobotLog) error
	LastSessionLogBefore(ctx context.Context, userID, date string) (*models.UserSessionLog, error)

	LatestUnreadNotification(ctx context.Context, userID, notificationType string) (*models.UserNotification, error)
	MarkNotificationRobotRead(ctx context.Context, userID, notificationID string) (bool, error)

	HasToolkitSessionOn(ctx context.Context, userID, date string, toolkitTypes []string) (bool, error)
	ActiveScheduledToolkit(ctx context.Context, userID string, day time.Time, toolkitTypes []string) (*models.ScheduledToolkit, error)
	NextReminder(ctx context.Context, userID string, day time.Time, clock string) (*models.ScheduledToolkit, error)
	HasScheduleOn(ctx context.Context, userID string, day time.Time) (bool, error)
	GetGoal(ctx context.Context, id string) (*models.Goal, error)

	ListFlowChartStartNodes(ctx context.Context, userID string) ([]models.FlowChartRobot, error)
}

// FlowChartRepository persists flow-chart robot definitions.
type FlowChartRepository interface {
	GetFlowChartRobot(ctx context.Context, id string) (*models.FlowChartRobot, error)
	ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error)
	GetFlowChartRobotsByIDs(ctx context.Context, ids []string) ([]models.FlowChartRobot, error)
	IsFlowChartTarget(ctx context.Context, id string) (bool, error)
	InsertFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error)
	UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (bool, error)
	DeleteFlowChartRobot(ctx context.Context, id string) (bool, error)

	HasRobotLog(ctx context.Context, q models.RobotLogQuery) (bool, error)
	InsertRobotLog(ctx context.Context, l *models.UserRobotLog) error
}

// CacheAccessor resolves cached entities and per-user robot markers.
type CacheAccessor interface {
	User(ctx context.Context, id string) (*models.User, error)
	SessionLog(ctx context.Context, userID, date string, page models.Page) (*models.UserSessionLog, error)
	PutSessionLog(ctx context.Context, l *models.UserSessionLog) error
	HasOnboardingMarker(ctx context.Context, userID string, page models.Page) (bool, error)
	SetOnboardingMarker(ctx context.Context, userID string, page models.Page) error
	ClosedNotification(ctx context.Context, userID string) (string, error)
	SetClosedNotification(ctx context.Context, userID, notificationID string, ttl time.Duration) error
	ClearClosedNotification(ctx context.Context, userID string) error
}

// LinkResolver materialises navigate button deep links.
type LinkResolver interface {
	Resolve(ctx context.Context, button models.RobotButton, userID string) (string, error)
	ResolveSchedule(ctx context.Context, link deeplink.ScheduleLink) (string, error)
}

// Translator localises message keys and robot texts.
type Translator interface {
	Translate(key string, args map[string]string, locale string) string
	TranslateText(translations models.Translations, field, fallback, locale string) string
	TranslateRobots(robots []models.Robot, locale string) []models.Robot
}

// JobEnqueuer schedules durable background jobs.
type JobEnqueuer interface {
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)
}
