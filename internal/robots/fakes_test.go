package robots

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/RobotFeed/internal/cache"
	"github.com/BTreeMap/RobotFeed/internal/deeplink"
	"github.com/BTreeMap/RobotFeed/internal/i18n"
	"github.com/BTreeMap/RobotFeed/internal/models"
)

// fakeRepo is an in-memory Repository, FlowChartRepository, cache.Loader
// and deeplink.Lookup.
type fakeRepo struct {
	mu sync.Mutex

	users    map[string]*models.User
	toolkits map[string]*models.Toolkit
	goals    map[string]*models.Goal

	daily   map[models.RobotType][]models.Robot
	// dailyErr fails the next DailyRobots call, then clears itself.
	dailyErr error
	tips    []models.Robot
	niceDay *models.Robot

	logs        []models.UserRobotLog
	lastSession *models.UserSessionLog

	notification *models.UserNotification
	readIDs      map[string]bool

	checkinDone bool
	checkin     *models.ScheduledToolkit
	reminder    *models.ScheduledToolkit
	hasSchedule bool

	nodes map[string]models.FlowChartRobot
	order []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users: map[string]*models.User{
			"u1": {ID: "u1", FirstName: "Ada", LastName: "Lovelace", UserName: "ada", Phone: "+31600000000", Locale: "en"},
		},
		toolkits: map[string]*models.Toolkit{
			"T1": {ID: "T1", Title: "Blood pressure", ToolKitType: models.ToolkitTypeBloodPressure, ToolKitCategory: "cat-a"},
		},
		goals:   map[string]*models.Goal{},
		daily:   map[models.RobotType][]models.Robot{},
		niceDay: &models.Robot{ID: "hnd", Kind: models.RobotKindHaveNiceDay, Type: models.RobotTypeHaveNiceDay, Title: "have a nice day"},
		readIDs: map[string]bool{},
		nodes:   map[string]models.FlowChartRobot{},
	}
}

func (f *fakeRepo) DailyRobots(ctx context.Context, robotType models.RobotType, page models.Page) ([]models.Robot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.dailyErr; err != nil {
		f.dailyErr = nil
		return nil, err
	}
	return append([]models.Robot(nil), f.daily[robotType]...), nil
}

func (f *fakeRepo) TopTipRobots(ctx context.Context, date string, page models.Page) ([]models.Robot, error) {
	return append([]models.Robot(nil), f.tips...), nil
}

func (f *fakeRepo) HaveNiceDayRobot(ctx context.Context) (*models.Robot, error) {
	if f.niceDay == nil {
		return nil, nil
	}
	r := *f.niceDay
	return &r, nil
}

func (f *fakeRepo) HasRobotLog(ctx context.Context, q models.RobotLogQuery) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.logs {
		if q.UserID != "" && l.UserID != q.UserID {
			continue
		}
		if q.RobotType != "" && l.RobotType != q.RobotType {
			continue
		}
		if q.RobotID != "" && l.RobotID != q.RobotID {
			continue
		}
		if q.Date != "" && l.Date != q.Date {
			continue
		}
		if !q.AnyPage && l.Page != q.Page {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeRepo) InsertRobotLog(ctx context.Context, l *models.UserRobotLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *l)
	return nil
}

func (f *fakeRepo) robotLogs(robotType models.RobotType) []models.UserRobotLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UserRobotLog
	for _, l := range f.logs {
		if l.RobotType == robotType {
			out = append(out, l)
		}
	}
	return out
}

func (f *fakeRepo) LastSessionLogBefore(ctx context.Context, userID, date string) (*models.UserSessionLog, error) {
	return f.lastSession, nil
}

func (f *fakeRepo) LatestUnreadNotification(ctx context.Context, userID, notificationType string) (*models.UserNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notification == nil || f.readIDs[f.notification.ID] {
		return nil, nil
	}
	n := *f.notification
	return &n, nil
}

func (f *fakeRepo) MarkNotificationRobotRead(ctx context.Context, userID, notificationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notification == nil || f.notification.ID != notificationID || f.notification.UserID != userID {
		return false, nil
	}
	f.readIDs[notificationID] = true
	return true, nil
}

func (f *fakeRepo) HasToolkitSessionOn(ctx context.Context, userID, date string, toolkitTypes []string) (bool, error) {
	return f.checkinDone, nil
}

func (f *fakeRepo) ActiveScheduledToolkit(ctx context.Context, userID string, day time.Time, toolkitTypes []string) (*models.ScheduledToolkit, error) {
	return f.checkin, nil
}

func (f *fakeRepo) NextReminder(ctx context.Context, userID string, day time.Time, clock string) (*models.ScheduledToolkit, error) {
	return f.reminder, nil
}

func (f *fakeRepo) HasScheduleOn(ctx context.Context, userID string, day time.Time) (bool, error) {
	return f.hasSchedule, nil
}

func (f *fakeRepo) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	return f.goals[id], nil
}

func (f *fakeRepo) GetUser(ctx context.Context, id string) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeRepo) GetToolkit(ctx context.Context, id string) (*models.Toolkit, error) {
	return f.toolkits[id], nil
}

func (f *fakeRepo) GetSessionLog(ctx context.Context, userID, date string, page models.Page) (*models.UserSessionLog, error) {
	return nil, nil
}

func (f *fakeRepo) Toolkit(ctx context.Context, id string) (*models.Toolkit, error) {
	return f.toolkits[id], nil
}

func (f *fakeRepo) GetServiceCompany(ctx context.Context, serviceID string) (*models.ServiceCompany, error) {
	return nil, nil
}

func (f *fakeRepo) LatestSessionDate(ctx context.Context, userID, scheduleID string) (string, error) {
	return "", nil
}

func (f *fakeRepo) putNode(n models.FlowChartRobot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[n.ID]; !ok {
		f.order = append(f.order, n.ID)
	}
	f.nodes[n.ID] = n
}

func (f *fakeRepo) ListFlowChartStartNodes(ctx context.Context, userID string) ([]models.FlowChartRobot, error) {
	nodes, _ := f.ListFlowChartRobots(ctx)
	logged := map[string]bool{}
	for _, l := range f.robotLogs(models.RobotTypeFlowChart) {
		if l.UserID == userID && l.RobotID != "" {
			logged[l.RobotID] = true
		}
	}
	return models.MarkCompletedStartNodes(nodes, logged), nil
}

func (f *fakeRepo) GetFlowChartRobot(ctx context.Context, id string) (*models.FlowChartRobot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (f *fakeRepo) ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.FlowChartRobot, 0, len(f.order))
	for _, id := range f.order {
		if n, ok := f.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetFlowChartRobotsByIDs(ctx context.Context, ids []string) ([]models.FlowChartRobot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.FlowChartRobot
	for _, id := range ids {
		if n, ok := f.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRepo) IsFlowChartTarget(ctx context.Context, id string) (bool, error) {
	nodes, _ := f.ListFlowChartRobots(ctx)
	for _, n := range nodes {
		for _, t := range n.Targets() {
			if t == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeRepo) InsertFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	n := models.FlowChartRobot{
		ID:           "node-" + in.Title,
		Title:        in.Title,
		Body:         in.Body,
		IsStartNode:  in.IsStartNode,
		Buttons:      models.Buttons(in.Buttons),
		Translations: in.Translations,
	}
	f.putNode(n)
	return &n, nil
}

func (f *fakeRepo) UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (bool, error) {
	if n, _ := f.GetFlowChartRobot(ctx, id); n == nil {
		return false, nil
	}
	f.putNode(models.FlowChartRobot{
		ID:           id,
		Title:        in.Title,
		Body:         in.Body,
		IsStartNode:  in.IsStartNode,
		Buttons:      models.Buttons(in.Buttons),
		Translations: in.Translations,
	})
	return true, nil
}

func (f *fakeRepo) DeleteFlowChartRobot(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.nodes[id]; !ok {
		return false, nil
	}
	delete(f.nodes, id)
	return true, nil
}

var (
	_ Repository          = (*fakeRepo)(nil)
	_ FlowChartRepository = (*fakeRepo)(nil)
	_ cache.Loader        = (*fakeRepo)(nil)
	_ deeplink.Lookup     = (*fakeRepo)(nil)
)

type enqueuedJob struct {
	Kind      string
	Payload   string
	DedupeKey string
}

// fakeJobs records enqueued jobs and drops duplicates by dedupe key.
type fakeJobs struct {
	mu   sync.Mutex
	jobs []enqueuedJob
}

func (f *fakeJobs) EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		if dedupeKey != "" && j.DedupeKey == dedupeKey {
			return j.DedupeKey, nil
		}
	}
	f.jobs = append(f.jobs, enqueuedJob{Kind: kind, Payload: payloadJSON, DedupeKey: dedupeKey})
	return dedupeKey, nil
}

func (f *fakeJobs) ofKind(kind string) []enqueuedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []enqueuedJob
	for _, j := range f.jobs {
		if j.Kind == kind {
			out = append(out, j)
		}
	}
	return out
}

func decodePayload(t *testing.T, payload string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(payload), v))
}

func newTestTranslator(t *testing.T) *i18n.Translator {
	t.Helper()
	tr, err := i18n.NewTranslator()
	require.NoError(t, err)
	return tr
}

func newTestResolver(t *testing.T, repo *fakeRepo) *deeplink.Resolver {
	t.Helper()
	r, err := deeplink.NewResolver(repo)
	require.NoError(t, err)
	return r
}

// testDate is a Monday morning.
var testDate = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, repo *fakeRepo, opts ...Option) (*Engine, *fakeJobs) {
	t.Helper()
	jobs := &fakeJobs{}
	accessor := cache.NewAccessor(cache.NewMemoryCache(), repo)
	opts = append([]Option{WithClock(func() time.Time { return testDate })}, opts...)
	e := NewEngine(repo, accessor, newTestResolver(t, repo), newTestTranslator(t), jobs, opts...)
	return e, jobs
}

func request(date time.Time, page models.Page) Request {
	return Request{UserID: "u1", Date: date, Page: page, Locale: "en"}
}
