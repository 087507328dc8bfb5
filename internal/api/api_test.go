package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/robots"
	"github.com/BTreeMap/RobotFeed/internal/testutil"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 6, 3, 9, 30, 0, 0, time.UTC)

type fakeRobots struct {
	lastReq    robots.Request
	result     []models.Robot
	err        error
	statusCall struct {
		userID, notificationID string
		isRobotRead            bool
	}
}

func (f *fakeRobots) SelectRobots(ctx context.Context, req robots.Request) ([]models.Robot, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakeRobots) UpdateTreatmentTimelineRobotStatus(ctx context.Context, userID string, isRobotRead bool, notificationID string, at time.Time) error {
	f.statusCall.userID = userID
	f.statusCall.isRobotRead = isRobotRead
	f.statusCall.notificationID = notificationID
	if notificationID == "missing" {
		return models.NotFoundf("notification %s not found", notificationID)
	}
	return nil
}

type fakeFlows struct {
	nodes     map[string]models.FlowChartRobot
	completed []string
	lastDate  string
}

func (f *fakeFlows) GetFlowChartRobot(ctx context.Context, userID, id, startNodeID, date, locale string) (*models.Robot, error) {
	f.lastDate = date
	n, ok := f.nodes[id]
	if !ok {
		return nil, models.NotFoundf("robot %s not found", id)
	}
	r := n.AsRobot()
	return &r, nil
}

func (f *fakeFlows) CompleteFlowChartRobot(ctx context.Context, userID, id, startNodeID, date string) error {
	f.completed = append(f.completed, id+"@"+date)
	return nil
}

func (f *fakeFlows) ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error) {
	var out []models.FlowChartRobot
	for _, n := range f.nodes {
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeFlows) AddFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	if in.IsStartNode && len(in.Buttons) == 0 {
		return nil, models.BadRequestf("include at least one button")
	}
	n := models.FlowChartRobot{ID: "new", Title: in.Title, Body: in.Body, IsStartNode: in.IsStartNode}
	f.nodes[n.ID] = n
	return &n, nil
}

func (f *fakeFlows) UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	if _, ok := f.nodes[id]; !ok {
		return nil, models.NotFoundf("robot %s not found", id)
	}
	n := models.FlowChartRobot{ID: id, Title: in.Title, Body: in.Body}
	f.nodes[id] = n
	return &n, nil
}

func (f *fakeFlows) DeleteFlowChartRobot(ctx context.Context, id string) error {
	if _, ok := f.nodes[id]; !ok {
		return models.NotFoundf("robot %s not found", id)
	}
	delete(f.nodes, id)
	return nil
}

type fakeUsers map[string]*models.User

func (f fakeUsers) User(ctx context.Context, id string) (*models.User, error) {
	return f[id], nil
}

// fakeLocales accepts "en" and "nl" verbatim.
type fakeLocales struct{}

func (fakeLocales) Negotiate(acceptLanguage, fallback string) string {
	switch acceptLanguage {
	case "en", "nl":
		return acceptLanguage
	}
	return fallback
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type testEnv struct {
	server *Server
	router http.Handler
	robots *fakeRobots
	flows  *fakeFlows
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		robots: &fakeRobots{result: []models.Robot{{ID: "hnd", Type: models.RobotTypeHaveNiceDay, Title: "Ada have a nice day"}}},
		flows: &fakeFlows{nodes: map[string]models.FlowChartRobot{
			"s1": {ID: "s1", Title: "Sleep", IsStartNode: true},
		}},
	}
	users := fakeUsers{"u1": {ID: "u1", FirstName: "Ada", Locale: "nl"}}
	opts = append([]Option{WithJWTSecret(testSecret), WithClock(testutil.FixedClock(testNow))}, opts...)
	s, err := NewServer(env.robots, env.flows, users, fakeLocales{}, opts...)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	env.server = s
	env.router = s.Router()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request, role string) *httptest.ResponseRecorder {
	t.Helper()
	if role != "" {
		testutil.WithBearer(req, testutil.SignToken(t, testSecret, "u1", role, testNow))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestNewServerRequiresSecret(t *testing.T) {
	if _, err := NewServer(&fakeRobots{}, &fakeFlows{}, fakeUsers{}, fakeLocales{}); err == nil {
		t.Fatal("expected error without JWT secret")
	}
}

func TestGetRobotsHandler(t *testing.T) {
	env := newTestEnv(t)

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/robots?page=dashboard&date=2024-06-03T20:15:00%2B02:00", nil)
	rr := env.do(t, req, RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get robots")
	resp := testutil.AssertJSONResponse(t, rr, "ok")

	result, _ := resp["result"].(map[string]interface{})
	list, _ := result["robots"].([]interface{})
	if len(list) != 1 {
		t.Fatalf("expected one robot, got %v", resp["result"])
	}

	got := env.robots.lastReq
	if got.UserID != "u1" || got.Page != models.PageDashboard {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Date.Hour() != 20 {
		t.Errorf("client clock must be kept, got hour %d", got.Date.Hour())
	}
	if got.Locale != "nl" {
		t.Errorf("stored user locale should apply without Accept-Language, got %q", got.Locale)
	}
}

func TestGetRobotsHandler_AcceptLanguageWins(t *testing.T) {
	env := newTestEnv(t)
	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil)
	req.Header.Set("Accept-Language", "en")
	rr := env.do(t, req, RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get robots")
	if env.robots.lastReq.Locale != "en" {
		t.Errorf("expected en, got %q", env.robots.lastReq.Locale)
	}
	if !env.robots.lastReq.Date.Equal(testNow) {
		t.Errorf("missing date should default to now, got %v", env.robots.lastReq.Date)
	}
}

func TestGetRobotsHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", models.BadRequestf("unknown page"), http.StatusBadRequest},
		{"not found", models.NotFoundf("no deep link template"), http.StatusNotFound},
		{"unexpected", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.robots.err = tt.err
			rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil), RoleUser)
			testutil.AssertHTTPStatus(t, tt.want, rr.Code, tt.name)
			resp := testutil.AssertJSONResponse(t, rr, "error")
			if tt.want == http.StatusInternalServerError && resp["message"] != "Internal server error" {
				t.Errorf("internal errors must not leak, got %v", resp["message"])
			}
		})
	}
}

func TestGetRobotsHandler_InvalidDate(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots?date=yesterday", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid date")
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil), "")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "missing token")

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil)
	testutil.WithBearer(req, testutil.SignToken(t, "other-secret", "u1", RoleUser, testNow))
	rr = env.do(t, req, "")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "wrong secret")

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil)
	testutil.WithBearer(req, testutil.SignToken(t, testSecret, "u1", "superuser", testNow))
	rr = env.do(t, req, "")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "unknown role")

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil)
	testutil.WithBearer(req, testutil.SignToken(t, testSecret, "u1", RoleUser, testNow.Add(-2*time.Hour)))
	rr = env.do(t, req, "")
	testutil.AssertHTTPStatus(t, http.StatusUnauthorized, rr.Code, "expired token")
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/admin/flow-chart-robots", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusForbidden, rr.Code, "user on admin route")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/admin/flow-chart-robots", nil), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "admin list")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestAdminFlowChartCRUD(t *testing.T) {
	env := newTestEnv(t)

	body := models.FlowChartRobotInput{Title: "Stress", Body: "How are you?", IsStartNode: true}
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodPost, "/admin/flow-chart-robots", body), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "start node without buttons")
	resp := testutil.AssertJSONResponse(t, rr, "error")
	if msg, _ := resp["message"].(string); msg != "bad request: include at least one button" {
		t.Errorf("unexpected message %q", msg)
	}

	body.IsStartNode = false
	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPost, "/admin/flow-chart-robots", body), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "add")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPut, "/admin/flow-chart-robots/ghost", body), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "update missing")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPut, "/admin/flow-chart-robots/new", body), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "update")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodDelete, "/admin/flow-chart-robots/new", nil), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "delete")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodDelete, "/admin/flow-chart-robots/new", nil), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "delete twice")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPost, "/admin/flow-chart-robots", nil), RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "empty body reaches validation")
}

func TestAdminFlowChartMalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	req, _ := http.NewRequest(http.MethodPost, "/admin/flow-chart-robots", strings.NewReader(`{"title":`))
	rr := env.do(t, req, RoleAdmin)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed JSON")
}

func TestFlowChartUserRoutes(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/flow-chart-robots/s1?date=2024-06-03", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get node")
	if env.flows.lastDate != "2024-06-03" {
		t.Errorf("unexpected date %q", env.flows.lastDate)
	}

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/flow-chart-robots/ghost", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "get missing node")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPost, "/flow-chart-robots/s1/complete", CompleteFlowChartRequest{Date: "2024-06-04"}), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "complete")
	if len(env.flows.completed) != 1 || env.flows.completed[0] != "s1@2024-06-04" {
		t.Errorf("unexpected completions %v", env.flows.completed)
	}
}

func TestUpdateTreatmentTimelineStatus(t *testing.T) {
	env := newTestEnv(t)

	body := TreatmentTimelineStatusRequest{IsRobotRead: true, NotificationID: "n1"}
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodPut, "/treatment-timeline-robot-status", body), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "mark read")
	if env.robots.statusCall.userID != "u1" || env.robots.statusCall.notificationID != "n1" || !env.robots.statusCall.isRobotRead {
		t.Errorf("unexpected call %+v", env.robots.statusCall)
	}

	body.NotificationID = "missing"
	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodPut, "/treatment-timeline-robot-status", body), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown notification")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, WithRateLimit(0.001, 2))

	for i := 0; i < 2; i++ {
		rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil), RoleUser)
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "within burst")
	}
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusTooManyRequests, rr.Code, "over burst")
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, WithHealthCheck("store", fakePinger{}))
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil), "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "healthy")

	env = newTestEnv(t, WithHealthCheck("cache", fakePinger{err: errors.New("down")}))
	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/healthz", nil), "")
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "degraded")

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/metrics", nil), "")
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/nope", nil), "")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown route")
}

func TestRateLimiterDropsIdleBuckets(t *testing.T) {
	rl := newRateLimiter(1, 1)
	start := testNow

	if !rl.allow("u1", start) {
		t.Fatal("first request for u1 should pass")
	}
	if rl.allow("u1", start) {
		t.Fatal("second request for u1 should exceed the burst")
	}
	rl.allow("u2", start.Add(9*time.Minute))

	if n := rl.cleanup(start.Add(11*time.Minute), limiterIdleTTL); n != 1 {
		t.Fatalf("expected 1 idle bucket dropped, got %d", n)
	}
	if rl.size() != 1 {
		t.Errorf("expected u2 to remain, got %d buckets", rl.size())
	}
	if !rl.allow("u1", start.Add(11*time.Minute)) {
		t.Error("u1 should get a fresh bucket after eviction")
	}
}

func TestGetRobotsAppliesClientTimeZone(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots?date=2024-06-03&tz=Europe/Amsterdam", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "robots with tz")
	got := env.robots.lastReq.Date
	if got.Hour() != 11 || got.Minute() != 30 || got.Location().String() != "Europe/Amsterdam" {
		t.Errorf("expected 11:30 Amsterdam time, got %v", got)
	}

	rr = env.do(t, testutil.CreateHTTPRequest(t, http.MethodGet, "/robots?date=2024-06-03&tz=Nowhere/Else", nil), RoleUser)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown tz")
}
