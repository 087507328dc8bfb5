package robots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/RobotFeed/internal/deeplink"
	"github.com/BTreeMap/RobotFeed/internal/metrics"
	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/util"
)

// Placeholders substituted into robot texts.
const (
	PlaceholderToolkitName = "TOOL_KIT_NAME"
	PlaceholderGoalTitle   = "GOAL_TITLE"
	PlaceholderDoctorName  = "DOCTOR_NAME"
)

// DefaultInactivityDays is the absence after which a returning user is
// welcomed back instead of greeted.
const DefaultInactivityDays = 30

// ErrNoHaveNiceDayRobot is returned when the terminal fallback robot is not configured.
var ErrNoHaveNiceDayRobot = errors.New("have a nice day robot is not configured")

// Request identifies one feed fetch. Date carries the client's clock and
// time zone; its calendar day is the feed day.
type Request struct {
	UserID string
	Date   time.Time
	Page   models.Page
	Locale string
}

func (r Request) day() string {
	return util.DateString(r.Date)
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Now            func() time.Time
	IntN           func(n int) int
	InactivityDays int
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithClock overrides the wall clock used for session timestamps and job scheduling.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// WithRandom overrides the source used to pick an empty-agenda robot.
func WithRandom(intN func(n int) int) Option {
	return func(o *Opts) {
		o.IntN = intN
	}
}

// WithInactivityDays sets the absence threshold for the welcome-back robot.
func WithInactivityDays(days int) Option {
	return func(o *Opts) {
		o.InactivityDays = days
	}
}

// Engine runs the robot selection waterfall.
type Engine struct {
	repo  Repository
	cache CacheAccessor
	links LinkResolver
	tr    Translator
	jobs  JobEnqueuer
	opts  Opts
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, cache CacheAccessor, links LinkResolver, tr Translator, jobs JobEnqueuer, opts ...Option) *Engine {
	cfg := Opts{Now: time.Now, IntN: rand.IntN, InactivityDays: DefaultInactivityDays}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{repo: repo, cache: cache, links: links, tr: tr, jobs: jobs, opts: cfg}
}

type stage struct {
	name string
	run  func(ctx context.Context, req Request) ([]models.Robot, error)
}

func (e *Engine) stages() []stage {
	return []stage{
		{"session", e.sessionStage},
		{"treatment_timeline", e.treatmentTimelineStage},
		{"checkin", e.checkinStage},
		{"reminder_agenda", e.reminderAgendaStage},
		{"tip_of_day", e.tipOfDayStage},
		{"flow_chart", e.flowChartStage},
		{"have_nice_day", e.haveNiceDayStage},
	}
}

// SelectRobots returns the robots to show for req. The first stage of the
// waterfall that produces output wins; the result is never empty.
func (e *Engine) SelectRobots(ctx context.Context, req Request) ([]models.Robot, error) {
	if req.UserID == "" {
		return nil, models.BadRequestf("user id is required")
	}
	if !models.IsValidPage(req.Page) {
		return nil, models.BadRequestf("unknown page %q", req.Page)
	}

	for _, st := range e.stages() {
		robots, err := st.run(ctx, req)
		if err != nil {
			slog.Error("Engine.SelectRobots: stage failed", "stage", st.name, "userID", req.UserID, "error", err)
			return nil, fmt.Errorf("%s stage: %w", st.name, err)
		}
		if len(robots) == 0 {
			continue
		}
		if err := e.resolveLinks(ctx, robots, req.UserID); err != nil {
			return nil, err
		}
		metrics.ObserveStage(st.name)
		slog.Debug("Engine.SelectRobots: stage selected", "stage", st.name, "userID", req.UserID, "date", req.day(), "count", len(robots))
		return robots, nil
	}
	return nil, ErrNoHaveNiceDayRobot
}

// sessionStage runs the first-time-today waterfall on the user's first visit
// of the day and records the visit.
func (e *Engine) sessionStage(ctx context.Context, req Request) ([]models.Robot, error) {
	day := req.day()
	existing, err := e.cache.SessionLog(ctx, req.UserID, day, req.Page)
	if err != nil {
		return nil, err
	}
	now := e.opts.Now()

	if existing != nil {
		if err := e.enqueueSessionLog(ctx, existing.ID, req, now); err != nil {
			slog.Error("Engine.sessionStage: failed to enqueue session touch", "userID", req.UserID, "error", err)
		}
		return nil, nil
	}

	robots, robotType, err := e.firstTimeToday(ctx, req)
	if err != nil {
		return nil, err
	}

	// Nothing is written before the robots are known. The cache marker
	// suppresses a rerun, so it goes last.
	marker := &models.UserSessionLog{
		ID:          sessionLogID(req.UserID, day, req.Page),
		UserID:      req.UserID,
		Date:        day,
		Page:        req.Page,
		FirstActive: now,
		LastActive:  now,
	}
	if len(robots) > 0 {
		if err := e.repo.InsertRobotLog(ctx, &models.UserRobotLog{
			UserID:       req.UserID,
			RobotType:    robotType,
			RobotID:      robots[0].ID,
			Date:         day,
			SessionLogID: marker.ID,
			Page:         req.Page,
		}); err != nil {
			return nil, err
		}
		if robotType == models.RobotTypeOnboarding {
			if err := e.cache.SetOnboardingMarker(ctx, req.UserID, req.Page); err != nil {
				return nil, err
			}
		}
	}
	if err := e.enqueueSessionLog(ctx, marker.ID, req, now); err != nil {
		return nil, err
	}
	if err := e.cache.PutSessionLog(ctx, marker); err != nil {
		return nil, err
	}
	return robots, nil
}

// sessionLogID derives a stable session log id for (user, date, page).
func sessionLogID(userID, date string, page models.Page) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("robotfeed:session_log:"+userID+":"+date+":"+string(page))).String()
}

func (e *Engine) firstTimeToday(ctx context.Context, req Request) ([]models.Robot, models.RobotType, error) {
	onboarded, err := e.hasOnboarded(ctx, req)
	if err != nil {
		return nil, "", err
	}
	user, err := e.cache.User(ctx, req.UserID)
	if err != nil {
		return nil, "", err
	}

	if !onboarded {
		robots, err := e.dailyRobots(ctx, models.RobotTypeOnboarding, req)
		if err != nil {
			return nil, "", err
		}
		e.applySalutation(robots, user, req)
		return robots, models.RobotTypeOnboarding, nil
	}

	days := 0
	last, err := e.repo.LastSessionLogBefore(ctx, req.UserID, req.day())
	if err != nil {
		return nil, "", err
	}
	if last != nil {
		if days, err = util.DaysBetween(last.Date, req.day()); err != nil {
			return nil, "", err
		}
	}

	if days >= e.opts.InactivityDays {
		if err := e.enqueueInactivityRefresher(ctx, req, days); err != nil {
			slog.Error("Engine.firstTimeToday: failed to enqueue inactivity refresher", "userID", req.UserID, "error", err)
		}
		robots, err := e.dailyRobots(ctx, models.RobotTypeWelcomeBack, req)
		if err != nil || len(robots) == 0 {
			return nil, "", err
		}
		name := fullName(user)
		for i := range robots {
			robots[i].Title = joinWords(robots[i].Title, name)
		}
		return robots, models.RobotTypeWelcomeBack, nil
	}

	robots, err := e.dailyRobots(ctx, models.RobotTypeGreeting, req)
	if err != nil {
		return nil, "", err
	}
	e.applySalutation(robots, user, req)
	return robots, models.RobotTypeGreeting, nil
}

// hasOnboarded checks the cached onboarding marker, then the robot log.
func (e *Engine) hasOnboarded(ctx context.Context, req Request) (bool, error) {
	ok, err := e.cache.HasOnboardingMarker(ctx, req.UserID, req.Page)
	if err != nil || ok {
		return ok, err
	}
	ok, err = e.repo.HasRobotLog(ctx, models.RobotLogQuery{
		UserID:    req.UserID,
		RobotType: models.RobotTypeOnboarding,
		Page:      req.Page,
	})
	if err != nil {
		return false, err
	}
	if ok {
		if err := e.cache.SetOnboardingMarker(ctx, req.UserID, req.Page); err != nil {
			slog.Warn("Engine.hasOnboarded: failed to warm onboarding marker", "userID", req.UserID, "error", err)
		}
	}
	return ok, nil
}

// treatmentTimelineStage surfaces the latest unread treatment-timeline
// notification unless the user dismissed it today.
func (e *Engine) treatmentTimelineStage(ctx context.Context, req Request) ([]models.Robot, error) {
	n, err := e.repo.LatestUnreadNotification(ctx, req.UserID, models.NotificationTypeTreatmentTimeline)
	if err != nil || n == nil {
		return nil, err
	}

	closed, err := e.cache.ClosedNotification(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if closed == n.ID {
		return nil, nil
	}
	if closed != "" {
		if err := e.cache.ClearClosedNotification(ctx, req.UserID); err != nil {
			return nil, err
		}
	}

	robots, err := e.dailyRobots(ctx, models.RobotTypeTreatmentTimeline, req)
	if err != nil || len(robots) == 0 {
		return nil, err
	}
	r := robots[0]
	r.ReplaceBody(PlaceholderDoctorName, n.DoctorName())
	r.NotificationID = n.ID
	return []models.Robot{r}, nil
}

// checkinStage asks for today's mandatory check-in while one is scheduled and not yet logged.
func (e *Engine) checkinStage(ctx context.Context, req Request) ([]models.Robot, error) {
	done, err := e.repo.HasToolkitSessionOn(ctx, req.UserID, req.day(), models.CheckinToolkitTypes)
	if err != nil || done {
		return nil, err
	}
	st, err := e.repo.ActiveScheduledToolkit(ctx, req.UserID, req.Date, models.CheckinToolkitTypes)
	if err != nil || st == nil {
		return nil, err
	}
	return e.scheduledRobot(ctx, models.RobotTypeCheckin, st, req)
}

// reminderAgendaStage evaluates the next reminder and the empty agenda
// together; both may fire.
func (e *Engine) reminderAgendaStage(ctx context.Context, req Request) ([]models.Robot, error) {
	var reminder, agenda []models.Robot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reminder, err = e.reminderRobots(gctx, req)
		return err
	})
	g.Go(func() error {
		var err error
		agenda, err = e.emptyAgendaRobots(gctx, req)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(reminder, agenda...), nil
}

func (e *Engine) reminderRobots(ctx context.Context, req Request) ([]models.Robot, error) {
	st, err := e.repo.NextReminder(ctx, req.UserID, req.Date, util.ClockString(req.Date))
	if err != nil || st == nil {
		return nil, err
	}
	return e.scheduledRobot(ctx, models.RobotTypeToolReminder, st, req)
}

func (e *Engine) emptyAgendaRobots(ctx context.Context, req Request) ([]models.Robot, error) {
	scheduled, err := e.repo.HasScheduleOn(ctx, req.UserID, req.Date)
	if err != nil || scheduled {
		return nil, err
	}

	candidates, err := e.dailyRobots(ctx, models.RobotTypeEmptyAgenda, req)
	if err != nil {
		return nil, err
	}

	user, err := e.cache.User(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user != nil && user.CurrentGoalID != "" {
		goal, err := e.repo.GetGoal(ctx, user.CurrentGoalID)
		if err != nil {
			return nil, err
		}
		if goal != nil {
			toolkitRobots, err := e.dailyRobots(ctx, models.RobotTypeEmptyToolkit, req)
			if err != nil {
				return nil, err
			}
			title := e.tr.TranslateText(goal.Translations, "title", goal.Title, req.Locale)
			for i := range toolkitRobots {
				toolkitRobots[i].ReplaceBody(PlaceholderGoalTitle, title)
			}
			candidates = append(candidates, toolkitRobots...)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}
	return []models.Robot{candidates[e.opts.IntN(len(candidates))]}, nil
}

// tipOfDayStage shows the tips pinned to the day once per page.
func (e *Engine) tipOfDayStage(ctx context.Context, req Request) ([]models.Robot, error) {
	var (
		user       *models.User
		sessionLog *models.UserSessionLog
		logged     bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		user, err = e.cache.User(gctx, req.UserID)
		return err
	})
	g.Go(func() error {
		var err error
		sessionLog, err = e.cache.SessionLog(gctx, req.UserID, req.day(), req.Page)
		return err
	})
	g.Go(func() error {
		var err error
		logged, err = e.repo.HasRobotLog(gctx, models.RobotLogQuery{
			UserID:    req.UserID,
			RobotType: models.RobotTypeTip,
			Date:      req.day(),
			Page:      req.Page,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if logged {
		return nil, nil
	}

	tips, err := e.repo.TopTipRobots(ctx, req.day(), req.Page)
	if err != nil || len(tips) == 0 {
		return nil, err
	}
	tips = e.tr.TranslateRobots(tips, req.Locale)

	greeting := e.tr.Translate("tip.greeting", map[string]string{"name": userName(user)}, req.Locale)
	for i := range tips {
		tips[i].Title = joinWords(greeting, tips[i].Title)
	}

	entry := &models.UserRobotLog{
		UserID:    req.UserID,
		RobotType: models.RobotTypeTip,
		RobotID:   tips[0].ID,
		Date:      req.day(),
		Page:      req.Page,
	}
	if sessionLog != nil {
		entry.SessionLogID = sessionLog.ID
	}
	if err := e.repo.InsertRobotLog(ctx, entry); err != nil {
		return nil, err
	}
	return tips, nil
}

// flowChartStage offers every flow the user has not completed.
func (e *Engine) flowChartStage(ctx context.Context, req Request) ([]models.Robot, error) {
	nodes, err := e.repo.ListFlowChartStartNodes(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	var robots []models.Robot
	for _, n := range nodes {
		if !n.Completed {
			robots = append(robots, n.AsRobot())
		}
	}
	return e.tr.TranslateRobots(robots, req.Locale), nil
}

func (e *Engine) haveNiceDayStage(ctx context.Context, req Request) ([]models.Robot, error) {
	r, err := e.repo.HaveNiceDayRobot(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoHaveNiceDayRobot
	}
	user, err := e.cache.User(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	robots := e.tr.TranslateRobots([]models.Robot{*r}, req.Locale)
	robots[0].Title = joinWords(fullName(user), robots[0].Title)
	return robots, nil
}

// UpdateTreatmentTimelineRobotStatus either marks the notification as read
// through the robot or hides its robot for the rest of the day.
func (e *Engine) UpdateTreatmentTimelineRobotStatus(ctx context.Context, userID string, isRobotRead bool, notificationID string, at time.Time) error {
	if notificationID == "" {
		return models.BadRequestf("notification id is required")
	}
	if isRobotRead {
		ok, err := e.repo.MarkNotificationRobotRead(ctx, userID, notificationID)
		if err != nil {
			return err
		}
		if !ok {
			return models.NotFoundf("notification %s not found", notificationID)
		}
		slog.Debug("Engine.UpdateTreatmentTimelineRobotStatus: marked read", "userID", userID, "notificationID", notificationID)
		return nil
	}
	slog.Debug("Engine.UpdateTreatmentTimelineRobotStatus: closed for today", "userID", userID, "notificationID", notificationID)
	return e.cache.SetClosedNotification(ctx, userID, notificationID, util.UntilEndOfDay(at))
}

// dailyRobots loads and translates the daily robots of a type.
func (e *Engine) dailyRobots(ctx context.Context, robotType models.RobotType, req Request) ([]models.Robot, error) {
	robots, err := e.repo.DailyRobots(ctx, robotType, req.Page)
	if err != nil {
		return nil, err
	}
	return e.tr.TranslateRobots(robots, req.Locale), nil
}

// scheduledRobot fills a check-in or reminder robot for a scheduled toolkit
// and links its schedule buttons.
func (e *Engine) scheduledRobot(ctx context.Context, robotType models.RobotType, st *models.ScheduledToolkit, req Request) ([]models.Robot, error) {
	robots, err := e.dailyRobots(ctx, robotType, req)
	if err != nil || len(robots) == 0 {
		return nil, err
	}
	r := robots[0]
	title := e.tr.TranslateText(st.ToolkitTranslations, "title", st.ToolkitTitle, req.Locale)
	r.ReplaceBody(PlaceholderToolkitName, title)
	r.SuggestedToolkitID = st.ToolKitID

	for i, b := range r.Buttons {
		if b.Action != models.ButtonActionNavigate || b.Page != models.ButtonPageSchedule {
			continue
		}
		link, err := e.links.ResolveSchedule(ctx, deeplink.ScheduleLink{
			ScheduleID: st.ScheduleID,
			Toolkit:    st.Toolkit(),
			GoalID:     st.GoalID,
			Title:      title,
			UserID:     req.UserID,
			Date:       req.day(),
		})
		if err != nil {
			return nil, err
		}
		r.Buttons[i].DeepLink = link
	}
	return []models.Robot{r}, nil
}

// resolveLinks fills the deep link of every navigate button still missing one.
func (e *Engine) resolveLinks(ctx context.Context, robots []models.Robot, userID string) error {
	for i := range robots {
		for j, b := range robots[i].Buttons {
			if b.Action != models.ButtonActionNavigate || b.DeepLink != "" {
				continue
			}
			link, err := e.links.Resolve(ctx, b, userID)
			if err != nil {
				return fmt.Errorf("robot %s: %w", robots[i].ID, err)
			}
			robots[i].Buttons[j].DeepLink = link
		}
	}
	return nil
}

// applySalutation rewrites greeting titles to "<salutation> <full name>".
func (e *Engine) applySalutation(robots []models.Robot, user *models.User, req Request) {
	salutation := e.tr.Translate(SalutationKey(req.Date.Hour()), nil, req.Locale)
	for i := range robots {
		if robots[i].TitleType == models.TitleTypeGreeting {
			robots[i].Title = joinWords(salutation, fullName(user))
		}
	}
}

// SalutationKey returns the message key of the salutation for an hour of the day.
func SalutationKey(hour int) string {
	switch {
	case hour < 12:
		return "salutation.morning"
	case hour < 17:
		return "salutation.noon"
	default:
		return "salutation.evening"
	}
}
