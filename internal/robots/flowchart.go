package robots

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// FlowCharts serves flow-chart robots to users and administers their graph.
type FlowCharts struct {
	repo     FlowChartRepository
	links    LinkResolver
	tr       Translator
	validate *validator.Validate
}

// NewFlowCharts creates a FlowCharts service.
func NewFlowCharts(repo FlowChartRepository, links LinkResolver, tr Translator) *FlowCharts {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &FlowCharts{repo: repo, links: links, tr: tr, validate: v}
}

// GetFlowChartRobot returns node id for the user. Reaching a leaf records the
// flow as completed once.
func (f *FlowCharts) GetFlowChartRobot(ctx context.Context, userID, id, startNodeID, date, locale string) (*models.Robot, error) {
	node, err := f.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.IsLeaf() {
		if err := f.logCompletion(ctx, userID, node, startNodeID, date); err != nil {
			return nil, err
		}
	}

	robots := f.tr.TranslateRobots([]models.Robot{node.AsRobot()}, locale)
	r := robots[0]
	for i, b := range r.Buttons {
		if b.Action != models.ButtonActionNavigate || b.DeepLink != "" {
			continue
		}
		link, err := f.links.Resolve(ctx, b, userID)
		if err != nil {
			return nil, err
		}
		r.Buttons[i].DeepLink = link
	}
	return &r, nil
}

// CompleteFlowChartRobot records completion of node id. Repeated calls are no-ops.
func (f *FlowCharts) CompleteFlowChartRobot(ctx context.Context, userID, id, startNodeID, date string) error {
	node, err := f.mustGet(ctx, id)
	if err != nil {
		return err
	}
	return f.logCompletion(ctx, userID, node, startNodeID, date)
}

func (f *FlowCharts) logCompletion(ctx context.Context, userID string, node *models.FlowChartRobot, startNodeID, date string) error {
	logged, err := f.repo.HasRobotLog(ctx, models.RobotLogQuery{
		UserID:    userID,
		RobotType: models.RobotTypeFlowChart,
		RobotID:   node.ID,
		AnyPage:   true,
	})
	if err != nil || logged {
		return err
	}
	if startNodeID == "" && node.IsStartNode {
		startNodeID = node.ID
	}
	if err := f.repo.InsertRobotLog(ctx, &models.UserRobotLog{
		UserID:      userID,
		RobotType:   models.RobotTypeFlowChart,
		RobotID:     node.ID,
		StartNodeID: startNodeID,
		Date:        date,
	}); err != nil {
		return err
	}
	slog.Debug("FlowCharts.logCompletion: flow completed", "userID", userID, "robotID", node.ID, "startNodeID", startNodeID)
	return nil
}

// ListFlowChartRobots returns every node.
func (f *FlowCharts) ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error) {
	return f.repo.ListFlowChartRobots(ctx)
}

// AddFlowChartRobot validates and stores a new node.
func (f *FlowCharts) AddFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	if err := f.validateInput(ctx, in); err != nil {
		return nil, err
	}
	node, err := f.repo.InsertFlowChartRobot(ctx, in)
	if err != nil {
		return nil, err
	}
	slog.Info("FlowCharts.AddFlowChartRobot: node created", "id", node.ID, "isStartNode", node.IsStartNode)
	return node, nil
}

// UpdateFlowChartRobot validates and replaces node id.
func (f *FlowCharts) UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	current, err := f.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := f.validateInput(ctx, in); err != nil {
		return nil, err
	}
	if in.IsStartNode && !current.IsStartNode {
		linked, err := f.repo.IsFlowChartTarget(ctx, id)
		if err != nil {
			return nil, err
		}
		if linked {
			return nil, models.BadRequestf("%s is linked from another robot", in.Title)
		}
	}

	ok, err := f.repo.UpdateFlowChartRobot(ctx, id, in)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(id)
	}
	slog.Info("FlowCharts.UpdateFlowChartRobot: node updated", "id", id)
	return f.mustGet(ctx, id)
}

// DeleteFlowChartRobot removes node id. Buttons of other nodes pointing at it
// are left in place.
func (f *FlowCharts) DeleteFlowChartRobot(ctx context.Context, id string) error {
	ok, err := f.repo.DeleteFlowChartRobot(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(id)
	}
	slog.Info("FlowCharts.DeleteFlowChartRobot: node deleted", "id", id)
	return nil
}

// validateInput checks the payload shape, then its place in the graph.
func (f *FlowCharts) validateInput(ctx context.Context, in models.FlowChartRobotInput) error {
	if err := f.validate.Struct(in); err != nil {
		return validationError(err)
	}
	if in.IsStartNode && len(in.Buttons) == 0 {
		return models.BadRequestf("include at least one button")
	}

	targets := in.Targets()
	if len(targets) > 0 {
		nodes, err := f.repo.GetFlowChartRobotsByIDs(ctx, targets)
		if err != nil {
			return err
		}
		byID := make(map[string]models.FlowChartRobot, len(nodes))
		for _, n := range nodes {
			byID[n.ID] = n
		}
		for _, id := range targets {
			n, ok := byID[id]
			if !ok {
				return notFound(id)
			}
			if n.IsStartNode {
				return models.BadRequestf("%s is start node", n.Title)
			}
		}
	}

	if in.IsStartNode && len(targets) == 0 {
		return models.BadRequestf("start node must link to at least one robot")
	}
	return nil
}

func (f *FlowCharts) mustGet(ctx context.Context, id string) (*models.FlowChartRobot, error) {
	node, err := f.repo.GetFlowChartRobot(ctx, id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, notFound(id)
	}
	return node, nil
}

func notFound(id string) error {
	return models.NotFoundf("robot %s not found", id)
}

// validationError turns validator output into a BadRequest naming the first failing field.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return models.BadRequestf("invalid input: %v", err)
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "FlowChartRobotInput.")
	switch fe.Tag() {
	case "required", "required_if":
		return models.BadRequestf("%s is required", field)
	case "max":
		return models.BadRequestf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return models.BadRequestf("%s must be one of [%s]", field, fe.Param())
	default:
		return models.BadRequestf("%s failed %s validation", field, fe.Tag())
	}
}
