package robots

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/RobotFeed/internal/models"
	"github.com/BTreeMap/RobotFeed/internal/store"
)

func newTestFlowCharts(t *testing.T) (*FlowCharts, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	repo.putNode(models.FlowChartRobot{ID: "start", Title: "Sleep check", IsStartNode: true, Buttons: models.Buttons{{Label: "Yes", Action: models.ButtonActionNext, RobotID: "mid"}}})
	repo.putNode(models.FlowChartRobot{ID: "mid", Title: "Sleep hours", Buttons: models.Buttons{{Label: "Less than 6", Action: models.ButtonActionNext, RobotID: "leaf"}}})
	repo.putNode(models.FlowChartRobot{ID: "leaf", Title: "Rest more", Buttons: models.Buttons{{Label: "Open toolkit", Action: models.ButtonActionNavigate, Page: models.ButtonPageToolkit, ToolKitID: "T1"}}})
	return NewFlowCharts(repo, newTestResolver(t, repo), newTestTranslator(t)), repo
}

func TestGetFlowChartRobot_LogsLeafOnce(t *testing.T) {
	f, repo := newTestFlowCharts(t)
	ctx := context.Background()

	r, err := f.GetFlowChartRobot(ctx, "u1", "mid", "start", "2024-06-03", "en")
	require.NoError(t, err)
	assert.Equal(t, "Sleep hours", r.Title)
	assert.Empty(t, repo.robotLogs(models.RobotTypeFlowChart), "inner nodes are not logged")

	r, err = f.GetFlowChartRobot(ctx, "u1", "leaf", "start", "2024-06-03", "en")
	require.NoError(t, err)
	assert.Equal(t, "/toolkit/T1/cat-a", r.Buttons[0].DeepLink)

	_, err = f.GetFlowChartRobot(ctx, "u1", "leaf", "start", "2024-06-04", "en")
	require.NoError(t, err)

	logs := repo.robotLogs(models.RobotTypeFlowChart)
	require.Len(t, logs, 1)
	assert.Equal(t, "leaf", logs[0].RobotID)
	assert.Equal(t, "start", logs[0].StartNodeID)
	assert.Equal(t, "2024-06-03", logs[0].Date)
}

func TestGetFlowChartRobot_NotFound(t *testing.T) {
	f, _ := newTestFlowCharts(t)

	_, err := f.GetFlowChartRobot(context.Background(), "u1", "nope", "", "2024-06-03", "en")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Contains(t, err.Error(), "robot nope not found")
}

func TestCompleteFlowChartRobot_Idempotent(t *testing.T) {
	f, repo := newTestFlowCharts(t)
	ctx := context.Background()

	require.NoError(t, f.CompleteFlowChartRobot(ctx, "u1", "start", "", "2024-06-03"))
	require.NoError(t, f.CompleteFlowChartRobot(ctx, "u1", "start", "", "2024-06-03"))

	logs := repo.robotLogs(models.RobotTypeFlowChart)
	require.Len(t, logs, 1)
	assert.Equal(t, "start", logs[0].StartNodeID, "a start node completes its own flow")

	err := f.CompleteFlowChartRobot(ctx, "u1", "nope", "", "2024-06-03")
	assert.True(t, models.IsNotFound(err))
}

func TestAddFlowChartRobot_Validation(t *testing.T) {
	next := func(id string) models.RobotButton {
		return models.RobotButton{Label: "Next", Action: models.ButtonActionNext, RobotID: id}
	}
	tests := []struct {
		name       string
		in         models.FlowChartRobotInput
		notFound   bool
		badRequest bool
		msg        string
	}{
		{
			name:       "missing title",
			in:         models.FlowChartRobotInput{Body: "b", Buttons: []models.RobotButton{next("mid")}},
			badRequest: true,
			msg:        "title is required",
		},
		{
			name:       "bad action",
			in:         models.FlowChartRobotInput{Title: "t", Body: "b", Buttons: []models.RobotButton{{Label: "x", Action: "jump"}}},
			badRequest: true,
			msg:        "must be one of",
		},
		{
			name:       "start node without buttons",
			in:         models.FlowChartRobotInput{Title: "t", Body: "b", IsStartNode: true},
			badRequest: true,
			msg:        "include at least one button",
		},
		{
			name:     "missing target",
			in:       models.FlowChartRobotInput{Title: "t", Body: "b", Buttons: []models.RobotButton{next("ghost")}},
			notFound: true,
			msg:      "robot ghost not found",
		},
		{
			name:       "target is a start node",
			in:         models.FlowChartRobotInput{Title: "t", Body: "b", Buttons: []models.RobotButton{next("start")}},
			badRequest: true,
			msg:        "Sleep check is start node",
		},
		{
			name:       "start node without targets",
			in:         models.FlowChartRobotInput{Title: "t", Body: "b", IsStartNode: true, Buttons: []models.RobotButton{{Label: "Bye", Action: models.ButtonActionClose}}},
			badRequest: true,
			msg:        "start node must link to at least one robot",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newTestFlowCharts(t)
			_, err := f.AddFlowChartRobot(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.notFound, models.IsNotFound(err), err.Error())
			assert.Equal(t, tt.badRequest, models.IsBadRequest(err), err.Error())
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestAddFlowChartRobot_Valid(t *testing.T) {
	f, _ := newTestFlowCharts(t)
	ctx := context.Background()

	node, err := f.AddFlowChartRobot(ctx, models.FlowChartRobotInput{
		Title:       "Stress check",
		Body:        "How stressed are you?",
		IsStartNode: true,
		Buttons:     []models.RobotButton{{Label: "Very", Action: models.ButtonActionNext, RobotID: "mid"}},
	})
	require.NoError(t, err)
	assert.True(t, node.IsStartNode)

	nodes, err := f.ListFlowChartRobots(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 4)
}

func TestUpdateFlowChartRobot(t *testing.T) {
	f, _ := newTestFlowCharts(t)
	ctx := context.Background()

	_, err := f.UpdateFlowChartRobot(ctx, "mid", models.FlowChartRobotInput{
		Title:       "Sleep hours",
		Body:        "b",
		IsStartNode: true,
		Buttons:     []models.RobotButton{{Label: "Next", Action: models.ButtonActionNext, RobotID: "leaf"}},
	})
	require.Error(t, err)
	assert.True(t, models.IsBadRequest(err))
	assert.Contains(t, err.Error(), "is linked from another robot")

	updated, err := f.UpdateFlowChartRobot(ctx, "leaf", models.FlowChartRobotInput{Title: "Rest a lot more", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, "Rest a lot more", updated.Title)

	_, err = f.UpdateFlowChartRobot(ctx, "ghost", models.FlowChartRobotInput{Title: "t", Body: "b"})
	assert.True(t, models.IsNotFound(err))
}

func TestDeleteFlowChartRobot(t *testing.T) {
	f, repo := newTestFlowCharts(t)
	ctx := context.Background()

	require.NoError(t, f.DeleteFlowChartRobot(ctx, "leaf"))
	n, _ := repo.GetFlowChartRobot(ctx, "leaf")
	assert.Nil(t, n)

	err := f.DeleteFlowChartRobot(ctx, "leaf")
	assert.True(t, models.IsNotFound(err))
}

func TestFlowChartCompletion_SharedLeafWithSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.New(store.WithSQLiteDSN(filepath.Join(t.TempDir(), "flows.db")))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	leaf, err := st.InsertFlowChartRobot(ctx, models.FlowChartRobotInput{
		Title: "Well done", Body: "See you tomorrow",
		Buttons: []models.RobotButton{{Label: "Close", Action: models.ButtonActionClose}},
	})
	require.NoError(t, err)
	var starts []string
	for _, title := range []string{"Morning check", "Evening check"} {
		n, err := st.InsertFlowChartRobot(ctx, models.FlowChartRobotInput{
			Title: title, Body: "Ready?", IsStartNode: true,
			Buttons: []models.RobotButton{{Label: "Yes", Action: models.ButtonActionNext, RobotID: leaf.ID}},
		})
		require.NoError(t, err)
		starts = append(starts, n.ID)
	}

	f := NewFlowCharts(st, newTestResolver(t, newFakeRepo()), newTestTranslator(t))
	// The first visit carries no start node; later visits name each flow.
	for _, startNodeID := range []string{"", starts[0], starts[1]} {
		_, err := f.GetFlowChartRobot(ctx, "u1", leaf.ID, startNodeID, "2024-06-03", "en")
		require.NoError(t, err)
	}

	nodes, err := st.ListFlowChartStartNodes(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.True(t, n.Completed, "%s should be completed once its leaf was reached", n.Title)
	}

	others, err := st.ListFlowChartStartNodes(ctx, "u2")
	require.NoError(t, err)
	for _, n := range others {
		assert.False(t, n.Completed)
	}
}
