package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

const flowChartColumns = `f.id, f.title, f.body, f.is_start_node, f.buttons, f.translations`

// ListFlowChartStartNodes returns every start node, flagged completed when
// the user has a flow-chart log on a node reachable from it.
func (s *Store) ListFlowChartStartNodes(ctx context.Context, userID string) ([]models.FlowChartRobot, error) {
	nodes, err := s.ListFlowChartRobots(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	err = s.selectAll(ctx, &ids,
		`SELECT DISTINCT robot_id FROM user_robot_logs
		 WHERE user_id = :user_id AND robot_type = :robot_type AND robot_id IS NOT NULL`,
		map[string]interface{}{"user_id": userID, "robot_type": string(models.RobotTypeFlowChart)})
	if err != nil {
		return nil, fmt.Errorf("list flow chart logs: %w", err)
	}
	logged := make(map[string]bool, len(ids))
	for _, id := range ids {
		logged[id] = true
	}
	return models.MarkCompletedStartNodes(nodes, logged), nil
}

// ListFlowChartRobots returns every flow-chart node.
func (s *Store) ListFlowChartRobots(ctx context.Context) ([]models.FlowChartRobot, error) {
	var nodes []models.FlowChartRobot
	err := s.selectAll(ctx, &nodes,
		`SELECT `+flowChartColumns+` FROM flow_chart_robots f ORDER BY f.created_at ASC, f.id ASC`,
		map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("list flow chart robots: %w", err)
	}
	return nodes, nil
}

// GetFlowChartRobot returns the node with id, or nil when absent.
func (s *Store) GetFlowChartRobot(ctx context.Context, id string) (*models.FlowChartRobot, error) {
	var node models.FlowChartRobot
	found, err := s.get(ctx, &node,
		`SELECT `+flowChartColumns+` FROM flow_chart_robots f WHERE f.id = :id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get flow chart robot %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &node, nil
}

// GetFlowChartRobotsByIDs returns the nodes among ids that exist.
func (s *Store) GetFlowChartRobotsByIDs(ctx context.Context, ids []string) ([]models.FlowChartRobot, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var nodes []models.FlowChartRobot
	err := s.selectAll(ctx, &nodes,
		`SELECT `+flowChartColumns+` FROM flow_chart_robots f WHERE f.id IN (:ids)`,
		map[string]interface{}{"ids": ids})
	if err != nil {
		return nil, fmt.Errorf("get flow chart robots by ids: %w", err)
	}
	return nodes, nil
}

// IsFlowChartTarget reports whether any node other than id has a button
// leading to id.
func (s *Store) IsFlowChartTarget(ctx context.Context, id string) (bool, error) {
	nodes, err := s.ListFlowChartRobots(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n.ID == id {
			continue
		}
		for _, target := range n.Targets() {
			if target == id {
				return true, nil
			}
		}
	}
	return false, nil
}

// InsertFlowChartRobot stores a new node and returns it with its id.
func (s *Store) InsertFlowChartRobot(ctx context.Context, in models.FlowChartRobotInput) (*models.FlowChartRobot, error) {
	now := time.Now().UTC()
	node := models.FlowChartRobot{
		ID:           uuid.NewString(),
		Title:        in.Title,
		Body:         in.Body,
		IsStartNode:  in.IsStartNode,
		Buttons:      models.Buttons(in.Buttons),
		Translations: in.Translations,
	}
	_, err := s.exec(ctx,
		`INSERT INTO flow_chart_robots (id, title, body, is_start_node, buttons, translations, created_at, updated_at)
		 VALUES (:id, :title, :body, :is_start_node, :buttons, :translations, :now, :now)`,
		map[string]interface{}{
			"id":            node.ID,
			"title":         node.Title,
			"body":          node.Body,
			"is_start_node": node.IsStartNode,
			"buttons":       node.Buttons,
			"translations":  node.Translations,
			"now":           now,
		})
	if err != nil {
		return nil, fmt.Errorf("insert flow chart robot: %w", err)
	}
	slog.Debug("Store.InsertFlowChartRobot", "id", node.ID, "isStartNode", node.IsStartNode)
	return &node, nil
}

// UpdateFlowChartRobot replaces the node's content. It reports false when
// the node does not exist.
func (s *Store) UpdateFlowChartRobot(ctx context.Context, id string, in models.FlowChartRobotInput) (bool, error) {
	n, err := s.exec(ctx,
		`UPDATE flow_chart_robots
		 SET title = :title, body = :body, is_start_node = :is_start_node,
		     buttons = :buttons, translations = :translations, updated_at = :now
		 WHERE id = :id`,
		map[string]interface{}{
			"id":            id,
			"title":         in.Title,
			"body":          in.Body,
			"is_start_node": in.IsStartNode,
			"buttons":       models.Buttons(in.Buttons),
			"translations":  in.Translations,
			"now":           time.Now().UTC(),
		})
	if err != nil {
		return false, fmt.Errorf("update flow chart robot %s: %w", id, err)
	}
	return n > 0, nil
}

// DeleteFlowChartRobot removes the node. It reports false when the node does
// not exist.
func (s *Store) DeleteFlowChartRobot(ctx context.Context, id string) (bool, error) {
	n, err := s.exec(ctx, `DELETE FROM flow_chart_robots WHERE id = :id`, map[string]interface{}{"id": id})
	if err != nil {
		return false, fmt.Errorf("delete flow chart robot %s: %w", id, err)
	}
	return n > 0, nil
}
