package store

import (
	"context"
	"fmt"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// DailyRobots returns the daily robots of a type shown on page, including
// robots configured for every page.
func (s *Store) DailyRobots(ctx context.Context, robotType models.RobotType, page models.Page) ([]models.Robot, error) {
	var robots []models.Robot
	err := s.selectAll(ctx, &robots,
		`SELECT id, robot_type, title, body, title_type, page, buttons, translations,
		        COALESCE(suggested_toolkit_id, '') AS suggested_toolkit_id
		 FROM daily_robots
		 WHERE robot_type = :type AND (page = :page OR page = '')
		 ORDER BY sort_order ASC, created_at ASC, id ASC`,
		map[string]interface{}{"type": string(robotType), "page": string(page)})
	if err != nil {
		return nil, fmt.Errorf("query daily robots %s: %w", robotType, err)
	}
	for i := range robots {
		robots[i].Kind = models.RobotKindDaily
	}
	return robots, nil
}

// TopTipRobots returns the tips pinned to date for page.
func (s *Store) TopTipRobots(ctx context.Context, date string, page models.Page) ([]models.Robot, error) {
	var robots []models.Robot
	err := s.selectAll(ctx, &robots,
		`SELECT id, title, body, tip_type, page, buttons, translations
		 FROM top_tip_robots
		 WHERE date = :date AND (page = :page OR page = '')
		 ORDER BY created_at ASC, id ASC`,
		map[string]interface{}{"date": date, "page": string(page)})
	if err != nil {
		return nil, fmt.Errorf("query top tip robots: %w", err)
	}
	for i := range robots {
		robots[i].Kind = models.RobotKindTopTip
		robots[i].Type = models.RobotTypeTip
	}
	return robots, nil
}

// HaveNiceDayRobot returns the terminal fallback robot, or nil when none is configured.
func (s *Store) HaveNiceDayRobot(ctx context.Context) (*models.Robot, error) {
	var r models.Robot
	found, err := s.get(ctx, &r,
		`SELECT id, title, body, buttons, translations FROM have_nice_day_robots ORDER BY created_at ASC, id ASC LIMIT 1`,
		map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("query have nice day robot: %w", err)
	}
	if !found {
		return nil, nil
	}
	r.Kind = models.RobotKindHaveNiceDay
	r.Type = models.RobotTypeHaveNiceDay
	return &r, nil
}
