package store

import (
	"context"
	"fmt"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// GetUser returns the user with id, or nil when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	found, err := s.get(ctx, &u,
		`SELECT id, first_name, last_name, user_name, phone, locale,
		        COALESCE(current_goal_id, '') AS current_goal_id, created_at
		 FROM users WHERE id = :id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &u, nil
}

// GetToolkit returns the toolkit with id, or nil when absent.
func (s *Store) GetToolkit(ctx context.Context, id string) (*models.Toolkit, error) {
	var t models.Toolkit
	found, err := s.get(ctx, &t,
		`SELECT id, title, tool_kit_type, tool_kit_category, translations FROM toolkits WHERE id = :id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get toolkit %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &t, nil
}

// GetGoal returns the goal with id, or nil when absent.
func (s *Store) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	var g models.Goal
	found, err := s.get(ctx, &g,
		`SELECT id, title, translations FROM goals WHERE id = :id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get goal %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &g, nil
}

// GetServiceCompany resolves the company offering a service, or nil when absent.
func (s *Store) GetServiceCompany(ctx context.Context, serviceID string) (*models.ServiceCompany, error) {
	var sc models.ServiceCompany
	found, err := s.get(ctx, &sc,
		`SELECT sv.id AS service_id, c.id AS company_id, c.name AS company_name
		 FROM services sv JOIN service_companies c ON c.id = sv.company_id
		 WHERE sv.id = :id`,
		map[string]interface{}{"id": serviceID})
	if err != nil {
		return nil, fmt.Errorf("get service company %s: %w", serviceID, err)
	}
	if !found {
		return nil, nil
	}
	return &sc, nil
}
