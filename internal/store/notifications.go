package store

import (
	"context"
	"fmt"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

// LatestUnreadNotification returns the user's most recent notification of
// type that has not been read through the robot, with the sending doctor's
// name, or nil when there is none.
func (s *Store) LatestUnreadNotification(ctx context.Context, userID, notificationType string) (*models.UserNotification, error) {
	var n models.UserNotification
	found, err := s.get(ctx, &n,
		`SELECT n.id, n.user_id, n.type, n.is_robot_read, n.created_at,
		        COALESCE(d.first_name, '') AS doctor_first_name,
		        COALESCE(d.last_name, '') AS doctor_last_name
		 FROM user_notifications n
		 LEFT JOIN doctors d ON d.id = n.doctor_id
		 WHERE n.user_id = :user_id AND n.type = :type AND n.is_robot_read = :read
		 ORDER BY n.created_at DESC, n.id DESC
		 LIMIT 1`,
		map[string]interface{}{"user_id": userID, "type": notificationType, "read": false})
	if err != nil {
		return nil, fmt.Errorf("get latest notification: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &n, nil
}

// MarkNotificationRobotRead flags the user's notification as read through the
// robot. It reports false when the notification does not belong to the user.
func (s *Store) MarkNotificationRobotRead(ctx context.Context, userID, notificationID string) (bool, error) {
	n, err := s.exec(ctx,
		`UPDATE user_notifications SET is_robot_read = :read WHERE id = :id AND user_id = :user_id`,
		map[string]interface{}{"read": true, "id": notificationID, "user_id": userID})
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return n > 0, nil
}
