package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/RobotFeed/internal/metrics"
	"github.com/BTreeMap/RobotFeed/internal/models"
)

// Entry lifetimes.
const (
	UserTTL       = 3000 * time.Second
	ToolkitTTL    = 3000 * time.Second
	SessionLogTTL = 86400 * time.Second
)

// Loader reads the entities the Accessor caches from the primary store.
// A nil result with a nil error means the entity does not exist.
type Loader interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetToolkit(ctx context.Context, id string) (*models.Toolkit, error)
	GetSessionLog(ctx context.Context, userID, date string, page models.Page) (*models.UserSessionLog, error)
}

// UserKey returns the cache key of a user.
func UserKey(id string) string { return "user:" + id }

// ToolkitKey returns the cache key of a toolkit.
func ToolkitKey(id string) string { return "toolkit:" + id }

// SessionLogKey returns the cache key of the session log for (user, date, page).
func SessionLogKey(userID, date string, page models.Page) string {
	return fmt.Sprintf("session_log:%s:%s:%s", userID, date, page)
}

// OnboardingKey returns the hash holding the user's onboarding markers, one field per page.
func OnboardingKey(userID string) string { return "onboarding_robot_log:" + userID }

// ClosedNotificationKey returns the key of the user's dismissed treatment-timeline notification.
func ClosedNotificationKey(userID string) string { return "treatment_timeline_closed:" + userID }

// GetOrLoad returns the value cached under key, or loads it, caches it for
// ttl and returns it. Nil loads are returned without being cached. Concurrent
// misses on the same key share one load through group.
func GetOrLoad[T any](ctx context.Context, c Cache, group *singleflight.Group, kind, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	data, ok, err := c.Get(ctx, key)
	if err != nil {
		metrics.ObserveCache(kind, "error")
		return nil, err
	}
	if ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			metrics.ObserveCache(kind, "hit")
			return &v, nil
		}
		slog.Warn("cache.GetOrLoad: dropping undecodable entry", "key", key, "error", err)
	}
	metrics.ObserveCache(kind, "miss")

	res, err, shared := group.Do(key, func() (interface{}, error) {
		v, err := load(ctx)
		if err != nil || v == nil {
			return v, err
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := c.Set(ctx, key, encoded, ttl); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		slog.Debug("cache.GetOrLoad: coalesced load", "key", key)
	}
	v, _ := res.(*T)
	return v, nil
}

// Accessor resolves users, toolkits and session logs cache-first and keeps
// the per-user robot markers.
type Accessor struct {
	cache  Cache
	loader Loader
	group  singleflight.Group
}

// NewAccessor creates an Accessor reading through c and falling back to loader.
func NewAccessor(c Cache, loader Loader) *Accessor {
	return &Accessor{cache: c, loader: loader}
}

// User returns the user with id, or nil when absent.
func (a *Accessor) User(ctx context.Context, id string) (*models.User, error) {
	return GetOrLoad(ctx, a.cache, &a.group, "user", UserKey(id), UserTTL, func(ctx context.Context) (*models.User, error) {
		return a.loader.GetUser(ctx, id)
	})
}

// Toolkit returns the toolkit with id, or nil when absent.
func (a *Accessor) Toolkit(ctx context.Context, id string) (*models.Toolkit, error) {
	return GetOrLoad(ctx, a.cache, &a.group, "toolkit", ToolkitKey(id), ToolkitTTL, func(ctx context.Context) (*models.Toolkit, error) {
		return a.loader.GetToolkit(ctx, id)
	})
}

// SessionLog returns the session log for (user, date, page), or nil when the
// user has not been active there yet.
func (a *Accessor) SessionLog(ctx context.Context, userID, date string, page models.Page) (*models.UserSessionLog, error) {
	return GetOrLoad(ctx, a.cache, &a.group, "session_log", SessionLogKey(userID, date, page), SessionLogTTL,
		func(ctx context.Context) (*models.UserSessionLog, error) {
			return a.loader.GetSessionLog(ctx, userID, date, page)
		})
}

// PutSessionLog caches l so later requests see the session before it is persisted.
func (a *Accessor) PutSessionLog(ctx context.Context, l *models.UserSessionLog) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode session log: %w", err)
	}
	return a.cache.Set(ctx, SessionLogKey(l.UserID, l.Date, l.Page), data, SessionLogTTL)
}

// HasOnboardingMarker reports whether the onboarding robot was logged for the user on page.
func (a *Accessor) HasOnboardingMarker(ctx context.Context, userID string, page models.Page) (bool, error) {
	_, ok, err := a.cache.HGet(ctx, OnboardingKey(userID), string(page))
	if err != nil {
		metrics.ObserveCache("onboarding", "error")
		return false, err
	}
	if ok {
		metrics.ObserveCache("onboarding", "hit")
	} else {
		metrics.ObserveCache("onboarding", "miss")
	}
	return ok, nil
}

// SetOnboardingMarker records that the onboarding robot was logged for the user on page.
func (a *Accessor) SetOnboardingMarker(ctx context.Context, userID string, page models.Page) error {
	return a.cache.HSet(ctx, OnboardingKey(userID), string(page), []byte("1"))
}

// ClosedNotification returns the id of the treatment-timeline notification
// the user dismissed today, or "".
func (a *Accessor) ClosedNotification(ctx context.Context, userID string) (string, error) {
	data, ok, err := a.cache.Get(ctx, ClosedNotificationKey(userID))
	if err != nil || !ok {
		return "", err
	}
	return string(data), nil
}

// SetClosedNotification suppresses notificationID for the user for ttl.
func (a *Accessor) SetClosedNotification(ctx context.Context, userID, notificationID string, ttl time.Duration) error {
	return a.cache.Set(ctx, ClosedNotificationKey(userID), []byte(notificationID), ttl)
}

// ClearClosedNotification removes the user's suppression marker.
func (a *Accessor) ClearClosedNotification(ctx context.Context, userID string) error {
	return a.cache.Delete(ctx, ClosedNotificationKey(userID))
}
