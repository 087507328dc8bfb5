// Package recovery restores background work left in flight by a previous
// RobotFeed process before the workers start polling again.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Recoverable restores the state of one component at startup.
type Recoverable interface {
	Recover(ctx context.Context) error
}

// RecoverFunc adapts a function to Recoverable.
type RecoverFunc func(ctx context.Context) error

// Recover calls f.
func (f RecoverFunc) Recover(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	r    Recoverable
}

// Manager runs registered recoverables in registration order.
type Manager struct {
	components []component
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a named component.
func (m *Manager) Register(name string, r Recoverable) {
	m.components = append(m.components, component{name: name, r: r})
}

// RecoverAll recovers every component. A failing component does not stop the
// others; the failures are joined into the returned error.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.components))

	var errs []error
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.r.Recover(ctx); err != nil {
			slog.Error("Manager.RecoverAll: component recovery failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		slog.Debug("Manager.RecoverAll: component recovered", "component", c.name)
	}

	slog.Info("Manager.RecoverAll: recovery completed", "recovered", len(m.components)-len(errs), "errors", len(errs))
	return errors.Join(errs...)
}
