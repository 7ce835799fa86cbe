package component

import (
	"context"
	"log/slog"
	"time"

	"github.com/abossard/vjuniverse/errors"
)

// managed tracks one component and its state.
type managed struct {
	component LifecycleComponent
	state     State
	cancel    context.CancelFunc
	lastErr   error
}

// Manager initializes and starts components in registration order and stops
// them in reverse, so consumers outlive the producers feeding them.
type Manager struct {
	logger  *slog.Logger
	entries []*managed
}

// NewManager creates a manager. A nil logger falls back to the default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "manager")}
}

// Add registers a component. Registration order is start order.
func (m *Manager) Add(c LifecycleComponent) {
	m.entries = append(m.entries, &managed{component: c, state: StateCreated})
}

// StartAll initializes and starts every component in order. The first
// failure stops the sequence and shuts down anything already started.
func (m *Manager) StartAll(ctx context.Context) error {
	for i, entry := range m.entries {
		name := entry.component.Meta().Name

		if err := entry.component.Initialize(); err != nil {
			entry.state = StateFailed
			entry.lastErr = err
			m.stopStarted(i, 5*time.Second)
			return errors.Wrap(err, "manager", "StartAll", "initialize "+name)
		}
		entry.state = StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		entry.cancel = cancel
		if err := entry.component.Start(childCtx); err != nil {
			cancel()
			entry.state = StateFailed
			entry.lastErr = err
			m.stopStarted(i, 5*time.Second)
			return errors.Wrap(err, "manager", "StartAll", "start "+name)
		}
		entry.state = StateStarted
		m.logger.Info("Component started", "name", name, "order", i)
	}
	return nil
}

// StopAll stops every started component in reverse order. All components get
// a stop attempt even when earlier ones fail; the first error is returned.
func (m *Manager) StopAll(timeout time.Duration) error {
	var firstErr error
	for i := len(m.entries) - 1; i >= 0; i-- {
		entry := m.entries[i]
		if entry.state != StateStarted {
			continue
		}
		name := entry.component.Meta().Name

		if entry.cancel != nil {
			entry.cancel()
		}
		if err := entry.component.Stop(timeout); err != nil {
			entry.state = StateFailed
			entry.lastErr = err
			m.logger.Error("Component stop failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "manager", "StopAll", "stop "+name)
			}
			continue
		}
		entry.state = StateStopped
		m.logger.Info("Component stopped", "name", name)
	}
	return firstErr
}

// stopStarted stops components [0, upto) in reverse after a start failure.
func (m *Manager) stopStarted(upto int, timeout time.Duration) {
	for i := upto - 1; i >= 0; i-- {
		entry := m.entries[i]
		if entry.state != StateStarted {
			continue
		}
		if entry.cancel != nil {
			entry.cancel()
		}
		if err := entry.component.Stop(timeout); err != nil {
			m.logger.Error("Component stop failed during rollback",
				"name", entry.component.Meta().Name, "error", err)
		}
		entry.state = StateStopped
	}
}

// Health returns the health of every registered component, keyed by name.
func (m *Manager) Health() map[string]HealthStatus {
	out := make(map[string]HealthStatus, len(m.entries))
	for _, entry := range m.entries {
		out[entry.component.Meta().Name] = entry.component.Health()
	}
	return out
}
