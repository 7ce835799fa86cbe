// Package component defines the lifecycle contract shared by the engine's
// long-running pieces (inputs, outputs, metric server) and the manager that
// starts and stops them in order.
package component

import (
	"context"
	"time"
)

// Metadata describes what a component is.
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "output", "service"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus is a point-in-time health snapshot.
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component.
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// Component is anything the manager can report on.
type Component interface {
	Meta() Metadata
	Health() HealthStatus
	DataFlow() FlowMetrics
}

// LifecycleComponent supports full lifecycle management:
//   - Initialize() error                // setup only, no context
//   - Start(ctx context.Context) error  // begin work, non-blocking
//   - Stop(timeout time.Duration) error // graceful shutdown within timeout
type LifecycleComponent interface {
	Component
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// State is the lifecycle state the manager tracks per component.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
