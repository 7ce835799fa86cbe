// Package health aggregates component health into a single system view and
// serves it over HTTP for probes and dashboards.
package health

import (
	"regexp"
	"time"

	"github.com/abossard/vjuniverse/component"
)

// Error messages may embed connection strings. They are scrubbed before the
// status leaves the process.
var (
	urlRegex        = regexp.MustCompile(`(?:https?|nats|wss?)://[^\s]+`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is the health state of one component or of the whole system.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	State       string    `json:"state"` // "healthy", "degraded", "unhealthy"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime,omitempty"`
	ErrorCount  int       `json:"error_count,omitempty"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// IsHealthy returns true when the state is healthy.
func (s Status) IsHealthy() bool { return s.State == "healthy" }

// IsDegraded returns true when the state is degraded.
func (s Status) IsDegraded() bool { return s.State == "degraded" }

// IsUnhealthy returns true when the state is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == "unhealthy" }

// NewHealthy creates a healthy status.
func NewHealthy(name, message string) Status {
	return Status{Component: name, Healthy: true, State: "healthy",
		Message: message, Timestamp: time.Now()}
}

// NewDegraded creates a degraded status.
func NewDegraded(name, message string) Status {
	return Status{Component: name, State: "degraded",
		Message: message, Timestamp: time.Now()}
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(name, message string) Status {
	return Status{Component: name, State: "unhealthy",
		Message: message, Timestamp: time.Now()}
}

// FromComponent converts a component's self-reported health, scrubbing the
// last error of URLs and credentials.
func FromComponent(name string, ch component.HealthStatus) Status {
	state := "unhealthy"
	message := ch.LastError
	if ch.Healthy {
		state = "healthy"
		if message == "" {
			message = "Component healthy"
		}
	}

	return Status{
		Component:  name,
		Healthy:    ch.Healthy,
		State:      state,
		Message:    sanitize(message),
		Timestamp:  time.Now(),
		Uptime:     ch.Uptime.Round(time.Second).String(),
		ErrorCount: ch.ErrorCount,
	}
}

// Aggregate folds sub-statuses into one system status: any unhealthy makes
// the system unhealthy, otherwise any degraded makes it degraded.
func Aggregate(name string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(name, "No components registered")
	}

	hasUnhealthy := false
	hasDegraded := false
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			hasUnhealthy = true
		case sub.IsDegraded():
			hasDegraded = true
		}
	}

	var status Status
	switch {
	case hasUnhealthy:
		status = NewUnhealthy(name, "One or more components are unhealthy")
	case hasDegraded:
		status = NewDegraded(name, "One or more components are degraded")
	default:
		status = NewHealthy(name, "All components healthy")
	}

	status.SubStatuses = make([]Status, len(subStatuses))
	copy(status.SubStatuses, subStatuses)
	return status
}

func sanitize(message string) string {
	if message == "" {
		return ""
	}
	message = urlRegex.ReplaceAllString(message, "[URL]")
	return credentialRegex.ReplaceAllString(message, "[REDACTED]")
}
