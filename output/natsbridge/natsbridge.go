// Package natsbridge publishes engine events onto the NATS bus so workers
// (capture archivers, playlist brains, dashboards) can react without being
// wired into the render loop.
package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/abossard/vjuniverse/audio"
	"github.com/abossard/vjuniverse/component"
	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/natsclient"
)

// Subjects the bridge publishes on.
const (
	SubjectShaderActivated = "vj.shader.activated"
	SubjectShaderError     = "vj.shader.error"
	SubjectFrameSnapshot   = "vj.audio.frame"
)

// DefaultFrameRate limits snapshot publishes per second. The tick runs at
// render rate; the bus only needs a coarse view.
const DefaultFrameRate = 4.0

// Envelope wraps every published event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ActivationEvent announces a shader swap, with the selection hints that
// rode in on the load request.
type ActivationEvent struct {
	Shader  string  `json:"shader"`
	Energy  float64 `json:"energy"`
	Valence float64 `json:"valence"`
}

// CompileErrorEvent announces a failed shader compile.
type CompileErrorEvent struct {
	Shader  string `json:"shader"`
	Message string `json:"message"`
}

// FrameSnapshot is the coarse feature view published to the bus.
type FrameSnapshot struct {
	Frame     audio.Frame     `json:"frame"`
	Structure audio.Structure `json:"structure"`
	Speed     float64         `json:"speed"`
	Shader    string          `json:"shader,omitempty"`
	Stale     bool            `json:"stale"`
}

// Bridge publishes engine events. A nil client degrades every publish to a
// counted no-op so the engine runs identically with or without a broker.
type Bridge struct {
	name    string
	client  *natsclient.Client
	limiter *rate.Limiter

	startTime time.Time
	published atomic.Int64
	skipped   atomic.Int64
	errCount  atomic.Int64
	lastSend  atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Bridge)(nil)

// Deps holds runtime dependencies for the bridge.
type Deps struct {
	Name      string
	Client    *natsclient.Client // nil disables publishing
	FrameRate float64            // snapshots per second, 0 = DefaultFrameRate
}

// NewBridge creates a bridge.
func NewBridge(deps Deps) *Bridge {
	frameRate := deps.FrameRate
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	b := &Bridge{
		name:      deps.Name,
		client:    deps.Client,
		limiter:   rate.NewLimiter(rate.Limit(frameRate), 1),
		startTime: time.Now(),
	}
	b.lastSend.Store(time.Time{})
	return b
}

// Meta returns component metadata.
func (b *Bridge) Meta() component.Metadata {
	name := b.name
	if name == "" {
		name = "nats-bridge"
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: "Publishes shader and audio events to the NATS bus",
		Version:     "1.0.0",
	}
}

// Health reports healthy whenever the engine can keep ticking: a missing
// broker is degraded operation, not failure.
func (b *Bridge) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    true,
		LastCheck:  time.Now(),
		ErrorCount: int(b.errCount.Load()),
		Uptime:     time.Since(b.startTime),
	}
}

// DataFlow returns publish throughput.
func (b *Bridge) DataFlow() component.FlowMetrics {
	published := b.published.Load()
	lastSend, _ := b.lastSend.Load().(time.Time)

	var mps, errRate float64
	if uptime := time.Since(b.startTime).Seconds(); uptime > 0 {
		mps = float64(published) / uptime
	}
	if published > 0 {
		errRate = float64(b.errCount.Load()) / float64(published)
	}
	return component.FlowMetrics{
		MessagesPerSecond: mps,
		ErrorRate:         errRate,
		LastActivity:      lastSend,
	}
}

// Initialize is a no-op; the client connects independently.
func (b *Bridge) Initialize() error {
	return nil
}

// Start marks the uptime origin.
func (b *Bridge) Start(_ context.Context) error {
	b.startTime = time.Now()
	return nil
}

// Stop is a no-op; the client owns the connection.
func (b *Bridge) Stop(_ time.Duration) error {
	return nil
}

// PublishActivation announces a shader swap.
func (b *Bridge) PublishActivation(ctx context.Context, ev ActivationEvent) error {
	return b.publish(ctx, SubjectShaderActivated, "shader.activated", ev)
}

// PublishCompileError announces a failed compile.
func (b *Bridge) PublishCompileError(ctx context.Context, ev CompileErrorEvent) error {
	return b.publish(ctx, SubjectShaderError, "shader.error", ev)
}

// PublishFrame publishes a feature snapshot, rate-limited. Returns false
// when the limiter suppressed the publish.
func (b *Bridge) PublishFrame(ctx context.Context, snap FrameSnapshot) (bool, error) {
	if !b.limiter.Allow() {
		b.skipped.Add(1)
		return false, nil
	}
	return true, b.publish(ctx, SubjectFrameSnapshot, "audio.frame", snap)
}

// publish wraps the payload in an envelope and sends it. Nil client and
// broker-down conditions are swallowed after counting; the engine must
// never block or fail on bus trouble.
func (b *Bridge) publish(ctx context.Context, subject, eventType string, payload any) error {
	if b.client == nil {
		b.skipped.Add(1)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		b.errCount.Add(1)
		return errors.WrapInvalid(err, "nats-bridge", "publish", "encode "+eventType)
	}
	envelope := Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Payload:   data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		b.errCount.Add(1)
		return errors.WrapInvalid(err, "nats-bridge", "publish", "encode envelope")
	}

	if err := b.client.Publish(ctx, subject, body); err != nil {
		if errors.IsTransient(err) {
			b.skipped.Add(1)
			return nil
		}
		b.errCount.Add(1)
		return errors.Wrap(err, "nats-bridge", "publish", fmt.Sprintf("publish %s", subject))
	}

	b.published.Add(1)
	b.lastSend.Store(time.Now())
	return nil
}

// Published returns the number of events delivered to the broker.
func (b *Bridge) Published() int64 {
	return b.published.Load()
}

// Skipped returns the number of events suppressed by rate limiting, a nil
// client, or a down broker.
func (b *Bridge) Skipped() int64 {
	return b.skipped.Load()
}
