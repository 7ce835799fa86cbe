package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abossard/vjuniverse/metric"
)

// sessionMetrics holds Prometheus metrics for the engine session.
type sessionMetrics struct {
	ticks         prometheus.Counter
	messages      *prometheus.CounterVec // by address group
	activations   *prometheus.CounterVec // by status (success/failure)
	compileErrors prometheus.Counter

	activateDuration prometheus.Histogram

	speed prometheus.Gauge
	stale prometheus.Gauge
}

// newSessionMetrics creates and registers session metrics. A nil registry
// disables metrics entirely.
func newSessionMetrics(registry *metric.Registry) (*sessionMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &sessionMetrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "ticks_total",
			Help:      "Total number of engine ticks",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "messages_total",
			Help:      "Total number of dispatched control messages",
		}, []string{"group"}), // group: audio, shader, controls, unknown
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "activations_total",
			Help:      "Total number of shader activation attempts",
		}, []string{"status"}), // status: success, failure
		compileErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "compile_errors_total",
			Help:      "Total number of shader compile failures",
		}),
		activateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "activate_duration_seconds",
			Help:      "Shader activation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		speed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "audio_speed",
			Help:      "Current audio-reactive speed multiplier",
		}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "engine",
			Name:      "audio_stale",
			Help:      "1 when no audio telemetry has arrived recently",
		}),
	}

	if err := registry.RegisterCounter("engine", "ticks", m.ticks); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "messages", m.messages); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "activations", m.activations); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("engine", "compile_errors", m.compileErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "activate_duration", m.activateDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "speed", m.speed); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "stale", m.stale); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *sessionMetrics) recordTick(speed float64, stale bool) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.speed.Set(speed)
	if stale {
		m.stale.Set(1)
	} else {
		m.stale.Set(0)
	}
}

func (m *sessionMetrics) recordMessage(group string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(group).Inc()
}

func (m *sessionMetrics) recordActivation(success bool, duration float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.activations.WithLabelValues(status).Inc()
	m.activateDuration.Observe(duration)
}

func (m *sessionMetrics) recordCompileError() {
	if m == nil {
		return
	}
	m.compileErrors.Inc()
}
