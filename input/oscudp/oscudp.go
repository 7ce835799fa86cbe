// Package oscudp receives OSC datagrams over UDP and buffers the decoded
// messages for the engine to drain once per tick.
package oscudp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/abossard/vjuniverse/component"
	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/metric"
	"github.com/abossard/vjuniverse/osc"
	"github.com/abossard/vjuniverse/pkg/buffer"
	"github.com/abossard/vjuniverse/pkg/retry"
)

// DefaultPort is the analyzer's default send port.
const DefaultPort = 9000

// bufferCapacity bounds how many decoded messages can pile up between ticks.
// A 60 Hz tick draining a ~400 msg/s analyzer leaves this mostly empty;
// overflow drops the oldest so stale features never crowd out fresh ones.
const bufferCapacity = 4096

// Metrics holds Prometheus metrics for the OSC receiver.
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	messagesDecoded prometheus.Counter
	decodeErrors    prometheus.Counter
	messagesDropped prometheus.Counter
	socketErrors    prometheus.Counter
	lastActivity    prometheus.Gauge
}

func newMetrics(registry *metric.Registry, port int) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "packets_received_total",
			Help:      "Total UDP datagrams received",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "bytes_received_total",
			Help:      "Total bytes received from UDP",
		}),
		messagesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "messages_decoded_total",
			Help:      "OSC messages decoded, bundles unwrapped",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "decode_errors_total",
			Help:      "Datagrams that failed OSC decoding",
		}),
		messagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "messages_dropped_total",
			Help:      "Decoded messages dropped due to buffer overflow",
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "socket_errors_total",
			Help:      "Socket read errors encountered",
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "oscudp",
			Name:      "last_activity_timestamp",
			Help:      "Unix timestamp of the last received datagram",
		}),
	}

	name := fmt.Sprintf("oscudp_%d", port)
	_ = registry.RegisterCounter(name, "packets_received", m.packetsReceived)
	_ = registry.RegisterCounter(name, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter(name, "messages_decoded", m.messagesDecoded)
	_ = registry.RegisterCounter(name, "decode_errors", m.decodeErrors)
	_ = registry.RegisterCounter(name, "messages_dropped", m.messagesDropped)
	_ = registry.RegisterCounter(name, "socket_errors", m.socketErrors)
	_ = registry.RegisterGauge(name, "last_activity", m.lastActivity)
	return m
}

// Receiver listens for OSC over UDP. Datagrams are decoded on the read
// goroutine; the engine drains the decoded messages from its tick.
type Receiver struct {
	name   string
	port   int
	bind   string
	logger *slog.Logger

	buffer      *buffer.Ring[*osc.Message]
	retryConfig retry.Config
	warnLimiter *rate.Limiter

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	conn      *net.UDPConn

	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	errCount         atomic.Int64
	lastActivity     atomic.Value // time.Time

	metrics *Metrics
}

var _ component.LifecycleComponent = (*Receiver)(nil)

// Deps holds runtime dependencies for the receiver.
type Deps struct {
	Name            string
	Port            int
	Bind            string
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// NewReceiver creates a receiver. Port 0 lets the OS assign one.
func NewReceiver(deps Deps) (*Receiver, error) {
	port := deps.Port
	if port == 0 {
		port = DefaultPort
	}
	bind := deps.Bind
	if bind == "" {
		bind = "0.0.0.0"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "osc-receiver", "port", port)
	}

	metrics := newMetrics(deps.MetricsRegistry, port)

	var dropCallback buffer.DropCallback[*osc.Message]
	if metrics != nil {
		dropCallback = func(*osc.Message) { metrics.messagesDropped.Inc() }
	}
	ring, err := buffer.NewRing(bufferCapacity,
		buffer.WithOverflowPolicy[*osc.Message](buffer.DropOldest),
		buffer.WithDropCallback(dropCallback))
	if err != nil {
		return nil, errors.Wrap(err, "osc-receiver", "NewReceiver", "buffer creation")
	}

	r := &Receiver{
		name:        deps.Name,
		port:        port,
		bind:        bind,
		logger:      logger,
		buffer:      ring,
		retryConfig: retry.DefaultConfig(),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		startTime:   time.Now(),
		metrics:     metrics,
	}
	r.lastActivity.Store(time.Time{})
	return r, nil
}

// Meta returns component metadata.
func (r *Receiver) Meta() component.Metadata {
	name := r.name
	if name == "" {
		name = fmt.Sprintf("osc-receiver-%d", r.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "input",
		Description: fmt.Sprintf("OSC over UDP listener on %s:%d", r.bind, r.port),
		Version:     "1.0.0",
	}
}

// Health reports whether the receiver is running with a bound socket.
func (r *Receiver) Health() component.HealthStatus {
	r.mu.RLock()
	connected := r.conn != nil
	r.mu.RUnlock()

	return component.HealthStatus{
		Healthy:    r.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(r.errCount.Load()),
		Uptime:     time.Since(r.startTime),
	}
}

// DataFlow returns current throughput metrics.
func (r *Receiver) DataFlow() component.FlowMetrics {
	messages := r.messagesReceived.Load()
	bytes := r.bytesReceived.Load()
	errCount := r.errCount.Load()
	lastActivity, _ := r.lastActivity.Load().(time.Time)

	var mps, bps, errRate float64
	if uptime := time.Since(r.startTime).Seconds(); uptime > 0 {
		mps = float64(messages) / uptime
		bps = float64(bytes) / uptime
	}
	if messages > 0 {
		errRate = float64(errCount) / float64(messages)
	}
	return component.FlowMetrics{
		MessagesPerSecond: mps,
		BytesPerSecond:    bps,
		ErrorRate:         errRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates configuration but does not bind the socket.
func (r *Receiver) Initialize() error {
	if r.port < 0 || r.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", r.port),
			"osc-receiver", "Initialize", "port validation")
	}
	return nil
}

// Start binds the socket (with retry) and launches the read loop.
func (r *Receiver) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return nil
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})

	if err := retry.Do(ctx, r.retryConfig, r.bindSocket); err != nil {
		r.cleanupUnlocked()
		return errors.WrapTransient(err, "osc-receiver", "Start", "socket binding")
	}

	r.running.Store(true)
	r.startTime = time.Now()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.readLoop(ctx)
	}()

	boundPort := r.port
	if addr, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
		boundPort = addr.Port
	}
	r.logger.Info("OSC receiver listening", "bind", r.bind, "port", boundPort)
	return nil
}

func (r *Receiver) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", r.bind, r.port))
	if err != nil {
		return fmt.Errorf("resolve UDP address %s:%d: %w", r.bind, r.port, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on UDP port %d: %w", r.port, err)
	}

	const socketBufferSize = 1 << 20
	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		r.logger.Warn("Could not set UDP buffer size",
			"buffer_size", socketBufferSize, "error", err)
	}

	r.conn = conn
	return nil
}

// Port returns the bound port, which differs from the configured one when
// the OS assigned it.
func (r *Receiver) Port() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn != nil {
		if addr, ok := r.conn.LocalAddr().(*net.UDPAddr); ok {
			return addr.Port
		}
	}
	return r.port
}

// Stop shuts the receiver down, waiting up to timeout for the read loop.
func (r *Receiver) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	r.mu.Lock()
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"osc-receiver", "Stop", "graceful shutdown")
	}

	r.mu.Lock()
	r.cleanupUnlocked()
	r.mu.Unlock()
	return nil
}

func (r *Receiver) cleanupUnlocked() {
	if r.shutdown != nil {
		select {
		case <-r.shutdown:
		default:
			close(r.shutdown)
		}
		r.shutdown = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	_ = r.buffer.Close()
}

// readLoop reads datagrams, decodes them, and buffers the messages.
func (r *Receiver) readLoop(ctx context.Context) {
	datagram := make([]byte, 65536)

	for r.running.Load() {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		default:
		}

		r.mu.RLock()
		conn := r.conn
		r.mu.RUnlock()
		if conn == nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, _, err := conn.ReadFromUDP(datagram)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-r.shutdown:
				return
			default:
				r.errCount.Add(1)
				if r.metrics != nil {
					r.metrics.socketErrors.Inc()
				}
				continue
			}
		}

		r.messagesReceived.Add(1)
		r.bytesReceived.Add(int64(n))
		now := time.Now()
		r.lastActivity.Store(now)
		if r.metrics != nil {
			r.metrics.packetsReceived.Inc()
			r.metrics.bytesReceived.Add(float64(n))
			r.metrics.lastActivity.Set(float64(now.Unix()))
		}

		msgs, err := osc.Parse(datagram[:n])
		if err != nil {
			r.errCount.Add(1)
			if r.metrics != nil {
				r.metrics.decodeErrors.Inc()
			}
			// A misbehaving sender spams every datagram; log at most one
			// decode failure per second and count the rest.
			if r.warnLimiter.Allow() {
				r.logger.Warn("OSC decode failed", "bytes", n, "error", err)
			}
			continue
		}

		for _, msg := range msgs {
			if err := r.buffer.Write(msg); err != nil {
				break
			}
			if r.metrics != nil {
				r.metrics.messagesDecoded.Inc()
			}
		}
	}
}

// Drain returns every buffered message in arrival order, emptying the
// buffer. The engine calls this exactly once per tick.
func (r *Receiver) Drain() []*osc.Message {
	return r.buffer.Drain()
}
