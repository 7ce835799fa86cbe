// Package natsclient manages the NATS connection the event bridge publishes
// on. It adds connection-status tracking and a failure backoff so a missing
// broker never stalls the render loop.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/abossard/vjuniverse/errors"
)

// ConnectionStatus is the tracked state of the client.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusCircuitOpen
)

// String returns the status name.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusCircuitOpen:
		return "circuit-open"
	default:
		return "unknown"
	}
}

// Client manages a NATS connection with failure tracking. Publishing on an
// unconnected client fails fast with ErrNoConnection instead of blocking.
type Client struct {
	url    string
	logger *slog.Logger

	status   atomic.Value // ConnectionStatus
	failures atomic.Int32

	circuitThreshold int32
	lastFailure      atomic.Value // time.Time
	circuitCooldown  time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	clientName    string

	conn   *nats.Conn
	subs   []*nats.Subscription
	mu     sync.RWMutex
	closed atomic.Bool
}

// NewClient creates a client for the given server URL. No connection is
// attempted until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"natsclient", "NewClient", "URL validation")
	}
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		circuitThreshold: 5,
		circuitCooldown:  30 * time.Second,
		clientName:       "vjuniverse",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "natsclient", "NewClient", "apply option")
		}
	}
	c.status.Store(StatusDisconnected)
	c.lastFailure.Store(time.Time{})
	return c, nil
}

// URL returns the configured server URL.
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	v := c.status.Load()
	if v == nil {
		return StatusDisconnected
	}
	return v.(ConnectionStatus)
}

// IsHealthy reports whether the underlying connection is up.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// GetConnection returns the raw connection, nil before Connect.
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

// Connect establishes the connection. Repeated failures open the circuit:
// further attempts are rejected until the cooldown passes.
func (c *Client) Connect(ctx context.Context) error {
	if c.circuitOpen() {
		return errors.WrapTransient(errors.ErrNoConnection,
			"natsclient", "Connect", "circuit breaker check")
	}

	c.status.Store(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	opts := []nats.Option{
		nats.Name(c.clientName),
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusDisconnected)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.status.Store(StatusConnected)
			c.logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			return errors.WrapTransient(err, "natsclient", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		return errors.WrapTransient(ctx.Err(), "natsclient", "Connect", "connection wait")
	}

	c.status.Store(StatusConnected)
	c.failures.Store(0)
	c.logger.Info("Connected to NATS", "url", c.url)
	return nil
}

// Publish sends data to a subject. Fails fast when not connected.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection,
			"natsclient", "Publish", "connection check")
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "natsclient", "Publish", "publish "+subject)
	}
	return nil
}

// Subscribe registers a handler for a subject. The subscription is tracked
// and drained on Close.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || !c.conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection,
			"natsclient", "Subscribe", "connection check")
	}
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(ctx, msg.Data)
	})
	if err != nil {
		return errors.WrapTransient(err, "natsclient", "Subscribe", "subscribe "+subject)
	}
	c.subs = append(c.subs, sub)
	return nil
}

// Close drains subscriptions and closes the connection. Safe to call more
// than once.
func (c *Client) Close(_ context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.status.Store(StatusDisconnected)
	return nil
}

func (c *Client) recordFailure() {
	n := c.failures.Add(1)
	c.lastFailure.Store(time.Now())
	if n >= c.circuitThreshold {
		c.status.Store(StatusCircuitOpen)
		c.logger.Warn("NATS circuit opened", "failures", n)
	} else {
		c.status.Store(StatusDisconnected)
	}
}

func (c *Client) circuitOpen() bool {
	if c.Status() != StatusCircuitOpen {
		return false
	}
	last, _ := c.lastFailure.Load().(time.Time)
	if time.Since(last) > c.circuitCooldown {
		// Cooldown passed, allow one probe attempt.
		c.failures.Store(c.circuitThreshold - 1)
		c.status.Store(StatusDisconnected)
		return false
	}
	return true
}
