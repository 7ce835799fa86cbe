// Package statusws serves a WebSocket endpoint that pushes the engine's
// status snapshot (active shader, feature frame, speed, health) to UI
// clients at a fixed interval.
package statusws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abossard/vjuniverse/component"
	"github.com/abossard/vjuniverse/errors"
)

// DefaultInterval is the push cadence. UIs animate from this; anything
// faster wastes battery on phones controlling the rig.
const DefaultInterval = 250 * time.Millisecond

// clientQueueSize bounds the per-client send queue. A client that falls this
// far behind is dropped rather than throttling everyone else.
const clientQueueSize = 8

// Server pushes status JSON to connected WebSocket clients.
type Server struct {
	name     string
	port     int
	path     string
	interval time.Duration
	logger   *slog.Logger

	server   *http.Server
	upgrader websocket.Upgrader

	status atomic.Value // []byte, pre-marshaled snapshot

	clients   map[*websocket.Conn]chan []byte
	clientsMu sync.Mutex

	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time
	wg        sync.WaitGroup

	sent     atomic.Int64
	dropped  atomic.Int64
	errCount atomic.Int64
}

var _ component.LifecycleComponent = (*Server)(nil)

// Deps holds runtime dependencies for the status server.
type Deps struct {
	Name     string
	Port     int
	Path     string
	Interval time.Duration
	Logger   *slog.Logger
}

// NewServer creates a status server.
func NewServer(deps Deps) *Server {
	path := deps.Path
	if path == "" {
		path = "/status"
	}
	port := deps.Port
	if port == 0 {
		port = 8085
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "status-ws", "port", port)
	}

	s := &Server{
		name:     deps.Name,
		port:     port,
		path:     path,
		interval: interval,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The rig UI connects from arbitrary local origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []byte),
	}
	s.status.Store([]byte("{}"))
	return s
}

// Meta returns component metadata.
func (s *Server) Meta() component.Metadata {
	name := s.name
	if name == "" {
		name = fmt.Sprintf("status-ws-%d", s.port)
	}
	return component.Metadata{
		Name:        name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket status push on :%d%s", s.port, s.path),
		Version:     "1.0.0",
	}
}

// Health reports whether the server is accepting connections.
func (s *Server) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    s.running.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(s.errCount.Load()),
		Uptime:     time.Since(s.startTime),
	}
}

// DataFlow returns push throughput.
func (s *Server) DataFlow() component.FlowMetrics {
	sent := s.sent.Load()
	var mps, errRate float64
	if uptime := time.Since(s.startTime).Seconds(); uptime > 0 {
		mps = float64(sent) / uptime
	}
	if sent > 0 {
		errRate = float64(s.errCount.Load()) / float64(sent)
	}
	return component.FlowMetrics{MessagesPerSecond: mps, ErrorRate: errRate}
}

// Initialize validates configuration.
func (s *Server) Initialize() error {
	if s.port < 0 || s.port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("invalid port %d", s.port),
			"status-ws", "Initialize", "port validation")
	}
	return nil
}

// Start launches the HTTP server and the broadcast loop.
func (s *Server) Start(_ context.Context) error {
	if s.running.Load() {
		return nil
	}

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return errors.WrapTransient(err, "status-ws", "Start", "listener binding")
	}
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = addr.Port
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleConnection)
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.running.Store(true)
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.errCount.Add(1)
			s.logger.Error("Status server failed", "error", err)
			s.running.Store(false)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		s.broadcastLoop()
	}()

	s.logger.Info("Status server listening", "port", s.port, "path", s.path)
	return nil
}

// Stop closes all clients and shuts the server down.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	close(s.shutdown)

	s.clientsMu.Lock()
	for conn, queue := range s.clients {
		close(queue)
		_ = conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "status-ws", "Stop", "server shutdown")
	}

	select {
	case <-s.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"status-ws", "Stop", "broadcast loop shutdown")
	}
	return nil
}

// Update replaces the status snapshot pushed to clients. Called from the
// engine tick; the marshal happens here so the broadcast loop stays cheap.
func (s *Server) Update(status any) error {
	data, err := json.Marshal(status)
	if err != nil {
		s.errCount.Add(1)
		return errors.WrapInvalid(err, "status-ws", "Update", "encode status")
	}
	s.status.Store(data)
	return nil
}

// Port returns the bound port, which differs from the configured one when
// the OS assigned it.
func (s *Server) Port() int {
	return s.port
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.errCount.Add(1)
		return
	}

	queue := make(chan []byte, clientQueueSize)
	s.clientsMu.Lock()
	s.clients[conn] = queue
	s.clientsMu.Unlock()
	s.logger.Info("Status client connected", "remote", conn.RemoteAddr())

	// Immediately push the current snapshot so new clients render at once.
	if data, ok := s.status.Load().([]byte); ok {
		select {
		case queue <- data:
		default:
		}
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writeLoop(conn, queue)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
}

// writeLoop delivers queued snapshots to one client.
func (s *Server) writeLoop(conn *websocket.Conn, queue chan []byte) {
	for data := range queue {
		_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.dropClient(conn, "write failed")
			return
		}
		s.sent.Add(1)
	}
}

// readLoop discards inbound frames and detects closed connections.
func (s *Server) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.dropClient(conn, "closed by client")
			return
		}
	}
}

// broadcastLoop fans the latest snapshot out to every client queue. A full
// queue means the client is not keeping up; it gets dropped.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
		}

		data, _ := s.status.Load().([]byte)

		s.clientsMu.Lock()
		var slow []*websocket.Conn
		for conn, queue := range s.clients {
			select {
			case queue <- data:
			default:
				slow = append(slow, conn)
			}
		}
		s.clientsMu.Unlock()

		for _, conn := range slow {
			s.dropClient(conn, "client too slow")
		}
	}
}

func (s *Server) dropClient(conn *websocket.Conn, reason string) {
	s.clientsMu.Lock()
	queue, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
		close(queue)
	}
	s.clientsMu.Unlock()

	if ok {
		_ = conn.Close()
		s.dropped.Add(1)
		s.logger.Info("Status client dropped", "remote", conn.RemoteAddr(), "reason", reason)
	}
}
