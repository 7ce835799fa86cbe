package shader

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSettleDelay is how long after activation a preview capture waits so
// the shader has visibly settled before the frame is grabbed.
const DefaultSettleDelay = 3 * time.Second

// CaptureRequest is one pending preview grab. The engine polls the scheduler
// each tick and performs the grab on the tick the request comes due.
type CaptureRequest struct {
	ID     string
	Shader string
	Path   string
	Due    time.Time
}

// CaptureScheduler holds at most one pending capture. Activating a new shader
// before the previous capture fires simply overwrites the slot: only the
// shader currently on screen is ever worth capturing.
type CaptureScheduler struct {
	dir     string
	delay   time.Duration
	pending *CaptureRequest
}

// NewCaptureScheduler creates a scheduler writing previews under dir.
func NewCaptureScheduler(dir string, delay time.Duration) *CaptureScheduler {
	if delay <= 0 {
		delay = DefaultSettleDelay
	}
	return &CaptureScheduler{dir: dir, delay: delay}
}

// Schedule queues a capture for the named shader. Returns false when a
// preview for the shader already exists on disk; existing previews are never
// overwritten. Any previously pending request is replaced.
func (c *CaptureScheduler) Schedule(shader string, now time.Time) bool {
	path := c.previewPath(shader)
	if _, err := os.Stat(path); err == nil {
		c.pending = nil
		return false
	}
	c.pending = &CaptureRequest{
		ID:     uuid.New().String(),
		Shader: shader,
		Path:   path,
		Due:    now.Add(c.delay),
	}
	return true
}

// Due returns the pending request if it has come due, clearing the slot.
func (c *CaptureScheduler) Due(now time.Time) *CaptureRequest {
	if c.pending == nil || now.Before(c.pending.Due) {
		return nil
	}
	req := c.pending
	c.pending = nil
	return req
}

// Cancel drops any pending request.
func (c *CaptureScheduler) Cancel() {
	c.pending = nil
}

// Pending reports whether a capture is queued.
func (c *CaptureScheduler) Pending() bool {
	return c.pending != nil
}

// previewPath maps a shader name like "isf/Plasma" to a flat PNG filename.
func (c *CaptureScheduler) previewPath(shader string) string {
	flat := strings.ReplaceAll(shader, "/", "_")
	return filepath.Join(c.dir, flat+".png")
}
