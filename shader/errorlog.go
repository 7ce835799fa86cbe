package shader

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/abossard/vjuniverse/errors"
)

// CompileError is one recorded shader compile failure.
type CompileError struct {
	Timestamp time.Time `json:"timestamp"`
	Shader    string    `json:"shader"`
	Message   string    `json:"message"`
}

// ErrorLog appends compile failures to a JSONL file so broken shaders can be
// triaged after a session without scrolling live logs.
type ErrorLog struct {
	mu   sync.Mutex
	path string
}

// NewErrorLog creates a log writing to path. The file is created lazily on
// the first record.
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path}
}

// Record appends one failure entry.
func (l *ErrorLog) Record(shader, message string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := CompileError{Timestamp: now.UTC(), Shader: shader, Message: message}
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.WrapInvalid(err, "shader", "errorlog", "encode entry")
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.WrapTransient(err, "shader", "errorlog", "open log file")
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.WrapTransient(err, "shader", "errorlog", "append entry")
	}
	return nil
}
