// Package osc implements the OSC 1.0 wire format used by the control
// protocol: messages with int/float/string/blob/bool/double arguments,
// and bundles, which the engine flattens (timetags are ignored because
// scheduling is tick-driven).
package osc

import (
	"fmt"
	"strings"
)

// Message is a single decoded OSC message.
type Message struct {
	Address string
	Args    []any
}

// NewMessage creates a message for the given address and arguments.
func NewMessage(address string, args ...any) *Message {
	return &Message{Address: address, Args: args}
}

// String renders the message for logs.
func (m *Message) String() string {
	var b strings.Builder
	b.WriteString(m.Address)
	for _, a := range m.Args {
		fmt.Fprintf(&b, " %v", a)
	}
	return b.String()
}

// Float returns argument i coerced to float64.
// Ints, floats and bools all coerce; anything else yields the fallback 0.
// Senders are inconsistent about numeric tags (python-osc emits ints for
// whole floats), so every numeric consumer goes through this.
func (m *Message) Float(i int) float64 {
	if i < 0 || i >= len(m.Args) {
		return 0
	}
	switch v := m.Args[i].(type) {
	case float32:
		return float64(v)
	case float64:
		return v
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// FloatOK returns argument i coerced to float64 and whether the argument was
// present. Consumers that must not mistake an absent argument for zero use
// this instead of Float.
func (m *Message) FloatOK(i int) (float64, bool) {
	if i < 0 || i >= len(m.Args) {
		return 0, false
	}
	return m.Float(i), true
}

// Int returns argument i coerced to int.
func (m *Message) Int(i int) int {
	return int(m.Float(i))
}

// Bool returns argument i coerced to bool (numeric values: non-zero is true).
func (m *Message) Bool(i int) bool {
	if i < 0 || i >= len(m.Args) {
		return false
	}
	if b, ok := m.Args[i].(bool); ok {
		return b
	}
	return m.Float(i) != 0
}

// StringArg returns argument i as a string, or "" when absent or non-string.
func (m *Message) StringArg(i int) string {
	if i < 0 || i >= len(m.Args) {
		return ""
	}
	s, _ := m.Args[i].(string)
	return s
}

// Floats returns all arguments coerced to float64.
func (m *Message) Floats() []float64 {
	out := make([]float64, len(m.Args))
	for i := range m.Args {
		out[i] = m.Float(i)
	}
	return out
}
