package engine

import "github.com/abossard/vjuniverse/shader"

// Renderer is the host rendering backend. Implementations wrap a GL context
// (or nothing at all, for headless protocol use).
//
// SetUniform with a name the compiled program does not use MUST be a silent
// no-op: the engine applies the full uniform surface every tick and relies
// on the backend ignoring what the compiler optimized away.
type Renderer interface {
	// Compile builds the fragment source under the given name and makes it
	// the active program. On error the previously active program must stay
	// usable.
	Compile(name, source string) error

	// SetUniform uploads one uniform value to the active program.
	SetUniform(name string, value shader.Value)

	// Resolution returns the current output size in pixels.
	Resolution() (int, int)
}

// FrameCapturer is an optional Renderer extension for preview grabs.
type FrameCapturer interface {
	// CaptureFrame writes the current frame to path as a PNG.
	CaptureFrame(path string) error
}

// NopRenderer accepts everything and renders nothing. It is the shipped
// backend for headless runs where only the protocol side matters.
type NopRenderer struct {
	Width  int
	Height int
}

var _ Renderer = (*NopRenderer)(nil)

// Compile accepts any source.
func (r *NopRenderer) Compile(_, _ string) error { return nil }

// SetUniform discards the value.
func (r *NopRenderer) SetUniform(_ string, _ shader.Value) {}

// Resolution returns the configured size, defaulting to 1920x1080.
func (r *NopRenderer) Resolution() (int, int) {
	if r.Width <= 0 || r.Height <= 0 {
		return 1920, 1080
	}
	return r.Width, r.Height
}
