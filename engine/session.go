// Package engine ties the protocol, audio, shader, and binding layers into
// a single per-tick session. The host render loop owns the clock: it drains
// control traffic, advances feature state, and applies uniforms by calling
// Tick once per frame. Nothing in here spawns goroutines; all state belongs
// to the tick goroutine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/abossard/vjuniverse/audio"
	"github.com/abossard/vjuniverse/binding"
	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/metric"
	"github.com/abossard/vjuniverse/osc"
	"github.com/abossard/vjuniverse/output/natsbridge"
	"github.com/abossard/vjuniverse/output/statusws"
	"github.com/abossard/vjuniverse/shader"
)

// Drainer supplies buffered control messages once per tick. The UDP receiver
// implements it; tests feed messages directly.
type Drainer interface {
	Drain() []*osc.Message
}

type mergedDrainer []Drainer

func (m mergedDrainer) Drain() []*osc.Message {
	var out []*osc.Message
	for _, d := range m {
		out = append(out, d.Drain()...)
	}
	return out
}

// MergeDrainers combines several message sources into one. Sources drain in
// the order given, so UDP input should come before bus input when both feed
// the same session. Nil sources are skipped.
func MergeDrainers(sources ...Drainer) Drainer {
	kept := make(mergedDrainer, 0, len(sources))
	for _, d := range sources {
		if d != nil {
			kept = append(kept, d)
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}
	return kept
}

// Status is the JSON view pushed to status clients after every tick.
type Status struct {
	Shader     string          `json:"shader"`
	Speed      float64         `json:"speed"`
	Stale      bool            `json:"stale"`
	Generation uint64          `json:"generation"`
	Bindings   []string        `json:"bindings,omitempty"`
	Frame      audio.Frame     `json:"frame"`
	Structure  audio.Structure `json:"structure"`
}

// Deps holds everything a session needs. Registry, Transpiler, and Renderer
// are required; the rest degrade to no-ops when nil.
type Deps struct {
	Name       string
	Registry   *shader.Registry
	Transpiler *shader.Transpiler
	Renderer   Renderer

	Input    Drainer
	Bridge   *natsbridge.Bridge
	Status   *statusws.Server
	Capture  *shader.CaptureScheduler
	ErrorLog *shader.ErrorLog

	Rules           []binding.Rule // nil means the built-in rule table
	MetricsRegistry *metric.Registry
	Logger          *slog.Logger
}

// Session is one running engine instance. It owns the active shader, its
// compiled uniform surface, the binding table, and the audio feature state.
type Session struct {
	name   string
	logger *slog.Logger

	registry   *shader.Registry
	transpiler *shader.Transpiler
	renderer   Renderer
	input      Drainer
	bridge     *natsbridge.Bridge
	status     *statusws.Server
	capture    *shader.CaptureScheduler
	errorLog   *shader.ErrorLog

	extractor *audio.Extractor
	speed     *audio.SpeedController
	table     *binding.Table
	rules     []binding.Rule
	metrics   *sessionMetrics

	active     *shader.Descriptor
	compiled   *shader.Result
	generation uint64

	clock     float64
	lastSpeed float64
	pointer   [2]float64
	display   map[string]bool

	staleWarn *rate.Limiter
}

// NewSession creates a session. It validates required dependencies and
// registers engine metrics when a registry is provided.
func NewSession(deps Deps) (*Session, error) {
	if deps.Registry == nil || deps.Transpiler == nil || deps.Renderer == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("registry, transpiler, and renderer are required"),
			"Session", "NewSession", "dependency validation")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := deps.Name
	if name == "" {
		name = "engine"
	}

	metrics, err := newSessionMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, "Session", "NewSession", "metrics registration")
	}

	rules := deps.Rules
	if rules == nil {
		rules = binding.DefaultRules()
	}

	return &Session{
		name:       name,
		logger:     logger.With("component", name),
		registry:   deps.Registry,
		transpiler: deps.Transpiler,
		renderer:   deps.Renderer,
		input:      deps.Input,
		bridge:     deps.Bridge,
		status:     deps.Status,
		capture:    deps.Capture,
		errorLog:   deps.ErrorLog,
		extractor:  audio.NewExtractor(logger),
		speed:      audio.NewSpeedController(),
		table:      binding.NewTable(),
		rules:      rules,
		metrics:    metrics,
		lastSpeed:  audio.SpeedFloor,
		display:    make(map[string]bool),
		staleWarn:  rate.NewLimiter(rate.Every(10*time.Second), 1),
	}, nil
}

// ActiveShader returns the name of the active shader, or "" before the first
// successful activation.
func (s *Session) ActiveShader() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name
}

// Speed returns the speed multiplier computed on the last tick.
func (s *Session) Speed() float64 { return s.lastSpeed }

// Bindings returns the live binding table.
func (s *Session) Bindings() *binding.Table { return s.table }

// Extractor returns the session's feature extractor.
func (s *Session) Extractor() *audio.Extractor { return s.extractor }

// DisplayToggle reports the current value of a /controls/display/* switch.
func (s *Session) DisplayToggle(name string) bool { return s.display[name] }

// SetSongStyle seeds the speed controller's style blend before remote
// control takes over.
func (s *Session) SetSongStyle(v float64) { s.speed.SetStyle(v) }

// Tick advances the session by dt seconds. Order is fixed: drain and dispatch
// control traffic, advance audio state, poll the shader library for changes,
// apply uniforms, then publish bookkeeping. It never blocks on outputs.
func (s *Session) Tick(ctx context.Context, now time.Time, dt float64) {
	if s.input != nil {
		for _, msg := range s.input.Drain() {
			s.dispatch(ctx, msg, now)
		}
	}

	s.extractor.Tick(dt)
	frame := s.extractor.Frame()
	s.lastSpeed = s.speed.Tick(frame, dt)
	s.clock += dt

	if s.extractor.Stale() && s.staleWarn.Allow() {
		s.logger.Warn("audio feed stale, smoothed features decaying",
			"silence_seconds", s.extractor.SinceMessage())
	}

	if changed, err := s.registry.CheckReload(now); err != nil {
		s.logger.Warn("shader library rescan failed", "error", err)
	} else if changed {
		s.generation = s.registry.Generation()
		if s.active != nil {
			s.logger.Info("shader library changed, reloading active shader",
				"shader", s.active.Name, "generation", s.generation)
			s.activate(ctx, s.active.Name, 0, 0, now)
		}
	}

	s.applyUniforms(frame)

	s.postDraw(ctx, frame, now)
	s.metrics.recordTick(s.lastSpeed, s.extractor.Stale())
}

// applyUniforms uploads the full uniform surface for the active shader.
// Resolution order follows the uniform's class: engine-reserved values first,
// audio features from the frame, and declared inputs from the binding table
// with header defaults filling the rest. A table entry targeting an audio
// name rescales that feature and wins over the raw frame value. Each name is
// set exactly once.
func (s *Session) applyUniforms(frame *audio.Frame) {
	if s.compiled == nil {
		return
	}

	w, h := s.renderer.Resolution()
	bound := s.table.Apply(frame)

	for _, name := range s.compiled.Uniforms.Names() {
		class, _ := s.compiled.Uniforms.Class(name)
		switch class {
		case shader.ClassReserved:
			s.renderer.SetUniform(name, s.reservedValue(name, w, h))
		case shader.ClassAudio:
			if v, ok := bound[name]; ok {
				s.renderer.SetUniform(name, shader.Scalar(v))
			} else {
				s.renderer.SetUniform(name, shader.Scalar(binding.FeatureValue(name, frame)))
			}
		case shader.ClassInput:
			if v, ok := bound[name]; ok {
				s.renderer.SetUniform(name, shader.Scalar(v))
			} else if def, ok := s.compiled.Defaults[name]; ok {
				s.renderer.SetUniform(name, def)
			}
		}
	}
}

func (s *Session) reservedValue(name string, w, h int) shader.Value {
	switch name {
	case shader.UniformTime:
		return shader.Scalar(s.clock)
	case shader.UniformResolution:
		return shader.Vec2(float64(w), float64(h))
	case shader.UniformPointer:
		return shader.Vec2(s.pointer[0], s.pointer[1])
	case shader.UniformAudioSpeed:
		return shader.Scalar(s.lastSpeed)
	}
	return shader.Scalar(0)
}

// postDraw runs the per-tick bookkeeping that must not affect rendering:
// pending preview captures, status pushes, and the bus snapshot.
func (s *Session) postDraw(ctx context.Context, frame *audio.Frame, now time.Time) {
	if s.capture != nil {
		if req := s.capture.Due(now); req != nil {
			s.runCapture(req)
		}
	}

	if s.status != nil {
		if err := s.status.Update(s.snapshot(frame)); err != nil {
			s.logger.Warn("status update failed", "error", err)
		}
	}

	if s.bridge != nil {
		_, err := s.bridge.PublishFrame(ctx, natsbridge.FrameSnapshot{
			Frame:     *frame,
			Structure: s.extractor.Structure(),
			Speed:     s.lastSpeed,
			Shader:    s.ActiveShader(),
			Stale:     s.extractor.Stale(),
		})
		if err != nil {
			s.logger.Warn("frame snapshot publish failed", "error", err)
		}
	}
}

func (s *Session) runCapture(req *shader.CaptureRequest) {
	capturer, ok := s.renderer.(FrameCapturer)
	if !ok {
		return
	}
	if err := capturer.CaptureFrame(req.Path); err != nil {
		s.logger.Warn("preview capture failed",
			"shader", req.Shader, "path", req.Path, "error", err)
		return
	}
	s.logger.Info("preview captured", "shader", req.Shader, "path", req.Path)
}

func (s *Session) snapshot(frame *audio.Frame) Status {
	return Status{
		Shader:     s.ActiveShader(),
		Speed:      s.lastSpeed,
		Stale:      s.extractor.Stale(),
		Generation: s.generation,
		Bindings:   s.table.Uniforms(),
		Frame:      *frame,
		Structure:  s.extractor.Structure(),
	}
}

// Activate loads, transpiles, and compiles the named shader, then swaps it in
// and re-derives bindings. On any failure the previously active shader stays
// in place. An unknown name is logged and ignored.
func (s *Session) Activate(ctx context.Context, name string, now time.Time) error {
	return s.activate(ctx, name, 0, 0, now)
}

func (s *Session) activate(ctx context.Context, name string, energy, valence float64, now time.Time) error {
	started := time.Now()
	err := s.doActivate(ctx, name, energy, valence, now)
	s.metrics.recordActivation(err == nil, time.Since(started).Seconds())
	return err
}

func (s *Session) doActivate(ctx context.Context, name string, energy, valence float64, now time.Time) error {
	desc, err := s.registry.Get(name)
	if err != nil {
		s.logger.Warn("shader not found", "shader", name)
		return err
	}

	raw, err := os.ReadFile(desc.Path)
	if err != nil {
		s.logger.Warn("shader read failed", "shader", desc.Name, "error", err)
		return errors.WrapTransient(err, "Session", "Activate", "shader source read")
	}

	result, err := s.transpiler.Transpile(desc, string(raw))
	if err != nil {
		s.recordCompileFailure(ctx, desc.Name, err, now)
		return err
	}

	if err := s.renderer.Compile(desc.Name, result.Source); err != nil {
		s.recordCompileFailure(ctx, desc.Name, err, now)
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s: %v", errors.ErrCompileRejected, desc.Name, err),
			"Session", "Activate", "backend compile")
	}

	s.active = &desc
	s.compiled = result
	s.table.Clear()

	bindings, err := binding.LoadProfile(desc.Path, s.logger)
	if err != nil {
		s.logger.Warn("binding profile rejected, falling back to auto-bind",
			"shader", desc.Name, "error", err)
		bindings = nil
	}
	if len(bindings) == 0 && result.Header != nil {
		bindings = binding.AutoBind(result.Header.Inputs, s.rules)
	}
	for _, b := range bindings {
		s.table.Set(b)
	}

	if s.capture != nil {
		s.capture.Schedule(desc.Name, now)
	}

	s.logger.Info("shader activated",
		"shader", desc.Name, "dialect", desc.Dialect.String(),
		"uniforms", result.Uniforms.Len(), "bindings", s.table.Len())

	if s.bridge != nil {
		if err := s.bridge.PublishActivation(ctx, natsbridge.ActivationEvent{
			Shader:  desc.Name,
			Energy:  energy,
			Valence: valence,
		}); err != nil {
			s.logger.Warn("activation publish failed", "error", err)
		}
	}

	return nil
}

func (s *Session) recordCompileFailure(ctx context.Context, name string, cause error, now time.Time) {
	s.metrics.recordCompileError()
	s.logger.Error("shader compile failed, keeping previous shader",
		"shader", name, "error", cause)

	if s.errorLog != nil {
		if err := s.errorLog.Record(name, cause.Error(), now); err != nil {
			s.logger.Warn("compile error log write failed", "error", err)
		}
	}
	if s.bridge != nil {
		if err := s.bridge.PublishCompileError(ctx, natsbridge.CompileErrorEvent{
			Shader:  name,
			Message: cause.Error(),
		}); err != nil {
			s.logger.Warn("compile error publish failed", "error", err)
		}
	}
}
