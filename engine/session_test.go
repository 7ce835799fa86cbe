package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abossard/vjuniverse/audio"
	"github.com/abossard/vjuniverse/binding"
	"github.com/abossard/vjuniverse/osc"
	"github.com/abossard/vjuniverse/shader"
)

const tickDT = 1.0 / 60.0

// fakeRenderer records every call so tests can assert exact uniform traffic.
type fakeRenderer struct {
	compiled   []string
	sources    map[string]string
	uniforms   map[string]shader.Value
	captures   []string
	failuresOn map[string]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		sources:    make(map[string]string),
		uniforms:   make(map[string]shader.Value),
		failuresOn: make(map[string]bool),
	}
}

func (r *fakeRenderer) Compile(name, source string) error {
	if r.failuresOn[name] {
		return assert.AnError
	}
	r.compiled = append(r.compiled, name)
	r.sources[name] = source
	return nil
}

func (r *fakeRenderer) SetUniform(name string, value shader.Value) {
	// Accepts any name, known to the program or not.
	r.uniforms[name] = value
}

func (r *fakeRenderer) Resolution() (int, int) { return 1280, 720 }

func (r *fakeRenderer) CaptureFrame(path string) error {
	r.captures = append(r.captures, path)
	return os.WriteFile(path, []byte("png"), 0o644)
}

// queueInput feeds scripted messages one batch per Drain call.
type queueInput struct {
	batches [][]*osc.Message
}

func (q *queueInput) push(msgs ...*osc.Message) {
	q.batches = append(q.batches, msgs)
}

func (q *queueInput) Drain() []*osc.Message {
	if len(q.batches) == 0 {
		return nil
	}
	head := q.batches[0]
	q.batches = q.batches[1:]
	return head
}

func writeShaderFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

type sessionFixture struct {
	session  *Session
	renderer *fakeRenderer
	input    *queueInput
	registry *shader.Registry
	dir      string
}

func newFixture(t *testing.T, shaders map[string]string) *sessionFixture {
	t.Helper()
	dir := t.TempDir()
	for name, body := range shaders {
		writeShaderFile(t, dir, name, body)
	}

	registry := shader.NewRegistry(dir)
	require.NoError(t, registry.Scan())

	renderer := newFakeRenderer()
	input := &queueInput{}

	session, err := NewSession(Deps{
		Name:       "engine-test",
		Registry:   registry,
		Transpiler: shader.NewTranspiler(nil),
		Renderer:   renderer,
		Input:      input,
	})
	require.NoError(t, err)

	return &sessionFixture{
		session:  session,
		renderer: renderer,
		input:    input,
		registry: registry,
		dir:      dir,
	}
}

func TestNewSessionRequiresCollaborators(t *testing.T) {
	_, err := NewSession(Deps{})
	require.Error(t, err)
}

func TestActivateUnknownShaderIsNoOp(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
	})
	now := time.Now()

	require.NoError(t, fx.session.Activate(context.Background(), "plasma", now))
	require.Error(t, fx.session.Activate(context.Background(), "nope", now))

	assert.Equal(t, "isf/Plasma", fx.session.ActiveShader())
	assert.Equal(t, []string{"isf/Plasma"}, fx.renderer.compiled)
}

func TestCompileFailureKeepsPreviousShader(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
		"isf/Broken.fs": "void main() { this does not matter; }",
	})
	now := time.Now()

	require.NoError(t, fx.session.Activate(context.Background(), "plasma", now))

	fx.renderer.failuresOn["isf/Broken"] = true
	require.Error(t, fx.session.Activate(context.Background(), "broken", now))

	assert.Equal(t, "isf/Plasma", fx.session.ActiveShader())

	// Ticking still applies the surviving shader's uniforms.
	fx.session.Tick(context.Background(), now, tickDT)
	assert.Contains(t, fx.renderer.uniforms, shader.UniformTime)
}

func TestActivationAutoBindsDeclaredInputs(t *testing.T) {
	src := `/*{
  "DESCRIPTION": "zoomer",
  "INPUTS": [
    {"NAME": "zoomAmount", "TYPE": "float", "DEFAULT": 0.4, "MIN": 0.1, "MAX": 2.0}
  ]
}*/
void main() { gl_FragColor = vec4(zoomAmount); }`
	fx := newFixture(t, map[string]string{"isf/Zoom.fs": src})

	require.NoError(t, fx.session.Activate(context.Background(), "zoom", time.Now()))

	b, ok := fx.session.Bindings().Get("zoomAmount")
	require.True(t, ok)
	assert.Equal(t, "bass", b.Source)
	assert.Equal(t, 0.4, b.Base)
	assert.Equal(t, 0.1, b.Min)
	assert.Equal(t, 2.0, b.Max)
}

func TestActivationClearsBindingsFromPreviousShader(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/A.fs": "void main() { gl_FragColor = vec4(1.0); }",
		"isf/B.fs": "void main() { gl_FragColor = vec4(0.0); }",
	})
	now := time.Now()

	require.NoError(t, fx.session.Activate(context.Background(), "a", now))
	fx.session.Bindings().Set(binding.Binding{
		Uniform: "ghost", Source: "bass", Mode: binding.ModeAdd,
		Multiplier: 1, Base: 0.5, Max: 1,
	})
	require.Equal(t, 1, fx.session.Bindings().Len())

	require.NoError(t, fx.session.Activate(context.Background(), "b", now))
	assert.Equal(t, 0, fx.session.Bindings().Len())
}

func TestShaderSwapLeavesNoDefaultResidue(t *testing.T) {
	// A declares an input literally named "bass", shadowing the audio
	// feature, with a loud default. B does not. After swapping to B the
	// "bass" uniform must come from the (silent) frame, not A's default.
	shaderA := `/*{
  "INPUTS": [{"NAME": "bass", "TYPE": "float", "DEFAULT": 0.77}]
}*/
void main() { gl_FragColor = vec4(bass); }`
	shaderB := "void main() { gl_FragColor = vec4(bass); }"

	fx := newFixture(t, map[string]string{
		"isf/A.fs": shaderA,
		"isf/B.fs": shaderB,
	})
	now := time.Now()
	ctx := context.Background()

	require.NoError(t, fx.session.Activate(ctx, "a", now))
	fx.session.Tick(ctx, now, tickDT)
	require.Equal(t, 0.77, fx.renderer.uniforms["bass"].Float())

	require.NoError(t, fx.session.Activate(ctx, "b", now))
	fx.session.Tick(ctx, now, tickDT)
	assert.Equal(t, 0.0, fx.renderer.uniforms["bass"].Float())
}

func TestTickAppliesReservedAudioAndDefaultUniforms(t *testing.T) {
	src := `/*{
  "INPUTS": [{"NAME": "glowAmount", "TYPE": "float", "DEFAULT": 0.25}]
}*/
void main() { gl_FragColor = vec4(glowAmount); }`
	fx := newFixture(t, map[string]string{"isf/Glow.fs": src})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, fx.session.Activate(ctx, "glow", now))
	fx.session.Bindings().Clear() // isolate the default path

	fx.session.Tick(ctx, now, tickDT)

	res := fx.renderer.uniforms[shader.UniformResolution]
	assert.Equal(t, 1280.0, res.Vec[0])
	assert.Equal(t, 720.0, res.Vec[1])
	assert.InDelta(t, tickDT, fx.renderer.uniforms[shader.UniformTime].Float(), 1e-9)
	assert.Equal(t, audio.SpeedFloor, fx.session.Speed())
	assert.Equal(t, 0.25, fx.renderer.uniforms["glowAmount"].Float())
	assert.Equal(t, 0.0, fx.renderer.uniforms["level"].Float())
}

func TestTickBindingOverridesDefault(t *testing.T) {
	src := `/*{
  "INPUTS": [{"NAME": "glowAmount", "TYPE": "float", "DEFAULT": 0.25}]
}*/
void main() { gl_FragColor = vec4(glowAmount); }`
	fx := newFixture(t, map[string]string{"isf/Glow.fs": src})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, fx.session.Activate(ctx, "glow", now))
	fx.session.Bindings().Set(binding.Binding{
		Uniform: "glowAmount", Source: "bass", Mode: binding.ModeReplace,
		Multiplier: 1, Min: 0, Max: 1,
	})

	// Silence: the binding computes 0, which still overrides the 0.25 default.
	fx.session.Tick(ctx, now, tickDT)
	assert.Equal(t, 0.0, fx.renderer.uniforms["glowAmount"].Float())
}

func TestDispatchShaderLoad(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
	})

	fx.input.push(osc.NewMessage("/shader/load", "plasma", float32(0.8), float32(0.3)))
	fx.session.Tick(context.Background(), time.Now(), tickDT)

	assert.Equal(t, "isf/Plasma", fx.session.ActiveShader())
}

func TestDispatchBindingSetAndClear(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
	})
	ctx := context.Background()
	require.NoError(t, fx.session.Activate(ctx, "plasma", time.Now()))

	fx.input.push(osc.NewMessage("/shader/audio_binding",
		"warp", "kickEnv", "add", float32(0.9), float32(0.2), float32(0.5), float32(0.0), float32(2.0)))
	fx.session.Tick(ctx, time.Now(), tickDT)

	b, ok := fx.session.Bindings().Get("warp")
	require.True(t, ok)
	assert.Equal(t, "kickEnv", b.Source)
	assert.Equal(t, binding.ModeAdd, b.Mode)
	assert.InDelta(t, 0.9, b.Multiplier, 1e-6)
	assert.InDelta(t, 2.0, b.Max, 1e-6)

	fx.input.push(osc.NewMessage("/shader/audio_binding/clear"))
	fx.session.Tick(ctx, time.Now(), tickDT)
	assert.Equal(t, 0, fx.session.Bindings().Len())
}

func TestDispatchBindingSetDefaults(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
	})

	fx.input.push(osc.NewMessage("/shader/audio_binding", "warp", "bass"))
	fx.session.Tick(context.Background(), time.Now(), tickDT)

	b, ok := fx.session.Bindings().Get("warp")
	require.True(t, ok)
	assert.Equal(t, binding.ModeAdd, b.Mode)
	assert.Equal(t, binding.DefaultMultiplier, b.Multiplier)
	assert.Equal(t, binding.DefaultSmoothing, b.Smoothing)
	assert.Equal(t, binding.DefaultBase, b.Base)
}

func TestDispatchControls(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.input.push(
		osc.NewMessage("/controls/songstyle", float32(0.9)),
		osc.NewMessage("/controls/onset_threshold", float32(0.7)),
		osc.NewMessage("/controls/display/fps", true),
	)
	fx.session.Tick(ctx, time.Now(), tickDT)

	assert.InDelta(t, 0.7, fx.session.Extractor().OnsetThreshold(), 1e-6)
	assert.True(t, fx.session.DisplayToggle("fps"))

	fx.input.push(osc.NewMessage("/controls/display/fps", false))
	fx.session.Tick(ctx, time.Now(), tickDT)
	assert.False(t, fx.session.DisplayToggle("fps"))
}

func TestDispatchAudioTelemetry(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	levels := make([]any, 8)
	for i := range levels {
		levels[i] = float32(1.0)
	}
	fx.input.push(osc.NewMessage("/audio/levels", levels...))

	for i := 0; i < 30; i++ {
		fx.session.Tick(ctx, time.Now(), tickDT)
	}

	frame := fx.session.Extractor().Frame()
	assert.Greater(t, frame.Level, 0.5)
	assert.Greater(t, fx.session.Speed(), audio.SpeedFloor)
}

func TestDispatchUnknownAddressIgnored(t *testing.T) {
	fx := newFixture(t, nil)
	fx.input.push(osc.NewMessage("/nope/nothing", float32(1)))

	assert.NotPanics(t, func() {
		fx.session.Tick(context.Background(), time.Now(), tickDT)
	})
}

func TestLibraryChangeReloadsActiveShader(t *testing.T) {
	dir := t.TempDir()
	path := writeShaderFile(t, dir, "isf/Plasma.fs",
		"void main() { gl_FragColor = vec4(1.0); }")

	registry := shader.NewRegistry(dir, shader.WithReloadInterval(time.Second))
	require.NoError(t, registry.Scan())

	renderer := newFakeRenderer()
	session, err := NewSession(Deps{
		Registry:   registry,
		Transpiler: shader.NewTranspiler(nil),
		Renderer:   renderer,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, session.Activate(ctx, "plasma", now))
	require.Len(t, renderer.compiled, 1)

	// Edit the file on disk, then tick past the poll interval.
	require.NoError(t, os.WriteFile(path,
		[]byte("void main() { gl_FragColor = vec4(0.5); }"), 0o644))
	require.NoError(t, os.Chtimes(path, now.Add(2*time.Second), now.Add(2*time.Second)))

	session.Tick(ctx, now.Add(2*time.Second), tickDT)

	require.Len(t, renderer.compiled, 2)
	assert.Contains(t, renderer.sources["isf/Plasma"], "vec4(0.5)")
}

func TestCaptureFiresAfterSettleDelay(t *testing.T) {
	previews := t.TempDir()
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(1.0); }",
	})
	capture := shader.NewCaptureScheduler(previews, 100*time.Millisecond)

	session, err := NewSession(Deps{
		Registry:   fx.registry,
		Transpiler: shader.NewTranspiler(nil),
		Renderer:   fx.renderer,
		Capture:    capture,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, session.Activate(ctx, "plasma", now))

	session.Tick(ctx, now, tickDT)
	assert.Empty(t, fx.renderer.captures)

	session.Tick(ctx, now.Add(200*time.Millisecond), tickDT)
	require.Len(t, fx.renderer.captures, 1)
	assert.True(t, strings.HasSuffix(fx.renderer.captures[0], "isf_Plasma.png"))
}

func TestTickWithoutActiveShaderSetsNoUniforms(t *testing.T) {
	fx := newFixture(t, nil)
	fx.session.Tick(context.Background(), time.Now(), tickDT)
	assert.Empty(t, fx.renderer.uniforms)
}

func TestMergeDrainersPreservesSourceOrder(t *testing.T) {
	udp := &queueInput{}
	udp.push(osc.NewMessage("/controls/songstyle", float32(0.2)))
	bus := &queueInput{}
	bus.push(osc.NewMessage("/shader/load", "isf/Plasma"))

	merged := MergeDrainers(udp, nil, bus)

	msgs := merged.Drain()
	require.Len(t, msgs, 2)
	assert.Equal(t, "/controls/songstyle", msgs[0].Address)
	assert.Equal(t, "/shader/load", msgs[1].Address)
	assert.Empty(t, merged.Drain())
}

func TestMergeDrainersSingleSourcePassthrough(t *testing.T) {
	udp := &queueInput{}
	assert.Equal(t, Drainer(udp), MergeDrainers(udp, nil))
}

func TestTickBindingRemapsAudioUniform(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"isf/Plasma.fs": "void main() { gl_FragColor = vec4(bass); }",
	})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, fx.session.Activate(ctx, "plasma", now))

	// Pin the bass uniform through the table; the remapped value must win
	// over the raw frame feature (0 under silence).
	fx.session.Bindings().Set(binding.Binding{
		Uniform: "bass", Source: "level", Mode: binding.ModeAdd,
		Base: 0.9, Multiplier: 0, Min: 0, Max: 1,
	})
	fx.session.Tick(ctx, now, tickDT)
	assert.InDelta(t, 0.9, fx.renderer.uniforms["bass"].Float(), 1e-9)

	// Removing the remap restores the frame feature.
	fx.session.Bindings().Remove("bass")
	fx.session.Tick(ctx, now, tickDT)
	assert.Equal(t, 0.0, fx.renderer.uniforms["bass"].Float())
}
