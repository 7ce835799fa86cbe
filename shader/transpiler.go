package shader

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/abossard/vjuniverse/errors"
)

// Standard uniform names the engine owns. They are emitted unless the source
// already declares them, and their values always come from the engine, never
// from bindings or header defaults.
const (
	UniformTime       = "time"
	UniformResolution = "resolution"
	UniformPointer    = "pointer"
	UniformAudioSpeed = "audioSpeed"
)

// AudioUniformNames is the fixed audio-feature uniform set, emitted for every
// compiled shader regardless of dialect. Order is emission order.
var AudioUniformNames = []string{
	"bass", "lowMid", "mid", "highs", "air",
	"level", "presence",
	"kickEnv", "kickPulse",
	"beatPhase", "beat4",
	"energyFast", "energySlow",
	"tempoPhase", "tempoConfidence",
}

// Result is the output of one transpile pass: final GLSL source plus the
// uniform surface the engine needs to drive it.
type Result struct {
	Source   string
	Header   *Header
	Uniforms *UniformSet
	Defaults map[string]Value
}

var uniformDeclPattern = regexp.MustCompile(`(?m)^\s*uniform\s+(\w+)\s+([A-Za-z_]\w*)\s*;`)

// Transpiler rewrites raw shader source into the GLSL the renderer compiles.
// It is stateless: the same descriptor and source always produce the same
// bytes, and running it on its own output is a no-op.
type Transpiler struct {
	logger *slog.Logger
}

// NewTranspiler creates a transpiler. A nil logger falls back to the default.
func NewTranspiler(logger *slog.Logger) *Transpiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transpiler{logger: logger}
}

// Transpile compiles raw shader source for the given descriptor. Emission
// order is precision prologue, standard uniforms, header-input uniforms,
// audio uniforms, dialect compat macros, then the body. A name is emitted at
// most once: whichever stage reaches it first wins, and names the source
// already declares are never re-emitted.
func (t *Transpiler) Transpile(desc Descriptor, src string) (*Result, error) {
	if strings.TrimSpace(src) == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptySource, "shader", "transpile",
			"compile "+desc.Name)
	}

	header := &Header{}
	if desc.Dialect == DialectISF {
		parsed, err := ParseHeader(src, t.logger)
		if err != nil {
			return nil, err
		}
		header = parsed
	}

	declared := declaredUniforms(src)
	set := NewUniformSet()
	defaults := make(map[string]Value)
	var prologue strings.Builder

	if !strings.Contains(src, "precision ") {
		prologue.WriteString("#ifdef GL_ES\nprecision highp float;\n#endif\n")
	}

	emit := func(name string, kind ValueKind, class UniformClass) {
		if !set.Add(name, kind, class) {
			return
		}
		if _, inBody := declared[name]; inBody {
			return
		}
		prologue.WriteString("uniform ")
		prologue.WriteString(kind.String())
		prologue.WriteString(" ")
		prologue.WriteString(name)
		prologue.WriteString(";\n")
	}

	emit(UniformTime, KindScalar, ClassReserved)
	emit(UniformResolution, KindVec2, ClassReserved)
	emit(UniformPointer, KindVec2, ClassReserved)
	emit(UniformAudioSpeed, KindScalar, ClassReserved)

	for _, in := range header.Inputs {
		if set.Has(in.Name) {
			t.logger.Warn("shader input shadows an engine uniform, skipping",
				"shader", desc.Name, "input", in.Name)
			continue
		}
		emit(in.Name, in.Kind, ClassInput)
		defaults[in.Name] = in.Default
	}

	for _, name := range AudioUniformNames {
		emit(name, KindScalar, ClassAudio)
	}

	// Body-declared uniforms the stages above did not claim still belong to
	// the surface so the engine can apply bindings to them.
	for _, m := range uniformDeclPattern.FindAllStringSubmatch(src, -1) {
		if kind, ok := glslKind(m[1]); ok {
			set.Add(m[2], kind, ClassInput)
		}
	}

	body := src
	if desc.Dialect == DialectISF {
		prologue.WriteString(isfCompatMacros(src))
		body = substituteFragCoord(body)
	}

	return &Result{
		Source:   prologue.String() + body,
		Header:   header,
		Uniforms: set,
		Defaults: defaults,
	}, nil
}

// declaredUniforms collects the names of uniforms the source already declares.
func declaredUniforms(src string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range uniformDeclPattern.FindAllStringSubmatch(src, -1) {
		out[m[2]] = struct{}{}
	}
	return out
}

// glslKind maps a GLSL type token to a value kind.
func glslKind(t string) (ValueKind, bool) {
	switch t {
	case "float", "int":
		return KindScalar, true
	case "bool":
		return KindBool, true
	case "vec2":
		return KindVec2, true
	case "vec3":
		return KindVec3, true
	case "vec4":
		return KindColor, true
	case "sampler2D":
		return KindTexture, true
	default:
		return 0, false
	}
}

// isfCompatMacros emits the defines ISF sources expect. ISF's coordinate
// origin is top-left while GL's is bottom-left, so vjFragCoord flips Y and
// the body substitution below routes gl_FragCoord reads through it. Each
// macro is emitted only when the source lacks it, keeping the pass idempotent.
func isfCompatMacros(src string) string {
	var b strings.Builder
	write := func(marker, line string) {
		if !strings.Contains(src, marker) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	write("#define vjFragCoord",
		"#define vjFragCoord vec2(gl_FragCoord.x, resolution.y - gl_FragCoord.y)")
	write("#define RENDERSIZE", "#define RENDERSIZE resolution")
	write("#define TIME", "#define TIME (time*audioSpeed)")
	write("#define FRAMEINDEX", "#define FRAMEINDEX int(TIME*60.0)")
	write("#define isf_FragNormCoord",
		"#define isf_FragNormCoord (vjFragCoord / resolution)")
	return b.String()
}

// substituteFragCoord rewrites gl_FragCoord reads in the body to the flipped
// vjFragCoord. Preprocessor lines are left alone so the compat defines
// themselves survive a second pass unchanged.
func substituteFragCoord(body string) string {
	if !strings.Contains(body, "gl_FragCoord") {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#define") {
			continue
		}
		lines[i] = strings.ReplaceAll(line, "gl_FragCoord", "vjFragCoord")
	}
	return strings.Join(lines, "\n")
}
