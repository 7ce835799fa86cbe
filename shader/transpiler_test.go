package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abossard/vjuniverse/errors"
)

const plasmaISF = `/*{
	"DESCRIPTION": "classic plasma",
	"CATEGORIES": ["generator"],
	"INPUTS": [
		{"NAME": "speed", "TYPE": "float", "DEFAULT": 0.5, "MIN": 0.0, "MAX": 2.0},
		{"NAME": "invert", "TYPE": "bool", "DEFAULT": true},
		{"NAME": "center", "TYPE": "point2D", "DEFAULT": [0.5, 0.5]},
		{"NAME": "tint", "TYPE": "color", "DEFAULT": [1.0, 0.2, 0.2, 1.0]}
	]
}*/
void main() {
	vec2 uv = gl_FragCoord.xy / RENDERSIZE;
	gl_FragColor = vec4(uv, sin(TIME*speed), 1.0);
}`

func TestParseHeaderInputs(t *testing.T) {
	header, err := ParseHeader(plasmaISF, nil)
	require.NoError(t, err)

	assert.Equal(t, "classic plasma", header.Description)
	assert.Equal(t, []string{"generator"}, header.Categories)
	require.Len(t, header.Inputs, 4)

	speed := header.Inputs[0]
	assert.Equal(t, "speed", speed.Name)
	assert.Equal(t, KindScalar, speed.Kind)
	assert.InDelta(t, 0.5, speed.Default.Float(), 1e-9)
	require.True(t, speed.HasMin)
	require.True(t, speed.HasMax)
	assert.InDelta(t, 0.0, speed.Min, 1e-9)
	assert.InDelta(t, 2.0, speed.Max, 1e-9)

	assert.Equal(t, KindBool, header.Inputs[1].Kind)
	assert.True(t, header.Inputs[1].Default.On)

	assert.Equal(t, KindVec2, header.Inputs[2].Kind)
	assert.InDelta(t, 0.5, header.Inputs[2].Default.Vec[0], 1e-9)

	assert.Equal(t, KindColor, header.Inputs[3].Kind)
	assert.InDelta(t, 0.2, header.Inputs[3].Default.Vec[1], 1e-9)
}

func TestParseHeaderNeutralDefaults(t *testing.T) {
	src := `/*{"INPUTS": [
		{"NAME": "amount", "TYPE": "float"},
		{"NAME": "flip", "TYPE": "bool"},
		{"NAME": "offset", "TYPE": "point2D"},
		{"NAME": "axis", "TYPE": "point3D"},
		{"NAME": "glow", "TYPE": "color"},
		{"NAME": "src", "TYPE": "image"}
	]}*/
	void main() {}`

	header, err := ParseHeader(src, nil)
	require.NoError(t, err)
	require.Len(t, header.Inputs, 6)

	assert.InDelta(t, 1.0, header.Inputs[0].Default.Float(), 1e-9)
	assert.False(t, header.Inputs[1].Default.On)
	assert.Equal(t, [4]float64{0, 0, 0, 0}, header.Inputs[2].Default.Vec)
	assert.Equal(t, [4]float64{0, 0, 0, 0}, header.Inputs[3].Default.Vec)
	assert.Equal(t, [4]float64{1, 1, 1, 1}, header.Inputs[4].Default.Vec)
	assert.Equal(t, KindTexture, header.Inputs[5].Kind)
}

func TestParseHeaderSkipsMalformedEntries(t *testing.T) {
	src := `/*{"INPUTS": [
		{"NAME": "", "TYPE": "float"},
		{"TYPE": "float"},
		{"NAME": "mystery", "TYPE": "quaternion"},
		{"NAME": "good", "TYPE": "float", "DEFAULT": 0.25},
		{"NAME": "good", "TYPE": "bool"},
		{"NAME": "wrongdefault", "TYPE": "float", "DEFAULT": "fast"}
	]}*/
	void main() {}`

	header, err := ParseHeader(src, nil)
	require.NoError(t, err)
	require.Len(t, header.Inputs, 2)
	assert.Equal(t, "good", header.Inputs[0].Name)
	assert.InDelta(t, 0.25, header.Inputs[0].Default.Float(), 1e-9)
	assert.Equal(t, "wrongdefault", header.Inputs[1].Name)
	assert.InDelta(t, 1.0, header.Inputs[1].Default.Float(), 1e-9)
}

func TestParseHeaderHeaderless(t *testing.T) {
	header, err := ParseHeader("void main() { gl_FragColor = vec4(1.0); }", nil)
	require.NoError(t, err)
	assert.Empty(t, header.Inputs)
}

func TestTranspileEmitsEachUniformOnce(t *testing.T) {
	tr := NewTranspiler(nil)
	desc := Descriptor{Name: "isf/Plasma", Dialect: DialectISF}

	result, err := tr.Transpile(desc, plasmaISF)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, line := range strings.Split(result.Source, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "uniform ") {
			continue
		}
		fields := strings.Fields(strings.TrimSuffix(trimmed, ";"))
		require.Len(t, fields, 3, "uniform line %q", line)
		seen[fields[2]]++
	}
	for name, count := range seen {
		assert.Equal(t, 1, count, "uniform %s declared %d times", name, count)
	}

	for _, name := range []string{UniformTime, UniformResolution, UniformPointer, UniformAudioSpeed} {
		assert.Equal(t, 1, seen[name], "missing standard uniform %s", name)
	}
	assert.Equal(t, 1, seen["speed"])
	for _, name := range AudioUniformNames {
		assert.Equal(t, 1, seen[name], "missing audio uniform %s", name)
	}
}

func TestTranspileIdempotent(t *testing.T) {
	tr := NewTranspiler(nil)
	desc := Descriptor{Name: "isf/Plasma", Dialect: DialectISF}

	first, err := tr.Transpile(desc, plasmaISF)
	require.NoError(t, err)
	second, err := tr.Transpile(desc, first.Source)
	require.NoError(t, err)

	assert.Equal(t, first.Source, second.Source)
}

func TestTranspileRespectsExistingDeclarations(t *testing.T) {
	src := `uniform float time;
uniform float bass;
void main() { gl_FragColor = vec4(bass * time); }`

	tr := NewTranspiler(nil)
	result, err := tr.Transpile(Descriptor{Name: "glsl/raw", Dialect: DialectGLSL}, src)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(result.Source, "uniform float time;"))
	assert.Equal(t, 1, strings.Count(result.Source, "uniform float bass;"))
	assert.True(t, result.Uniforms.Has("time"))
	assert.True(t, result.Uniforms.Has("bass"))
}

func TestTranspileInputShadowingAudioUniform(t *testing.T) {
	// A header input named like an audio feature wins the name, and a later
	// load of a shader without that input must leave no residue.
	srcA := `/*{"INPUTS": [{"NAME": "bass", "TYPE": "float", "DEFAULT": 0.1}]}*/
void main() { gl_FragColor = vec4(bass); }`
	srcB := `void main() { gl_FragColor = vec4(level); }`

	tr := NewTranspiler(nil)

	a, err := tr.Transpile(Descriptor{Name: "isf/A", Dialect: DialectISF}, srcA)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(a.Source, "uniform float bass;"))
	class, ok := a.Uniforms.Class("bass")
	require.True(t, ok)
	assert.Equal(t, ClassInput, class)
	assert.Contains(t, a.Defaults, "bass")

	b, err := tr.Transpile(Descriptor{Name: "glsl/B", Dialect: DialectGLSL}, srcB)
	require.NoError(t, err)
	class, ok = b.Uniforms.Class("bass")
	require.True(t, ok)
	assert.Equal(t, ClassAudio, class)
	assert.NotContains(t, b.Defaults, "bass")
}

func TestTranspileISFCoordinateFlip(t *testing.T) {
	tr := NewTranspiler(nil)
	result, err := tr.Transpile(Descriptor{Name: "isf/Plasma", Dialect: DialectISF}, plasmaISF)
	require.NoError(t, err)

	assert.Contains(t, result.Source, "#define vjFragCoord")
	assert.Contains(t, result.Source, "#define RENDERSIZE resolution")
	assert.Contains(t, result.Source, "#define TIME (time*audioSpeed)")
	assert.Contains(t, result.Source, "vjFragCoord.xy / RENDERSIZE")

	// The only surviving gl_FragCoord reads live in the flip macro itself.
	for _, line := range strings.Split(result.Source, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#define") {
			continue
		}
		assert.NotContains(t, line, "gl_FragCoord")
	}
}

func TestTranspileGLSLSkipsISFMacros(t *testing.T) {
	src := `void main() { gl_FragColor = vec4(gl_FragCoord.xy, 0.0, 1.0); }`

	tr := NewTranspiler(nil)
	result, err := tr.Transpile(Descriptor{Name: "glsl/raw", Dialect: DialectGLSL}, src)
	require.NoError(t, err)

	assert.NotContains(t, result.Source, "RENDERSIZE")
	assert.NotContains(t, result.Source, "vjFragCoord")
	assert.Contains(t, result.Source, "gl_FragCoord.xy")
}

func TestTranspileEmptySource(t *testing.T) {
	tr := NewTranspiler(nil)
	_, err := tr.Transpile(Descriptor{Name: "glsl/empty", Dialect: DialectGLSL}, "  \n\t")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrEmptySource)
}

func TestTranspileFrameIndexAdvancesWithTime(t *testing.T) {
	src := `/*{"INPUTS": []}*/
void main() { gl_FragColor = vec4(float(FRAMEINDEX % 120) / 120.0); }`

	tr := NewTranspiler(nil)
	result, err := tr.Transpile(Descriptor{Name: "isf/Strobe", Dialect: DialectISF}, src)
	require.NoError(t, err)

	// FRAMEINDEX has no frame counter behind it; it is derived from the
	// clock so FRAMEINDEX-driven animation keeps moving.
	assert.Contains(t, result.Source, "#define FRAMEINDEX int(TIME*60.0)")
}
