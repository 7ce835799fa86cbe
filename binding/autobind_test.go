package binding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/shader"
)

func scalarInput(name string, def float64) shader.InputDeclaration {
	return shader.InputDeclaration{Name: name, Kind: shader.KindScalar,
		Default: shader.Scalar(def)}
}

func TestAutoBindSpeedMatchesVelocityRuleFirst(t *testing.T) {
	// "speed" also contains no other pattern, but ordering matters for names
	// like "glowSpeed" that match two rules: the velocity rule is first.
	inputs := []shader.InputDeclaration{scalarInput("speed", 0.5)}
	bindings := AutoBind(inputs, DefaultRules())

	require.Len(t, bindings, 1)
	assert.Equal(t, "speed", bindings[0].Uniform)
	assert.Equal(t, "energyFast", bindings[0].Source)
	assert.Equal(t, ModeMultiply, bindings[0].Mode)
	assert.InDelta(t, 0.5, bindings[0].Base, 1e-9)
}

func TestAutoBindRuleOrdering(t *testing.T) {
	tests := []struct {
		input  string
		source string
		mode   Mode
	}{
		{"glowSpeed", "energyFast", ModeMultiply}, // velocity rule outranks glow
		{"zoomLevel", "bass", ModeAdd},
		{"glowAmount", "level", ModeMultiply},
		{"glitchiness", "kickEnv", ModeAdd},
		{"rotation", "mid", ModeAdd},
		{"seedOffset", "highs", ModeAdd},
		{"fadeMix", "energySlow", ModeMultiply},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			bindings := AutoBind([]shader.InputDeclaration{scalarInput(tt.input, 0.5)},
				DefaultRules())
			require.Len(t, bindings, 1)
			assert.Equal(t, tt.source, bindings[0].Source)
			assert.Equal(t, tt.mode, bindings[0].Mode)
		})
	}
}

func TestAutoBindExcludesStructuralNames(t *testing.T) {
	inputs := []shader.InputDeclaration{
		scalarInput("time", 0),
		scalarInput("resolution", 0),
		scalarInput("size", 1),
		scalarInput("color", 1),
		scalarInput("position", 0),
	}
	assert.Empty(t, AutoBind(inputs, DefaultRules()))

	// Compound names are not structural.
	bindings := AutoBind([]shader.InputDeclaration{scalarInput("dotSize", 0.5)},
		DefaultRules())
	require.Len(t, bindings, 1)
	assert.Equal(t, "bass", bindings[0].Source)
}

func TestAutoBindSkipsNonScalarsAndUnmatched(t *testing.T) {
	inputs := []shader.InputDeclaration{
		{Name: "glowColor2", Kind: shader.KindColor, Default: shader.Color(1, 1, 1, 1)},
		scalarInput("mysteryKnob", 0.5),
	}
	assert.Empty(t, AutoBind(inputs, DefaultRules()))
}

func TestAutoBindUsesDeclaredRange(t *testing.T) {
	in := shader.InputDeclaration{
		Name: "zoom", Kind: shader.KindScalar,
		Default: shader.Scalar(2.0),
		Min:     0.5, HasMin: true,
		Max: 4.0, HasMax: true,
	}
	bindings := AutoBind([]shader.InputDeclaration{in}, DefaultRules())
	require.Len(t, bindings, 1)
	assert.InDelta(t, 2.0, bindings[0].Base, 1e-9)
	assert.InDelta(t, 0.5, bindings[0].Min, 1e-9)
	assert.InDelta(t, 4.0, bindings[0].Max, 1e-9)
}

func TestLoadRulesOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- patterns: [everything]
  source: kickPulse
  mode: threshold
  multiplier: 0.5
  smoothing: 0.0
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "kickPulse", rules[0].Source)
	assert.Equal(t, ModeThreshold, rules[0].Mode)

	bindings := AutoBind([]shader.InputDeclaration{scalarInput("everythingKnob", 0.5)}, rules)
	require.Len(t, bindings, 1)
	assert.Equal(t, "kickPulse", bindings[0].Source)
}

func TestLoadRulesRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("[]"), 0o644))
	_, err := LoadRules(empty)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	missing := filepath.Join(dir, "missing-source.yaml")
	require.NoError(t, os.WriteFile(missing, []byte("- patterns: [x]\n  mode: add\n"), 0o644))
	_, err = LoadRules(missing)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = LoadRules(filepath.Join(dir, "nonexistent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestLoadProfileSidecar(t *testing.T) {
	dir := t.TempDir()
	shaderPath := filepath.Join(dir, "Plasma.fs")
	sidecar := filepath.Join(dir, "Plasma.analysis.json")
	require.NoError(t, os.WriteFile(sidecar, []byte(`{
		"visualFeatures": {"energy_score": 0.8},
		"audioMapping": {
			"bindings": [
				{"uniform": "glow", "source": "level", "modulation": "multiply",
				 "multiplier": 0.7, "smoothing": 0.2, "baseValue": 0.4,
				 "minValue": 0.1, "maxValue": 0.9},
				{"uniform": "warp", "source": "kickEnv"}
			]
		}
	}`), 0o644))

	bindings, err := LoadProfile(shaderPath, nil)
	require.NoError(t, err)
	require.Len(t, bindings, 2)

	assert.Equal(t, "glow", bindings[0].Uniform)
	assert.Equal(t, ModeMultiply, bindings[0].Mode)
	assert.InDelta(t, 0.4, bindings[0].Base, 1e-9)
	assert.InDelta(t, 0.1, bindings[0].Min, 1e-9)

	// Second binding falls back to wire defaults.
	assert.Equal(t, "warp", bindings[1].Uniform)
	assert.Equal(t, ModeMultiply, bindings[1].Mode)
	assert.InDelta(t, DefaultSmoothing, bindings[1].Smoothing, 1e-9)
}

func TestLoadProfileAbsentAndInvalid(t *testing.T) {
	dir := t.TempDir()

	bindings, err := LoadProfile(filepath.Join(dir, "NoSidecar.fs"), nil)
	require.NoError(t, err)
	assert.Nil(t, bindings)

	bad := filepath.Join(dir, "Bad.fs")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Bad.analysis.json"),
		[]byte(`{"audioMapping": {"bindings": [{"source": "level"}]}}`), 0o644))
	_, err = LoadProfile(bad, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
