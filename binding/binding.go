// Package binding maps audio features onto shader uniforms. A Table holds
// the live bindings for the active shader; auto-bind rules and analysis
// profiles seed it when nothing explicit was configured.
package binding

import (
	"strings"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/abossard/vjuniverse/audio"
)

// Mode selects how a feature value combines with a binding's base value.
type Mode string

const (
	ModeAdd       Mode = "add"       // base + feature*mult
	ModeMultiply  Mode = "multiply"  // base * (1 + feature*mult)
	ModeReplace   Mode = "replace"   // feature*mult
	ModeThreshold Mode = "threshold" // max when feature > mult, else min
)

// Default binding parameters, matching the remote-binding wire defaults.
const (
	DefaultMultiplier = 1.0
	DefaultSmoothing  = 0.15
	DefaultBase       = 0.5
	DefaultMin        = 0.0
	DefaultMax        = 1.0
)

// Binding ties one uniform to one audio feature. Smoothing is the same
// convention as the extractor's: 0 is instant, values toward 1 lag more.
type Binding struct {
	Uniform    string
	Source     string
	Mode       Mode
	Multiplier float64
	Smoothing  float64
	Base       float64
	Min        float64
	Max        float64

	smoothed float64
}

// Compute advances the binding's local smoothing toward the current feature
// value and returns the modulated, clamped uniform value. Threshold bindings
// emit exactly Min or Max. An unknown mode behaves as add.
func (b *Binding) Compute(f *audio.Frame) float64 {
	raw := FeatureValue(b.Source, f)
	b.smoothed += (raw - b.smoothed) * (1 - core.Clamp(b.Smoothing, 0, 1))
	s := b.smoothed

	var out float64
	switch b.Mode {
	case ModeMultiply:
		out = b.Base * (1 + s*b.Multiplier)
	case ModeReplace:
		out = s * b.Multiplier
	case ModeThreshold:
		if s > b.Multiplier {
			return b.Max
		}
		return b.Min
	default:
		out = b.Base + s*b.Multiplier
	}
	return core.Clamp(out, b.Min, b.Max)
}

// FeatureValue resolves a feature name against the frame. Unknown names fall
// back to the overall level so a typo dims a parameter instead of freezing it.
func FeatureValue(name string, f *audio.Frame) float64 {
	switch strings.ToLower(name) {
	case "bass":
		return f.Bass
	case "lowmid":
		return f.LowMid
	case "mid":
		return f.Mid
	case "highs", "treble":
		return f.Highs
	case "air":
		return f.Air
	case "presence":
		return f.PresenceAvg()
	case "kickenv":
		return f.KickEnv
	case "kickpulse":
		return f.KickPulseValue()
	case "beatphase":
		return f.BeatPhase
	case "beat4":
		return float64(f.Beat4)
	case "energyfast":
		return f.EnergyFast
	case "energyslow":
		return f.EnergySlow
	case "tempophase":
		return f.TempoPhase
	case "tempoconfidence":
		return f.TempoConfidence
	case "bpm":
		return f.BPM
	default:
		return f.Level
	}
}

// Table is the set of live bindings, keyed by uniform name. It belongs to
// the tick goroutine and is not safe for concurrent use.
type Table struct {
	bindings map[string]*Binding
	order    []string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{bindings: make(map[string]*Binding)}
}

// Set creates or replaces the binding for b.Uniform. Replacing resets the
// binding's local smoothing state.
func (t *Table) Set(b Binding) {
	if _, exists := t.bindings[b.Uniform]; !exists {
		t.order = append(t.order, b.Uniform)
	}
	clone := b
	clone.smoothed = 0
	t.bindings[b.Uniform] = &clone
}

// Remove drops the binding for a uniform, if any.
func (t *Table) Remove(uniform string) {
	if _, exists := t.bindings[uniform]; !exists {
		return
	}
	delete(t.bindings, uniform)
	for i, name := range t.order {
		if name == uniform {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Clear drops every binding. Called on shader swap and remote clear.
func (t *Table) Clear() {
	t.bindings = make(map[string]*Binding)
	t.order = nil
}

// Get returns the binding for a uniform.
func (t *Table) Get(uniform string) (*Binding, bool) {
	b, ok := t.bindings[uniform]
	return b, ok
}

// Len returns the number of bindings.
func (t *Table) Len() int {
	return len(t.bindings)
}

// Uniforms returns bound uniform names in insertion order.
func (t *Table) Uniforms() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Apply computes every binding against the frame, returning uniform values
// keyed by name.
func (t *Table) Apply(f *audio.Frame) map[string]float64 {
	out := make(map[string]float64, len(t.order))
	for _, name := range t.order {
		out[name] = t.bindings[name].Compute(f)
	}
	return out
}
