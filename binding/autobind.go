package binding

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abossard/vjuniverse/errors"
	"github.com/abossard/vjuniverse/shader"
)

// Rule matches declared input names by substring and produces a binding
// template. Rules are evaluated in order; the first match wins.
type Rule struct {
	Patterns   []string `yaml:"patterns"`
	Source     string   `yaml:"source"`
	Mode       Mode     `yaml:"mode"`
	Multiplier float64  `yaml:"multiplier"`
	Smoothing  float64  `yaml:"smoothing"`
}

// structuralNames are inputs that describe geometry or palette rather than
// intensity. Binding audio to these makes shaders unwatchable, so they are
// excluded before any rule runs. Exact match only: "size" is structural but
// "dotSize" is a legitimate bass target.
var structuralNames = []string{"time", "resolution", "size", "color", "position"}

// DefaultRules returns the built-in auto-bind table. Ordering matters:
// motion words outrank shape words outrank brightness words.
func DefaultRules() []Rule {
	return []Rule{
		{Patterns: []string{"speed", "rate", "velocity"},
			Source: "energyFast", Mode: ModeMultiply,
			Multiplier: 0.8, Smoothing: 0.25},
		{Patterns: []string{"scale", "zoom", "size", "freq", "wave", "radius",
			"width", "thick", "stroke", "line"},
			Source: "bass", Mode: ModeAdd,
			Multiplier: 0.5, Smoothing: 0.2},
		{Patterns: []string{"intensity", "brightness", "amount", "strength",
			"power", "iter", "step", "detail", "octave", "glow", "bloom",
			"bright", "lumi", "emit", "contrast", "gamma", "curve"},
			Source: "level", Mode: ModeMultiply,
			Multiplier: 0.7, Smoothing: 0.15},
		{Patterns: []string{"distort", "warp", "noise", "glitch", "chaos",
			"pulse", "beat", "kick", "hit", "impact"},
			Source: "kickEnv", Mode: ModeAdd,
			Multiplier: 0.6, Smoothing: 0.1},
		{Patterns: []string{"rotat", "angle", "spin", "turb", "complex",
			"density", "rough"},
			Source: "mid", Mode: ModeAdd,
			Multiplier: 0.4, Smoothing: 0.3},
		{Patterns: []string{"offset", "shift", "displace", "seed", "rnd",
			"random", "jitter"},
			Source: "highs", Mode: ModeAdd,
			Multiplier: 0.3, Smoothing: 0.1},
		{Patterns: []string{"blend", "mix", "fade", "alpha", "opacity",
			"morph", "transform", "evolve", "mutate"},
			Source: "energySlow", Mode: ModeMultiply,
			Multiplier: 0.5, Smoothing: 0.5},
	}
}

// LoadRules reads a YAML rule file that replaces the built-in table
// wholesale. The file is a list of rules in evaluation order.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapNotFound(err, "binding", "LoadRules", "read rule file")
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, errors.WrapInvalid(err, "binding", "LoadRules", "parse rule file")
	}
	if len(rules) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"binding", "LoadRules", "rule file validation")
	}
	for i, r := range rules {
		if len(r.Patterns) == 0 || r.Source == "" || r.Mode == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidData,
				"binding", "LoadRules", "rule entry validation")
		}
		if rules[i].Multiplier == 0 {
			rules[i].Multiplier = DefaultMultiplier
		}
	}
	return rules, nil
}

// AutoBind derives bindings for scalar inputs that match a rule. The base
// value and clamp range come from the declaration so the binding modulates
// around the author's intent instead of flattening it.
func AutoBind(inputs []shader.InputDeclaration, rules []Rule) []Binding {
	var out []Binding
	for _, in := range inputs {
		if in.Kind != shader.KindScalar {
			continue
		}
		name := strings.ToLower(in.Name)
		if isStructural(name) {
			continue
		}
		rule, ok := matchRule(name, rules)
		if !ok {
			continue
		}

		b := Binding{
			Uniform:    in.Name,
			Source:     rule.Source,
			Mode:       rule.Mode,
			Multiplier: rule.Multiplier,
			Smoothing:  rule.Smoothing,
			Base:       in.Default.Float(),
			Min:        DefaultMin,
			Max:        DefaultMax,
		}
		if in.HasMin {
			b.Min = in.Min
		}
		if in.HasMax {
			b.Max = in.Max
		}
		out = append(out, b)
	}
	return out
}

func isStructural(name string) bool {
	for _, s := range structuralNames {
		if name == s {
			return true
		}
	}
	return false
}

func matchRule(name string, rules []Rule) (Rule, bool) {
	for _, rule := range rules {
		for _, p := range rule.Patterns {
			if strings.Contains(name, p) {
				return rule, true
			}
		}
	}
	return Rule{}, false
}
