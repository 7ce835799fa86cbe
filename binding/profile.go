package binding

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/abossard/vjuniverse/errors"
)

// profileSchema validates the analysis sidecar before anything is applied.
// Extra fields (visual features, match scores) are allowed and ignored; only
// the binding list must be well-formed.
const profileSchema = `{
	"type": "object",
	"properties": {
		"audioMapping": {
			"type": "object",
			"properties": {
				"bindings": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["uniform", "source"],
						"properties": {
							"uniform":    {"type": "string", "minLength": 1},
							"source":     {"type": "string", "minLength": 1},
							"modulation": {"type": "string"},
							"multiplier": {"type": "number"},
							"smoothing":  {"type": "number", "minimum": 0, "maximum": 1},
							"baseValue":  {"type": "number"},
							"minValue":   {"type": "number"},
							"maxValue":   {"type": "number"}
						}
					}
				}
			}
		}
	}
}`

type profileBinding struct {
	Uniform    string   `json:"uniform"`
	Source     string   `json:"source"`
	Modulation string   `json:"modulation"`
	Multiplier *float64 `json:"multiplier"`
	Smoothing  *float64 `json:"smoothing"`
	BaseValue  *float64 `json:"baseValue"`
	MinValue   *float64 `json:"minValue"`
	MaxValue   *float64 `json:"maxValue"`
}

type profileDoc struct {
	AudioMapping struct {
		Bindings []profileBinding `json:"bindings"`
	} `json:"audioMapping"`
}

// LoadProfile reads the `<shader>.analysis.json` sidecar for a shader file
// and returns its curated bindings. A missing sidecar returns (nil, nil):
// most shaders have none and auto-bind takes over. An invalid sidecar
// returns an invalid-class error; callers log it and fall back the same way.
func LoadProfile(shaderPath string, logger *slog.Logger) ([]Binding, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := profilePath(shaderPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "binding", "LoadProfile", "read sidecar")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(profileSchema),
		gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.WrapInvalid(err, "binding", "LoadProfile", "schema validation")
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			logger.Warn("analysis sidecar rejected", "path", path, "error", desc.String())
		}
		return nil, errors.WrapInvalid(errors.ErrInvalidData,
			"binding", "LoadProfile", "schema validation")
	}

	var doc profileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(err, "binding", "LoadProfile", "decode sidecar")
	}

	out := make([]Binding, 0, len(doc.AudioMapping.Bindings))
	for _, pb := range doc.AudioMapping.Bindings {
		b := Binding{
			Uniform:    pb.Uniform,
			Source:     pb.Source,
			Mode:       Mode(pb.Modulation),
			Multiplier: DefaultMultiplier,
			Smoothing:  DefaultSmoothing,
			Base:       DefaultBase,
			Min:        DefaultMin,
			Max:        DefaultMax,
		}
		if pb.Modulation == "" {
			b.Mode = ModeMultiply
		}
		if pb.Multiplier != nil {
			b.Multiplier = *pb.Multiplier
		}
		if pb.Smoothing != nil {
			b.Smoothing = *pb.Smoothing
		}
		if pb.BaseValue != nil {
			b.Base = *pb.BaseValue
		}
		if pb.MinValue != nil {
			b.Min = *pb.MinValue
		}
		if pb.MaxValue != nil {
			b.Max = *pb.MaxValue
		}
		out = append(out, b)
	}
	return out, nil
}

// profilePath maps a shader file path to its sidecar path, replacing the
// shader extension with ".analysis.json".
func profilePath(shaderPath string) string {
	if idx := strings.LastIndex(shaderPath, "."); idx > strings.LastIndex(shaderPath, "/") {
		return shaderPath[:idx] + ".analysis.json"
	}
	return shaderPath + ".analysis.json"
}
