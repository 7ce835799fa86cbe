package shader

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// InputDeclaration is one parameter exposed by a shader header. It becomes a
// uniform in the compiled source plus a default value the engine applies when
// nothing else binds the name.
type InputDeclaration struct {
	Name    string
	Kind    ValueKind
	Default Value
	Min     float64
	Max     float64
	HasMin  bool
	HasMax  bool
}

// Header is the parsed metadata block of an ISF shader.
type Header struct {
	Description string
	Categories  []string
	Inputs      []InputDeclaration
}

// rawInput mirrors the JSON shape of one INPUTS entry. Fields the engine
// does not use (LABEL, VALUES, passes) are ignored by the decoder.
type rawInput struct {
	Name    string          `json:"NAME"`
	Type    string          `json:"TYPE"`
	Default json.RawMessage `json:"DEFAULT"`
	Min     json.RawMessage `json:"MIN"`
	Max     json.RawMessage `json:"MAX"`
}

type rawHeader struct {
	Description string          `json:"DESCRIPTION"`
	Categories  []string        `json:"CATEGORIES"`
	Inputs      json.RawMessage `json:"INPUTS"`
}

// ParseHeader extracts the leading /*{ ... }*/ JSON block from ISF source and
// decodes its INPUTS array. A source with no header block yields an empty
// Header and nil error: headerless ISF is legal. Malformed individual entries
// are skipped with a warning rather than failing the whole parse, so one bad
// input never blocks a shader from loading.
func ParseHeader(src string, logger *slog.Logger) (*Header, error) {
	if logger == nil {
		logger = slog.Default()
	}
	block, ok := extractHeaderBlock(src)
	if !ok {
		return &Header{}, nil
	}

	var raw rawHeader
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		logger.Warn("shader header is not valid JSON, treating as headerless",
			"error", err)
		return &Header{}, nil
	}

	header := &Header{
		Description: raw.Description,
		Categories:  raw.Categories,
	}
	if len(raw.Inputs) == 0 {
		return header, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw.Inputs, &entries); err != nil {
		logger.Warn("shader header INPUTS is not an array, ignoring",
			"error", err)
		return header, nil
	}

	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		var in rawInput
		if err := json.Unmarshal(entry, &in); err != nil {
			logger.Warn("skipping malformed shader input entry",
				"index", i, "error", err)
			continue
		}
		if in.Name == "" {
			logger.Warn("skipping shader input with empty NAME", "index", i)
			continue
		}
		if _, dup := seen[in.Name]; dup {
			logger.Warn("skipping duplicate shader input", "name", in.Name)
			continue
		}

		kind, ok := inputKind(in.Type)
		if !ok {
			logger.Warn("skipping shader input with unknown TYPE",
				"name", in.Name, "type", in.Type)
			continue
		}
		seen[in.Name] = struct{}{}

		decl := InputDeclaration{
			Name:    in.Name,
			Kind:    kind,
			Default: decodeDefault(kind, in.Default, in.Name, logger),
		}
		if kind == KindScalar {
			if v, ok := decodeNumber(in.Min); ok {
				decl.Min, decl.HasMin = v, true
			}
			if v, ok := decodeNumber(in.Max); ok {
				decl.Max, decl.HasMax = v, true
			}
		}
		header.Inputs = append(header.Inputs, decl)
	}
	return header, nil
}

// extractHeaderBlock returns the JSON text between the first /*{ and the
// matching }*/ near the top of the source.
func extractHeaderBlock(src string) (string, bool) {
	start := strings.Index(src, "/*")
	if start < 0 {
		return "", false
	}
	rest := src[start+2:]
	trimmed := strings.TrimLeft(rest, " \t\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	end := strings.Index(rest, "*/")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// inputKind maps an ISF TYPE string to a uniform value kind.
func inputKind(t string) (ValueKind, bool) {
	switch strings.ToLower(t) {
	case "float", "long":
		return KindScalar, true
	case "bool", "event":
		return KindBool, true
	case "point2d":
		return KindVec2, true
	case "point3d":
		return KindVec3, true
	case "color":
		return KindColor, true
	case "image", "audio", "audiofft":
		return KindTexture, true
	default:
		return 0, false
	}
}

// decodeDefault parses the DEFAULT field for a given kind, falling back to
// the neutral default when the field is absent or malformed. Neutral means
// the shader renders something visible: scalars 1.0, colors opaque white.
func decodeDefault(kind ValueKind, raw json.RawMessage, name string, logger *slog.Logger) Value {
	neutral := neutralDefault(kind)
	if len(raw) == 0 {
		return neutral
	}
	switch kind {
	case KindScalar:
		if v, ok := decodeNumber(raw); ok {
			return Scalar(v)
		}
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return Bool(b)
		}
		// Some headers write booleans as 0/1.
		if v, ok := decodeNumber(raw); ok {
			return Bool(v != 0)
		}
	case KindVec2:
		if vs, ok := decodeVector(raw, 2); ok {
			return Vec2(vs[0], vs[1])
		}
	case KindVec3:
		if vs, ok := decodeVector(raw, 3); ok {
			return Vec3(vs[0], vs[1], vs[2])
		}
	case KindColor:
		if vs, ok := decodeVector(raw, 4); ok {
			return Color(vs[0], vs[1], vs[2], vs[3])
		}
	case KindTexture:
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return Texture(s)
		}
	}
	logger.Warn("shader input DEFAULT does not match its TYPE, using neutral default",
		"name", name)
	return neutral
}

// neutralDefault returns the value applied when a declaration carries no
// usable DEFAULT.
func neutralDefault(kind ValueKind) Value {
	switch kind {
	case KindScalar:
		return Scalar(1.0)
	case KindBool:
		return Bool(false)
	case KindVec2:
		return Vec2(0, 0)
	case KindVec3:
		return Vec3(0, 0, 0)
	case KindColor:
		return Color(1, 1, 1, 1)
	case KindTexture:
		return Texture("")
	default:
		return Scalar(1.0)
	}
}

func decodeNumber(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func decodeVector(raw json.RawMessage, n int) ([]float64, bool) {
	var vs []float64
	if err := json.Unmarshal(raw, &vs); err != nil {
		return nil, false
	}
	if len(vs) < n {
		return nil, false
	}
	return vs, true
}
