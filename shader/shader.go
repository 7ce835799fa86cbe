// Package shader provides the shader registry, the declarative header
// parser, and the source-to-source transpiler that turns both shader
// dialects into compilable text with injected uniforms.
package shader

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Dialect identifies the authoring format of a shader file.
type Dialect int

const (
	// DialectISF is the declarative dialect: a JSON header with typed,
	// defaulted inputs followed by the fragment body.
	DialectISF Dialect = iota
	// DialectGLSL is the raw dialect: plain fragment source that may
	// pre-declare some standard uniforms.
	DialectGLSL
)

// String returns the dialect tag used in shader names and logs.
func (d Dialect) String() string {
	switch d {
	case DialectISF:
		return "isf"
	case DialectGLSL:
		return "glsl"
	default:
		return "unknown"
	}
}

// knownExtensions maps file extensions to dialects.
var knownExtensions = map[string]Dialect{
	".fs":   DialectISF,
	".isf":  DialectISF,
	".glsl": DialectGLSL,
	".frag": DialectGLSL,
}

// Descriptor identifies one shader file on disk. Descriptors are created at
// registry scan time and wholesale-replaced on reload; they are never
// mutated in place.
type Descriptor struct {
	Name    string  // dialect-prefixed, e.g. "isf/Plasma"
	Path    string  // absolute file path
	Dialect Dialect // authoring format
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Path)
}

// descriptorName builds the canonical dialect-prefixed name for a file.
func descriptorName(dialect Dialect, path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return dialect.String() + "/" + stem
}

// normalizeName lowercases a lookup name, strips known extensions and an
// optional dialect-prefix segment, so "ISF/Plasma.fs", "plasma" and
// "Plasma.fs" all address the same shader.
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "\\", "/")
	for ext := range knownExtensions {
		n = strings.TrimSuffix(n, ext)
	}
	for _, prefix := range []string{"isf/", "glsl/"} {
		if strings.HasPrefix(n, prefix) {
			n = strings.TrimPrefix(n, prefix)
			break
		}
	}
	return n
}
