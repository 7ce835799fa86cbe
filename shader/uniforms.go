package shader

// ValueKind discriminates the concrete type carried by a Value.
type ValueKind int

const (
	// KindScalar is a single float uniform.
	KindScalar ValueKind = iota
	// KindBool is a boolean toggle uniform.
	KindBool
	// KindVec2 is a 2D point uniform.
	KindVec2
	// KindVec3 is a 3D point uniform.
	KindVec3
	// KindColor is an RGBA color-quad uniform.
	KindColor
	// KindTexture is a texture reference uniform.
	KindTexture
)

// String returns the GLSL type for the kind.
func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "float"
	case KindBool:
		return "bool"
	case KindVec2:
		return "vec2"
	case KindVec3:
		return "vec3"
	case KindColor:
		return "vec4"
	case KindTexture:
		return "sampler2D"
	default:
		return "float"
	}
}

// Value is a concrete uniform value. The engine resolves one Value per
// uniform per tick and hands it to the renderer backend.
type Value struct {
	Kind    ValueKind
	Vec     [4]float64 // scalar in Vec[0]; color is RGBA
	On      bool
	Texture string
}

// Scalar creates a float value.
func Scalar(v float64) Value {
	return Value{Kind: KindScalar, Vec: [4]float64{v}}
}

// Bool creates a boolean value.
func Bool(v bool) Value {
	return Value{Kind: KindBool, On: v}
}

// Vec2 creates a 2D point value.
func Vec2(x, y float64) Value {
	return Value{Kind: KindVec2, Vec: [4]float64{x, y}}
}

// Vec3 creates a 3D point value.
func Vec3(x, y, z float64) Value {
	return Value{Kind: KindVec3, Vec: [4]float64{x, y, z}}
}

// Color creates an RGBA color value.
func Color(r, g, b, a float64) Value {
	return Value{Kind: KindColor, Vec: [4]float64{r, g, b, a}}
}

// Texture creates a texture reference value.
func Texture(name string) Value {
	return Value{Kind: KindTexture, Texture: name}
}

// Float returns the scalar component (Vec[0]).
func (v Value) Float() float64 {
	return v.Vec[0]
}

// UniformClass records which transpile stage emitted a uniform. Resolution
// precedence at tick time follows the class: reserved > audio-bound >
// declared default.
type UniformClass int

const (
	// ClassReserved marks engine-reserved standard uniforms.
	ClassReserved UniformClass = iota
	// ClassInput marks uniforms declared by the shader header.
	ClassInput
	// ClassAudio marks the fixed audio-feature uniform set.
	ClassAudio
)

// UniformSet is the union of uniform names emitted for one compiled shader.
// Each name appears exactly once: a later source never re-declares a name
// already emitted.
type UniformSet struct {
	order []string
	kinds map[string]ValueKind
	class map[string]UniformClass
}

// NewUniformSet creates an empty uniform set.
func NewUniformSet() *UniformSet {
	return &UniformSet{
		kinds: make(map[string]ValueKind),
		class: make(map[string]UniformClass),
	}
}

// Add records a uniform. Returns false when the name was already present;
// the original entry is kept untouched.
func (s *UniformSet) Add(name string, kind ValueKind, class UniformClass) bool {
	if _, exists := s.kinds[name]; exists {
		return false
	}
	s.order = append(s.order, name)
	s.kinds[name] = kind
	s.class[name] = class
	return true
}

// Has reports whether a uniform name is present.
func (s *UniformSet) Has(name string) bool {
	_, ok := s.kinds[name]
	return ok
}

// Kind returns the value kind of a uniform name.
func (s *UniformSet) Kind(name string) (ValueKind, bool) {
	k, ok := s.kinds[name]
	return k, ok
}

// Class returns the emitting class of a uniform name.
func (s *UniformSet) Class(name string) (UniformClass, bool) {
	c, ok := s.class[name]
	return c, ok
}

// Names returns all uniform names in emission order.
func (s *UniformSet) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of uniforms in the set.
func (s *UniformSet) Len() int {
	return len(s.order)
}
