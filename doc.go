// Package vjuniverse is a real-time audio-reactive shader engine: it ingests
// audio analysis and control traffic over OSC, derives a compact set of
// musical features, and drives GLSL fragment shaders whose uniforms follow
// the music.
//
// # Architecture
//
// The engine is a single tick loop fed by lifecycle components:
//
//	┌─────────────────────────────────────┐
//	│         input/oscudp                │  OSC datagrams → ring buffer
//	└─────────────────────────────────────┘
//	           ↓ drained once per tick
//	┌─────────────────────────────────────┐
//	│         engine.Session              │  dispatch → audio features →
//	│  (audio, binding, shader packages)  │  bindings → uniform application
//	└─────────────────────────────────────┘
//	           ↓ publishes
//	┌─────────────────────────────────────┐
//	│  output/natsbridge, output/statusws │  bus events, status WebSocket
//	└─────────────────────────────────────┘
//
// Packages:
//
//   - osc: wire codec for OSC messages and bundles
//   - audio: feature extraction (bands, kick, beat, tempo) and the speed
//     controller
//   - shader: library registry, ISF/GLSL transpiler, preview captures
//   - binding: audio→uniform bindings, auto-bind rules, profile sidecars
//   - engine: the per-tick session and the Renderer contract
//   - component, metric, health, errors: lifecycle and observability plumbing
//
// The shipped cmd/vjuniverse binary runs headless on the no-op renderer; a
// render host links the engine package and supplies its own Renderer.
package vjuniverse
