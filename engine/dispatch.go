package engine

import (
	"context"
	"strings"
	"time"

	"github.com/abossard/vjuniverse/binding"
	"github.com/abossard/vjuniverse/osc"
)

// Control addresses handled by the session. Audio telemetry addresses live in
// the audio package; everything under /audio/ routes straight to the
// extractor.
const (
	AddrShaderLoad     = "/shader/load"
	AddrBindingSet     = "/shader/audio_binding"
	AddrBindingClear   = "/shader/audio_binding/clear"
	AddrSongStyle      = "/controls/songstyle"
	AddrOnsetThreshold = "/controls/onset_threshold"
	AddrDisplayPrefix  = "/controls/display/"
)

// dispatch routes one control message. Unknown addresses are counted and
// dropped; a noisy sender must not be able to fill the log.
func (s *Session) dispatch(ctx context.Context, msg *osc.Message, now time.Time) {
	switch {
	case strings.HasPrefix(msg.Address, "/audio/"):
		if s.extractor.Ingest(msg) {
			s.metrics.recordMessage("audio")
		} else {
			s.metrics.recordMessage("unknown")
		}

	case msg.Address == AddrShaderLoad:
		s.metrics.recordMessage("shader")
		name := msg.StringArg(0)
		if name == "" {
			s.logger.Warn("shader load request without a name")
			return
		}
		energy := msg.Float(1)
		valence := msg.Float(2)
		_ = s.activate(ctx, name, energy, valence, now)

	case msg.Address == AddrBindingClear:
		s.metrics.recordMessage("shader")
		s.table.Clear()
		s.logger.Info("audio bindings cleared")

	case msg.Address == AddrBindingSet:
		s.metrics.recordMessage("shader")
		s.handleBindingSet(msg)

	case msg.Address == AddrSongStyle:
		s.metrics.recordMessage("controls")
		s.speed.SetStyle(msg.Float(0))

	case msg.Address == AddrOnsetThreshold:
		s.metrics.recordMessage("controls")
		s.extractor.SetOnsetThreshold(msg.Float(0))

	case strings.HasPrefix(msg.Address, AddrDisplayPrefix):
		s.metrics.recordMessage("controls")
		toggle := strings.TrimPrefix(msg.Address, AddrDisplayPrefix)
		if toggle != "" {
			s.display[toggle] = msg.Bool(0)
		}

	default:
		s.metrics.recordMessage("unknown")
		s.logger.Debug("unhandled control address", "address", msg.Address)
	}
}

// handleBindingSet applies one remote binding. The wire format is positional:
// uniform, source, mode, multiplier, smoothing, base, min, max. Trailing
// arguments may be omitted and take the wire defaults.
func (s *Session) handleBindingSet(msg *osc.Message) {
	uniform := msg.StringArg(0)
	source := msg.StringArg(1)
	if uniform == "" || source == "" {
		s.logger.Warn("binding request missing uniform or source")
		return
	}

	b := binding.Binding{
		Uniform:    uniform,
		Source:     source,
		Mode:       binding.ModeAdd,
		Multiplier: binding.DefaultMultiplier,
		Smoothing:  binding.DefaultSmoothing,
		Base:       binding.DefaultBase,
		Min:        binding.DefaultMin,
		Max:        binding.DefaultMax,
	}
	if mode := msg.StringArg(2); mode != "" {
		b.Mode = binding.Mode(mode)
	}
	if len(msg.Args) > 3 {
		b.Multiplier = msg.Float(3)
	}
	if len(msg.Args) > 4 {
		b.Smoothing = msg.Float(4)
	}
	if len(msg.Args) > 5 {
		b.Base = msg.Float(5)
	}
	if len(msg.Args) > 6 {
		b.Min = msg.Float(6)
	}
	if len(msg.Args) > 7 {
		b.Max = msg.Float(7)
	}

	s.table.Set(b)
	s.logger.Info("audio binding set",
		"uniform", b.Uniform, "source", b.Source, "mode", string(b.Mode))
}
