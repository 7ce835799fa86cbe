package audio

import (
	"log/slog"
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/abossard/vjuniverse/osc"
)

// Analyzer message addresses.
const (
	AddrLevels    = "/audio/levels"
	AddrBeat      = "/audio/beat"
	AddrOnBeat    = "/audio/beat/onbeat"
	AddrBPM       = "/audio/bpm"
	AddrBeatTime  = "/audio/beattime"
	AddrStructure = "/audio/structure"
)

// Smoothing factors per channel class. Higher means slower: each tick moves
// the smoothed value by (1-factor) of the remaining distance to the raw one.
const (
	FactorBands    = 0.80
	FactorFast     = 0.60
	FactorSlow     = 0.92
	FactorPresence = 0.92
	FactorKick     = 0.55
	FactorTempo    = 0.85
)

const (
	// DefaultOnsetThreshold is the raw onset level a hit must exceed to fire
	// a kick pulse. Remote-adjustable at runtime.
	DefaultOnsetThreshold = 0.5

	// kickCooldown is the minimum gap between kick pulses. Real kick
	// patterns do not repeat faster than this; anything quicker is flutter.
	kickCooldown = 0.140

	// onBeatThreshold is the level an on-beat flag must cross to count as a
	// rising edge.
	onBeatThreshold = 0.5

	// beatPhaseHalfLife is the decay half-life of the beat phase, seconds.
	beatPhaseHalfLife = 0.15

	// StaleAfter is how long without any analyzer message before the frame
	// starts decaying toward silence.
	StaleAfter = 1.5

	// StaleDecay is the per-tick multiplier applied to every smoothed value
	// while the feed is stale.
	StaleDecay = 0.95
)

// rawState is the last-value-wins table the analyzer messages write into.
// Ticks read it; it is never smoothed itself.
type rawState struct {
	bands     [7]float64
	rms       float64
	onset     float64
	flux      float64
	onBeat    float64
	bpm       float64
	bpmConf   float64
	beatTime  float64
	structure [4]float64
}

// Structure is the coarse musical-structure estimate from the analyzer.
type Structure struct {
	Buildup    float64
	Drop       float64
	Trend      float64
	Brightness float64
}

// Extractor ingests analyzer messages between ticks and recomputes the
// feature frame once per tick. It is not safe for concurrent use; the engine
// drives it from the single tick goroutine.
type Extractor struct {
	logger *slog.Logger

	raw   rawState
	frame Frame

	onsetThreshold float64
	cooldownLeft   float64
	prevOnBeat     float64

	sinceMessage float64
	everIngested bool
}

// NewExtractor creates an extractor. A nil logger falls back to the default.
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger:         logger.With("component", "audio-extractor"),
		onsetThreshold: DefaultOnsetThreshold,
	}
}

// SetOnsetThreshold adjusts the kick-pulse threshold, clamped to [0, 1].
func (e *Extractor) SetOnsetThreshold(v float64) {
	e.onsetThreshold = core.Clamp(v, 0, 1)
}

// OnsetThreshold returns the current kick-pulse threshold.
func (e *Extractor) OnsetThreshold() float64 {
	return e.onsetThreshold
}

// Ingest routes one analyzer message into the raw table. Returns false for
// addresses the extractor does not own. Between two ticks the last value per
// address wins.
func (e *Extractor) Ingest(msg *osc.Message) bool {
	switch msg.Address {
	case AddrLevels:
		vals := msg.Floats()
		for i := 0; i < len(e.raw.bands) && i < len(vals); i++ {
			e.raw.bands[i] = vals[i]
		}
		if len(vals) > len(e.raw.bands) {
			e.raw.rms = vals[len(e.raw.bands)]
		}
	case AddrBeat:
		if v, ok := msg.FloatOK(0); ok {
			e.raw.onset = v
		}
		if v, ok := msg.FloatOK(1); ok {
			e.raw.flux = v
		}
	case AddrOnBeat:
		if v, ok := msg.FloatOK(0); ok {
			e.raw.onBeat = v
		}
	case AddrBPM:
		if v, ok := msg.FloatOK(0); ok {
			e.raw.bpm = v
		}
		if v, ok := msg.FloatOK(1); ok {
			e.raw.bpmConf = v
		}
	case AddrBeatTime:
		if v, ok := msg.FloatOK(0); ok {
			e.raw.beatTime = v
		}
	case AddrStructure:
		vals := msg.Floats()
		for i := 0; i < len(e.raw.structure) && i < len(vals); i++ {
			e.raw.structure[i] = vals[i]
		}
	default:
		return false
	}
	e.sinceMessage = 0
	e.everIngested = true
	return true
}

// Tick advances the frame by dt seconds. While the feed is live every channel
// smooths toward its raw value; once it goes stale everything decays
// multiplicatively toward zero instead, so a dead analyzer fades the visuals
// out rather than freezing them.
func (e *Extractor) Tick(dt float64) {
	if dt <= 0 {
		return
	}
	e.sinceMessage += dt
	e.cooldownLeft = math.Max(0, e.cooldownLeft-dt)
	e.frame.KickPulse = false

	if e.everIngested && e.sinceMessage > StaleAfter {
		e.decay()
		return
	}

	f := &e.frame
	f.Bass = smooth(f.Bass, math.Max(e.raw.bands[0], e.raw.bands[1]), FactorBands)
	f.LowMid = smooth(f.LowMid, e.raw.bands[2], FactorBands)
	f.Mid = smooth(f.Mid, e.raw.bands[3], FactorBands)
	f.Highs = smooth(f.Highs, e.raw.bands[4], FactorBands)
	f.Air = smooth(f.Air, math.Max(e.raw.bands[5], e.raw.bands[6]), FactorBands)
	f.Level = smooth(f.Level, e.raw.rms, FactorBands)

	bands := [BandCount]float64{f.Bass, f.LowMid, f.Mid, f.Highs, f.Air}
	for i, b := range bands {
		f.Presence[i] = smooth(f.Presence[i], b, FactorPresence)
	}

	f.EnergyFast = smooth(f.EnergyFast, e.raw.rms, FactorFast)
	f.EnergySlow = smooth(f.EnergySlow, e.raw.rms, FactorSlow)

	f.KickEnv = smooth(f.KickEnv, e.raw.onset, FactorKick)
	if e.raw.onset > e.onsetThreshold && e.cooldownLeft == 0 {
		f.KickPulse = true
		e.cooldownLeft = kickCooldown
	}

	if e.raw.onBeat > onBeatThreshold && e.prevOnBeat <= onBeatThreshold {
		f.BeatPhase = 1.0
	} else {
		f.BeatPhase *= math.Exp2(-dt / beatPhaseHalfLife)
	}
	e.prevOnBeat = e.raw.onBeat

	f.Beat4 = beat4(e.raw.beatTime)
	f.TempoPhase = e.raw.beatTime - math.Floor(e.raw.beatTime)
	f.BPM = smooth(f.BPM, e.raw.bpm, FactorTempo)
	f.TempoConfidence = smooth(f.TempoConfidence, e.raw.bpmConf, FactorTempo)
}

// decay fades every smoothed value. Raw values decay too so a later revival
// does not snap back to a minutes-old level.
func (e *Extractor) decay() {
	f := &e.frame
	f.Bass *= StaleDecay
	f.LowMid *= StaleDecay
	f.Mid *= StaleDecay
	f.Highs *= StaleDecay
	f.Air *= StaleDecay
	f.Level *= StaleDecay
	for i := range f.Presence {
		f.Presence[i] *= StaleDecay
	}
	f.EnergyFast *= StaleDecay
	f.EnergySlow *= StaleDecay
	f.KickEnv *= StaleDecay
	f.BeatPhase *= StaleDecay
	f.TempoConfidence *= StaleDecay

	for i := range e.raw.bands {
		e.raw.bands[i] *= StaleDecay
	}
	e.raw.rms *= StaleDecay
	e.raw.onset *= StaleDecay
	e.raw.flux *= StaleDecay
	e.raw.onBeat *= StaleDecay
}

// Frame returns the live frame. The pointer stays valid across ticks; the
// contents change every tick.
func (e *Extractor) Frame() *Frame {
	return &e.frame
}

// Structure returns the last raw structure estimate.
func (e *Extractor) Structure() Structure {
	return Structure{
		Buildup:    e.raw.structure[0],
		Drop:       e.raw.structure[1],
		Trend:      e.raw.structure[2],
		Brightness: e.raw.structure[3],
	}
}

// Stale reports whether the analyzer feed has gone quiet.
func (e *Extractor) Stale() bool {
	return e.everIngested && e.sinceMessage > StaleAfter
}

// SinceMessage returns seconds elapsed since the last ingested message.
func (e *Extractor) SinceMessage() float64 {
	return e.sinceMessage
}

// smooth moves s toward raw by (1-factor) of the remaining distance.
func smooth(s, raw, factor float64) float64 {
	return s + (raw-s)*(1-factor)
}

// beat4 maps a running beat count to a stable 0..3 counter. Rounding first
// and folding through mod 8 keeps the counter steady when beattime jitters
// around an integer boundary.
func beat4(beatTime float64) int {
	n := int(math.Round(beatTime))
	n = ((n % 8) + 8) % 8
	return n % 4
}
