// Package audio turns raw analyzer messages into one smoothed feature frame
// per render tick, and derives the global playback speed from it.
package audio

// BandCount is the number of band energies the frame publishes.
const BandCount = 5

// Frame is one snapshot of all smoothed audio quantities. The extractor
// mutates a single Frame in place every tick; callers must copy if they need
// to retain one.
type Frame struct {
	// Band energies, 0..1-ish. Bass folds in the sub-bass band and Air folds
	// in the analyzer's presence band so five values cover the full range.
	Bass   float64
	LowMid float64
	Mid    float64
	Highs  float64
	Air    float64

	// Level is the smoothed overall RMS.
	Level float64

	// Presence tracks long-horizon activity per band, in the same order as
	// the band fields above.
	Presence [BandCount]float64

	// KickEnv is the smoothed onset envelope; KickPulse is true only on the
	// tick a qualifying hit fired.
	KickEnv   float64
	KickPulse bool

	// BeatPhase snaps to 1.0 on an on-beat edge and decays between beats.
	// Beat4 is the bar-stable beat counter, 0..3.
	BeatPhase float64
	Beat4     int

	// EnergyFast and EnergySlow are two envelopes over Level with different
	// horizons; their divergence indicates builds and drops.
	EnergyFast float64
	EnergySlow float64

	TempoPhase      float64
	TempoConfidence float64
	BPM             float64
}

// PresenceAvg returns the mean per-band presence.
func (f *Frame) PresenceAvg() float64 {
	var sum float64
	for _, p := range f.Presence {
		sum += p
	}
	return sum / BandCount
}

// KickPulseValue returns the pulse as a 0/1 float for uniform upload.
func (f *Frame) KickPulseValue() float64 {
	if f.KickPulse {
		return 1
	}
	return 0
}
