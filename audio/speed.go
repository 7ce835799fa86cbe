package audio

import (
	"math"

	"github.com/cwbudde/algo-dsp/dsp/core"
)

// Global playback speed bounds. The floor keeps time-driven shaders visibly
// alive in silence; the ceiling keeps a loud club mix from strobing.
const (
	SpeedFloor = 0.02
	SpeedCeil  = 1.2
)

const (
	// riseRate and decayRate are the asymmetric ramp rates per second. The
	// ramp falls faster than it climbs so gaps in the music read instantly.
	riseRate  = 1.8
	decayRate = 3.5

	// boostGain scales the transient contribution of kicks and beats.
	boostGain = 0.35

	// boostHalfLife is the decay half-life of the transient boost, seconds.
	boostHalfLife = 0.20

	// idleSnap zeroes the ramp once it has decayed below audibility so the
	// output sits exactly on the floor during silence.
	idleSnap = 1e-3
)

// SpeedController derives the audioSpeed uniform from the feature frame.
// Style biases the energy mix: 0 favors sustained level and presence, 1
// favors the fast envelope, which makes percussive material punch harder.
type SpeedController struct {
	style float64
	ramp  float64
	boost float64
}

// NewSpeedController creates a controller with a centered style bias.
func NewSpeedController() *SpeedController {
	return &SpeedController{style: 0.5}
}

// SetStyle adjusts the song-style bias, clamped to [0, 1].
func (c *SpeedController) SetStyle(v float64) {
	c.style = core.Clamp(v, 0, 1)
}

// Style returns the current song-style bias.
func (c *SpeedController) Style() float64 {
	return c.style
}

// Tick advances the controller by dt seconds and returns the speed.
func (c *SpeedController) Tick(f *Frame, dt float64) float64 {
	if dt <= 0 {
		return c.Speed()
	}

	sustained := 0.6*f.Level + 0.4*f.PresenceAvg()
	percussive := 0.7*f.EnergyFast + 0.3*f.Level
	target := core.Clamp((1-c.style)*sustained+c.style*percussive, 0, 1)

	rate := riseRate
	if target < c.ramp {
		rate = decayRate
	}
	c.ramp += (target - c.ramp) * math.Min(1, rate*dt)
	if core.NearlyEqual(c.ramp, 0, idleSnap) {
		c.ramp = 0
	}

	c.boost *= math.Exp2(-dt / boostHalfLife)
	if transient := math.Max(f.KickEnv, f.BeatPhase) * boostGain; transient > c.boost {
		c.boost = transient
	}
	if core.NearlyEqual(c.boost, 0, idleSnap) {
		c.boost = 0
	}

	return c.Speed()
}

// Speed returns the current clamped speed without advancing time.
func (c *SpeedController) Speed() float64 {
	return core.Clamp(SpeedFloor+c.ramp+c.boost, SpeedFloor, SpeedCeil)
}
