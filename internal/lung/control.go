package lung

import (
	"errors"
	"math"
)

// Controller gains and clamps. The integral clamp prevents wind-up when
// the CO2 error stays one-sided for many cycles.
const (
	defaultPaCO2Target = 40.0 // mmHg
	defaultBaseFreq    = 12.0 // breaths/min

	// DefaultFreqGain is the frequency gain accepted at the API
	// boundary, in (breaths/min)/mmHg.
	DefaultFreqGain = 0.1

	maxAmplitude = 25.0 // cmH2O
	minFreqHz    = 0.1
	integralMin  = -50.0
	integralMax  = 50.0
)

// ErrNotPrimed is returned when a muscular pressure is requested before
// the first Update call.
var ErrNotPrimed = errors.New("respiratory controller not primed: call Update first")

// Controller is the PI respiratory drive model for spontaneous
// breathing. It turns the error between the current PaCO2 and its
// target into the amplitude and frequency of the muscular pressure
// waveform.
//
//	A = clamp(Gp·e + Gi·∫e dt, 0, 25)
//	f = max(0.1, fBase/60 + Gf·e)
type Controller struct {
	target float64 // PaCO2 reference (mmHg)
	fBase  float64 // baseline rate (breaths/min)
	gp     float64 // amplitude gain (cmH2O/mmHg)
	gi     float64 // integral gain (cmH2O/(mmHg·s))
	gf     float64 // frequency gain, stored in Hz/mmHg

	integral  float64
	amplitude float64
	freqHz    float64
	primed    bool
}

// NewController builds a PI controller with the given proportional and
// integral amplitude gains. freqGainPerMin is the frequency gain in
// (breaths/min)/mmHg as configured at the API boundary; it is stored
// divided by 60, in Hz/mmHg.
func NewController(gp, gi, freqGainPerMin float64) *Controller {
	return &Controller{
		target: defaultPaCO2Target,
		fBase:  defaultBaseFreq,
		gp:     gp,
		gi:     gi,
		gf:     freqGainPerMin / 60.0,
	}
}

// Update advances the controller with the PaCO2 observed over the last
// dt seconds and returns the new muscular pressure amplitude (cmH2O)
// and breathing frequency (Hz).
func (c *Controller) Update(paco2, dt float64) (amplitude, freqHz float64) {
	err := paco2 - c.target

	c.integral += err * dt
	c.integral = math.Min(math.Max(c.integral, integralMin), integralMax)

	raw := c.gp*err + c.gi*c.integral
	c.amplitude = math.Min(math.Max(raw, 0), maxAmplitude)

	c.freqHz = math.Max(minFreqHz, c.fBase/60.0+c.gf*err)
	c.primed = true
	return c.amplitude, c.freqHz
}

// Primed reports whether Update has run at least once.
func (c *Controller) Primed() bool { return c.primed }

// Pmus returns the muscular pressure at time t: a half-wave rectified
// negative sinusoid, negative during the inspiratory half-cycle and
// exactly zero during passive exhalation. The controller must have been
// primed with Update; the spontaneous runner guarantees this before the
// integrator ever evaluates the waveform.
func (c *Controller) Pmus(t float64) float64 {
	return -c.amplitude * math.Max(0, math.Sin(2*math.Pi*c.freqHz*t))
}

// GeneratePmus samples the muscular pressure waveform at the given
// times. It fails if the controller has not been primed with Update.
func (c *Controller) GeneratePmus(ts []float64) ([]float64, error) {
	if !c.primed {
		return nil, ErrNotPrimed
	}
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = c.Pmus(t)
	}
	return out, nil
}
