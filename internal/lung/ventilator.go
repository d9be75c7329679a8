package lung

import (
	"fmt"
	"math"
)

// Mode identifies the ventilation mode. The wire names are kept in
// Spanish to match the request schema.
type Mode string

const (
	ModePCV         Mode = "PCV"
	ModeVCV         Mode = "VCV"
	ModeSpontaneous Mode = "ESPONTANEO"
)

// ValidMode reports whether m names a known ventilation mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModePCV, ModeVCV, ModeSpontaneous:
		return true
	}
	return false
}

// Ventilator holds the ventilation settings and generates the pressure
// and flow waveforms for the machine-driven modes. A Ventilator is
// owned by a single simulation run; the spontaneous closed loop mutates
// its rate, so instances are never shared across requests.
type Ventilator struct {
	Modo     Mode
	PEEP     float64 // applied end-expiratory pressure (cmH2O)
	PDriving float64 // driving pressure above PEEP in PCV (cmH2O)
	FR       float64 // respiratory rate (breaths/min)
	Ti       float64 // inspiratory time (s)
	Vt       float64 // set tidal volume for VCV (L), 0 when unset
	FiO2     float64 // inspired oxygen fraction

	TTotal   float64 // cycle duration 60/FR (s)
	FlowInsp float64 // VCV inspiratory flow Vt/Ti (L/s), 0 otherwise

	hasVt bool
}

// NewVentilator validates the settings and derives the cycle duration
// and, for VCV, the inspiratory flow. vt is nil when the caller did not
// set a tidal volume; VCV requires it.
func NewVentilator(mode Mode, peep, pDriving, fr, ti float64, vt *float64, fio2 float64) (*Ventilator, error) {
	if !ValidMode(mode) {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrParam, mode)
	}
	if peep < 0 {
		return nil, fmt.Errorf("%w: PEEP must be >= 0, got %g", ErrParam, peep)
	}
	if pDriving < 0 {
		return nil, fmt.Errorf("%w: P_driving must be >= 0, got %g", ErrParam, pDriving)
	}
	if fr <= 0 {
		return nil, fmt.Errorf("%w: fr must be > 0, got %g", ErrParam, fr)
	}
	if ti <= 0 {
		return nil, fmt.Errorf("%w: Ti must be > 0, got %g", ErrParam, ti)
	}
	if fio2 < 0.21 || fio2 > 1.0 {
		return nil, fmt.Errorf("%w: FiO2 must be in [0.21, 1.0], got %g", ErrParam, fio2)
	}

	v := &Ventilator{
		Modo:     mode,
		PEEP:     peep,
		PDriving: pDriving,
		FR:       fr,
		Ti:       ti,
		FiO2:     fio2,
		TTotal:   60.0 / fr,
	}
	if vt != nil {
		if *vt <= 0 {
			return nil, fmt.Errorf("%w: Vt must be > 0, got %g", ErrParam, *vt)
		}
		v.Vt = *vt
		v.hasVt = true
	}
	if mode == ModeVCV {
		if !v.hasVt {
			return nil, fmt.Errorf("%w: Vt is required in VCV mode", ErrParam)
		}
		v.FlowInsp = v.Vt / ti
	}
	return v, nil
}

// HasVt reports whether a tidal volume was set.
func (v *Ventilator) HasVt() bool { return v.hasVt }

// SetRate updates the respiratory rate and the derived cycle duration.
// Used by the spontaneous closed loop, which re-tunes the rate from the
// controller output every cycle.
func (v *Ventilator) SetRate(fr float64) {
	v.FR = fr
	if fr > 0 {
		v.TTotal = 60.0 / fr
	} else {
		v.TTotal = math.Inf(1)
	}
}

// Clone returns a copy that the closed loop can mutate without touching
// the caller's instance.
func (v *Ventilator) Clone() *Ventilator {
	c := *v
	return &c
}

// inInspiration reports whether t falls in the inspiratory phase of the
// running cycle.
func (v *Ventilator) inInspiration(t float64) bool {
	return math.Mod(t, v.TTotal) < v.Ti
}

// Pressure returns the airway pressure waveform at time t. In PCV this
// is the square wave between PEEP+PDriving and PEEP. In VCV the machine
// sets flow, not pressure, so the waveform is flat at PEEP; the actual
// airway pressure during VCV inspiration is derived inside the
// simulator from the flow drive.
func (v *Ventilator) Pressure(t float64) float64 {
	if v.Modo == ModePCV && v.inInspiration(t) {
		return v.PEEP + v.PDriving
	}
	return v.PEEP
}

// Flow returns the delivered flow waveform at time t: Vt/Ti during VCV
// inspiration, zero everywhere else.
func (v *Ventilator) Flow(t float64) float64 {
	if v.Modo == ModeVCV && v.inInspiration(t) {
		return v.FlowInsp
	}
	return 0
}
