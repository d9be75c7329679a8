package lung

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultSamplesPerCycle is the dense sampling of each machine
	// ventilation cycle.
	DefaultSamplesPerCycle = 200
	// DefaultSpontaneousIterations is the number of closed-loop cycles
	// simulated in spontaneous mode.
	DefaultSpontaneousIterations = 30
	// DefaultSpontaneousSamples is the per-cycle sampling of the
	// spontaneous closed loop.
	DefaultSpontaneousSamples = 100

	// rk4Substeps subdivides each sample interval so the stepper stays
	// well inside the compartment time constants at coarse grids.
	rk4Substeps = 4

	// Spontaneous CO2 heuristic: the PaCO2 estimate moves in fixed
	// steps against the achieved tidal volume and stays in a
	// physiological band.
	paco2Seed     = 55.0
	paco2Step     = 2.0
	paco2Min      = 30.0
	paco2Max      = 80.0
	tidalSetpoint = 0.4 // L
)

// ErrNonFinite is returned when the integrator state blows up.
var ErrNonFinite = errors.New("integration produced a non-finite state")

// Series is the raw integrator output: compartment volumes sampled over
// the concatenated respiratory cycles.
type Series struct {
	T  []float64 // s
	V1 []float64 // L
	V2 []float64 // L
}

// Mechanics is the post-processed simulation output. All slices share
// the length of the underlying Series.
type Mechanics struct {
	T     []float64 // s
	V1    []float64 // L
	V2    []float64 // L
	Vt    []float64 // total volume V1+V2 (L)
	Flow1 []float64 // dV1/dt (L/s)
	Flow2 []float64 // dV2/dt (L/s)
	Flow  []float64 // total flow (L/s)
	Paw   []float64 // airway pressure (cmH2O)

	AutoPEEP float64 // intrinsic PEEP observed at the airway (cmH2O)
	Modo     Mode
}

// Simulator integrates the two-compartment lung model
//
//	dVi/dt = (Paw(t) − Ei·Vi) / Ri
//
// against a mode-dependent airway pressure source: the ventilator
// square wave in PCV, the flow-to-pressure inversion in VCV, or the
// controller's muscular pressure in spontaneous mode. It owns a private
// clone of the ventilator because the spontaneous loop re-tunes the
// rate every cycle.
type Simulator struct {
	patient *Patient
	vent    *Ventilator
	ctrl    *Controller
}

// NewSimulator wires a patient and ventilator, plus the respiratory
// controller required by spontaneous mode.
func NewSimulator(p *Patient, v *Ventilator, ctrl *Controller) (*Simulator, error) {
	if v.Modo == ModeSpontaneous && ctrl == nil {
		return nil, fmt.Errorf("%w: spontaneous mode requires a respiratory controller", ErrParam)
	}
	return &Simulator{patient: p, vent: v.Clone(), ctrl: ctrl}, nil
}

// Vent exposes the simulator's working ventilator. After a spontaneous
// run its rate is the controller's final output, which is what the gas
// exchange stage must see.
func (s *Simulator) Vent() *Ventilator { return s.vent }

// airwayPressure dispatches on the mode tag to produce the pressure
// driving both compartments at time t. VCV inverts the flow drive into
// the pressure that delivers it with the current volumes:
//
//	Paw = (Q + E1·V1/R1 + E2·V2/R2) / (1/R1 + 1/R2)
func (s *Simulator) airwayPressure(t, v1, v2 float64) float64 {
	p := s.patient
	switch s.vent.Modo {
	case ModeSpontaneous:
		return s.ctrl.Pmus(t)
	case ModeVCV:
		if s.vent.inInspiration(t) {
			q := s.vent.FlowInsp
			return (q + p.E1*v1/p.R1 + p.E2*v2/p.R2) / (1/p.R1 + 1/p.R2)
		}
		return s.vent.PEEP
	default: // PCV
		return s.vent.Pressure(t)
	}
}

func (s *Simulator) derivs(t, v1, v2 float64) (dv1, dv2 float64) {
	p := s.patient
	paw := s.airwayPressure(t, v1, v2)
	return (paw - p.E1*v1) / p.R1, (paw - p.E2*v2) / p.R2
}

// step advances the state from t0 to t1 with fixed-step classical RK4.
// A fixed schedule keeps runs bit-for-bit reproducible.
func (s *Simulator) step(t0, t1, v1, v2 float64) (float64, float64) {
	h := (t1 - t0) / rk4Substeps
	t := t0
	for i := 0; i < rk4Substeps; i++ {
		k1a, k1b := s.derivs(t, v1, v2)
		k2a, k2b := s.derivs(t+h/2, v1+h/2*k1a, v2+h/2*k1b)
		k3a, k3b := s.derivs(t+h/2, v1+h/2*k2a, v2+h/2*k2b)
		k4a, k4b := s.derivs(t+h, v1+h*k3a, v2+h*k3b)
		v1 += h / 6 * (k1a + 2*k2a + 2*k3a + k4a)
		v2 += h / 6 * (k1b + 2*k2b + 2*k3b + k4b)
		t += h
	}
	return v1, v2
}

// linspace mirrors the evaluation grids of the reference integrator:
// n uniform points over [t0, t1], excluding t1 unless endpoint is set.
func linspace(t0, t1 float64, n int, endpoint bool) []float64 {
	ts := make([]float64, n)
	div := n
	if endpoint {
		div = n - 1
	}
	step := (t1 - t0) / float64(div)
	for i := range ts {
		ts[i] = t0 + float64(i)*step
	}
	if endpoint {
		ts[n-1] = t1
	}
	return ts
}

// appendCycle integrates one cycle over the given sample grid, starting
// from (v1, v2) at grid[0], appending every sample to the series. It
// returns the state at the last sample, which the caller carries into
// the next cycle.
func (s *Simulator) appendCycle(out *Series, grid []float64, v1, v2 float64) (float64, float64, error) {
	out.T = append(out.T, grid[0])
	out.V1 = append(out.V1, v1)
	out.V2 = append(out.V2, v2)
	for j := 1; j < len(grid); j++ {
		v1, v2 = s.step(grid[j-1], grid[j], v1, v2)
		if math.IsNaN(v1) || math.IsInf(v1, 0) || math.IsNaN(v2) || math.IsInf(v2, 0) {
			return 0, 0, fmt.Errorf("%w at t=%.3fs", ErrNonFinite, grid[j])
		}
		out.T = append(out.T, grid[j])
		out.V1 = append(out.V1, v1)
		out.V2 = append(out.V2, v2)
	}
	return v1, v2, nil
}

// Run executes the fixed-schedule simulation used by PCV and VCV: both
// compartments start empty and enough whole cycles are integrated to
// cover totalTime, plus two margin cycles. Every cycle except the last
// drops its endpoint so sample times never repeat; the last-sample
// state seeds the next cycle.
func (s *Simulator) Run(totalTime float64, samplesPerCycle int) (*Series, error) {
	cycleTime := 60.0 / s.vent.FR
	numCycles := int(math.Ceil(totalTime/cycleTime)) + 2

	out := &Series{}
	var v1, v2 float64
	var err error
	for i := 0; i < numCycles; i++ {
		t0 := float64(i) * cycleTime
		t1 := float64(i+1) * cycleTime
		last := i == numCycles-1
		grid := linspace(t0, t1, samplesPerCycle, last)
		v1, v2, err = s.appendCycle(out, grid, v1, v2)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// RunSpontaneous executes the closed-loop spontaneous simulation: each
// iteration the controller converts the current PaCO2 estimate into a
// muscular pressure amplitude and breathing frequency, one cycle at the
// new frequency is integrated, and the PaCO2 estimate is nudged against
// the achieved tidal volume.
func (s *Simulator) RunSpontaneous(iterations, samplesPerCycle int) (*Series, error) {
	if s.ctrl == nil {
		return nil, fmt.Errorf("%w: spontaneous mode requires a respiratory controller", ErrParam)
	}

	out := &Series{}
	paco2 := paco2Seed
	var tNow, v1, v2 float64
	var err error

	for i := 0; i < iterations; i++ {
		// Duration of the just-completed cycle at the previous rate.
		dt := 60.0 / s.vent.FR
		_, freqHz := s.ctrl.Update(paco2, dt)
		s.vent.SetRate(freqHz * 60.0)
		cycleTime := s.vent.TTotal

		grid := linspace(tNow, tNow+cycleTime, samplesPerCycle, true)
		cycle := &Series{}
		v1, v2, err = s.appendCycle(cycle, grid, v1, v2)
		if err != nil {
			return nil, err
		}

		mech, err := s.Process(cycle)
		if err != nil {
			return nil, err
		}
		tidal := floats.Max(mech.Vt) - floats.Min(mech.Vt)
		if tidal < tidalSetpoint {
			paco2 += paco2Step
		} else {
			paco2 -= paco2Step
		}
		paco2 = math.Min(math.Max(paco2, paco2Min), paco2Max)

		out.T = append(out.T, cycle.T...)
		out.V1 = append(out.V1, cycle.V1...)
		out.V2 = append(out.V2, cycle.V2...)
		tNow += cycleTime
	}
	return out, nil
}

// Process derives flows, airway pressure and auto-PEEP from a volume
// series. In PCV the airway pressure is the known ventilator waveform;
// in the other modes it is implied by the mechanics identity
//
//	Paw = (flow + E1·V1/R1 + E2·V2/R2) / (1/R1 + 1/R2).
func (s *Simulator) Process(series *Series) (*Mechanics, error) {
	n := len(series.T)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrParam)
	}
	p := s.patient

	m := &Mechanics{
		T:    series.T,
		V1:   series.V1,
		V2:   series.V2,
		Modo: s.vent.Modo,
	}
	m.Flow1 = gradient(series.V1, series.T)
	m.Flow2 = gradient(series.V2, series.T)
	m.Vt = make([]float64, n)
	m.Flow = make([]float64, n)
	m.Paw = make([]float64, n)

	conductance := 1/p.R1 + 1/p.R2
	for i := 0; i < n; i++ {
		m.Vt[i] = series.V1[i] + series.V2[i]
		m.Flow[i] = m.Flow1[i] + m.Flow2[i]
		if s.vent.Modo == ModePCV {
			m.Paw[i] = s.vent.Pressure(series.T[i])
		} else {
			m.Paw[i] = (m.Flow[i] + p.E1*series.V1[i]/p.R1 + p.E2*series.V2[i]/p.R2) / conductance
		}
	}

	// Auto-PEEP: the alveolar pressures held by the trapped volumes at
	// the final sample, seen at the airway as their conductance-weighted
	// mean.
	pAlv1 := p.E1 * series.V1[n-1]
	pAlv2 := p.E2 * series.V2[n-1]
	m.AutoPEEP = (pAlv1/p.R1 + pAlv2/p.R2) / conductance

	return m, nil
}

// gradient computes dy/dt on a sampled grid with the second-order
// non-uniform central difference, first-order one-sided at the edges.
// Repeated sample times (the spontaneous cycle boundaries) fall back to
// the one-sided difference across the non-degenerate side.
func gradient(y, t []float64) []float64 {
	n := len(y)
	g := make([]float64, n)
	if n < 2 {
		return g
	}

	g[0] = edgeDiff(y[1], y[0], t[1], t[0])
	g[n-1] = edgeDiff(y[n-1], y[n-2], t[n-1], t[n-2])

	for i := 1; i < n-1; i++ {
		left := t[i] - t[i-1]
		right := t[i+1] - t[i]
		switch {
		case left == 0 && right == 0:
			g[i] = 0
		case left == 0:
			g[i] = (y[i+1] - y[i]) / right
		case right == 0:
			g[i] = (y[i] - y[i-1]) / left
		default:
			g[i] = (left*left*y[i+1] + (right*right-left*left)*y[i] - right*right*y[i-1]) /
				(left * right * (left + right))
		}
	}
	return g
}

func edgeDiff(y1, y0, t1, t0 float64) float64 {
	if t1 == t0 {
		return 0
	}
	return (y1 - y0) / (t1 - t0)
}
