// Package hemo models the heart-lung interaction: the depression of
// cardiac output by airway pressure and the resulting oxygen delivery.
package hemo

import (
	"fmt"

	"gonum.org/v1/gonum/integrate"

	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/lung"
)

// Physiological constants of the oxygen transport chain.
const (
	defaultCardiacOutput = 5.0  // baseline GC (L/min)
	defaultHb            = 15.0 // hemoglobin (g/dL)
	o2CapHb              = 1.34 // O2 carried per gram of Hb (mL/g)
	o2SolPlasma          = 0.003

	// The alveolar-arterial O2 gradient is collapsed to a constant in
	// this block, independently of the shunt-equation PaO2 reported by
	// the gas exchange stage.
	alveolarArterialGradient = 10.0 // mmHg
)

// EstimateSaO2 approximates the arterial O2 saturation for a given PO2
// with a piecewise linear stand-in for the hemoglobin dissociation
// curve: 100% at or above 100 mmHg, 90–100% between 60 and 100, and a
// proportional drop below 60.
func EstimateSaO2(po2 float64) float64 {
	switch {
	case po2 >= 100:
		return 1.0
	case po2 >= 60:
		return 0.90 + 0.10*((po2-60)/40)
	default:
		return 0.90 * (po2 / 60)
	}
}

// Model holds the cardiovascular baseline of the simulated patient.
// The sensitivity k scales how strongly intrathoracic pressure above
// the applied PEEP depresses cardiac output; ~0.05-0.1 behaves like a
// normovolemic patient, >0.2 like a hypovolemic one.
type Model struct {
	GCBase float64 // baseline cardiac output (L/min)
	K      float64 // hemodynamic pressure sensitivity
	Hb     float64 // hemoglobin (g/dL)
}

// New builds a Model with the default baseline output and hemoglobin.
func New(k float64) *Model {
	return &Model{
		GCBase: defaultCardiacOutput,
		K:      k,
		Hb:     defaultHb,
	}
}

// O2Content returns the blood O2 content in mL/dL for an explicit
// saturation and partial pressure: Hb-bound plus dissolved.
func (m *Model) O2Content(sat, po2 float64) float64 {
	return m.Hb*sat*o2CapHb + po2*o2SolPlasma
}

// O2ContentAt returns the O2 content at a partial pressure, deriving
// the saturation from the piecewise curve.
func (m *Model) O2ContentAt(po2 float64) float64 {
	return m.O2Content(EstimateSaO2(po2), po2)
}

// Results carries the hemodynamic summary of a simulation.
type Results struct {
	PMean       float64 // mean airway pressure over the last cycle (cmH2O)
	AutoPEEP    float64 // cmH2O, echoed from mechanics
	PEEPTotal   float64 // applied + intrinsic PEEP (cmH2O)
	GC          float64 // cardiac output (L/min)
	PaO2        float64 // arterial PO2 under the fixed gradient (mmHg)
	SaO2Percent float64
	CaO2        float64 // arterial O2 content (mL/dL)
	DO2         float64 // O2 delivery (mL/min)
}

// Compute derives the hemodynamic impact of a ventilation run. pao2Alv
// is the alveolar PO2 from the gas exchange stage; the arterial value
// used here subtracts the fixed alveolar-arterial gradient.
//
// The last-cycle window is estimated as t[n-1]−t[n-3]; this indexing is
// inherited behavior and intentionally not 60/fr.
func (m *Model) Compute(mech *lung.Mechanics, pao2Alv float64, vent *lung.Ventilator, autoPEEP float64) (*Results, error) {
	n := len(mech.T)
	if n == 0 {
		return nil, fmt.Errorf("hemodynamics: empty mechanics series")
	}

	cycleTime := mech.T[n-1]
	if n >= 3 {
		cycleTime = mech.T[n-1] - mech.T[n-3]
	}

	// Window of the final cycle.
	cutoff := mech.T[n-1] - cycleTime
	start := 0
	for i := 0; i < n; i++ {
		if mech.T[i] >= cutoff {
			start = i
			break
		}
	}
	tWin := mech.T[start:]
	pWin := mech.Paw[start:]

	pMean := pWin[len(pWin)-1]
	if span := tWin[len(tWin)-1] - tWin[0]; span > 0 {
		pMean = integrate.Trapezoidal(tWin, pWin) / span
	}

	peepTotal := vent.PEEP + autoPEEP

	// The pressure gradient depressing venous return: mean pressure
	// above the applied PEEP, with the intrinsic PEEP acting additively.
	deltaP := (pMean - vent.PEEP) + autoPEEP
	gc := m.GCBase - m.K*deltaP
	if gc < 0 {
		gc = 0
	}

	pao2 := pao2Alv - alveolarArterialGradient
	sao2 := EstimateSaO2(pao2)
	cao2 := m.O2Content(sao2, pao2)
	do2 := gc * cao2 * 10 // dL/L

	return &Results{
		PMean:       pMean,
		AutoPEEP:    autoPEEP,
		PEEPTotal:   peepTotal,
		GC:          gc,
		PaO2:        pao2,
		SaO2Percent: sao2 * 100,
		CaO2:        cao2,
		DO2:         do2,
	}, nil
}
