// Package gasx computes alveolar gas partial pressures and the
// arterial PO2 from the mechanics of a simulation run, via the
// alveolar gas equation and the shunt equation.
package gasx

import (
	"gonum.org/v1/gonum/integrate"

	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/hemo"
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/lung"
)

const (
	vco2       = 200.0 // CO2 production (mL/min)
	rq         = 0.8   // respiratory quotient
	pBaro      = 560.0 // barometric pressure at Bogotá altitude (mmHg)
	ph2o       = 47.0  // water vapour pressure at 37°C (mmHg)
	kConv      = 0.863 // unit conversion constant of the PACO2 equation
	svO2Mixed  = 0.75  // assumed mixed-venous saturation
	pvO2Mixed  = 40.0  // assumed mixed-venous PO2 (mmHg)
	scanPO2Min = 20    // inclusive lower bound of the PaO2 inversion scan
	scanPO2Max = 149   // inclusive upper bound

	// Fallback metrics when the alveolar ventilation collapses to zero
	// or below: severe hypercapnia and hypoxemia rather than an error,
	// so boundary settings still produce educational output.
	fallbackPACO2 = 100.0
	fallbackPAO2  = 40.0
	fallbackPaO2  = 35.0
)

// Exchanger couples a simulation's ventilator settings with the shunt
// and dead-space description of the patient.
type Exchanger struct {
	vent *lung.Ventilator
	hd   *hemo.Model
	vd   float64 // anatomical dead space (L)
	qsQt float64 // pulmonary shunt fraction
}

// New wires the gas exchange stage. The ventilator must be the
// simulator's working instance so a spontaneous run's final rate is the
// one used for the minute ventilations.
func New(vent *lung.Ventilator, hd *hemo.Model, deadSpace, qsQt float64) *Exchanger {
	return &Exchanger{vent: vent, hd: hd, vd: deadSpace, qsQt: qsQt}
}

// Results carries the gas exchange summary.
type Results struct {
	VE    float64 // minute ventilation (L/min)
	VA    float64 // alveolar minute ventilation (L/min)
	PACO2 float64 // alveolar CO2 (mmHg)
	PAO2  float64 // alveolar O2 (mmHg)
	PaO2  float64 // arterial O2 from the shunt equation (mmHg)
}

// Compute runs the gas exchange chain on a mechanics series: tidal
// volume estimation, minute ventilations, alveolar gas equation, shunt
// equation, and inversion of the arterial content back to a PO2.
func (e *Exchanger) Compute(mech *lung.Mechanics) *Results {
	fr := e.vent.FR
	vt := e.tidalVolume(mech, fr)

	ve := vt * fr
	va := (vt - e.vd) * fr
	if va <= 0 {
		return &Results{VE: ve, VA: va, PACO2: fallbackPACO2, PAO2: fallbackPAO2, PaO2: fallbackPaO2}
	}

	paco2 := vco2 * kConv / va
	pio2 := e.vent.FiO2 * (pBaro - ph2o)
	pao2Alv := pio2 - paco2/rq

	pao2Art := e.shuntPaO2(pao2Alv)

	return &Results{VE: ve, VA: va, PACO2: paco2, PAO2: pao2Alv, PaO2: pao2Art}
}

// tidalVolume returns the per-breath volume. VCV delivers the set Vt by
// construction; the other modes integrate the inspiratory part of the
// flow over the whole series and divide by the number of breaths.
func (e *Exchanger) tidalVolume(mech *lung.Mechanics, fr float64) float64 {
	if e.vent.Modo == lung.ModeVCV {
		return e.vent.Vt
	}

	insp := make([]float64, len(mech.Flow))
	for i, q := range mech.Flow {
		if q > 0 {
			insp[i] = q
		}
	}
	inspired := integrate.Trapezoidal(mech.T, insp)

	duration := mech.T[len(mech.T)-1] - mech.T[0]
	breaths := duration * fr / 60.0
	if breaths <= 0 {
		return 0
	}
	return inspired / breaths
}

// shuntPaO2 mixes end-capillary blood with the shunted mixed-venous
// fraction and inverts the resulting arterial content back to a PO2 by
// scanning candidate pressures in whole-mmHg steps. The scan is
// deliberately coarse: stable and deterministic. When the content
// exceeds every candidate (high FiO2), the arterial PO2 falls back to
// the alveolar value scaled by the non-shunted fraction.
func (e *Exchanger) shuntPaO2(pao2Alv float64) float64 {
	ccO2 := e.hd.O2ContentAt(pao2Alv)
	cvO2 := e.hd.O2Content(svO2Mixed, pvO2Mixed)
	caO2 := ccO2*(1-e.qsQt) + cvO2*e.qsQt

	for po2 := float64(scanPO2Min); po2 <= scanPO2Max; po2++ {
		if e.hd.O2ContentAt(po2) >= caO2 {
			return po2
		}
	}
	return pao2Alv * (1 - e.qsQt)
}
