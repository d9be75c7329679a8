package server

import (
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/lung"
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/sim"
)

// simulateRequest is the wire shape of POST /api/simulate. All fields
// are optional pointers so omitted values fall back to the documented
// defaults; Vt has no default because VCV must fail without it.
type simulateRequest struct {
	Paciente   *pacienteParams   `json:"paciente"`
	Ventilador *ventiladorParams `json:"ventilador"`
	Fisiologia *fisiologiaParams `json:"fisiologia"`
}

type pacienteParams struct {
	R1 *float64 `json:"R1"`
	C1 *float64 `json:"C1"`
	R2 *float64 `json:"R2"`
	C2 *float64 `json:"C2"`
}

type ventiladorParams struct {
	Modo     *string  `json:"modo"`
	PEEP     *float64 `json:"PEEP"`
	PDriving *float64 `json:"P_driving"`
	FR       *float64 `json:"fr"`
	Ti       *float64 `json:"Ti"`
	Vt       *float64 `json:"Vt"`
	FiO2     *float64 `json:"FiO2"`
}

type fisiologiaParams struct {
	KSensibilidad *float64 `json:"k_sensibilidad"`
	GpControl     *float64 `json:"Gp_control"`
	GiControl     *float64 `json:"Gi_control"`
	QsQt          *float64 `json:"Qs_Qt"`
	VD            *float64 `json:"V_D"`
}

func fallback(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

// params converts the wire request into validated-input shapes,
// applying the defaults of the reference implementation. Range checks
// happen in the constructors downstream.
func (r *simulateRequest) params() (sim.PatientParams, sim.VentilatorParams, sim.PhysiologyParams) {
	pac := r.Paciente
	if pac == nil {
		pac = &pacienteParams{}
	}
	vent := r.Ventilador
	if vent == nil {
		vent = &ventiladorParams{}
	}
	fis := r.Fisiologia
	if fis == nil {
		fis = &fisiologiaParams{}
	}

	pp := sim.PatientParams{
		R1: fallback(pac.R1, 10.0),
		C1: fallback(pac.C1, 0.05),
		R2: fallback(pac.R2, 10.0),
		C2: fallback(pac.C2, 0.05),
	}

	mode := lung.ModePCV
	if vent.Modo != nil {
		mode = lung.Mode(*vent.Modo)
	}
	vp := sim.VentilatorParams{
		Modo:     mode,
		PEEP:     fallback(vent.PEEP, 5.0),
		PDriving: fallback(vent.PDriving, 15.0),
		FR:       fallback(vent.FR, 15.0),
		Ti:       fallback(vent.Ti, 1.0),
		Vt:       vent.Vt,
		FiO2:     fallback(vent.FiO2, 0.21),
	}

	fp := sim.PhysiologyParams{
		KSensibilidad: fallback(fis.KSensibilidad, 0.1),
		GpControl:     fallback(fis.GpControl, 0.3),
		GiControl:     fallback(fis.GiControl, 0.05),
		QsQt:          fallback(fis.QsQt, 0.05),
		VD:            fallback(fis.VD, 0.15),
	}

	return pp, vp, fp
}
