// Package sim orchestrates a full simulation request: it wires the
// patient, ventilator, controller and downstream physiology stages,
// runs the mode-appropriate integration, and assembles the response
// bundle.
package sim

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/gasx"
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/hemo"
	"github.com/julianestebanquintana/simulador-fisiologia-pulmonar/internal/lung"
)

// PatientParams are the validated patient mechanics inputs.
type PatientParams struct {
	R1, C1, R2, C2 float64
}

// VentilatorParams are the validated ventilator inputs. Vt is nil when
// the request did not set a tidal volume.
type VentilatorParams struct {
	Modo     lung.Mode
	PEEP     float64
	PDriving float64
	FR       float64
	Ti       float64
	Vt       *float64
	FiO2     float64
}

// PhysiologyParams tune the downstream physiology stages and the
// spontaneous controller.
type PhysiologyParams struct {
	KSensibilidad float64 // hemodynamic pressure sensitivity
	GpControl     float64 // controller proportional gain
	GiControl     float64 // controller integral gain
	QsQt          float64 // pulmonary shunt fraction
	VD            float64 // anatomical dead space (L)
}

// Options bound the integration schedules. The zero value selects the
// reference schedule.
type Options struct {
	TotalTime             float64 // fixed-schedule horizon (s)
	SamplesPerCycle       int
	SpontaneousIterations int
	SpontaneousSamples    int
}

func (o Options) withDefaults() Options {
	if o.TotalTime <= 0 {
		o.TotalTime = 30.0
	}
	if o.SamplesPerCycle <= 0 {
		o.SamplesPerCycle = lung.DefaultSamplesPerCycle
	}
	if o.SpontaneousIterations <= 0 {
		o.SpontaneousIterations = lung.DefaultSpontaneousIterations
	}
	if o.SpontaneousSamples <= 0 {
		o.SpontaneousSamples = lung.DefaultSpontaneousSamples
	}
	return o
}

// Bundle is the response payload. Key names are the wire contract of
// the existing frontend and stay in Spanish.
type Bundle struct {
	SeriesTiempo          SeriesTiempo          `json:"series_tiempo"`
	MetricasMecanicas     MetricasMecanicas     `json:"metricas_mecanicas"`
	MetricasGases         MetricasGases         `json:"metricas_gases"`
	MetricasHemodinamicas MetricasHemodinamicas `json:"metricas_hemodinamicas"`
}

type SeriesTiempo struct {
	Tiempo          []float64 `json:"tiempo"`
	PresionViaAerea []float64 `json:"presion_via_aerea"`
	FlujoTotal      []float64 `json:"flujo_total"`
	VolumenTotal    []float64 `json:"volumen_total"`
}

type MetricasMecanicas struct {
	VolumenTidalEntregado float64 `json:"volumen_tidal_entregado"`
	// PresionPico is null in spontaneous mode, where there is no
	// machine-driven peak pressure to report.
	PresionPico *float64 `json:"presion_pico"`
}

type MetricasGases struct {
	VEMin     float64 `json:"VE_min"`
	VAMin     float64 `json:"VA_min"`
	PACO2MmHg float64 `json:"PACO2_mmHg"`
	PAO2MmHg  float64 `json:"PAO2_mmHg"`
	PaO2MmHg  float64 `json:"PaO2_mmHg"`
}

type MetricasHemodinamicas struct {
	PMeanCmH2O     float64 `json:"P_mean_cmH2O"`
	AutoPEEPCmH2O  float64 `json:"auto_peep_cmH2O"`
	PEEPTotalCmH2O float64 `json:"PEEP_total_cmH2O"`
	GCActualLMin   float64 `json:"GC_actual_L_min"`
	PaO2MmHg       float64 `json:"PaO2_mmHg"`
	SaO2Percent    float64 `json:"SaO2_percent"`
	CAO2MlDl       float64 `json:"CAO2_ml_dl"`
	DO2MlMin       float64 `json:"DO2_ml_min"`
}

// lastWindow is the tail slice the delivered tidal volume is read from.
const lastWindow = 200

// Run executes a complete simulation and returns the response bundle.
// Parameter errors wrap lung.ErrParam; anything else is a computation
// failure.
func Run(pp PatientParams, vp VentilatorParams, fp PhysiologyParams, opts Options) (*Bundle, error) {
	opts = opts.withDefaults()
	if err := validatePhysiology(fp); err != nil {
		return nil, err
	}

	patient, err := lung.NewPatient(pp.R1, pp.C1, pp.R2, pp.C2)
	if err != nil {
		return nil, err
	}
	vent, err := lung.NewVentilator(vp.Modo, vp.PEEP, vp.PDriving, vp.FR, vp.Ti, vp.Vt, vp.FiO2)
	if err != nil {
		return nil, err
	}

	var ctrl *lung.Controller
	if vent.Modo == lung.ModeSpontaneous {
		ctrl = lung.NewController(fp.GpControl, fp.GiControl, lung.DefaultFreqGain)
	}
	simulator, err := lung.NewSimulator(patient, vent, ctrl)
	if err != nil {
		return nil, err
	}

	var series *lung.Series
	if vent.Modo == lung.ModeSpontaneous {
		series, err = simulator.RunSpontaneous(opts.SpontaneousIterations, opts.SpontaneousSamples)
	} else {
		series, err = simulator.Run(opts.TotalTime, opts.SamplesPerCycle)
	}
	if err != nil {
		return nil, err
	}

	mech, err := simulator.Process(series)
	if err != nil {
		return nil, err
	}

	hd := hemo.New(fp.KSensibilidad)
	gases := gasx.New(simulator.Vent(), hd, fp.VD, fp.QsQt).Compute(mech)
	hemoRes, err := hd.Compute(mech, gases.PAO2, simulator.Vent(), mech.AutoPEEP)
	if err != nil {
		return nil, err
	}

	return assemble(mech, gases, hemoRes), nil
}

func validatePhysiology(fp PhysiologyParams) error {
	if fp.KSensibilidad < 0 {
		return fmt.Errorf("%w: k_sensibilidad must be >= 0, got %g", lung.ErrParam, fp.KSensibilidad)
	}
	if fp.GpControl < 0 {
		return fmt.Errorf("%w: Gp_control must be >= 0, got %g", lung.ErrParam, fp.GpControl)
	}
	if fp.GiControl < 0 {
		return fmt.Errorf("%w: Gi_control must be >= 0, got %g", lung.ErrParam, fp.GiControl)
	}
	if fp.QsQt < 0 || fp.QsQt > 1 {
		return fmt.Errorf("%w: Qs_Qt must be in [0, 1], got %g", lung.ErrParam, fp.QsQt)
	}
	if fp.VD < 0 {
		return fmt.Errorf("%w: V_D must be >= 0, got %g", lung.ErrParam, fp.VD)
	}
	return nil
}

func assemble(mech *lung.Mechanics, gases *gasx.Results, hd *hemo.Results) *Bundle {
	n := len(mech.Vt)
	var tidal float64
	if n >= lastWindow {
		tail := mech.Vt[n-lastWindow:]
		tidal = floats.Max(tail) - floats.Min(tail)
	}

	var peak *float64
	if mech.Modo != lung.ModeSpontaneous {
		p := floats.Max(mech.Paw)
		peak = &p
	}

	return &Bundle{
		SeriesTiempo: SeriesTiempo{
			Tiempo:          mech.T,
			PresionViaAerea: mech.Paw,
			FlujoTotal:      mech.Flow,
			VolumenTotal:    mech.Vt,
		},
		MetricasMecanicas: MetricasMecanicas{
			VolumenTidalEntregado: tidal,
			PresionPico:           peak,
		},
		MetricasGases: MetricasGases{
			VEMin:     gases.VE,
			VAMin:     gases.VA,
			PACO2MmHg: gases.PACO2,
			PAO2MmHg:  gases.PAO2,
			PaO2MmHg:  gases.PaO2,
		},
		MetricasHemodinamicas: MetricasHemodinamicas{
			PMeanCmH2O:     hd.PMean,
			AutoPEEPCmH2O:  hd.AutoPEEP,
			PEEPTotalCmH2O: hd.PEEPTotal,
			GCActualLMin:   hd.GC,
			PaO2MmHg:       hd.PaO2,
			SaO2Percent:    hd.SaO2Percent,
			CAO2MlDl:       hd.CaO2,
			DO2MlMin:       hd.DO2,
		},
	}
}
