package lung

import (
	"errors"
	"math"
	"testing"
)

func f64(v float64) *float64 { return &v }

func TestNewVentilatorDerived(t *testing.T) {
	v, err := NewVentilator(ModeVCV, 5, 0, 15, 1, f64(0.5), 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	if math.Abs(v.TTotal-4.0) > 1e-12 {
		t.Errorf("TTotal want 4; got %g", v.TTotal)
	}
	if math.Abs(v.FlowInsp-0.5) > 1e-12 {
		t.Errorf("FlowInsp want 0.5; got %g", v.FlowInsp)
	}
}

func TestNewVentilatorValidation(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		peep float64
		pd   float64
		fr   float64
		ti   float64
		vt   *float64
		fio2 float64
	}{
		{"unknown mode", Mode("CPAP"), 5, 15, 15, 1, nil, 0.21},
		{"negative PEEP", ModePCV, -1, 15, 15, 1, nil, 0.21},
		{"negative driving", ModePCV, 5, -1, 15, 1, nil, 0.21},
		{"zero rate", ModePCV, 5, 15, 0, 1, nil, 0.21},
		{"zero Ti", ModePCV, 5, 15, 15, 0, nil, 0.21},
		{"VCV without Vt", ModeVCV, 5, 15, 15, 1, nil, 0.21},
		{"VCV zero Vt", ModeVCV, 5, 15, 15, 1, f64(0), 0.21},
		{"FiO2 below air", ModePCV, 5, 15, 15, 1, nil, 0.15},
		{"FiO2 above pure", ModePCV, 5, 15, 15, 1, nil, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVentilator(tt.mode, tt.peep, tt.pd, tt.fr, tt.ti, tt.vt, tt.fio2)
			if !errors.Is(err, ErrParam) {
				t.Errorf("want ErrParam; got %v", err)
			}
		})
	}
}

func TestPressureWaveformPCV(t *testing.T) {
	v, err := NewVentilator(ModePCV, 5, 15, 15, 1, nil, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	tests := []struct {
		t    float64
		want float64
	}{
		{0, 20},
		{0.99, 20},
		{1.0, 5},  // inspiration is the half-open interval [0, Ti)
		{3.99, 5},
		{4.0, 20}, // next cycle
		{4.5, 20},
		{5.5, 5},
	}
	for _, tt := range tests {
		if got := v.Pressure(tt.t); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Pressure(%g) want %g; got %g", tt.t, tt.want, got)
		}
	}
}

func TestWaveformsVCV(t *testing.T) {
	v, err := NewVentilator(ModeVCV, 5, 0, 15, 1, f64(0.5), 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	// The machine waveform in VCV is flat at PEEP; pressure comes from
	// the flow inversion inside the simulator.
	for _, tm := range []float64{0, 0.5, 2, 4.2} {
		if got := v.Pressure(tm); got != 5 {
			t.Errorf("Pressure(%g) want 5; got %g", tm, got)
		}
	}
	if got := v.Flow(0.5); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("Flow in inspiration want 0.5; got %g", got)
	}
	if got := v.Flow(1.5); got != 0 {
		t.Errorf("Flow in expiration want 0; got %g", got)
	}
}

func TestFlowOutsideVCVIsZero(t *testing.T) {
	v, err := NewVentilator(ModePCV, 5, 15, 15, 1, nil, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	if got := v.Flow(0.5); got != 0 {
		t.Errorf("PCV Flow want 0; got %g", got)
	}
}

func TestSetRate(t *testing.T) {
	v, err := NewVentilator(ModeSpontaneous, 0, 0, 12, 1, nil, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	v.SetRate(20)
	if math.Abs(v.TTotal-3.0) > 1e-12 {
		t.Errorf("TTotal after SetRate(20) want 3; got %g", v.TTotal)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	v, err := NewVentilator(ModeSpontaneous, 0, 0, 12, 1, nil, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	c := v.Clone()
	c.SetRate(30)
	if v.FR != 12 {
		t.Errorf("clone mutation leaked into original: FR=%g", v.FR)
	}
}
