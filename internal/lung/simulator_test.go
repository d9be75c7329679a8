package lung

import (
	"math"
	"testing"
)

func newTestPatient(t *testing.T) *Patient {
	t.Helper()
	p, err := NewPatient(10, 0.05, 10, 0.05)
	if err != nil {
		t.Fatalf("NewPatient: %v", err)
	}
	return p
}

func newTestSimulator(t *testing.T, mode Mode, peep, pd float64, vt *float64, ctrl *Controller) *Simulator {
	t.Helper()
	v, err := NewVentilator(mode, peep, pd, 15, 1, vt, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	s, err := NewSimulator(newTestPatient(t), v, ctrl)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return s
}

func TestSimulatorRequiresControllerForSpontaneous(t *testing.T) {
	v, err := NewVentilator(ModeSpontaneous, 0, 0, 12, 1, nil, 0.21)
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	if _, err := NewSimulator(newTestPatient(t), v, nil); err == nil {
		t.Fatal("want error for spontaneous mode without controller")
	}
}

// During the first inspiration of a PCV run with PEEP 0 the model is a
// first-order step response with a known closed form.
func TestRunMatchesAnalyticStepResponse(t *testing.T) {
	s := newTestSimulator(t, ModePCV, 0, 10, nil, nil)
	series, err := s.Run(0.1, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	const tau = 10 * 0.05 // R·C
	for i, tm := range series.T {
		if tm > 0.9 {
			break
		}
		want := 10 * 0.05 * (1 - math.Exp(-tm/tau))
		if math.Abs(series.V1[i]-want) > 1e-7 {
			t.Fatalf("V1(%g) want %.9f; got %.9f", tm, want, series.V1[i])
		}
	}
}

func TestRunStartsEmptyAndStaysFinite(t *testing.T) {
	s := newTestSimulator(t, ModePCV, 5, 15, nil, nil)
	series, err := s.Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if series.V1[0] != 0 || series.V2[0] != 0 {
		t.Errorf("initial volumes want 0; got V1=%g V2=%g", series.V1[0], series.V2[0])
	}
	// fr=15 -> 4 s cycles, ceil(30/4)+2 = 10 cycles of 200 samples.
	if want := 10 * DefaultSamplesPerCycle; len(series.T) != want {
		t.Errorf("sample count want %d; got %d", want, len(series.T))
	}
	for i := range series.T {
		if series.V1[i] < 0 || series.V2[i] < 0 {
			t.Fatalf("negative volume at t=%g", series.T[i])
		}
		if i > 0 && series.T[i] <= series.T[i-1] {
			t.Fatalf("non-increasing time at index %d", i)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	a, err := newTestSimulator(t, ModePCV, 5, 15, nil, nil).Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := newTestSimulator(t, ModePCV, 5, 15, nil, nil).Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range a.T {
		if a.T[i] != b.T[i] || a.V1[i] != b.V1[i] || a.V2[i] != b.V2[i] {
			t.Fatalf("runs diverge at index %d", i)
		}
	}
}

func TestRunZeroDriveStaysAtZero(t *testing.T) {
	s := newTestSimulator(t, ModePCV, 0, 0, nil, nil)
	series, err := s.Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range series.T {
		if series.V1[i] != 0 || series.V2[i] != 0 {
			t.Fatalf("volume moved without drive at t=%g", series.T[i])
		}
	}
	mech, err := s.Process(series)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if mech.AutoPEEP != 0 {
		t.Errorf("auto-PEEP want 0; got %g", mech.AutoPEEP)
	}
}

func TestRunVCVDeliversSetTidalVolume(t *testing.T) {
	s := newTestSimulator(t, ModeVCV, 5, 0, f64(0.5), nil)
	series, err := s.Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	mech, err := s.Process(series)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// The constant-flow drive raises the total volume by exactly Vt
	// over each inspiration.
	n := len(mech.Vt)
	last := mech.Vt[n-DefaultSamplesPerCycle:]
	maxV, minV := last[0], last[0]
	for _, v := range last {
		maxV = math.Max(maxV, v)
		minV = math.Min(minV, v)
	}
	if swing := maxV - minV; math.Abs(swing-0.5) > 1e-3 {
		t.Errorf("tidal swing want ~0.5; got %g", swing)
	}

	// Mid-inspiration total flow equals the set inspiratory flow.
	for i, tm := range mech.T {
		if tm > 0.4 && tm < 0.6 {
			if math.Abs(mech.Flow[i]-0.5) > 1e-2 {
				t.Errorf("flow at t=%g want ~0.5; got %g", tm, mech.Flow[i])
			}
		}
	}
}

func TestProcessArrayLengthsAndPCVWaveform(t *testing.T) {
	s := newTestSimulator(t, ModePCV, 5, 15, nil, nil)
	series, err := s.Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	mech, err := s.Process(series)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	n := len(mech.T)
	for name, arr := range map[string][]float64{
		"V1": mech.V1, "V2": mech.V2, "Vt": mech.Vt,
		"Flow1": mech.Flow1, "Flow2": mech.Flow2, "Flow": mech.Flow, "Paw": mech.Paw,
	} {
		if len(arr) != n {
			t.Errorf("len(%s) want %d; got %d", name, n, len(arr))
		}
	}

	// In PCV the reported pressure is the ventilator waveform itself.
	for i := range mech.T {
		if want := s.Vent().Pressure(mech.T[i]); mech.Paw[i] != want {
			t.Fatalf("Paw(%g) want %g; got %g", mech.T[i], want, mech.Paw[i])
		}
	}
	if mech.AutoPEEP < 0 {
		t.Errorf("auto-PEEP want >= 0; got %g", mech.AutoPEEP)
	}
}

// A short expiratory window traps gas: the end-expiratory alveolar
// pressure must show up as auto-PEEP.
func TestProcessDetectsAutoPEEP(t *testing.T) {
	v, err := NewVentilator(ModePCV, 5, 15, 30, 1.5, nil, 0.21) // 0.5 s to exhale
	if err != nil {
		t.Fatalf("NewVentilator: %v", err)
	}
	s, err := NewSimulator(newTestPatient(t), v, nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	series, err := s.Run(30, DefaultSamplesPerCycle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	mech, err := s.Process(series)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// With a long expiration the end-expiratory alveolar pressure
	// settles at the applied PEEP; incomplete emptying must hold it
	// well above that.
	if mech.AutoPEEP <= v.PEEP+1 {
		t.Errorf("auto-PEEP with incomplete emptying want > %g cmH2O; got %g", v.PEEP+1, mech.AutoPEEP)
	}
}

func TestRunSpontaneousShape(t *testing.T) {
	ctrl := NewController(0.3, 0.01, DefaultFreqGain)
	s := newTestSimulator(t, ModeSpontaneous, 0, 0, nil, ctrl)
	series, err := s.RunSpontaneous(DefaultSpontaneousIterations, DefaultSpontaneousSamples)
	if err != nil {
		t.Fatalf("RunSpontaneous: %v", err)
	}

	if want := DefaultSpontaneousIterations * DefaultSpontaneousSamples; len(series.T) != want {
		t.Errorf("sample count want %d; got %d", want, len(series.T))
	}
	for i := 1; i < len(series.T); i++ {
		if series.T[i] < series.T[i-1] {
			t.Fatalf("time went backwards at index %d", i)
		}
	}
	if !ctrl.Primed() {
		t.Error("controller should be primed after a closed-loop run")
	}
	// The closed loop re-tunes the working ventilator's rate; the
	// controller's frequency floor bounds it from below.
	if s.Vent().FR < minFreqHz*60 {
		t.Errorf("final rate below controller floor: %g", s.Vent().FR)
	}
}

func TestGradient(t *testing.T) {
	// The non-uniform central difference is exact for quadratics on the
	// interior.
	ts := []float64{0, 0.5, 1, 1.5, 2, 3}
	ys := make([]float64, len(ts))
	for i, x := range ts {
		ys[i] = x * x
	}
	g := gradient(ys, ts)
	for i := 1; i < len(ts)-1; i++ {
		if want := 2 * ts[i]; math.Abs(g[i]-want) > 1e-12 {
			t.Errorf("gradient at t=%g want %g; got %g", ts[i], want, g[i])
		}
	}
}

func TestGradientHandlesRepeatedTimes(t *testing.T) {
	// Spontaneous cycles share their boundary sample; the gradient must
	// stay finite across the duplicate.
	ts := []float64{0, 1, 1, 2}
	ys := []float64{0, 1, 1, 3}
	g := gradient(ys, ts)
	for i, v := range g {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("non-finite gradient at index %d", i)
		}
	}
	if g[1] != 1 {
		t.Errorf("left-sided fallback want 1; got %g", g[1])
	}
	if g[2] != 2 {
		t.Errorf("right-sided fallback want 2; got %g", g[2])
	}
}
