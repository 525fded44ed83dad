package analysis

import "testing"

func TestCatoDetected_MultipleDerivativeSpikes(t *testing.T) {
	// Two isolated 500 N pops in an otherwise flat series put four
	// derivative points at ±250 against a stddev of √1250 ≈ 35.4:
	// well past 5σ at more than two points.
	forces := make([]float64, 200)
	forces[60] = 500
	forces[140] = 500

	result := Compute(conditioned(forces, 80), 0, DefaultConfig())

	if !result.CatoDetected {
		t.Error("cato: got false, want true for repeated derivative spikes")
	}
}

func TestCatoDetected_ShortBurnWithRealThrust(t *testing.T) {
	// A 6-sample, 50 N pulse: the derivative spikes stay under 5σ, but
	// the burn window closes after 5 samples with a peak above 10 N.
	forces := make([]float64, 50)
	for i := 20; i <= 25; i++ {
		forces[i] = 50
	}

	result := Compute(conditioned(forces, 80), 0, DefaultConfig())

	if !result.CatoDetected {
		t.Error("cato: got false, want true for a short burn with real thrust")
	}
}

func TestCatoDetected_CleanTriangleIsQuiet(t *testing.T) {
	result := Compute(conditioned(triangularCurve(100, 2, 80), 80), 0, DefaultConfig())

	if result.CatoDetected {
		t.Error("cato: got true, want false for a clean triangular burn")
	}
}

func TestCatoDetected_SpikeCheckNeedsEnoughSamples(t *testing.T) {
	// Wildly spiky but only 5 samples and an 8 N peak: the derivative
	// check is skipped below the sample floor and the short-burn rule
	// needs a peak above 10 N.
	result := Compute(conditioned([]float64{0, 8, 0, 8, 0}, 80), 0, DefaultConfig())

	if result.CatoDetected {
		t.Error("cato: got true, want false below the sample floor with a weak peak")
	}
}

func TestGradient_CentralDifferences(t *testing.T) {
	// y = x²: one-sided at the ends, central in the interior.
	got := gradient([]float64{0, 1, 4, 9, 16})

	want := []float64{1, 2, 4, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("gradient[%d]: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestGradient_TinyInputs(t *testing.T) {
	if got := gradient([]float64{5}); len(got) != 1 || got[0] != 0 {
		t.Errorf("single sample: got %v, want [0]", got)
	}
	if got := gradient(nil); len(got) != 0 {
		t.Errorf("empty: got %v, want empty", got)
	}
}
