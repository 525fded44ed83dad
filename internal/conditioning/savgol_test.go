package conditioning

import (
	"math"
	"math/rand"
	"testing"
)

func TestSavitzkyGolay_PreservesConstantSeries(t *testing.T) {
	y := make([]float64, 21)
	for i := range y {
		y[i] = 7.5
	}

	out, err := savitzkyGolay(y, 11, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, v := range out {
		if math.Abs(v-7.5) > 1e-9 {
			t.Errorf("sample %d: got %v, want 7.5", i, v)
		}
	}
}

func TestSavitzkyGolay_PreservesLinearRamp(t *testing.T) {
	// A cubic fit reproduces any linear signal exactly, edges included.
	y := make([]float64, 25)
	for i := range y {
		y[i] = 2*float64(i) + 1
	}

	out, err := savitzkyGolay(y, 11, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, v := range out {
		want := 2*float64(i) + 1
		if math.Abs(v-want) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, v, want)
		}
	}
}

func TestSavitzkyGolay_ReproducesCubicSignal(t *testing.T) {
	// The filter basis spans cubics, so y = 0.5t^3 - 2t^2 + 3t - 1 must
	// come back unchanged up to numerical noise.
	y := make([]float64, 30)
	for i := range y {
		ti := 0.1 * float64(i)
		y[i] = 0.5*ti*ti*ti - 2*ti*ti + 3*ti - 1
	}

	out, err := savitzkyGolay(y, 11, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, v := range out {
		if math.Abs(v-y[i]) > 1e-8 {
			t.Errorf("sample %d: got %v, want %v", i, v, y[i])
		}
	}
}

func TestSavitzkyGolay_ReducesNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	n := 200
	clean := make([]float64, n)
	noisy := make([]float64, n)
	for i := range clean {
		clean[i] = 10 * math.Sin(math.Pi*float64(i)/float64(n-1))
		noisy[i] = clean[i] + (rng.Float64()-0.5)
	}

	out, err := savitzkyGolay(noisy, 11, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sseNoisy, sseSmoothed float64
	for i := range clean {
		sseNoisy += (noisy[i] - clean[i]) * (noisy[i] - clean[i])
		sseSmoothed += (out[i] - clean[i]) * (out[i] - clean[i])
	}

	if sseSmoothed >= sseNoisy {
		t.Errorf("smoothing did not reduce error: smoothed SSE %v, noisy SSE %v", sseSmoothed, sseNoisy)
	}
}

func TestSmoothForce_EvenWindowForcedOdd(t *testing.T) {
	y := make([]float64, 50)
	for i := range y {
		y[i] = math.Sin(0.3 * float64(i))
	}

	got := smoothForce(y, 10, 3)

	want, err := savitzkyGolay(y, 9, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("sample %d: window 10 gave %v, window 9 gave %v", i, got[i], want[i])
		}
	}
}

func TestSolveLinearSystem_RejectsSingularMatrix(t *testing.T) {
	a := [][]float64{
		{1, 1},
		{1, 1},
	}
	b := []float64{1, 2}

	if _, err := solveLinearSystem(a, b); err == nil {
		t.Error("expected error for singular system, got nil")
	}
}
